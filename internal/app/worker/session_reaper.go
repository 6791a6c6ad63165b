package worker

import (
	"context"
	"log"
	"time"

	"codeloom/internal/app/service"
)

// SessionReaper periodically tears down idle playground sessions so
// abandoned tabs do not pin WASM interpreters and SQL databases
// forever.
type SessionReaper struct {
	playground *service.PlaygroundService
	interval   time.Duration
}

func NewSessionReaper(playground *service.PlaygroundService, interval time.Duration) *SessionReaper {
	return &SessionReaper{playground: playground, interval: interval}
}

func (w *SessionReaper) Start(ctx context.Context) {
	log.Printf("Session reaper started, interval: %s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Session reaper stopping...")
			return
		case <-ticker.C:
			if reaped := w.playground.ReapIdle(); reaped > 0 {
				log.Printf("INFO: Reaped %d idle playground session(s)", reaped)
			}
		}
	}
}
