// Package relay receives the asynchronous console messages a sandbox
// frame emits, classifies them, and republishes them as view state.
// The sandbox shares no memory with the host; this ordered,
// append-only channel is the only way results come back.
package relay

import (
	"strings"
	"sync"

	"codeloom/internal/domain/model"
	"codeloom/internal/playground/sandbox"
)

// Message is the structurally-typed event forwarded from the sandbox
// frame. Anything without type "console" is ignored.
type Message struct {
	Type  string   `json:"type"`
	Level string   `json:"level"`
	Args  []string `json:"args"`
	RunID uint64   `json:"runId"`
}

// Relay collects one run's console transcript and test-result signal.
// Messages tagged with a run id other than the active one are dropped,
// which closes the stale double-run gap: a superseded run's late
// messages never bleed into the current transcript.
type Relay struct {
	mu          sync.Mutex
	activeRun   uint64
	transcript  []model.ConsoleEntry
	testResults model.TestResultSet
	hasResults  bool
	signal      chan struct{}
	subs        map[chan model.ConsoleEntry]struct{}
	closed      bool
}

func New() *Relay {
	return &Relay{
		signal: make(chan struct{}),
		subs:   make(map[chan model.ConsoleEntry]struct{}),
	}
}

// BeginRun makes runID the active run and invalidates the previous
// transcript and test results.
func (r *Relay) BeginRun(runID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeRun = runID
	r.transcript = nil
	r.testResults = nil
	r.hasResults = false
	r.signal = make(chan struct{})
}

// Publish classifies and routes one incoming message. Delivery order
// is preserved: callers deliver messages one at a time in arrival
// order, and entries are appended under a single lock.
func (r *Relay) Publish(msg Message) {
	if msg.Type != "console" {
		// The execution context may emit unrelated events.
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || msg.RunID != r.activeRun {
		return
	}

	text := strings.Join(msg.Args, " ")
	if rest, ok := strings.CutPrefix(text, sandbox.TestResultPrefix); ok {
		if r.hasResults {
			// Test results are captured once per run.
			return
		}
		markers, ok := model.ParseTestResults(rest)
		if !ok {
			// Malformed test output is no signal, not a crash.
			return
		}
		r.testResults = markers
		r.hasResults = true
		close(r.signal)
		return
	}

	entry := model.ConsoleEntry{Level: consoleLevel(msg.Level), Text: text}
	r.transcript = append(r.transcript, entry)
	for sub := range r.subs {
		select {
		case sub <- entry:
		default: // Slow viewer; drop rather than block ingest.
		}
	}
}

// Transcript returns a copy of the visible console transcript in
// arrival order.
func (r *Relay) Transcript() []model.ConsoleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ConsoleEntry, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// TestResults returns the captured result set, if any arrived for the
// active run.
func (r *Relay) TestResults() (model.TestResultSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.testResults, r.hasResults
}

// TestSignal returns a channel closed once the active run's test
// results arrive. BeginRun replaces the channel.
func (r *Relay) TestSignal() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signal
}

// Subscribe registers a live transcript viewer. The returned cancel
// must be called on viewer teardown.
func (r *Relay) Subscribe() (<-chan model.ConsoleEntry, func()) {
	ch := make(chan model.ConsoleEntry, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Close unsubscribes all viewers and drops further messages.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		delete(r.subs, sub)
		close(sub)
	}
}

func consoleLevel(level string) model.ConsoleLevel {
	switch model.ConsoleLevel(level) {
	case model.ConsoleWarn:
		return model.ConsoleWarn
	case model.ConsoleError:
		return model.ConsoleError
	default:
		return model.ConsoleLog
	}
}
