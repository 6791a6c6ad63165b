package service

import (
	"context"
	"errors"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// DefaultScratchLanguage is the scratch playground's language before
// the user picks one.
const DefaultScratchLanguage = "javascript"

// ScratchService persists the freeform scratch playground in Redis:
// one buffer hash per user and language, plus the active language
// selector. Scratch code is never graded, so nothing touches Postgres.
type ScratchService struct {
	rdb       *redis.Client
	registry  *model.Registry
	keyPrefix string
}

func NewScratchService(rdb *redis.Client, registry *model.Registry, keyPrefix string) *ScratchService {
	return &ScratchService{rdb: rdb, registry: registry, keyPrefix: keyPrefix}
}

// ScratchState is the persisted scratch playground for one language.
type ScratchState struct {
	Language string          `json:"language"`
	Buffers  model.BufferSet `json:"buffers"`
}

func (s *ScratchService) bufferKey(userID, langKey string) string {
	return s.keyPrefix + ":" + userID + ":" + langKey
}

func (s *ScratchService) activeKey(userID string) string {
	return s.keyPrefix + ":" + userID + ":active"
}

// Get returns the scratch state for langKey, or for the user's active
// language when langKey is empty. A user with no saved scratch gets
// empty buffers, not an error.
func (s *ScratchService) Get(ctx context.Context, userID, langKey string) (*ScratchState, error) {
	if langKey == "" {
		active, err := s.rdb.Get(ctx, s.activeKey(userID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, common.Errorf("scratch active language lookup: %w", err)
		}
		langKey = active
		if langKey == "" {
			langKey = DefaultScratchLanguage
		}
	}
	lang, ok := s.registry.Lookup(langKey)
	if !ok {
		return nil, common.Errorf("unknown language %q: %w", langKey, common.ErrBadRequest)
	}

	fields, err := s.rdb.HGetAll(ctx, s.bufferKey(userID, langKey)).Result()
	if err != nil {
		return nil, common.Errorf("scratch buffer lookup: %w", err)
	}

	state := &ScratchState{Language: langKey}
	if lang.Category == model.CategoryWeb {
		state.Buffers = model.BufferSet{
			HTML: fields["html"],
			CSS:  fields["css"],
			JS:   fields["js"],
		}
	} else {
		state.Buffers = model.BufferSet{Source: fields["source"]}
	}
	return state, nil
}

// Put saves the scratch buffers for state.Language and makes it the
// user's active language.
func (s *ScratchService) Put(ctx context.Context, userID string, state ScratchState) error {
	lang, ok := s.registry.Lookup(state.Language)
	if !ok {
		return common.Errorf("unknown language %q: %w", state.Language, common.ErrBadRequest)
	}

	var fields map[string]interface{}
	if lang.Category == model.CategoryWeb {
		fields = map[string]interface{}{
			"html": state.Buffers.HTML,
			"css":  state.Buffers.CSS,
			"js":   state.Buffers.JS,
		}
	} else {
		fields = map[string]interface{}{"source": state.Buffers.Source}
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.bufferKey(userID, state.Language), fields)
	pipe.Set(ctx, s.activeKey(userID), state.Language, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return common.Errorf("scratch buffer save: %w", err)
	}
	return nil
}
