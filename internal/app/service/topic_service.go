package service

import (
	"context"
	"database/sql"
	"fmt"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"
	"codeloom/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type TopicService struct {
	topicRepo repository.TopicRepository
	registry  *model.Registry
	db        *sql.DB // For transactions
}

func NewTopicService(topicRepo repository.TopicRepository, registry *model.Registry, db *sql.DB) *TopicService {
	return &TopicService{topicRepo: topicRepo, registry: registry, db: db}
}

type CreateTopicRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	LanguageKey string  `json:"language_key"`
	StarterCode string  `json:"starter_code"`
	TestScript  *string `json:"test_script,omitempty"`

	TestCases []struct {
		Input          *string `json:"input,omitempty"`
		ExpectedOutput string  `json:"expected_output"`
	} `json:"test_cases,omitempty"`
}

func (s *TopicService) CreateTopic(ctx context.Context, req CreateTopicRequest) (*model.Topic, error) {
	if req.Title == "" || req.LanguageKey == "" {
		return nil, common.ErrBadRequest
	}
	if _, ok := s.registry.Lookup(req.LanguageKey); !ok {
		return nil, common.Errorf("unknown language %q: %w", req.LanguageKey, common.ErrBadRequest)
	}

	topic := &model.Topic{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Slug:        slug.Make(req.Title),
		Description: req.Description,
		LanguageKey: req.LanguageKey,
		StarterCode: req.StarterCode,
		TestScript:  req.TestScript,
	}

	var cases []model.TopicTestCase
	for _, tc := range req.TestCases {
		cases = append(cases, model.TopicTestCase{
			ID:             uuid.NewString(),
			TopicID:        topic.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.topicRepo.CreateTopic(ctx, tx, topic); err != nil {
		return nil, common.Errorf("failed to create topic: %w", err)
	}
	if err := s.topicRepo.AddTestCases(ctx, tx, topic.ID, cases); err != nil {
		return nil, common.Errorf("failed to add test cases: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, common.Errorf("failed to commit transaction: %w", err)
	}

	topic.TestCases = cases
	return topic, nil
}

func (s *TopicService) GetTopicBySlug(ctx context.Context, topicSlug string) (*model.Topic, error) {
	topic, err := s.topicRepo.FindTopicBySlug(ctx, topicSlug)
	if err != nil {
		return nil, fmt.Errorf("topic not found: %w", err)
	}
	// Test cases and scripts are grading material; strip them from the
	// public view.
	topic.TestScript = nil
	topic.TestCases = nil
	return topic, nil
}

func (s *TopicService) ListTopics(ctx context.Context, limit, offset int) ([]model.Topic, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	topics, total, err := s.topicRepo.ListTopics(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list topics: %w", err)
	}
	for i := range topics {
		topics[i].TestScript = nil
	}
	return topics, total, nil
}

func (s *TopicService) ListLanguages() []model.Language {
	return s.registry.List()
}
