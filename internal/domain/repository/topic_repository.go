package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type TopicRepository interface {
	CreateTopic(ctx context.Context, tx *sql.Tx, topic *model.Topic) error
	FindTopicByID(ctx context.Context, id string) (*model.Topic, error)
	FindTopicBySlug(ctx context.Context, slug string) (*model.Topic, error)
	ListTopics(ctx context.Context, limit, offset int) ([]model.Topic, int, error)

	AddTestCases(ctx context.Context, tx *sql.Tx, topicID string, cases []model.TopicTestCase) error
	GetTestCasesByTopicID(ctx context.Context, topicID string) ([]model.TopicTestCase, error)
}

type pgTopicRepository struct {
	db *sql.DB
}

func NewPgTopicRepository(db *sql.DB) TopicRepository {
	return &pgTopicRepository{db: db}
}

func (r *pgTopicRepository) CreateTopic(ctx context.Context, tx *sql.Tx, t *model.Topic) error {
	query := `INSERT INTO topics (id, title, slug, description, language_key, starter_code, test_script)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, t.ID, t.Title, t.Slug, t.Description, t.LanguageKey, t.StarterCode, t.TestScript)
	} else {
		_, err = r.db.ExecContext(ctx, query, t.ID, t.Title, t.Slug, t.Description, t.LanguageKey, t.StarterCode, t.TestScript)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint for slug
			return fmt.Errorf("topic with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgTopicRepository.CreateTopic: %w", err)
	}
	return nil
}

func (r *pgTopicRepository) FindTopicByID(ctx context.Context, id string) (*model.Topic, error) {
	return r.findTopicBy(ctx, "id", id)
}

func (r *pgTopicRepository) FindTopicBySlug(ctx context.Context, slug string) (*model.Topic, error) {
	return r.findTopicBy(ctx, "slug", slug)
}

func (r *pgTopicRepository) findTopicBy(ctx context.Context, column, value string) (*model.Topic, error) {
	query := `SELECT id, title, slug, description, language_key, starter_code, test_script, created_at, updated_at
	          FROM topics WHERE ` + column + ` = $1`
	topic := &model.Topic{}
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&topic.ID, &topic.Title, &topic.Slug, &topic.Description, &topic.LanguageKey,
		&topic.StarterCode, &topic.TestScript, &topic.CreatedAt, &topic.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgTopicRepository.findTopicBy %s: %w", column, err)
	}
	return topic, nil
}

func (r *pgTopicRepository) ListTopics(ctx context.Context, limit, offset int) ([]model.Topic, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgTopicRepository.ListTopics count: %w", err)
	}

	query := `SELECT id, title, slug, description, language_key, starter_code, test_script, created_at, updated_at
	          FROM topics ORDER BY created_at ASC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgTopicRepository.ListTopics query: %w", err)
	}
	defer rows.Close()

	topics := []model.Topic{}
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Title, &t.Slug, &t.Description, &t.LanguageKey,
			&t.StarterCode, &t.TestScript, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgTopicRepository.ListTopics scan: %w", err)
		}
		topics = append(topics, t)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgTopicRepository.ListTopics rows.Err: %w", err)
	}
	return topics, total, nil
}

func (r *pgTopicRepository) AddTestCases(ctx context.Context, tx *sql.Tx, topicID string, cases []model.TopicTestCase) error {
	if len(cases) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO topic_test_cases (id, topic_id, input, expected_output, sort_order) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("pgTopicRepository.AddTestCases prepare: %w", err)
	}
	defer stmt.Close()

	for i, tc := range cases {
		tc.SortOrder = i + 1 // Auto-assign sort order
		if _, err := stmt.ExecContext(ctx, tc.ID, topicID, tc.Input, tc.ExpectedOutput, tc.SortOrder); err != nil {
			return fmt.Errorf("pgTopicRepository.AddTestCases exec for case %s: %w", tc.ID, err)
		}
	}
	return nil
}

func (r *pgTopicRepository) GetTestCasesByTopicID(ctx context.Context, topicID string) ([]model.TopicTestCase, error) {
	query := `SELECT id, topic_id, input, expected_output, sort_order, created_at
	          FROM topic_test_cases WHERE topic_id = $1 ORDER BY sort_order ASC`
	rows, err := r.db.QueryContext(ctx, query, topicID)
	if err != nil {
		return nil, fmt.Errorf("pgTopicRepository.GetTestCasesByTopicID query: %w", err)
	}
	defer rows.Close()

	var cases []model.TopicTestCase
	for rows.Next() {
		var tc model.TopicTestCase
		if err := rows.Scan(&tc.ID, &tc.TopicID, &tc.Input, &tc.ExpectedOutput, &tc.SortOrder, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgTopicRepository.GetTestCasesByTopicID scan: %w", err)
		}
		cases = append(cases, tc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgTopicRepository.GetTestCasesByTopicID rows.Err: %w", err)
	}
	return cases, nil
}
