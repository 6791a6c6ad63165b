package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"
)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetLatestByUserAndTopic(ctx context.Context, userID, topicID string) (*model.Submission, error)

	// MarkTopicCompleted records a passing verdict on the user's
	// checklist; repeated calls are no-ops.
	MarkTopicCompleted(ctx context.Context, tx *sql.Tx, userID, topicID string) error
	CountCompletedTopics(ctx context.Context, userID string) (int, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	testResults, err := json.Marshal(sub.TestResults)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission marshal: %w", err)
	}

	query := `INSERT INTO submissions (id, user_id, topic_id, language_key, code, test_results, passed, output)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, sub.ID, sub.UserID, sub.TopicID, sub.LanguageKey, sub.Code, testResults, sub.Passed, sub.Output)
	} else {
		_, err = r.db.ExecContext(ctx, query, sub.ID, sub.UserID, sub.TopicID, sub.LanguageKey, sub.Code, testResults, sub.Passed, sub.Output)
	}
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetLatestByUserAndTopic(ctx context.Context, userID, topicID string) (*model.Submission, error) {
	query := `SELECT id, user_id, topic_id, language_key, code, test_results, passed, output, submitted_at
	          FROM submissions WHERE user_id = $1 AND topic_id = $2
	          ORDER BY submitted_at DESC LIMIT 1`
	sub := &model.Submission{}
	var testResults []byte
	err := r.db.QueryRowContext(ctx, query, userID, topicID).Scan(
		&sub.ID, &sub.UserID, &sub.TopicID, &sub.LanguageKey, &sub.Code,
		&testResults, &sub.Passed, &sub.Output, &sub.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetLatestByUserAndTopic: %w", err)
	}
	if len(testResults) > 0 {
		if err := json.Unmarshal(testResults, &sub.TestResults); err != nil {
			// Stored detail is display-only; a bad row should not
			// hide the submission itself.
			sub.TestResults = nil
		}
	}
	return sub, nil
}

func (r *pgSubmissionRepository) MarkTopicCompleted(ctx context.Context, tx *sql.Tx, userID, topicID string) error {
	query := `INSERT INTO topic_progress (user_id, topic_id, completed_at)
	          VALUES ($1, $2, CURRENT_TIMESTAMP)
	          ON CONFLICT (user_id, topic_id) DO NOTHING`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, userID, topicID)
	} else {
		_, err = r.db.ExecContext(ctx, query, userID, topicID)
	}
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.MarkTopicCompleted: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) CountCompletedTopics(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topic_progress WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgSubmissionRepository.CountCompletedTopics: %w", err)
	}
	return count, nil
}
