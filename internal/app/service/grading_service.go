package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"
	"codeloom/internal/domain/repository"
	"codeloom/internal/playground/remote"

	"github.com/google/uuid"
)

// RemoteExecutor is the remote-execution dependency of the grader.
type RemoteExecutor interface {
	ExecuteWithInput(ctx context.Context, source, stdin string, target model.RemoteTarget) remote.Result
}

// PythonExecutor runs Python source in-process.
type PythonExecutor interface {
	Run(ctx context.Context, source string, inputs []string) string
}

// SQLScriptRunner executes a script against a fresh throwaway
// database and returns the per-statement results.
type SQLScriptRunner func(ctx context.Context, script string) ([]model.SQLStatementResult, error)

// GradingService is the authoritative grading endpoint. Web languages
// are scored from the Test Result Set captured during the sandboxed
// grading run; other languages are re-executed against the topic's
// expected-output checks. Every graded attempt is persisted.
type GradingService struct {
	topicRepo      repository.TopicRepository
	submissionRepo repository.SubmissionRepository
	registry       *model.Registry
	remoteExec     RemoteExecutor
	pythonExec     PythonExecutor
	sqlRunner      SQLScriptRunner
	db             *sql.DB // For transactions
}

func NewGradingService(
	topicRepo repository.TopicRepository,
	submissionRepo repository.SubmissionRepository,
	registry *model.Registry,
	remoteExec RemoteExecutor,
	pythonExec PythonExecutor,
	sqlRunner SQLScriptRunner,
	db *sql.DB,
) *GradingService {
	return &GradingService{
		topicRepo:      topicRepo,
		submissionRepo: submissionRepo,
		registry:       registry,
		remoteExec:     remoteExec,
		pythonExec:     pythonExec,
		sqlRunner:      sqlRunner,
		db:             db,
	}
}

func (s *GradingService) Grade(ctx context.Context, userID string, payload model.SubmissionPayload) (*model.Verdict, error) {
	topic, err := s.topicRepo.FindTopicByID(ctx, payload.TopicID)
	if err != nil {
		return nil, common.Errorf("topic not found: %w", err)
	}
	lang, ok := s.registry.Lookup(payload.Language)
	if !ok {
		return nil, common.Errorf("unknown language %q: %w", payload.Language, common.ErrBadRequest)
	}

	var verdict *model.Verdict
	if lang.Category == model.CategoryWeb {
		verdict = s.gradeWeb(payload.TestResults)
	} else {
		verdict, err = s.gradeByTestCases(ctx, topic.ID, lang, payload.Code)
		if err != nil {
			return nil, err
		}
	}

	if err := s.persist(ctx, userID, payload, verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}

// gradeWeb aggregates the captured pass/fail markers. A submission
// without a Test Result Set grades as 0/0 and does not pass.
func (s *GradingService) gradeWeb(results model.TestResultSet) *model.Verdict {
	total, passed := results.Counts()
	return &model.Verdict{
		Passed:  results.AllPassed(),
		Summary: &model.WebSummary{Total: total, Passed: passed},
	}
}

func (s *GradingService) gradeByTestCases(ctx context.Context, topicID string, lang model.Language, code string) (*model.Verdict, error) {
	cases, err := s.topicRepo.GetTestCasesByTopicID(ctx, topicID)
	if err != nil {
		return nil, common.Errorf("failed to load test cases: %w", err)
	}

	verdict := &model.Verdict{Cases: []model.CaseResult{}}
	allPassed := len(cases) > 0

	for _, tc := range cases {
		input := ""
		if tc.Input != nil {
			input = *tc.Input
		}
		actual := s.execute(ctx, lang, code, input)
		casePassed := strings.TrimSpace(actual) == strings.TrimSpace(tc.ExpectedOutput)
		if !casePassed {
			allPassed = false
		}
		verdict.Cases = append(verdict.Cases, model.CaseResult{
			Input:    tc.Input,
			Expected: tc.ExpectedOutput,
			Actual:   actual,
			Passed:   casePassed,
		})
	}

	verdict.Passed = allPassed
	return verdict, nil
}

func (s *GradingService) execute(ctx context.Context, lang model.Language, code, input string) string {
	if target, ok := lang.Remote(); ok {
		return s.remoteExec.ExecuteWithInput(ctx, code, input, target).Output
	}
	switch lang.Key {
	case "python":
		return s.pythonExec.Run(ctx, code, splitInputLines(input))
	case "sql":
		results, err := s.sqlRunner(ctx, code)
		if err != nil {
			return "Error: " + err.Error()
		}
		return renderSQLResults(results)
	default:
		return ""
	}
}

func (s *GradingService) persist(ctx context.Context, userID string, payload model.SubmissionPayload, verdict *model.Verdict) error {
	detail, err := json.Marshal(verdict)
	if err != nil {
		return common.Errorf("failed to marshal verdict: %w", err)
	}

	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		TopicID:     payload.TopicID,
		LanguageKey: payload.Language,
		Code:        payload.Code,
		TestResults: payload.TestResults,
		Passed:      verdict.Passed,
		Output:      string(detail),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.submissionRepo.CreateSubmission(ctx, tx, submission); err != nil {
		return common.Errorf("failed to record submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return common.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Graded submission %s for user %s: passed=%v", submission.ID, userID, verdict.Passed)
	return nil
}

// GetLatestSubmission backs the prior-submission fetch; absence is
// not an error at the API layer.
func (s *GradingService) GetLatestSubmission(ctx context.Context, userID, topicID string) (*model.Submission, error) {
	return s.submissionRepo.GetLatestByUserAndTopic(ctx, userID, topicID)
}

func splitInputLines(input string) []string {
	if input == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n")
}

// renderSQLResults flattens statement results into comparable text:
// row sets as comma-joined lines, acknowledgments and errors as-is.
func renderSQLResults(results []model.SQLStatementResult) string {
	var lines []string
	for _, r := range results {
		switch {
		case r.Error != "":
			lines = append(lines, "Error: "+r.Error)
		case r.Columns != nil:
			lines = append(lines, strings.Join(r.Columns, ","))
			for _, row := range r.Rows {
				lines = append(lines, strings.Join(row, ","))
			}
		default:
			lines = append(lines, r.Message)
		}
	}
	return strings.Join(lines, "\n")
}
