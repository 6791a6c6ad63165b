package model

import "time"

// Submission is one grading attempt against a topic. Output stores the
// serialized verdict detail for later redisplay.
type Submission struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	TopicID     string        `json:"topic_id"`
	LanguageKey string        `json:"language_key"`
	Code        string        `json:"code"`
	TestResults TestResultSet `json:"test_results,omitempty"`
	Passed      bool          `json:"passed"`
	Output      string        `json:"output"`
	SubmittedAt time.Time     `json:"submitted_at"`
}
