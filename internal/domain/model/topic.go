package model

import "time"

// Topic is a course topic carrying an optional coding challenge. The
// catalog itself is thin; the playground only needs the starter code,
// the declared language, and the grading material.
type Topic struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	LanguageKey string    `json:"language_key"`
	StarterCode string    `json:"starter_code"`
	TestScript  *string   `json:"test_script,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	TestCases []TopicTestCase `json:"test_cases,omitempty"` // Grading material (non-web)
}

// HasTestScript reports whether the topic ships a sandbox test script.
func (t *Topic) HasTestScript() bool {
	return t.TestScript != nil && *t.TestScript != ""
}

// TopicTestCase is one expected-output check used to grade non-web
// submissions.
type TopicTestCase struct {
	ID             string    `json:"id"`
	TopicID        string    `json:"topic_id"`
	Input          *string   `json:"input,omitempty"`
	ExpectedOutput string    `json:"expected_output"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
}
