package model

import (
	"encoding/json"
	"strings"
)

// ConsoleLevel mirrors the console methods intercepted by the sandbox
// shim.
type ConsoleLevel string

const (
	ConsoleLog   ConsoleLevel = "log"
	ConsoleWarn  ConsoleLevel = "warn"
	ConsoleError ConsoleLevel = "error"
)

// ConsoleEntry is one line of the sandbox console transcript.
type ConsoleEntry struct {
	Level ConsoleLevel `json:"level"`
	Text  string       `json:"text"`
}

// SQLStatementResult is the outcome of a single statement in a
// multi-statement SQL script. Exactly one of Columns/Rows, Message, or
// Error is populated.
type SQLStatementResult struct {
	Statement string     `json:"statement"`
	Columns   []string   `json:"columns,omitempty"`
	Rows      [][]string `json:"rows,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ResultKind tags which shape an ExecutionResult carries.
type ResultKind string

const (
	ResultOutput  ResultKind = "output"
	ResultSQL     ResultKind = "sql"
	ResultConsole ResultKind = "console"
)

// ExecutionResult is the transient outcome of one Run. A new Run
// replaces it; Reset clears it.
type ExecutionResult struct {
	Kind    ResultKind           `json:"kind"`
	Output  string               `json:"output,omitempty"`
	Console []ConsoleEntry       `json:"console,omitempty"`
	SQL     []SQLStatementResult `json:"sql,omitempty"`
}

// TestResultSet is the ordered pass/fail markers emitted by a test
// script: each entry is "PASS" or "FAIL:<reason>".
type TestResultSet []string

const TestMarkerPass = "PASS"

func (t TestResultSet) Counts() (total, passed int) {
	for _, m := range t {
		total++
		if m == TestMarkerPass {
			passed++
		}
	}
	return total, passed
}

func (t TestResultSet) AllPassed() bool {
	if len(t) == 0 {
		return false
	}
	total, passed := t.Counts()
	return total == passed
}

// BufferSet holds the editable source. Web languages use the three
// named buffers; every other category uses Source alone.
type BufferSet struct {
	HTML   string `json:"html,omitempty"`
	CSS    string `json:"css,omitempty"`
	JS     string `json:"js,omitempty"`
	Source string `json:"source,omitempty"`
}

// GradingState tracks a session's verdict lifecycle.
type GradingState string

const (
	GradingUnattempted GradingState = "unattempted"
	GradingPending     GradingState = "pending"
	GradingPassed      GradingState = "passed"
	GradingFailed      GradingState = "failed"
)

// CaseResult is the per-test-case grading detail for non-web
// languages.
type CaseResult struct {
	Input    *string `json:"input,omitempty"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual"`
	Passed   bool    `json:"passed"`
}

// WebSummary is the aggregate grading detail for web languages.
type WebSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Verdict is the authoritative grading response. Results carries
// either per-case details or a one-element aggregate summary,
// matching the language category.
type Verdict struct {
	Passed  bool
	Cases   []CaseResult
	Summary *WebSummary
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	out := struct {
		Passed  bool          `json:"passed"`
		Results []interface{} `json:"results"`
	}{Passed: v.Passed, Results: []interface{}{}}
	if v.Summary != nil {
		out.Results = append(out.Results, *v.Summary)
	} else {
		for _, c := range v.Cases {
			out.Results = append(out.Results, c)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a stored verdict. Result elements carrying an
// "expected" field are per-case details; anything else is the web
// aggregate summary.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var raw struct {
		Passed  bool              `json:"passed"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Passed = raw.Passed
	v.Cases = nil
	v.Summary = nil
	for _, r := range raw.Results {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(r, &probe); err != nil {
			return err
		}
		if _, isCase := probe["expected"]; isCase {
			var c CaseResult
			if err := json.Unmarshal(r, &c); err != nil {
				return err
			}
			v.Cases = append(v.Cases, c)
		} else {
			var s WebSummary
			if err := json.Unmarshal(r, &s); err != nil {
				return err
			}
			v.Summary = &s
		}
	}
	return nil
}

// SubmissionPayload is what the coordinator sends to the grader:
// combined source, language key, and the test results captured during
// the grading run, if any.
type SubmissionPayload struct {
	TopicID     string        `json:"topicId"`
	Code        string        `json:"code"`
	Language    string        `json:"language"`
	TestResults TestResultSet `json:"testResults,omitempty"`
}

// ParseTestResults decodes the JSON array that follows the
// TEST_RESULTS: prefix in a sandbox console message. A malformed
// payload yields ok=false and is treated as no signal.
func ParseTestResults(raw string) (TestResultSet, bool) {
	var markers []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &markers); err != nil {
		return nil, false
	}
	return TestResultSet(markers), true
}
