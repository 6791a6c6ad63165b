// Package remote dispatches source code to a Piston-compatible
// execution service for languages that run neither in the sandbox
// frame nor in-process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"codeloom/internal/domain/model"
)

// NoOutputMessage is returned when the service reports success with
// neither stdout nor stderr.
const NoOutputMessage = "Code executed successfully (no output)"

// Result collapses transport, compile, and runtime failures into one
// shape; the distinction is surfaced textually only.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []requestFile `json:"files"`
	Stdin    string        `json:"stdin,omitempty"`
}

type requestFile struct {
	Content string `json:"content"`
}

type executeResponse struct {
	Run struct {
		Output string `json:"output"`
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"run"`
	Message string `json:"message"`
}

// Client issues one request per Execute call. There is no retry
// policy: a failed run is terminal until the user re-triggers it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute runs source against the remote service for the given
// language target. Errors never propagate; they become a failed
// Result with a displayable message.
func (c *Client) Execute(ctx context.Context, source string, target model.RemoteTarget) Result {
	return c.ExecuteWithInput(ctx, source, "", target)
}

// ExecuteWithInput runs source with stdin supplied to the remote
// process; grading uses this to feed per-test-case input.
func (c *Client) ExecuteWithInput(ctx context.Context, source, stdin string, target model.RemoteTarget) Result {
	body, err := json.Marshal(executeRequest{
		Language: target.ID,
		Version:  target.Version,
		Files:    []requestFile{{Content: source}},
		Stdin:    stdin,
	})
	if err != nil {
		return Result{Success: false, Output: fmt.Sprintf("Failed to build execution request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Output: fmt.Sprintf("Failed to build execution request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Success: false, Output: fmt.Sprintf("Execution service unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The error body is decoded best-effort: gateways answer with
		// HTML pages, not the service's JSON shape.
		msg := fmt.Sprintf("Execution service returned status %d", resp.StatusCode)
		var failure executeResponse
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Message != "" {
			msg = failure.Message
		}
		return Result{Success: false, Output: msg}
	}

	var decoded executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{Success: false, Output: fmt.Sprintf("Invalid execution service response: %v", err)}
	}

	// Prefer the combined output; stderr alone still counts as a
	// successful run (warnings-only languages).
	output := decoded.Run.Output
	if output == "" {
		output = decoded.Run.Stdout
	}
	if output == "" {
		output = decoded.Run.Stderr
	}
	if output == "" {
		output = NoOutputMessage
	}
	return Result{Success: true, Output: output}
}
