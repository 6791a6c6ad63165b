package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeloom/internal/domain/model"
)

func serveResponse(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Files) != 1 {
			t.Errorf("files = %d, want 1", len(req.Files))
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

var target = model.RemoteTarget{ID: "go", Version: "1.16.2"}

func TestExecuteCombinedOutput(t *testing.T) {
	srv := serveResponse(t, 200, `{"run":{"output":"hello\n","stdout":"hello\n","stderr":""}}`)
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), `print`, target)
	if !got.Success || got.Output != "hello\n" {
		t.Errorf("got %+v", got)
	}
}

func TestExecuteStderrOnlyIsSuccess(t *testing.T) {
	srv := serveResponse(t, 200, `{"run":{"stdout":"","stderr":"warning: unused"}}`)
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if !got.Success {
		t.Error("stderr-only run should be a success")
	}
	if got.Output != "warning: unused" {
		t.Errorf("output = %q", got.Output)
	}
}

func TestExecuteNoOutputAtAll(t *testing.T) {
	srv := serveResponse(t, 200, `{"run":{}}`)
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if !got.Success {
		t.Error("empty run should be a success")
	}
	if got.Output != NoOutputMessage {
		t.Errorf("output = %q, want %q", got.Output, NoOutputMessage)
	}
}

func TestExecuteNon2xxFails(t *testing.T) {
	srv := serveResponse(t, 400, `{"message":"runtime unknown"}`)
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if got.Success {
		t.Error("non-2xx should fail")
	}
	if got.Output != "runtime unknown" {
		t.Errorf("output = %q", got.Output)
	}
}

func TestExecuteNon2xxNonJSONBody(t *testing.T) {
	srv := serveResponse(t, 502, `<html><body>Bad Gateway</body></html>`)
	defer srv.Close()

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if got.Success {
		t.Error("non-2xx should fail")
	}
	if got.Output != "Execution service returned status 502" {
		t.Errorf("output = %q, want the status message", got.Output)
	}
}

func TestExecuteTransportFailureFails(t *testing.T) {
	srv := serveResponse(t, 200, `{}`)
	srv.Close() // Closed server: connection refused.

	got := NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if got.Success {
		t.Error("transport failure should fail")
	}
	if got.Output == "" {
		t.Error("failure must carry a displayable message")
	}
}

func TestExecuteSingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	NewClient(srv.URL, time.Second).Execute(context.Background(), "x", target)
	if attempts != 1 {
		t.Errorf("attempts = %d, want exactly one", attempts)
	}
}
