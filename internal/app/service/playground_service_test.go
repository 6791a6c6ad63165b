package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"
	"codeloom/internal/playground/relay"
	"codeloom/internal/playground/remote"
	"codeloom/internal/playground/sandbox"
	"codeloom/internal/playground/wasmrt"
)

type fakeTopicRepo struct {
	topics map[string]*model.Topic // keyed by slug
	cases  map[string][]model.TopicTestCase
}

func newFakeTopicRepo(topics ...*model.Topic) *fakeTopicRepo {
	r := &fakeTopicRepo{
		topics: make(map[string]*model.Topic),
		cases:  make(map[string][]model.TopicTestCase),
	}
	for _, t := range topics {
		r.topics[t.Slug] = t
	}
	return r
}

func (r *fakeTopicRepo) CreateTopic(_ context.Context, _ *sql.Tx, t *model.Topic) error {
	r.topics[t.Slug] = t
	return nil
}

func (r *fakeTopicRepo) FindTopicByID(_ context.Context, id string) (*model.Topic, error) {
	for _, t := range r.topics {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeTopicRepo) FindTopicBySlug(_ context.Context, slug string) (*model.Topic, error) {
	t, ok := r.topics[slug]
	if !ok {
		return nil, common.ErrNotFound
	}
	return t, nil
}

func (r *fakeTopicRepo) ListTopics(_ context.Context, _, _ int) ([]model.Topic, int, error) {
	var out []model.Topic
	for _, t := range r.topics {
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (r *fakeTopicRepo) AddTestCases(_ context.Context, _ *sql.Tx, topicID string, cases []model.TopicTestCase) error {
	r.cases[topicID] = append(r.cases[topicID], cases...)
	return nil
}

func (r *fakeTopicRepo) GetTestCasesByTopicID(_ context.Context, topicID string) ([]model.TopicTestCase, error) {
	return r.cases[topicID], nil
}

type fakeSubmissionRepo struct {
	latest    map[string]*model.Submission // keyed by userID+topicID
	completed map[string]int
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{
		latest:    make(map[string]*model.Submission),
		completed: make(map[string]int),
	}
}

func (r *fakeSubmissionRepo) CreateSubmission(_ context.Context, _ *sql.Tx, sub *model.Submission) error {
	r.latest[sub.UserID+"/"+sub.TopicID] = sub
	return nil
}

func (r *fakeSubmissionRepo) GetLatestByUserAndTopic(_ context.Context, userID, topicID string) (*model.Submission, error) {
	sub, ok := r.latest[userID+"/"+topicID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return sub, nil
}

func (r *fakeSubmissionRepo) MarkTopicCompleted(_ context.Context, _ *sql.Tx, userID, topicID string) error {
	r.completed[userID+"/"+topicID]++
	return nil
}

func (r *fakeSubmissionRepo) CountCompletedTopics(_ context.Context, userID string) (int, error) {
	count := 0
	for key := range r.completed {
		if strings.HasPrefix(key, userID+"/") {
			count++
		}
	}
	return count, nil
}

type fakeGrader struct {
	mu       sync.Mutex
	verdict  *model.Verdict
	err      error
	calls    int
	payloads []model.SubmissionPayload
}

func (g *fakeGrader) Grade(_ context.Context, _ string, payload model.SubmissionPayload) (*model.Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.payloads = append(g.payloads, payload)
	if g.err != nil {
		return nil, g.err
	}
	return g.verdict, nil
}

func (g *fakeGrader) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGrader) lastPayload() model.SubmissionPayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.payloads[len(g.payloads)-1]
}

type fakeRemote struct {
	output string
	stdins []string
}

func (f *fakeRemote) ExecuteWithInput(_ context.Context, _, stdin string, _ model.RemoteTarget) remote.Result {
	f.stdins = append(f.stdins, stdin)
	return remote.Result{Success: true, Output: f.output}
}

type scriptedInterpreter struct {
	stdout string
}

func (s *scriptedInterpreter) Run(context.Context, string, io.Reader) (string, string, error) {
	return s.stdout, "", nil
}

func (s *scriptedInterpreter) Close(context.Context) error { return nil }

type passCounter struct {
	mu    sync.Mutex
	calls int
}

func (c *passCounter) onPass(context.Context, string, string) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *passCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func strptr(s string) *string { return &s }

func webTopic(script *string) *model.Topic {
	return &model.Topic{
		ID:          "topic-web",
		Slug:        "flex-layout",
		Title:       "Flex Layout",
		LanguageKey: "html",
		StarterCode: "<!DOCTYPE html>\n<html>\n<head></head>\n<body>\n<h1>Hi</h1>\n</body>\n</html>\n\n<style>\nh1 { color: red; }\n</style>\n\n<script>\nconsole.log('ready');\n</script>",
		TestScript:  script,
	}
}

func newTestService(t *testing.T, topics *fakeTopicRepo, subs *fakeSubmissionRepo, grader Grader, opts ...func(*PlaygroundService)) (*PlaygroundService, *passCounter) {
	t.Helper()
	counter := &passCounter{}
	factory := func(context.Context) (wasmrt.Interpreter, error) {
		return &scriptedInterpreter{stdout: "hello from python\n"}, nil
	}
	svc := NewPlaygroundService(
		model.DefaultRegistry(), topics, subs, grader, &fakeRemote{output: "42"}, factory,
		counter.onPass,
		PlaygroundConfig{
			TestScriptDelay:    500 * time.Millisecond,
			TestSignalDeadline: 100 * time.Millisecond,
			SessionIdleTTL:     30 * time.Minute,
		},
	)
	for _, opt := range opts {
		opt(svc)
	}
	t.Cleanup(svc.CloseAll)
	return svc, counter
}

func TestOpenSessionSeedsStarterBuffers(t *testing.T) {
	svc, _ := newTestService(t, newFakeTopicRepo(webTopic(nil)), newFakeSubmissionRepo(), &fakeGrader{})

	view, err := svc.OpenSession(context.Background(), "user-1", "flex-layout")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if view.State != model.GradingUnattempted {
		t.Fatalf("state = %q, want unattempted", view.State)
	}
	if got := strings.TrimSpace(view.Buffers.CSS); got != "h1 { color: red; }" {
		t.Errorf("CSS buffer = %q", got)
	}
	if got := strings.TrimSpace(view.Buffers.JS); got != "console.log('ready');" {
		t.Errorf("JS buffer = %q", got)
	}
	if !strings.Contains(view.Buffers.HTML, "<h1>Hi</h1>") {
		t.Errorf("HTML buffer missing markup: %q", view.Buffers.HTML)
	}
}

func TestOpenSessionRestoresPriorSubmission(t *testing.T) {
	topic := webTopic(nil)
	subs := newFakeSubmissionRepo()
	verdict := model.Verdict{Passed: true, Summary: &model.WebSummary{Total: 2, Passed: 2}}
	detail, _ := json.Marshal(verdict)
	subs.latest["user-1/"+topic.ID] = &model.Submission{
		UserID:  "user-1",
		TopicID: topic.ID,
		Code:    "<body><p>prior work</p></body>",
		Passed:  true,
		Output:  string(detail),
	}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), subs, &fakeGrader{})

	view, err := svc.OpenSession(context.Background(), "user-1", topic.Slug)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if view.State != model.GradingPassed {
		t.Fatalf("state = %q, want passed", view.State)
	}
	if view.Verdict == nil || view.Verdict.Summary == nil || view.Verdict.Summary.Passed != 2 {
		t.Fatalf("verdict not restored: %+v", view.Verdict)
	}
	if !strings.Contains(view.Buffers.HTML, "prior work") {
		t.Errorf("buffers not seeded from prior code: %q", view.Buffers.HTML)
	}
}

func TestRunProducesTaggedDocument(t *testing.T) {
	svc, _ := newTestService(t, newFakeTopicRepo(webTopic(nil)), newFakeSubmissionRepo(), &fakeGrader{})
	view, _ := svc.OpenSession(context.Background(), "user-1", "flex-layout")

	outcome, err := svc.Run(context.Background(), view.ID, "user-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.RunID != 1 {
		t.Fatalf("RunID = %d, want 1", outcome.RunID)
	}
	doc, err := svc.Document(view.ID, "user-1")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if !strings.Contains(doc, "var RUN_ID = 1;") {
		t.Error("document not tagged with run id")
	}

	outcome, _ = svc.Run(context.Background(), view.ID, "user-1", nil)
	if outcome.RunID != 2 {
		t.Fatalf("second RunID = %d, want 2", outcome.RunID)
	}
}

func ingestResults(svc *PlaygroundService, sessionID string, runID uint64, markers string) {
	svc.Ingest(sessionID, "user-1", relay.Message{
		Type:  "console",
		Level: "log",
		Args:  []string{sandbox.TestResultPrefix + markers},
		RunID: runID,
	})
}

func TestSubmitReusesCapturedRun(t *testing.T) {
	topic := webTopic(strptr("checkHeading();"))
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{Total: 2, Passed: 2}}}
	svc, counter := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	// The client runs, executes the document, and its results arrive
	// before submit.
	outcome, err := svc.Run(context.Background(), view.ID, "user-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ingestResults(svc, view.ID, outcome.RunID, `["PASS","PASS"]`)

	verdict, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !verdict.Passed {
		t.Fatal("verdict should pass")
	}
	got := grader.lastPayload()
	if len(got.TestResults) != 2 || got.TestResults[0] != model.TestMarkerPass {
		t.Fatalf("grader received test results %v", got.TestResults)
	}
	if !strings.Contains(got.Code, "<style>") || !strings.Contains(got.Code, "<script>") {
		t.Errorf("payload code not combined: %q", got.Code)
	}
	// Unedited buffers grade from the client's run; no re-render.
	doc, _ := svc.Document(view.ID, "user-1")
	if !strings.Contains(doc, "var RUN_ID = 1;") {
		t.Error("captured run was superseded by a fresh grading run")
	}
	if counter.count() != 1 {
		t.Fatalf("completion callback called %d times, want 1", counter.count())
	}
}

func TestSubmitWaitsForTestSignal(t *testing.T) {
	topic := webTopic(strptr("checkHeading();"))
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{Total: 2, Passed: 2}}}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	// The client has run but its delayed test script has not reported
	// yet when submit arrives.
	outcome, err := svc.Run(context.Background(), view.ID, "user-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		ingestResults(svc, view.ID, outcome.RunID, `["PASS","PASS"]`)
	}()

	verdict, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !verdict.Passed {
		t.Fatal("verdict should pass")
	}
	if got := grader.lastPayload().TestResults; len(got) != 2 {
		t.Fatalf("grader received test results %v", got)
	}
}

func TestSubmitGradingRunReachableDuringWait(t *testing.T) {
	topic := webTopic(strptr("checkHeading();"))
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{Total: 2, Passed: 2}}}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader,
		func(p *PlaygroundService) { p.cfg.TestSignalDeadline = 2 * time.Second })
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	// Submit with no prior run renders a fresh grading run. The client
	// must be able to fetch and execute that document while Submit is
	// still waiting on the test signal.
	done := make(chan *model.Verdict, 1)
	go func() {
		verdict, err := svc.Submit(context.Background(), view.ID, "user-1")
		if err != nil {
			t.Errorf("Submit: %v", err)
		}
		done <- verdict
	}()

	var doc string
	pollUntil := time.Now().Add(time.Second)
	for {
		d, err := svc.Document(view.ID, "user-1")
		if err == nil {
			doc = d
			break
		}
		if time.Now().After(pollUntil) {
			t.Fatal("grading document not fetchable while Submit waits")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(doc, "var RUN_ID = 1;") {
		t.Fatal("grading document not tagged with the grading run id")
	}
	ingestResults(svc, view.ID, 1, `["PASS","PASS"]`)

	select {
	case verdict := <-done:
		if verdict == nil || !verdict.Passed {
			t.Fatalf("verdict = %+v, want pass", verdict)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after the results arrived")
	}
	if got := grader.lastPayload().TestResults; len(got) != 2 {
		t.Fatalf("grader received test results %v", got)
	}
}

func TestSubmitEditedBuffersForceFreshRun(t *testing.T) {
	topic := webTopic(strptr("checkHeading();"))
	grader := &fakeGrader{verdict: &model.Verdict{Passed: false, Summary: &model.WebSummary{}}}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	outcome, _ := svc.Run(context.Background(), view.ID, "user-1", nil)
	ingestResults(svc, view.ID, outcome.RunID, `["PASS","PASS"]`)
	if _, err := svc.UpdateBuffers(view.ID, "user-1", model.BufferSet{HTML: "<p>edited</p>"}); err != nil {
		t.Fatalf("UpdateBuffers: %v", err)
	}

	if _, err := svc.Submit(context.Background(), view.ID, "user-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The stale run's captured results must not grade the edited code.
	if got := grader.lastPayload().TestResults; len(got) != 0 {
		t.Fatalf("grader received stale results %v", got)
	}
	doc, _ := svc.Document(view.ID, "user-1")
	if !strings.Contains(doc, "var RUN_ID = 2;") {
		t.Error("edited buffers did not get a fresh grading run")
	}
}

func TestSubmitDeadlineBoundsTheWait(t *testing.T) {
	topic := webTopic(strptr("checkHeading();"))
	grader := &fakeGrader{verdict: &model.Verdict{Passed: false, Summary: &model.WebSummary{}}}
	svc, counter := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	start := time.Now()
	verdict, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Submit blocked %v past the 100ms deadline", elapsed)
	}
	if verdict.Passed {
		t.Fatal("no test results should not pass")
	}
	if got := grader.lastPayload().TestResults; len(got) != 0 {
		t.Fatalf("grader received phantom results %v", got)
	}
	if counter.count() != 0 {
		t.Fatal("completion callback fired on failure")
	}
}

func TestSubmitRedisplaysCachedVerdict(t *testing.T) {
	topic := webTopic(nil)
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{}}}
	svc, counter := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	first, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if first != second {
		t.Error("second submit should return the cached verdict")
	}
	if grader.callCount() != 1 {
		t.Fatalf("grader called %d times, want 1", grader.callCount())
	}
	if counter.count() != 1 {
		t.Fatalf("completion callback called %d times, want 1", counter.count())
	}
}

func TestBufferEditInvalidatesVerdict(t *testing.T) {
	topic := webTopic(nil)
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{}}}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	if _, err := svc.Submit(context.Background(), view.ID, "user-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.UpdateBuffers(view.ID, "user-1", model.BufferSet{HTML: "<p>edited</p>"}); err != nil {
		t.Fatalf("UpdateBuffers: %v", err)
	}
	if _, err := svc.Submit(context.Background(), view.ID, "user-1"); err != nil {
		t.Fatalf("re-Submit: %v", err)
	}
	if grader.callCount() != 2 {
		t.Fatalf("grader called %d times after edit, want 2", grader.callCount())
	}
}

func TestSubmitDegradesWhenGradingFails(t *testing.T) {
	topic := webTopic(nil)
	grader := &fakeGrader{err: errors.New("grading backend down")}
	svc, counter := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	verdict, err := svc.Submit(context.Background(), view.ID, "user-1")
	if err != nil {
		t.Fatalf("Submit should degrade, not error: %v", err)
	}
	if verdict.Passed {
		t.Fatal("degraded verdict must not pass")
	}
	state, _ := svc.GetSession(view.ID, "user-1")
	if state.State != model.GradingFailed {
		t.Fatalf("state = %q, want failed", state.State)
	}
	if counter.count() != 0 {
		t.Fatal("completion callback fired on degraded failure")
	}
}

func TestResetRestoresStarterState(t *testing.T) {
	topic := webTopic(nil)
	grader := &fakeGrader{verdict: &model.Verdict{Passed: true, Summary: &model.WebSummary{}}}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), grader)
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	svc.UpdateBuffers(view.ID, "user-1", model.BufferSet{HTML: "<p>scribbles</p>"})
	svc.Run(context.Background(), view.ID, "user-1", nil)
	svc.Submit(context.Background(), view.ID, "user-1")

	after, err := svc.Reset(view.ID, "user-1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if after.State != model.GradingUnattempted {
		t.Fatalf("state = %q, want unattempted", after.State)
	}
	if after.Verdict != nil {
		t.Error("verdict survived reset")
	}
	if !strings.Contains(after.Buffers.HTML, "<h1>Hi</h1>") {
		t.Errorf("buffers not reseeded from starter: %q", after.Buffers.HTML)
	}
	if _, err := svc.Document(view.ID, "user-1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("document should be cleared, got err=%v", err)
	}
}

func TestPythonRunReturnsOutput(t *testing.T) {
	topic := &model.Topic{
		ID:          "topic-py",
		Slug:        "loops",
		LanguageKey: "python",
		StarterCode: "print('hello')",
	}
	svc, _ := newTestService(t, newFakeTopicRepo(topic), newFakeSubmissionRepo(), &fakeGrader{})
	view, _ := svc.OpenSession(context.Background(), "user-1", topic.Slug)

	outcome, err := svc.Run(context.Background(), view.ID, "user-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Result == nil || outcome.Result.Kind != model.ResultOutput {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !strings.Contains(outcome.Result.Output, "hello from python") {
		t.Errorf("output = %q", outcome.Result.Output)
	}
}

func TestSessionOwnershipEnforced(t *testing.T) {
	svc, _ := newTestService(t, newFakeTopicRepo(webTopic(nil)), newFakeSubmissionRepo(), &fakeGrader{})
	view, _ := svc.OpenSession(context.Background(), "user-1", "flex-layout")

	if _, err := svc.GetSession(view.ID, "user-2"); !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("foreign access err = %v, want ErrForbidden", err)
	}
	if _, err := svc.GetSession("no-such-session", "user-1"); !errors.Is(err, common.ErrSessionNotFound) {
		t.Fatalf("unknown session err = %v, want ErrSessionNotFound", err)
	}
}

func TestReapIdleTearsDownStaleSessions(t *testing.T) {
	svc, _ := newTestService(t, newFakeTopicRepo(webTopic(nil)), newFakeSubmissionRepo(), &fakeGrader{},
		func(p *PlaygroundService) { p.cfg.SessionIdleTTL = time.Nanosecond })
	view, _ := svc.OpenSession(context.Background(), "user-1", "flex-layout")

	time.Sleep(time.Millisecond)
	if reaped := svc.ReapIdle(); reaped != 1 {
		t.Fatalf("reaped %d sessions, want 1", reaped)
	}
	if _, err := svc.GetSession(view.ID, "user-1"); !errors.Is(err, common.ErrSessionNotFound) {
		t.Fatalf("session survived reaping: err = %v", err)
	}
}
