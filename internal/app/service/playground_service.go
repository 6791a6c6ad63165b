package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codeloom/internal/common"
	"codeloom/internal/domain/model"
	"codeloom/internal/domain/repository"
	"codeloom/internal/playground/relay"
	"codeloom/internal/playground/sandbox"
	"codeloom/internal/playground/source"
	"codeloom/internal/playground/wasmrt"

	"github.com/google/uuid"
)

// Grader is the authoritative grading round trip. Local test-result
// computation is advisory; pass/fail is never set without it, except
// as a degraded failure display when the round trip itself fails.
type Grader interface {
	Grade(ctx context.Context, userID string, payload model.SubmissionPayload) (*model.Verdict, error)
}

// PlaygroundConfig carries the coordinator's timing knobs.
type PlaygroundConfig struct {
	TestScriptDelay    time.Duration
	TestSignalDeadline time.Duration
	SessionIdleTTL     time.Duration
}

// Session is one topic's playground instance: buffers, relay, cached
// runtimes, and the grading state machine. It is owned by a single
// user and torn down when the playground unmounts or idles out.
type Session struct {
	ID       string
	UserID   string
	Topic    *model.Topic
	Language model.Language

	mu       sync.Mutex
	buffers  model.BufferSet
	relay    *relay.Relay
	python   *wasmrt.PythonRuntime
	sqlSess  *wasmrt.SQLSession
	runSeq   uint64
	document string
	hasRun   bool
	dirty    bool // buffers edited since the last run
	result   *model.ExecutionResult
	state    model.GradingState
	verdict  *model.Verdict

	lastActive atomic.Int64 // UnixNano
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// SessionView is the session state exposed to the API.
type SessionView struct {
	ID          string                 `json:"id"`
	TopicID     string                 `json:"topic_id"`
	TopicSlug   string                 `json:"topic_slug"`
	Language    model.Language         `json:"language"`
	Buffers     model.BufferSet        `json:"buffers"`
	State       model.GradingState     `json:"state"`
	Result      *model.ExecutionResult `json:"result,omitempty"`
	TestResults model.TestResultSet    `json:"test_results,omitempty"`
	Verdict     *model.Verdict         `json:"verdict,omitempty"`
	HasDocument bool                   `json:"has_document"`
}

// RunOutcome is the synchronous part of a Run. For the web sandbox
// path the result arrives asynchronously through the relay instead.
type RunOutcome struct {
	RunID  uint64                 `json:"run_id"`
	Result *model.ExecutionResult `json:"result,omitempty"`
}

// PlaygroundService owns the session registry and implements the
// grading coordinator state machine for each session.
type PlaygroundService struct {
	registry       *model.Registry
	topicRepo      repository.TopicRepository
	submissionRepo repository.SubmissionRepository
	grader         Grader
	remoteExec     RemoteExecutor
	pythonFactory  wasmrt.InterpreterFactory
	onPass         func(ctx context.Context, userID, topicID string)
	cfg            PlaygroundConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewPlaygroundService(
	registry *model.Registry,
	topicRepo repository.TopicRepository,
	submissionRepo repository.SubmissionRepository,
	grader Grader,
	remoteExec RemoteExecutor,
	pythonFactory wasmrt.InterpreterFactory,
	onPass func(ctx context.Context, userID, topicID string),
	cfg PlaygroundConfig,
) *PlaygroundService {
	return &PlaygroundService{
		registry:       registry,
		topicRepo:      topicRepo,
		submissionRepo: submissionRepo,
		grader:         grader,
		remoteExec:     remoteExec,
		pythonFactory:  pythonFactory,
		onPass:         onPass,
		cfg:            cfg,
		sessions:       make(map[string]*Session),
	}
}

// OpenSession creates a playground session for a topic, seeding the
// buffers from the user's latest submission or, absent one, from the
// starter template.
func (p *PlaygroundService) OpenSession(ctx context.Context, userID, topicSlug string) (*SessionView, error) {
	topic, err := p.topicRepo.FindTopicBySlug(ctx, topicSlug)
	if err != nil {
		return nil, common.Errorf("topic not found: %w", err)
	}
	lang, ok := p.registry.Lookup(topic.LanguageKey)
	if !ok {
		return nil, common.Errorf("topic language %q not supported: %w", topic.LanguageKey, common.ErrInternalServer)
	}

	session := &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Topic:    topic,
		Language: lang,
		relay:    relay.New(),
		state:    model.GradingUnattempted,
	}
	if lang.Key == "python" {
		session.python = wasmrt.NewPythonRuntime(p.pythonFactory)
	}

	seed := topic.StarterCode
	prior, err := p.submissionRepo.GetLatestByUserAndTopic(ctx, userID, topic.ID)
	if err == nil {
		seed = prior.Code
		session.verdict = priorVerdict(prior)
		if prior.Passed {
			session.state = model.GradingPassed
		} else {
			session.state = model.GradingFailed
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, common.Errorf("failed to load prior submission: %w", err)
	}

	session.buffers = seedBuffers(seed, lang, topic.LanguageKey)
	session.touch()

	p.mu.Lock()
	p.sessions[session.ID] = session
	p.mu.Unlock()

	return p.view(session), nil
}

func priorVerdict(sub *model.Submission) *model.Verdict {
	v := &model.Verdict{}
	if err := json.Unmarshal([]byte(sub.Output), v); err != nil {
		return &model.Verdict{Passed: sub.Passed}
	}
	return v
}

func seedBuffers(code string, lang model.Language, declaredKey string) model.BufferSet {
	if lang.Category == model.CategoryWeb {
		return source.Split(code, declaredKey)
	}
	return model.BufferSet{Source: code}
}

func (p *PlaygroundService) GetSession(id, userID string) (*SessionView, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, err
	}
	return p.view(session), nil
}

// UpdateBuffers replaces the session's editable source. Editing
// invalidates the cached verdict: the next submit grades afresh.
func (p *PlaygroundService) UpdateBuffers(id, userID string, buffers model.BufferSet) (*SessionView, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if session.Language.Category == model.CategoryWeb {
		session.buffers.HTML = buffers.HTML
		session.buffers.CSS = buffers.CSS
		session.buffers.JS = buffers.JS
	} else {
		session.buffers.Source = buffers.Source
	}
	session.dirty = true
	session.verdict = nil
	session.state = model.GradingUnattempted
	session.mu.Unlock()

	session.touch()
	return p.view(session), nil
}

// Run clears the previous Execution Result and Test Result Set and
// dispatches on the language category. The web path returns
// immediately; its results arrive via the relay.
func (p *PlaygroundService) Run(ctx context.Context, id, userID string, inputs []string) (*RunOutcome, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	defer session.touch()

	session.result = nil

	switch session.Language.Category {
	case model.CategoryWeb:
		runID := p.beginWebRun(session)
		return &RunOutcome{RunID: runID}, nil

	case model.CategoryRemote:
		target, _ := session.Language.Remote()
		res := p.remoteExec.ExecuteWithInput(ctx, session.buffers.Source, strings.Join(inputs, "\n"), target)
		session.result = &model.ExecutionResult{Kind: model.ResultOutput, Output: res.Output}
		session.hasRun = true
		return &RunOutcome{Result: session.result}, nil

	default: // CategoryLocal
		return p.runLocal(ctx, session, inputs)
	}
}

// beginWebRun renders a fresh sandbox document tagged with the next
// run id and makes it the relay's active run. Caller holds session.mu.
func (p *PlaygroundService) beginWebRun(session *Session) uint64 {
	session.runSeq++
	session.relay.BeginRun(session.runSeq)

	testScript := ""
	if session.Topic.HasTestScript() {
		testScript = *session.Topic.TestScript
	}
	session.document = sandbox.Render(session.buffers, testScript, session.runSeq, p.cfg.TestScriptDelay)
	session.hasRun = true
	session.dirty = false
	return session.runSeq
}

func (p *PlaygroundService) runLocal(ctx context.Context, session *Session, inputs []string) (*RunOutcome, error) {
	switch session.Language.Key {
	case "python":
		output := session.python.Run(ctx, session.buffers.Source, inputs)
		session.result = &model.ExecutionResult{Kind: model.ResultOutput, Output: output}

	case "sql":
		if session.sqlSess == nil {
			sqlSess, err := wasmrt.NewSQLSession()
			if err != nil {
				return nil, common.Errorf("sql session unavailable: %w", common.ErrRuntimeNotReady)
			}
			session.sqlSess = sqlSess
		}
		results := session.sqlSess.Execute(ctx, session.buffers.Source)
		session.result = &model.ExecutionResult{Kind: model.ResultSQL, SQL: results}

	default:
		return nil, common.Errorf("language %q has no execution path: %w", session.Language.Key, common.ErrBadRequest)
	}

	session.hasRun = true
	return &RunOutcome{Result: session.result}, nil
}

// Ingest forwards one sandbox message to the session's relay.
func (p *PlaygroundService) Ingest(id, userID string, msg relay.Message) error {
	session, err := p.lookup(id, userID)
	if err != nil {
		return err
	}
	session.relay.Publish(msg)
	session.touch()
	return nil
}

// Document returns the latest rendered sandbox document.
func (p *PlaygroundService) Document(id, userID string) (string, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return "", err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.document == "" {
		return "", common.Errorf("no run has produced a document yet: %w", common.ErrNotFound)
	}
	return session.document, nil
}

// SubscribeConsole attaches a live transcript viewer to the session.
func (p *PlaygroundService) SubscribeConsole(id, userID string) (<-chan model.ConsoleEntry, func(), error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.relay.Subscribe()
	return ch, cancel, nil
}

// Submit drives the run-then-wait-then-grade sequence. A repeated
// submit from a terminal state redisplays the cached verdict without
// another grading round trip.
//
// When the buffers already ran unedited, that run's captured test
// results grade the submission directly. Otherwise a fresh grading
// run is rendered, and the session lock is released for the bounded
// wait so the client can fetch the document, execute it, and deliver
// its results while Submit is pending.
func (p *PlaygroundService) Submit(ctx context.Context, id, userID string) (*model.Verdict, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, err
	}
	defer session.touch()

	session.mu.Lock()
	if session.verdict != nil &&
		(session.state == model.GradingPassed || session.state == model.GradingFailed) {
		verdict := session.verdict
		session.mu.Unlock()
		return verdict, nil
	}
	if session.state == model.GradingPending {
		session.mu.Unlock()
		return nil, common.Errorf("a submission is already being graded: %w", common.ErrConflict)
	}
	session.state = model.GradingPending

	isWeb := session.Language.Category == model.CategoryWeb
	awaitResults := false
	var signal <-chan struct{}
	if isWeb {
		if session.Topic.HasTestScript() {
			if !session.hasRun || session.dirty {
				// The captured results (if any) belong to other code;
				// render a fresh grading run for the client to execute.
				p.beginWebRun(session)
			}
			if _, ok := session.relay.TestResults(); !ok {
				signal = session.relay.TestSignal()
				awaitResults = true
			}
		} else if !session.hasRun {
			// Never run and nothing to wait for: produce a preview.
			p.beginWebRun(session)
		}
	}
	payload := model.SubmissionPayload{
		TopicID:  session.Topic.ID,
		Language: session.Topic.LanguageKey,
		Code:     p.combinedSource(session),
	}
	session.mu.Unlock()

	if awaitResults {
		select {
		case <-signal:
		case <-time.After(p.cfg.TestSignalDeadline):
		case <-ctx.Done():
		}
	}
	if isWeb {
		// Whatever was captured for the graded run is what gets
		// submitted; it is never recomputed. Absence of a signal is
		// not fatal.
		payload.TestResults, _ = session.relay.TestResults()
	}

	verdict, err := p.grader.Grade(ctx, userID, payload)

	session.mu.Lock()
	if err != nil {
		// Degraded fallback: a generic failure display, never a
		// fabricated pass and never an open-ended pending state.
		log.Printf("ERROR: grading round trip failed for session %s: %v", session.ID, err)
		verdict = &model.Verdict{Passed: false}
		session.verdict = verdict
		session.state = model.GradingFailed
		session.mu.Unlock()
		return verdict, nil
	}
	session.verdict = verdict
	if verdict.Passed {
		session.state = model.GradingPassed
	} else {
		session.state = model.GradingFailed
	}
	session.mu.Unlock()

	if verdict.Passed && p.onPass != nil {
		p.onPass(ctx, userID, payload.TopicID)
	}
	return verdict, nil
}

func (p *PlaygroundService) combinedSource(session *Session) string {
	if session.Language.Category == model.CategoryWeb {
		return source.Combine(session.buffers)
	}
	return session.buffers.Source
}

// Reset restores the starter template (same extraction heuristic as
// initial load), clears results and the verdict, and recreates the
// SQL database so no schema leaks into the next attempt.
func (p *PlaygroundService) Reset(id, userID string) (*SessionView, error) {
	session, err := p.lookup(id, userID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	session.buffers = seedBuffers(session.Topic.StarterCode, session.Language, session.Topic.LanguageKey)
	session.result = nil
	session.document = ""
	session.hasRun = false
	session.dirty = false
	session.verdict = nil
	session.state = model.GradingUnattempted
	session.runSeq++
	session.relay.BeginRun(session.runSeq) // Invalidate in-flight messages
	if session.sqlSess != nil {
		if err := session.sqlSess.Reset(); err != nil {
			log.Printf("WARN: failed to reset sql session %s: %v", session.ID, err)
		}
	}
	session.mu.Unlock()

	session.touch()
	return p.view(session), nil
}

// CloseSession tears the session down explicitly.
func (p *PlaygroundService) CloseSession(id, userID string) error {
	session, err := p.lookup(id, userID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
	p.teardown(session)
	return nil
}

// ReapIdle tears down sessions idle past the configured TTL and
// returns how many were reaped.
func (p *PlaygroundService) ReapIdle() int {
	cutoff := time.Now().Add(-p.cfg.SessionIdleTTL).UnixNano()

	p.mu.Lock()
	var stale []*Session
	for id, session := range p.sessions {
		if session.lastActive.Load() < cutoff {
			stale = append(stale, session)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, session := range stale {
		p.teardown(session)
	}
	return len(stale)
}

// CloseAll tears down every session; used on shutdown.
func (p *PlaygroundService) CloseAll() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for id, session := range p.sessions {
		sessions = append(sessions, session)
		delete(p.sessions, id)
	}
	p.mu.Unlock()

	for _, session := range sessions {
		p.teardown(session)
	}
}

func (p *PlaygroundService) teardown(session *Session) {
	session.relay.Close()
	if session.python != nil {
		if err := session.python.Close(context.Background()); err != nil {
			log.Printf("WARN: failed to close python runtime for session %s: %v", session.ID, err)
		}
	}
	if session.sqlSess != nil {
		if err := session.sqlSess.Close(); err != nil {
			log.Printf("WARN: failed to close sql session %s: %v", session.ID, err)
		}
	}
}

func (p *PlaygroundService) lookup(id, userID string) (*Session, error) {
	p.mu.Lock()
	session, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, common.ErrForbidden
	}
	return session, nil
}

func (p *PlaygroundService) view(session *Session) *SessionView {
	session.mu.Lock()
	defer session.mu.Unlock()

	v := &SessionView{
		ID:          session.ID,
		TopicID:     session.Topic.ID,
		TopicSlug:   session.Topic.Slug,
		Language:    session.Language,
		Buffers:     session.buffers,
		State:       session.state,
		Result:      session.result,
		Verdict:     session.verdict,
		HasDocument: session.document != "",
	}
	if session.Language.Category == model.CategoryWeb && session.hasRun {
		v.Result = &model.ExecutionResult{Kind: model.ResultConsole, Console: session.relay.Transcript()}
		if captured, ok := session.relay.TestResults(); ok {
			v.TestResults = captured
		}
	}
	return v
}
