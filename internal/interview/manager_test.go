package interview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/intake/internal/notify"
	"github.com/zulandar/intake/internal/reasoning"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, svc reasoning.Service, mutate ...func(*ManagerOpts)) *Manager {
	t.Helper()
	clock := &fakeClock{now: testStart}
	n := 0
	var idMu sync.Mutex
	opts := ManagerOpts{
		Service:        svc,
		Models:         []string{"m1", "m2", "m3"},
		RetryBaseDelay: time.Millisecond,
		RequesterID:    "user-1",
		Sleep:          func(ctx context.Context, d time.Duration) error { return nil },
		Now:            clock.Now,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("local-%d", n)
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func reply(body any) reasoning.MockReply { return reasoning.MockReply{Response: body} }

func obj(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

var headSubject = Subject{BodyArea: "head", Category: "neurological", Symptoms: "throbbing pain on one side"}

// readySession drives a fresh session through two questions to
// awaiting-analysis.
func readySession(t *testing.T, m *Manager, svc *reasoning.MockService) Session {
	t.Helper()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue,
		reply(obj("question", "How long has it lasted?", "current_confidence", 86.0)),
		reply(obj("ready_for_analysis", true, "current_confidence", 88.0)),
	)
	ctx := context.Background()
	if _, err := m.Start(ctx, StartRequest{Subject: headSubject}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.SubmitAnswer(ctx, "s1", "left temple"); err != nil {
		t.Fatalf("SubmitAnswer 1: %v", err)
	}
	s, err := m.SubmitAnswer(ctx, "s1", "two days")
	if err != nil {
		t.Fatalf("SubmitAnswer 2: %v", err)
	}
	if s.Phase != PhaseAwaitingAnalysis {
		t.Fatalf("phase = %s, want awaiting-analysis", s.Phase)
	}
	return s
}

// completedSession drives a session to a basic analysis.
func completedSession(t *testing.T, m *Manager, svc *reasoning.MockService) Session {
	t.Helper()
	readySession(t, m, svc)
	svc.Queue(reasoning.OpFinalize, reply(obj(
		"analysis", obj("conditions", []any{"migraine", "tension headache"}),
		"confidence", 89.0,
		"summary_id", "sum-1",
	)))
	s, err := m.Complete(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return s
}

func countRole(s Session, role Role) int {
	n := 0
	for _, turn := range s.Transcript {
		if turn.Role == role {
			n++
		}
	}
	return n
}

// ----- Construction tests -----

func TestNewManager_RequiresService(t *testing.T) {
	if _, err := NewManager(ManagerOpts{}); err == nil {
		t.Fatal("expected error without service")
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t, reasoning.NewMockService())
	if m.Policy() != DefaultPolicy() {
		t.Errorf("Policy = %+v, want default", m.Policy())
	}
	if m.attempts != 3 || m.baseline != 85 || m.target != 90 || m.askMoreTarget != 95 {
		t.Errorf("defaults = attempts %d baseline %d target %d askMore %d", m.attempts, m.baseline, m.target, m.askMoreTarget)
	}
}

// ----- Start and turn tests -----

func TestManager_StartAsksFirstQuestion(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	m := newTestManager(t, svc)

	s, err := m.Start(context.Background(), StartRequest{Subject: headSubject})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ID != "s1" || s.Phase != PhaseInterviewing || s.TurnNumber != 1 {
		t.Errorf("session = id %s phase %s turn %d", s.ID, s.Phase, s.TurnNumber)
	}
	if s.Confidence == nil || *s.Confidence != 85 || s.TargetConfidence != 90 {
		t.Errorf("confidence = %v target %d, want 85/90", s.Confidence, s.TargetConfidence)
	}
	if s.LastQuestion() != "Where is the pain?" || s.Transcript[0].Ordinal != 1 {
		t.Errorf("transcript = %+v", s.Transcript)
	}
	if s.RequesterID != "user-1" || s.LocalOnly {
		t.Errorf("requester %q local %v", s.RequesterID, s.LocalOnly)
	}
	req := svc.Calls(reasoning.OpStart)[0].Request.(reasoning.StartRequest)
	if req.Subject.BodyArea != "head" || req.Model != "m1" {
		t.Errorf("start request = %+v", req)
	}
}

func TestManager_StartRequiresSubject(t *testing.T) {
	m := newTestManager(t, reasoning.NewMockService())
	_, err := m.Start(context.Background(), StartRequest{})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestManager_StartPermanentErrorNotRegistered(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Always(reasoning.OpStart, reasoning.MockReply{Err: &reasoning.APIError{StatusCode: http.StatusBadRequest, Message: "invalid body area"}})
	m := newTestManager(t, svc)

	_, err := m.Start(context.Background(), StartRequest{Subject: headSubject})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
	if svc.CallCount(reasoning.OpStart) != 1 {
		t.Errorf("start calls = %d, want 1", svc.CallCount(reasoning.OpStart))
	}
	list, _ := m.List(context.Background(), ListFilter{})
	if len(list) != 0 {
		t.Errorf("registered %d sessions, want 0", len(list))
	}
}

func TestManager_SubmitAnswerAdvances(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue, reply(obj("question", "How long?", "current_confidence", 0.87)))
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	s, err := m.SubmitAnswer(ctx, "s1", "  forehead ")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if s.TurnNumber != 2 || s.Phase != PhaseInterviewing {
		t.Errorf("turn %d phase %s, want 2 interviewing", s.TurnNumber, s.Phase)
	}
	if s.Confidence == nil || *s.Confidence != 87 {
		t.Errorf("confidence = %v, want 87", s.Confidence)
	}
	roles := []Role{RoleQuestion, RoleAnswer, RoleQuestion}
	if len(s.Transcript) != len(roles) {
		t.Fatalf("transcript len = %d, want 3", len(s.Transcript))
	}
	for i, r := range roles {
		if s.Transcript[i].Role != r || s.Transcript[i].Ordinal != i+1 {
			t.Errorf("turn %d = %+v", i, s.Transcript[i])
		}
	}
	req := svc.Calls(reasoning.OpContinue)[0].Request.(reasoning.ContinueRequest)
	if req.Answer != "forehead" || req.TurnNumber != 1 || req.SessionID != "s1" {
		t.Errorf("continue request = %+v", req)
	}
}

func TestManager_SubmitRejectsEmptyAndWrongPhase(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	readySession(t, m, svc)
	ctx := context.Background()

	if _, err := m.SubmitAnswer(ctx, "s1", "   "); !errors.Is(err, ErrRejected) {
		t.Errorf("blank answer: err = %v, want rejected", err)
	}
	if _, err := m.SubmitAnswer(ctx, "s1", "more"); !errors.Is(err, ErrRejected) {
		t.Errorf("submit while awaiting analysis: err = %v, want rejected", err)
	}
	if _, err := m.SubmitAnswer(ctx, "missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("submit unknown: err = %v, want not found", err)
	}
	s, _ := m.Get(ctx, "s1")
	if countRole(s, RoleAnswer) != 2 {
		t.Errorf("answers = %d, want 2", countRole(s, RoleAnswer))
	}
}

func TestManager_FallbackQuestionAfterEmptyResponses(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "What brings you in?")))
	svc.Always(reasoning.OpContinue, reply(obj("question", "")))
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: Subject{BodyArea: "head", Symptoms: "pain"}})

	s, err := m.SubmitAnswer(ctx, "s1", "my head hurts")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	calls := svc.Calls(reasoning.OpContinue)
	if len(calls) != 3 {
		t.Fatalf("continue calls = %d, want 3", len(calls))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if calls[i].Model != want {
			t.Errorf("attempt %d model = %s, want %s", i, calls[i].Model, want)
		}
	}
	q := s.LastQuestion()
	if !strings.Contains(strings.ToLower(q), "head") {
		t.Errorf("fallback question %q does not mention the head", q)
	}
	if s.Phase != PhaseInterviewing || s.TurnNumber != 2 || s.RetryCount != 0 {
		t.Errorf("phase %s turn %d retries %d", s.Phase, s.TurnNumber, s.RetryCount)
	}
}

func TestManager_ForcedContinuationSentOnce(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue,
		reply(obj("ready_for_analysis", true)),
		reply(obj("ready_for_analysis", true)),
	)
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	s, err := m.SubmitAnswer(ctx, "s1", "temple")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	calls := svc.Calls(reasoning.OpContinue)
	if len(calls) != 2 {
		t.Fatalf("continue calls = %d, want 2", len(calls))
	}
	if got := calls[1].Request.(reasoning.ContinueRequest).Answer; got != forcedContinuationText {
		t.Errorf("forced answer = %q", got)
	}
	if s.Phase != PhaseAwaitingAnalysis || s.TurnNumber != 1 {
		t.Errorf("phase %s turn %d, want awaiting-analysis at 1", s.Phase, s.TurnNumber)
	}
	for _, turn := range s.Transcript {
		if turn.Content == forcedContinuationText {
			t.Error("forced continuation text leaked into transcript")
		}
	}
	if last := s.Transcript[len(s.Transcript)-1]; last.Role != RoleNotice {
		t.Errorf("last turn = %+v, want notice", last)
	}
}

func TestManager_ForcedContinuationYieldsQuestion(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue,
		reply(obj("ready_for_analysis", true)),
		reply(obj("question", "Any nausea?")),
	)
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	s, err := m.SubmitAnswer(ctx, "s1", "temple")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if s.Phase != PhaseInterviewing || s.LastQuestion() != "Any nausea?" || s.TurnNumber != 2 {
		t.Errorf("phase %s question %q turn %d", s.Phase, s.LastQuestion(), s.TurnNumber)
	}
}

func TestManager_EmptyAfterForceRetriesAlternateModel(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue, reply(obj("ready_for_analysis", true)))
	svc.Always(reasoning.OpContinue, reply(obj()))
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	s, err := m.SubmitAnswer(ctx, "s1", "temple")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	// One ready, three forced attempts, one alternate-model retry.
	calls := svc.Calls(reasoning.OpContinue)
	if len(calls) != 5 {
		t.Fatalf("continue calls = %d, want 5", len(calls))
	}
	alt := calls[4].Request.(reasoning.ContinueRequest)
	if alt.Answer != "temple" {
		t.Errorf("alternate retry answer = %q, want the last answer", alt.Answer)
	}
	if s.Phase != PhaseAwaitingAnalysis {
		t.Errorf("phase = %s, want awaiting-analysis", s.Phase)
	}
}

func TestManager_AlternateRetryWithoutPriorAnswer(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "ready_for_analysis", true)))
	svc.Queue(reasoning.OpContinue, reply(obj()), reply(obj()), reply(obj()),
		reply(obj("question", "Which side hurts?")))
	m := newTestManager(t, svc)

	s, err := m.Start(context.Background(), StartRequest{Subject: headSubject})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := svc.Calls(reasoning.OpContinue)
	if len(calls) != 4 {
		t.Fatalf("continue calls = %d, want 4", len(calls))
	}
	if alt := calls[3].Request.(reasoning.ContinueRequest); alt.Answer != forcedContinuationText {
		t.Errorf("alternate retry answer = %q, want %q", alt.Answer, forcedContinuationText)
	}
	if s.Phase != PhaseInterviewing || s.LastQuestion() != "Which side hurts?" {
		t.Errorf("phase %s question %q", s.Phase, s.LastQuestion())
	}
}

func TestManager_RetryAfterFailedExchangeResendsAnswer(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	svc.Queue(reasoning.OpContinue,
		reasoning.MockReply{Err: &reasoning.APIError{StatusCode: http.StatusConflict, Message: "invalid state"}},
		reply(obj("question", "How long has it lasted?")),
	)
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	s, err := m.SubmitAnswer(ctx, "s1", "left temple")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
	if s.Phase != PhaseErrored || s.PriorPhase != PhaseInterviewing {
		t.Fatalf("phase %s prior %s", s.Phase, s.PriorPhase)
	}

	s, err = m.SubmitAnswer(ctx, "s1", "right temple")
	if err != nil {
		t.Fatalf("retry SubmitAnswer: %v", err)
	}
	for i := 1; i < len(s.Transcript); i++ {
		if s.Transcript[i].Role == s.Transcript[i-1].Role {
			t.Errorf("consecutive %s turns at ordinals %d,%d", s.Transcript[i].Role, i, i+1)
		}
	}
	if countRole(s, RoleAnswer) != 1 || s.Transcript[1].Content != "left temple" {
		t.Errorf("transcript = %+v", s.Transcript)
	}
	calls := svc.Calls(reasoning.OpContinue)
	if len(calls) != 2 {
		t.Fatalf("continue calls = %d, want 2", len(calls))
	}
	if got := calls[1].Request.(reasoning.ContinueRequest).Answer; got != "left temple" {
		t.Errorf("resent answer = %q, want the recorded one", got)
	}
	if s.Phase != PhaseInterviewing || s.TurnNumber != 2 {
		t.Errorf("phase %s turn %d", s.Phase, s.TurnNumber)
	}
}

func TestManager_QuestionCeilingNotice(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "q1")))
	svc.Always(reasoning.OpContinue, reply(obj("question", "again?")))
	m := newTestManager(t, svc, func(o *ManagerOpts) {
		o.Policy = Policy{MinimumQuestionsBeforeReady: 2, MaxTotalQuestions: 3, AskMoreMaxQuestions: 5}
	})
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	var s Session
	for i := 0; i < 3; i++ {
		var err error
		s, err = m.SubmitAnswer(ctx, "s1", "answer")
		if err != nil {
			t.Fatalf("SubmitAnswer %d: %v", i, err)
		}
	}
	if s.TurnNumber != 3 || s.Phase != PhaseAwaitingAnalysis {
		t.Fatalf("turn %d phase %s, want 3 awaiting-analysis", s.TurnNumber, s.Phase)
	}
	if last := s.Transcript[len(s.Transcript)-1]; last.Content != limitNotice {
		t.Errorf("notice = %q, want limit notice", last.Content)
	}
}

// ----- Continuation tests -----

func TestManager_ContinuationAlreadySufficient(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"status", obj("status", "already_sufficient", "current_confidence", 92.0)},
		{"bare confidence", obj("current_confidence", 92.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := reasoning.NewMockService()
			svc.Queue(reasoning.OpAskMore, reply(tt.body))
			m := newTestManager(t, svc)

			s, err := m.Start(context.Background(), StartRequest{
				Subject:           headSubject,
				ContinueFrom:      "remote-7",
				CurrentConfidence: intPtr(92),
				TargetConfidence:  90,
			})
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if s.ID != "remote-7" || s.Phase != PhaseAwaitingAnalysis {
				t.Errorf("id %s phase %s", s.ID, s.Phase)
			}
			if countRole(s, RoleQuestion) != 0 || s.TurnNumber != 0 {
				t.Errorf("asked %d questions, want 0", countRole(s, RoleQuestion))
			}
			if countRole(s, RoleNotice) != 1 {
				t.Errorf("notices = %d, want 1", countRole(s, RoleNotice))
			}
			req := svc.Calls(reasoning.OpAskMore)[0].Request.(reasoning.AskMoreRequest)
			if req.SessionID != "remote-7" || req.CurrentConfidence != 92 || req.TargetConfidence != 90 {
				t.Errorf("ask-more request = %+v", req)
			}
		})
	}
}

func TestManager_ContinuationAdoptsServiceQuestionCount(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpAskMore, reply(obj(
		"question", "Has the pain spread?",
		"question_number", 9.0,
		"questions_asked", 8.0,
		"remaining_questions", 3.0,
	)))
	svc.Always(reasoning.OpContinue, reply(obj("question", "And then?", "current_confidence", 87.0)))
	m := newTestManager(t, svc)
	ctx := context.Background()

	s, err := m.Start(ctx, StartRequest{Subject: headSubject, ContinueFrom: "remote-8"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.TurnNumber != 9 {
		t.Errorf("turn number after continuation = %d, want 9", s.TurnNumber)
	}
	for i := 0; s.Phase == PhaseInterviewing; i++ {
		if i > 10 {
			t.Fatal("continuation never ended")
		}
		if s, err = m.SubmitAnswer(ctx, "remote-8", "more detail"); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}
	if s.Phase != PhaseAwaitingAnalysis || s.TurnNumber != 11 {
		t.Errorf("phase %s turn %d, want awaiting-analysis at 11", s.Phase, s.TurnNumber)
	}
	if n := countRole(s, RoleQuestion); n != 3 {
		t.Errorf("questions asked here = %d, want 3", n)
	}
	if last := s.Transcript[len(s.Transcript)-1]; last.Content != limitNotice {
		t.Errorf("last entry = %q, want limit notice", last.Content)
	}
}

func TestManager_ContinuationStopsWhenNoQuestionsRemain(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpAskMore, reply(obj("question", "Has the pain spread?", "remaining_questions", 2.0)))
	svc.Queue(reasoning.OpContinue, reply(obj("question", "Anything else?", "remaining_questions", 0.0)))
	m := newTestManager(t, svc)
	ctx := context.Background()

	if _, err := m.Start(ctx, StartRequest{Subject: headSubject, ContinueFrom: "remote-3"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s, err := m.SubmitAnswer(ctx, "remote-3", "no")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if s.Phase != PhaseAwaitingAnalysis || countRole(s, RoleQuestion) != 1 {
		t.Errorf("phase %s questions %d, want awaiting-analysis after 1", s.Phase, countRole(s, RoleQuestion))
	}
}

func TestManager_ContinuationFailureDropsSession(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Always(reasoning.OpAskMore, reasoning.MockReply{Err: &reasoning.APIError{StatusCode: http.StatusNotFound, Message: "session not found"}})
	m := newTestManager(t, svc)
	ctx := context.Background()

	_, err := m.Start(ctx, StartRequest{Subject: headSubject, ContinueFrom: "gone-1"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := m.Get(ctx, "gone-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after failed continuation: err = %v", err)
	}
}

// ----- Completion tests -----

func TestManager_CompleteStoresBasicTier(t *testing.T) {
	svc := reasoning.NewMockService()
	notifier := notify.NewMockNotifier()
	m := newTestManager(t, svc, func(o *ManagerOpts) { o.Notifier = notifier })

	s := completedSession(t, m, svc)
	m.Wait()

	if s.Phase != PhaseCompleted || s.Tier != TierBasic {
		t.Errorf("phase %s tier %s", s.Phase, s.Tier)
	}
	if s.Confidence == nil || *s.Confidence != 89 || s.ResultID != "sum-1" || s.CompletedAt == nil {
		t.Errorf("confidence %v result %q completed %v", s.Confidence, s.ResultID, s.CompletedAt)
	}
	if _, ok := s.Analysis["conditions"]; !ok {
		t.Errorf("analysis = %v", s.Analysis)
	}
	if len(s.ConfidenceTrail) != 1 || s.ConfidenceTrail[0] != (ConfidenceStep{Tier: TierBasic, Confidence: 89}) {
		t.Errorf("trail = %+v", s.ConfidenceTrail)
	}

	select {
	case req := <-svc.Summaries():
		if req.ResultID != "sum-1" || req.RequesterID != "user-1" {
			t.Errorf("summary request = %+v", req)
		}
	default:
		t.Error("summary was not requested")
	}
	notices := notifier.Notices()
	if len(notices) != 1 || notices[0].Tier != "basic" || notices[0].QuestionsAsked != 2 {
		t.Errorf("notices = %+v", notices)
	}
}

func TestManager_CompleteTwiceAlreadyFinalized(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	completedSession(t, m, svc)

	_, err := m.Complete(context.Background(), "s1")
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("err = %v, want already finalized", err)
	}
	if svc.CallCount(reasoning.OpFinalize) != 1 {
		t.Errorf("finalize calls = %d, want 1", svc.CallCount(reasoning.OpFinalize))
	}
}

func TestManager_CompleteWhileInterviewingInvalid(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "q1")))
	m := newTestManager(t, svc)
	m.Start(context.Background(), StartRequest{Subject: headSubject})

	if _, err := m.Complete(context.Background(), "s1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestManager_MalformedAnalysisNotCoerced(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	readySession(t, m, svc)
	svc.Queue(reasoning.OpFinalize, reply(obj("analysis", "Likely tension headache")))

	s, err := m.Complete(context.Background(), "s1")
	if !errors.Is(err, ErrMalformedAnalysis) {
		t.Fatalf("err = %v, want malformed analysis", err)
	}
	if s.Phase != PhaseAwaitingAnalysis || s.Tier != "" || s.Analysis != nil {
		t.Errorf("phase %s tier %q analysis %v", s.Phase, s.Tier, s.Analysis)
	}
	if s.LastError == nil || s.LastError.Kind != KindMalformedAnalysis {
		t.Errorf("last error = %+v", s.LastError)
	}
	if svc.CallCount(reasoning.OpFinalize) != 1 {
		t.Errorf("finalize calls = %d, want 1", svc.CallCount(reasoning.OpFinalize))
	}
}

func TestManager_CompleteTransientFailureRecoverable(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	readySession(t, m, svc)
	netErr := reasoning.MockReply{Err: errors.New("connection reset by peer")}
	svc.Queue(reasoning.OpFinalize, netErr, netErr, netErr)

	s, err := m.Complete(context.Background(), "s1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if s.Phase != PhaseErrored || s.PriorPhase != PhaseAwaitingAnalysis {
		t.Fatalf("phase %s prior %s", s.Phase, s.PriorPhase)
	}

	svc.Queue(reasoning.OpFinalize, reply(obj("analysis", obj("conditions", []any{"migraine"}))))
	s, err = m.Complete(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Complete retry: %v", err)
	}
	if s.Phase != PhaseCompleted || s.LastError != nil || s.ResultID != "s1" {
		t.Errorf("phase %s last error %+v result %q", s.Phase, s.LastError, s.ResultID)
	}
}

// ----- Escalation tests -----

func TestManager_ThinkHarderFailureKeepsBasic(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	before := completedSession(t, m, svc)
	svc.Always(reasoning.OpUltra, reasoning.MockReply{Err: errors.New("dial tcp: i/o timeout")})

	s, err := m.ThinkHarder(context.Background(), "s1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if s.Tier != TierBasic || s.Phase != PhaseCompleted {
		t.Errorf("tier %s phase %s, want basic completed", s.Tier, s.Phase)
	}
	if fmt.Sprint(s.Analysis) != fmt.Sprint(before.Analysis) {
		t.Errorf("analysis changed: %v", s.Analysis)
	}
	if s.LastError == nil || s.LastError.Kind != KindTransient {
		t.Errorf("last error = %+v", s.LastError)
	}
	if svc.CallCount(reasoning.OpUltra) != 3 {
		t.Errorf("ultra calls = %d, want 3", svc.CallCount(reasoning.OpUltra))
	}
}

func TestManager_ThinkHarderStoresUltra(t *testing.T) {
	svc := reasoning.NewMockService()
	notifier := notify.NewMockNotifier()
	m := newTestManager(t, svc, func(o *ManagerOpts) { o.Notifier = notifier })
	completedSession(t, m, svc)
	svc.Queue(reasoning.OpUltra, reply(obj(
		"ultra_analysis", obj("conditions", []any{"cluster headache"}),
		"confidence_progression", obj("basic", 89.0, "ultra", 96.0),
		"critical_insights", []any{"Check blood pressure", obj("insight", "Sudden onset is a red flag")},
	)))

	s, err := m.ThinkHarder(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ThinkHarder: %v", err)
	}
	m.Wait()
	if s.Tier != TierUltra || s.Confidence == nil || *s.Confidence != 96 {
		t.Errorf("tier %s confidence %v", s.Tier, s.Confidence)
	}
	if _, ok := s.Analyses[TierBasic]; !ok {
		t.Error("basic analysis was dropped")
	}
	want := []ConfidenceStep{{TierBasic, 89}, {TierUltra, 96}}
	if fmt.Sprint(s.ConfidenceTrail) != fmt.Sprint(want) {
		t.Errorf("trail = %+v, want %+v", s.ConfidenceTrail, want)
	}
	if got := s.Analyses[TierUltra].CriticalInsights; len(got) != 2 || got[1] != "Sudden onset is a red flag" {
		t.Errorf("insights = %v", got)
	}
	if len(s.Transcript) != 5 {
		t.Errorf("transcript len = %d, think harder must not add turns", len(s.Transcript))
	}
	// Summary only follows the finalize step.
	if svc.CallCount(reasoning.OpSummary) != 1 {
		t.Errorf("summary calls = %d, want 1", svc.CallCount(reasoning.OpSummary))
	}
	notices := notifier.Notices()
	if len(notices) != 2 || notices[1].Tier != "ultra" || len(notices[1].Insights) != 2 {
		t.Errorf("notices = %+v", notices)
	}
}

func TestManager_ThinkHarderRequiresCompleted(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	readySession(t, m, svc)
	if _, err := m.ThinkHarder(context.Background(), "s1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestManager_UltraNeverReplacedByEnhanced(t *testing.T) {
	s := Session{}
	storeTier(&s, TierUltra, TierResult{Analysis: obj("k", "ultra"), Confidence: intPtr(96)})
	storeTier(&s, TierEnhanced, TierResult{Analysis: obj("k", "enhanced"), Confidence: intPtr(93)})
	if s.Tier != TierUltra || s.Analysis["k"] != "ultra" {
		t.Errorf("tier %s analysis %v, want ultra kept", s.Tier, s.Analysis)
	}
	if len(s.Analyses) != 2 {
		t.Errorf("analyses = %d, want both stored", len(s.Analyses))
	}
}

func TestManager_AskMoreStaysWithinCeiling(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	completedSession(t, m, svc)
	svc.Always(reasoning.OpAskMore, reply(obj("question", "Anything else about the pain?", "current_confidence", 86.0)))
	svc.Always(reasoning.OpContinue, reply(obj("question", "And then?", "current_confidence", 87.0)))
	svc.Always(reasoning.OpFinalize, reply(obj("analysis", obj("conditions", []any{"migraine"}), "confidence", 91.0)))
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		s, err := m.AskMore(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("round %d AskMore: %v", round, err)
		}
		if s.TargetConfidence != 95 {
			t.Errorf("target = %d, want 95", s.TargetConfidence)
		}
		for i := 0; s.Phase == PhaseInterviewing; i++ {
			if i > 20 {
				t.Fatal("ask-more round never ended")
			}
			if s.TurnNumber > 11 {
				t.Fatalf("turn number %d exceeds ceiling", s.TurnNumber)
			}
			s, err = m.SubmitAnswer(ctx, "s1", "more detail")
			if err != nil {
				t.Fatalf("SubmitAnswer: %v", err)
			}
		}
		if s.Phase != PhaseAwaitingAnalysis {
			t.Fatalf("round %d ended in %s", round, s.Phase)
		}
		if round == 0 && (s.TurnNumber != 7 || s.EscalationQuestions != 5) {
			t.Errorf("round 0 turn %d escalation questions %d, want 7/5", s.TurnNumber, s.EscalationQuestions)
		}
		s, err = m.Complete(ctx, "s1")
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if s.Tier != TierEnhanced {
			t.Errorf("tier = %s, want enhanced", s.Tier)
		}
	}

	s, _ := m.Get(ctx, "s1")
	if s.TurnNumber != 11 {
		t.Errorf("turn number = %d, want 11", s.TurnNumber)
	}
	if _, ok := s.Analyses[TierBasic]; !ok {
		t.Error("basic analysis was dropped")
	}
	_, err := m.AskMore(ctx, "s1", 0)
	if !errors.Is(err, ErrQuestionLimit) {
		t.Fatalf("AskMore at ceiling: err = %v, want question limit", err)
	}
}

func TestManager_AskMoreFailureRestoresPhase(t *testing.T) {
	svc := reasoning.NewMockService()
	m := newTestManager(t, svc)
	completedSession(t, m, svc)
	svc.Always(reasoning.OpAskMore, reasoning.MockReply{Err: errors.New("connection refused")})

	s, err := m.Escalate(context.Background(), "s1", EscalationAskMore, 0)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if s.Phase != PhaseCompleted || s.Tier != TierBasic || s.Escalation != "" {
		t.Errorf("phase %s tier %s escalation %q", s.Phase, s.Tier, s.Escalation)
	}
}

// ----- Concurrency tests -----

func TestManager_ConcurrentSubmitsOneAccepted(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "Where is the pain?")))
	started := make(chan struct{})
	release := make(chan struct{})
	svc.Queue(reasoning.OpContinue, reasoning.MockReply{
		Response: obj("question", "How long?"),
		Started:  started,
		Wait:     release,
	})
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	type result struct {
		s   Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := m.SubmitAnswer(ctx, "s1", "first")
		done <- result{s, err}
	}()
	<-started

	if _, err := m.SubmitAnswer(ctx, "s1", "second"); !errors.Is(err, ErrRejected) {
		t.Errorf("second submit: err = %v, want rejected", err)
	}
	if _, err := m.Complete(ctx, "s1"); !errors.Is(err, ErrRejected) {
		t.Errorf("complete during submit: err = %v, want rejected", err)
	}
	close(release)

	r := <-done
	if r.err != nil {
		t.Fatalf("first submit: %v", r.err)
	}
	if svc.CallCount(reasoning.OpContinue) != 1 {
		t.Errorf("continue calls = %d, want 1", svc.CallCount(reasoning.OpContinue))
	}
	if countRole(r.s, RoleAnswer) != 1 || r.s.TurnNumber != 2 {
		t.Errorf("answers %d turn %d", countRole(r.s, RoleAnswer), r.s.TurnNumber)
	}
}

func TestManager_DuplicateStartRejected(t *testing.T) {
	svc := reasoning.NewMockService()
	started := make(chan struct{})
	release := make(chan struct{})
	svc.Queue(reasoning.OpStart, reasoning.MockReply{
		Response: obj("session_id", "s1", "question", "q1"),
		Started:  started,
		Wait:     release,
	})
	m := newTestManager(t, svc)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := m.Start(ctx, StartRequest{Subject: headSubject})
		errc <- err
	}()
	<-started
	if _, err := m.Start(ctx, StartRequest{Subject: headSubject}); !errors.Is(err, ErrRejected) {
		t.Errorf("duplicate start: err = %v, want rejected", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("first start: %v", err)
	}
	if svc.CallCount(reasoning.OpStart) != 1 {
		t.Errorf("start calls = %d, want 1", svc.CallCount(reasoning.OpStart))
	}
}

// ----- Local-only tests -----

func TestManager_LocalOnlySession(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Always(reasoning.OpStart, reasoning.MockReply{Err: errors.New("dial tcp: connection refused")})
	m := newTestManager(t, svc)
	ctx := context.Background()
	subject := Subject{BodyArea: "head", Symptoms: "pain"}

	s, err := m.Start(ctx, StartRequest{Subject: subject})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.LocalOnly || s.ID != "local-1" || s.Phase != PhaseInterviewing {
		t.Fatalf("session = local %v id %s phase %s", s.LocalOnly, s.ID, s.Phase)
	}
	bank := FallbackQuestions(subject)
	if s.LastQuestion() != bank[0] {
		t.Errorf("first question = %q, want %q", s.LastQuestion(), bank[0])
	}

	for i := 0; s.Phase == PhaseInterviewing; i++ {
		if i > 15 {
			t.Fatal("local interview never ended")
		}
		s, err = m.SubmitAnswer(ctx, s.ID, "answer")
		if err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}
	if s.Phase != PhaseAwaitingAnalysis || s.TurnNumber != len(bank) {
		t.Errorf("phase %s turn %d, want awaiting-analysis at %d", s.Phase, s.TurnNumber, len(bank))
	}
	if svc.CallCount(reasoning.OpContinue) != 0 {
		t.Errorf("continue calls = %d, want 0", svc.CallCount(reasoning.OpContinue))
	}

	s, err = m.Complete(ctx, s.ID)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Complete: err = %v, want not found", err)
	}
	if s.LastError == nil || s.LastError.Recovery.Actions[0] != ActionStartFresh {
		t.Errorf("last error = %+v", s.LastError)
	}
	if svc.CallCount(reasoning.OpFinalize) != 0 {
		t.Error("finalize sent for a local-only session")
	}
	if _, err := m.AskMore(ctx, s.ID, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AskMore: err = %v, want not found", err)
	}
}

// ----- Subscribe and list tests -----

func TestManager_SubscribeReceivesProgress(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart, reply(obj("session_id", "s1", "question", "q1")))
	svc.Queue(reasoning.OpContinue, reply(obj("question", "q2", "current_confidence", 87.0)))
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject})

	ch, cancel, err := m.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	first := <-ch
	if first.Phase != PhaseInterviewing || first.TurnNumber != 1 || first.AskMoreEnabled {
		t.Errorf("first progress = %+v", first)
	}

	m.SubmitAnswer(ctx, "s1", "answer")
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-ch:
			if p.TurnNumber == 2 {
				if p.Confidence == nil || *p.Confidence != 87 {
					t.Errorf("progress confidence = %v", p.Confidence)
				}
				cancel()
				cancel()
				return
			}
		case <-timeout:
			t.Fatal("no progress for turn 2")
		}
	}
}

func TestManager_ListMemoryFilters(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Queue(reasoning.OpStart,
		reply(obj("session_id", "a", "question", "q")),
		reply(obj("session_id", "b", "question", "q")),
	)
	m := newTestManager(t, svc)
	ctx := context.Background()
	m.Start(ctx, StartRequest{Subject: headSubject, RequesterID: "alice"})
	m.Start(ctx, StartRequest{Subject: Subject{BodyArea: "knee", Symptoms: "swelling"}, RequesterID: "bob"})

	all, _ := m.List(ctx, ListFilter{})
	if len(all) != 2 {
		t.Fatalf("List = %d, want 2", len(all))
	}
	bob, _ := m.List(ctx, ListFilter{RequesterID: "bob"})
	if len(bob) != 1 || bob[0].ID != "b" || bob[0].BodyArea != "knee" {
		t.Errorf("bob = %+v", bob)
	}
	done, _ := m.List(ctx, ListFilter{Phase: PhaseCompleted})
	if len(done) != 0 {
		t.Errorf("completed = %d, want 0", len(done))
	}
	one, _ := m.List(ctx, ListFilter{Limit: 1})
	if len(one) != 1 {
		t.Errorf("limited = %d, want 1", len(one))
	}
}

func TestManager_SummaryFailureIsLogged(t *testing.T) {
	svc := reasoning.NewMockService()
	svc.Always(reasoning.OpSummary, reasoning.MockReply{Err: errors.New("summary service down")})
	notifier := notify.NewMockNotifier()
	notifier.SetError(errors.New("slack down"))
	m := newTestManager(t, svc, func(o *ManagerOpts) { o.Notifier = notifier })

	s := completedSession(t, m, svc)
	m.Wait()
	if s.Phase != PhaseCompleted || s.LastError != nil {
		t.Errorf("side-effect failures changed the session: phase %s err %+v", s.Phase, s.LastError)
	}
}
