package interview

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/zulandar/intake/internal/reasoning"
)

// StartRequest begins an interview. When ContinueFrom is set the prior
// session is resumed toward TargetConfidence instead of starting fresh.
type StartRequest struct {
	Subject           Subject
	RequesterID       string
	ContinueFrom      string
	CurrentConfidence *int
	TargetConfidence  int
}

// Start creates a session and asks its first question. A repeated Start for
// the same requester and subject while one is in flight is rejected.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Session, error) {
	requester := req.RequesterID
	if requester == "" {
		requester = m.requesterID
	}
	if req.ContinueFrom == "" && subjectArea(req.Subject) == "" && strings.TrimSpace(req.Subject.Symptoms) == "" {
		return Session{}, newError(KindInvalidState, "start", "subject is required")
	}

	release, ok := m.initGuard.Acquire(initKey(requester, req))
	if !ok {
		return Session{}, newError(KindRejected, "start", "initialization already in progress")
	}
	defer release()

	if req.ContinueFrom != "" {
		return m.continueSession(ctx, requester, req)
	}
	return m.startFresh(ctx, requester, req.Subject)
}

func (m *Manager) startFresh(ctx context.Context, requester string, subject Subject) (Session, error) {
	now := m.now()
	s := Session{
		RequesterID:      requester,
		Phase:            PhaseInitializing,
		Subject:          subject,
		TargetConfidence: m.target,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.Subject.FormAnswers = cloneStrings(subject.FormAnswers)
	t := newTracked(s)

	var remoteID string
	r, attempts, err := Retry(ctx, m.retrier(t, reasoning.OpStart),
		func(ctx context.Context, attempt int, model string) (TurnResult, error) {
			raw, err := m.svc.StartInterview(ctx, reasoning.StartRequest{
				Subject:     subject,
				RequesterID: requester,
				Model:       model,
			})
			if err != nil {
				return TurnResult{}, Classify(reasoning.OpStart, err)
			}
			res := Normalize(raw)
			if res.SessionID != "" {
				remoteID = res.SessionID
			}
			return res, nil
		}, isEmptyTurn)

	localOnly := false
	if err != nil {
		var ex *ExhaustedError
		if !errors.As(err, &ex) {
			return Session{}, Classify(reasoning.OpStart, err)
		}
		log.Printf("interview: start exhausted after %d attempts, using contextual fallback: %v", attempts, ex.Last)
		r = m.fallbackTurn(t)
		localOnly = remoteID == ""
	}

	id := remoteID
	if id == "" {
		id = m.newID()
	}
	t.mu.Lock()
	t.s.ID = id
	t.s.LocalOnly = localOnly
	t.s.Phase = PhaseInterviewing
	t.s.Confidence = intPtr(m.baseline)
	t.mu.Unlock()
	m.register(t)

	log.Printf("interview: session %s started [requester=%s area=%s local=%v]", id, requester, subject.BodyArea, localOnly)
	return m.advance(ctx, t, r, PolicyState{TargetConfidence: m.target})
}

// continueSession resumes a prior session toward a confidence target. If the
// service reports the target already met, the session goes straight to
// awaiting-analysis without asking anything.
func (m *Manager) continueSession(ctx context.Context, requester string, req StartRequest) (Session, error) {
	fresh := false
	t, err := m.lookup(ctx, req.ContinueFrom)
	switch {
	case err == nil:
	case KindOf(err) == KindSessionNotFound:
		// Unknown here, but the service may still hold it.
		now := m.now()
		s := Session{
			ID:               req.ContinueFrom,
			RequesterID:      requester,
			Phase:            PhaseInitializing,
			Subject:          req.Subject,
			TargetConfidence: m.target,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.Subject.FormAnswers = cloneStrings(req.Subject.FormAnswers)
		t = newTracked(s)
		m.register(t)
		fresh = true
	default:
		return Session{}, err
	}

	release, ok := t.enter(lockEscalate)
	if !ok {
		return m.snapshot(t), newError(KindRejected, "start", "session %s is busy", req.ContinueFrom)
	}
	defer release()

	snap := m.snapshot(t)
	if snap.LocalOnly {
		return snap, newError(KindSessionNotFound, "start", "session %s was never registered with the reasoning service", snap.ID)
	}

	current := m.baseline
	switch {
	case req.CurrentConfidence != nil:
		current = *req.CurrentConfidence
	case snap.Confidence != nil:
		current = *snap.Confidence
	}
	target := req.TargetConfidence
	if target <= 0 {
		target = m.target
	}
	return m.resume(ctx, t, "start", current, target, fresh)
}

// SubmitAnswer records an answer and advances the interview. Duplicate or
// out-of-phase submissions are rejected without changing the session. After a
// failed exchange the recorded answer is retried and text is not recorded.
func (m *Manager) SubmitAnswer(ctx context.Context, id, text string) (Session, error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	release, ok := t.enter(lockSubmit)
	if !ok {
		return m.snapshot(t), newError(KindRejected, "submit", "session %s has an operation in flight", id)
	}
	defer release()

	snap := m.snapshot(t)
	text = strings.TrimSpace(text)
	switch {
	case snap.Archived:
		return snap, newError(KindInvalidState, "submit", "session %s is archived", id)
	case text == "":
		return snap, newError(KindRejected, "submit", "answer is empty")
	case snap.Phase != PhaseInterviewing && !(snap.Phase == PhaseErrored && snap.PriorPhase == PhaseInterviewing):
		return snap, newError(KindRejected, "submit", "session %s is %s, not accepting answers", id, snap.Phase)
	}

	// An answer left over from a failed exchange is sent again rather than
	// recorded twice.
	pending := ""
	if n := len(snap.Transcript); snap.Phase == PhaseErrored && n > 0 && snap.Transcript[n-1].Role == RoleAnswer {
		pending = snap.Transcript[n-1].Content
	}
	m.update(t, func(s *Session) {
		if pending == "" {
			s.appendTurn(RoleAnswer, text, m.now())
		}
		s.Phase = PhaseInterviewing
		s.PriorPhase = ""
		s.LastError = nil
	})

	if pending != "" {
		log.Printf("interview: session %s: resending unanswered reply", id)
		text = pending
	}
	r, err := m.callContinue(ctx, t, text, continueOpts{allowFallback: true})
	if err != nil {
		return m.fail(t, "submit", PhaseInterviewing, err)
	}

	snap = m.snapshot(t)
	return m.advance(ctx, t, r, PolicyState{
		TurnNumber:          snap.TurnNumber,
		Escalating:          snap.Escalation == EscalationAskMore,
		EscalationQuestions: snap.EscalationQuestions,
		TargetConfidence:    snap.TargetConfidence,
	})
}

// Complete requests the analysis for a session that is ready for it. The
// first analysis is stored as basic; one following an Ask Me More round is
// stored as enhanced.
func (m *Manager) Complete(ctx context.Context, id string) (Session, error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	release, ok := t.enter(lockComplete)
	if !ok {
		return m.snapshot(t), newError(KindRejected, "complete", "session %s has an operation in flight", id)
	}
	defer release()

	snap := m.snapshot(t)
	switch {
	case snap.Archived:
		return snap, newError(KindInvalidState, "complete", "session %s is archived", id)
	case snap.Phase == PhaseCompleted:
		return snap, newError(KindAlreadyFinalized, "complete", "session %s", id)
	case snap.Phase == PhaseAwaitingAnalysis:
	case snap.Phase == PhaseErrored && snap.PriorPhase == PhaseAwaitingAnalysis:
	default:
		return snap, newError(KindInvalidState, "complete", "session %s is %s", id, snap.Phase)
	}
	if snap.LocalOnly {
		err := newError(KindSessionNotFound, "complete", "session %s was never registered with the reasoning service", id)
		return m.update(t, func(s *Session) { s.LastError = errorInfo(err) }), err
	}

	res, _, err := Retry(ctx, m.retrier(t, reasoning.OpFinalize),
		func(ctx context.Context, attempt int, model string) (finalizeResult, error) {
			raw, err := m.svc.Finalize(ctx, reasoning.FinalizeRequest{
				SessionID:   snap.ID,
				RequesterID: snap.RequesterID,
				Model:       model,
			})
			if err != nil {
				return finalizeResult{}, Classify(reasoning.OpFinalize, err)
			}
			return parseFinalize(raw)
		}, nil)
	if err != nil {
		cerr := Classify(reasoning.OpFinalize, err)
		if cerr.Kind == KindMalformedAnalysis {
			log.Printf("interview: session %s: %v", id, cerr)
			return m.update(t, func(s *Session) {
				s.Phase = PhaseAwaitingAnalysis
				s.PriorPhase = ""
				s.LastError = errorInfo(cerr)
			}), cerr
		}
		return m.fail(t, "complete", PhaseAwaitingAnalysis, cerr)
	}

	now := m.now()
	snap = m.update(t, func(s *Session) {
		tier := TierBasic
		if s.Tier != "" {
			tier = TierEnhanced
		}
		storeTier(s, tier, TierResult{
			Analysis:   res.analysis,
			Confidence: res.confidence,
			CreatedAt:  now,
		})
		if res.confidence != nil {
			s.Confidence = cloneInt(res.confidence)
		}
		s.ResultID = res.resultID
		if s.ResultID == "" {
			s.ResultID = s.ID
		}
		s.Phase = PhaseCompleted
		s.PriorPhase = ""
		s.Escalation = ""
		s.LastError = nil
		s.RetryCount = 0
		s.CompletedAt = &now
	})
	log.Printf("interview: session %s completed [tier=%s questions=%d]", id, snap.Tier, snap.TurnNumber)
	m.afterAnalysis(snap, true)
	return snap, nil
}

// fail moves a session to errored, remembering the phase to recover to.
func (m *Manager) fail(t *tracked, op string, prior Phase, err error) (Session, error) {
	cerr := Classify(op, err)
	snap := m.update(t, func(s *Session) {
		s.Phase = PhaseErrored
		s.PriorPhase = prior
		s.LastError = errorInfo(cerr)
	})
	log.Printf("interview: session %s: %s failed: %v", snap.ID, op, cerr)
	return snap, cerr
}

// finalizeResult is the validated content of a finalize response.
type finalizeResult struct {
	analysis   map[string]any
	confidence *int
	resultID   string
}

// parseFinalize validates a finalize response. The analysis must be a JSON
// object; anything else is a malformed analysis and is never coerced.
func parseFinalize(raw any) (finalizeResult, error) {
	if raw == nil {
		return finalizeResult{}, newError(KindEmptyResponse, reasoning.OpFinalize, "empty response")
	}
	body, ok := raw.(map[string]any)
	if !ok {
		return finalizeResult{}, newError(KindMalformedAnalysis, reasoning.OpFinalize, "response is %T, want object", raw)
	}
	body = flatten(body)
	v, present := body["analysis"]
	if !present || v == nil {
		return finalizeResult{}, newError(KindMalformedAnalysis, reasoning.OpFinalize, "response has no analysis")
	}
	analysis, ok := v.(map[string]any)
	if !ok {
		return finalizeResult{}, newError(KindMalformedAnalysis, reasoning.OpFinalize, "analysis is %T, want object", v)
	}

	res := finalizeResult{
		analysis:   analysis,
		confidence: percentField(body, confidenceKeys),
		resultID:   stringField(body, []string{"summary_id", "result_id"}),
	}
	if res.confidence == nil {
		res.confidence = percentField(analysis, confidenceKeys)
	}
	return res, nil
}

// storeTier records an analysis for tier. It becomes the displayed analysis
// unless a higher tier is already shown.
func storeTier(s *Session, tier Tier, r TierResult) {
	if s.Analyses == nil {
		s.Analyses = make(map[Tier]TierResult)
	}
	r.Analysis = cloneMap(r.Analysis)
	r.Confidence = cloneInt(r.Confidence)
	s.Analyses[tier] = r
	if tierRank(tier) >= tierRank(s.Tier) {
		s.Tier = tier
		s.Analysis = cloneMap(r.Analysis)
	}
	if r.Confidence != nil {
		appendStep(s, ConfidenceStep{Tier: tier, Confidence: *r.Confidence})
	}
}

// appendStep adds a trail entry unless an identical one exists.
func appendStep(s *Session, step ConfidenceStep) {
	for _, existing := range s.ConfidenceTrail {
		if existing == step {
			return
		}
	}
	s.ConfidenceTrail = append(s.ConfidenceTrail, step)
}
