package interview

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/zulandar/intake/internal/reasoning"
)

// Escalate runs the named enhancement flow on a finished session.
func (m *Manager) Escalate(ctx context.Context, id string, kind Escalation, target int) (Session, error) {
	switch kind {
	case EscalationAskMore:
		return m.AskMore(ctx, id, target)
	case EscalationThinkHarder:
		return m.ThinkHarder(ctx, id)
	default:
		return Session{}, newError(KindInvalidState, "escalate", "unknown escalation %q", kind)
	}
}

// AskMore resumes interviewing toward a higher confidence target. The round
// is capped by the per-round budget and the overall question ceiling. The
// existing analysis and tier are kept; a new Complete produces the enhanced
// analysis. A target of 0 uses the configured Ask Me More target.
func (m *Manager) AskMore(ctx context.Context, id string, target int) (Session, error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	release, ok := t.enter(lockEscalate)
	if !ok {
		return m.snapshot(t), newError(KindRejected, "ask_more", "session %s has an operation in flight", id)
	}
	defer release()

	snap := m.snapshot(t)
	if snap.Phase != PhaseAwaitingAnalysis && snap.Phase != PhaseCompleted {
		return snap, newError(KindInvalidState, "ask_more", "session %s is %s", id, snap.Phase)
	}
	if snap.LocalOnly {
		err := newError(KindSessionNotFound, "ask_more", "session %s was never registered with the reasoning service", id)
		return m.update(t, func(s *Session) { s.LastError = errorInfo(err) }), err
	}
	if m.policy.AskMoreBudget(snap.TurnNumber) == 0 {
		err := newError(KindQuestionLimit, "ask_more", "session %s has asked %d questions", id, snap.TurnNumber)
		return m.update(t, func(s *Session) { s.LastError = errorInfo(err) }), err
	}

	if target <= 0 {
		target = m.askMoreTarget
	}
	current := m.baseline
	if snap.Confidence != nil {
		current = *snap.Confidence
	}
	return m.resume(ctx, t, reasoning.OpAskMore, current, target, false)
}

// resume asks the service for more questions toward target and hands the
// result to the turn controller in escalation mode. On failure the session
// returns to the phase it had; a session created just for this call is
// dropped.
func (m *Manager) resume(ctx context.Context, t *tracked, op string, current, target int, fresh bool) (Session, error) {
	var restore Phase
	var turnNumber int
	snap := m.update(t, func(s *Session) {
		restore = s.Phase
		if !fresh {
			s.Phase = PhaseEscalating
		}
		s.Archived = false
		s.Escalation = EscalationAskMore
		s.EscalationQuestions = 0
		s.TargetConfidence = target
		if s.Confidence == nil {
			s.Confidence = intPtr(current)
		}
		s.LastError = nil
		turnNumber = s.TurnNumber
	})

	budget := m.policy.AskMoreBudget(turnNumber)
	if budget == 0 {
		err := newError(KindQuestionLimit, op, "session %s has asked %d questions", snap.ID, turnNumber)
		return m.abandonResume(t, restore, fresh, err)
	}

	r, _, err := Retry(ctx, m.retrier(t, reasoning.OpAskMore),
		func(ctx context.Context, attempt int, model string) (TurnResult, error) {
			raw, err := m.svc.ResumeForMoreQuestions(ctx, reasoning.AskMoreRequest{
				SessionID:         snap.ID,
				CurrentConfidence: current,
				TargetConfidence:  target,
				RequesterID:       snap.RequesterID,
				MaxAdditional:     budget,
			})
			if err != nil {
				return TurnResult{}, Classify(reasoning.OpAskMore, err)
			}
			return Normalize(raw), nil
		}, func(r TurnResult) bool { return resumeEmpty(r, target) })
	if err != nil {
		return m.abandonResume(t, restore, fresh, Classify(op, err))
	}

	if n := questionsAsked(r); n > turnNumber {
		// The service has asked more than this manager recorded.
		turnNumber = n
		m.update(t, func(s *Session) { s.TurnNumber = n })
	}

	log.Printf("interview: session %s: ask more toward %d%% (budget %d)", snap.ID, target, budget)
	return m.advance(ctx, t, r, PolicyState{
		TurnNumber:       turnNumber,
		Escalating:       true,
		TargetConfidence: target,
	})
}

// questionsAsked is the service's count of questions already asked before
// the question in r, or 0 when it reports none.
func questionsAsked(r TurnResult) int {
	switch {
	case r.QuestionsAsked != nil:
		return *r.QuestionsAsked
	case r.QuestionNumber != nil && *r.QuestionNumber > 0:
		return *r.QuestionNumber - 1
	}
	return 0
}

// resumeEmpty reports whether a resume response carries nothing to act on.
// A bare "target already met" report is not empty.
func resumeEmpty(r TurnResult, target int) bool {
	if r.Kind != ResultEmpty {
		return false
	}
	if r.TargetConfidence != nil {
		target = *r.TargetConfidence
	}
	return r.Confidence == nil || *r.Confidence < target
}

func (m *Manager) abandonResume(t *tracked, restore Phase, fresh bool, err error) (Session, error) {
	cerr := Classify("ask_more", err)
	if fresh {
		snap := m.snapshot(t)
		m.forget(snap.ID)
		log.Printf("interview: session %s: continuation failed: %v", snap.ID, cerr)
		return Session{}, cerr
	}
	snap := m.update(t, func(s *Session) {
		s.Phase = restore
		s.Escalation = ""
		s.LastError = errorInfo(cerr)
	})
	log.Printf("interview: session %s: ask more failed: %v", snap.ID, cerr)
	return snap, cerr
}

// ThinkHarder requests a higher-effort re-analysis of a completed session.
// No turns are added. On failure the prior analysis stays in place.
func (m *Manager) ThinkHarder(ctx context.Context, id string) (Session, error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	release, ok := t.enter(lockEscalate)
	if !ok {
		return m.snapshot(t), newError(KindRejected, "think_harder", "session %s has an operation in flight", id)
	}
	defer release()

	snap := m.snapshot(t)
	if snap.Phase != PhaseCompleted {
		return snap, newError(KindInvalidState, "think_harder", "session %s is %s", id, snap.Phase)
	}
	if snap.LocalOnly {
		err := newError(KindSessionNotFound, "think_harder", "session %s was never registered with the reasoning service", id)
		return snap, err
	}

	m.update(t, func(s *Session) {
		s.Phase = PhaseEscalating
		s.Escalation = EscalationThinkHarder
		s.Archived = false
		s.LastError = nil
	})

	res, _, err := Retry(ctx, m.retrier(t, reasoning.OpUltra),
		func(ctx context.Context, attempt int, model string) (ultraResult, error) {
			raw, err := m.svc.UltraReanalyze(ctx, reasoning.UltraRequest{
				SessionID:   snap.ID,
				RequesterID: snap.RequesterID,
				Model:       model,
			})
			if err != nil {
				return ultraResult{}, Classify(reasoning.OpUltra, err)
			}
			return parseUltra(raw)
		}, nil)
	if err != nil {
		cerr := Classify(reasoning.OpUltra, err)
		snap = m.update(t, func(s *Session) {
			s.Phase = PhaseCompleted
			s.Escalation = ""
			s.LastError = errorInfo(cerr)
		})
		log.Printf("interview: session %s: think harder failed, keeping %s analysis: %v", id, snap.Tier, cerr)
		return snap, cerr
	}

	now := m.now()
	snap = m.update(t, func(s *Session) {
		for _, step := range res.progression {
			if !hasTier(s.ConfidenceTrail, step.Tier) {
				s.ConfidenceTrail = append(s.ConfidenceTrail, step)
			}
		}
		storeTier(s, TierUltra, TierResult{
			Analysis:         res.analysis,
			Confidence:       res.confidence,
			CriticalInsights: res.insights,
			CreatedAt:        now,
		})
		if res.confidence != nil {
			s.Confidence = cloneInt(res.confidence)
		}
		s.Phase = PhaseCompleted
		s.Escalation = ""
		s.RetryCount = 0
	})
	log.Printf("interview: session %s: ultra analysis stored", id)
	m.afterAnalysis(snap, false)
	return snap, nil
}

func hasTier(trail []ConfidenceStep, tier Tier) bool {
	for _, s := range trail {
		if s.Tier == tier {
			return true
		}
	}
	return false
}

// ultraResult is the validated content of an ultra_reanalyze response.
type ultraResult struct {
	analysis    map[string]any
	confidence  *int
	progression []ConfidenceStep
	insights    []string
}

func parseUltra(raw any) (ultraResult, error) {
	if raw == nil {
		return ultraResult{}, newError(KindEmptyResponse, reasoning.OpUltra, "empty response")
	}
	body, ok := raw.(map[string]any)
	if !ok {
		return ultraResult{}, newError(KindMalformedAnalysis, reasoning.OpUltra, "response is %T, want object", raw)
	}
	body = flatten(body)

	v, present := body["ultra_analysis"]
	if !present || v == nil {
		v = body["analysis"]
	}
	if v == nil {
		return ultraResult{}, newError(KindMalformedAnalysis, reasoning.OpUltra, "response has no analysis")
	}
	analysis, ok := v.(map[string]any)
	if !ok {
		return ultraResult{}, newError(KindMalformedAnalysis, reasoning.OpUltra, "analysis is %T, want object", v)
	}

	res := ultraResult{
		analysis:    analysis,
		progression: parseProgression(body["confidence_progression"]),
		insights:    parseInsights(body["critical_insights"]),
	}
	for _, step := range res.progression {
		if step.Tier == TierUltra {
			res.confidence = intPtr(step.Confidence)
		}
	}
	if res.confidence == nil {
		res.confidence = percentField(body, confidenceKeys)
	}
	return res, nil
}

var progressionTiers = []Tier{TierBasic, TierEnhanced, TierUltra}

// parseProgression accepts {"basic":85,...}, [85, 90, 96] or
// [{"tier":"basic","confidence":85}, ...].
func parseProgression(v any) []ConfidenceStep {
	var out []ConfidenceStep
	switch p := v.(type) {
	case map[string]any:
		for _, tier := range progressionTiers {
			if n, ok := percent(p[string(tier)]); ok {
				out = append(out, ConfidenceStep{Tier: tier, Confidence: n})
			}
		}
	case []any:
		for i, item := range p {
			switch e := item.(type) {
			case map[string]any:
				tier := Tier(strings.ToLower(stringField(e, []string{"tier", "level"})))
				n, ok := percent(e["confidence"])
				if ok && tierRank(tier) > 0 {
					out = append(out, ConfidenceStep{Tier: tier, Confidence: n})
				}
			default:
				if n, ok := percent(e); ok && i < len(progressionTiers) {
					out = append(out, ConfidenceStep{Tier: progressionTiers[i], Confidence: n})
				}
			}
		}
	}
	return out
}

// parseInsights keeps strings as-is and renders objects as their text field
// or compact JSON.
func parseInsights(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		switch e := item.(type) {
		case string:
			if s := strings.TrimSpace(e); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if s := stringField(e, []string{"insight", "text", "description"}); s != "" {
				out = append(out, s)
				continue
			}
			if data, err := json.Marshal(e); err == nil {
				out = append(out, string(data))
			}
		}
	}
	return out
}
