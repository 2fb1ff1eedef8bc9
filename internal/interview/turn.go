package interview

import (
	"context"
	"errors"
	"log"

	"github.com/zulandar/intake/internal/reasoning"
)

const (
	// forcedContinuationText is sent when the service declares readiness
	// before enough questions were asked. It is not added to the transcript.
	forcedContinuationText = "please provide more detail"

	readyNotice      = "Ready for analysis. Request completion when you are ready."
	limitNotice      = "The question limit has been reached. Ready for analysis."
	localReadyNotice = "No further questions are available offline. Ready for analysis."
)

func isEmptyTurn(r TurnResult) bool { return r.Kind == ResultEmpty }

// continueOpts tunes one continue_interview exchange.
type continueOpts struct {
	// allowFallback substitutes a contextual question when retries run out.
	// Without it, exhaustion yields an empty result.
	allowFallback bool
	// single makes exactly one attempt, on the model after the last one used.
	single bool
}

// callContinue sends text for the session's current turn and returns the
// normalized result. Only permanent failures are returned as errors.
func (m *Manager) callContinue(ctx context.Context, t *tracked, text string, opts continueOpts) (TurnResult, error) {
	t.mu.Lock()
	snap := t.s.Clone()
	offset := t.lastAttempts
	t.mu.Unlock()

	if snap.LocalOnly {
		return localTurn(snap), nil
	}

	r := m.retrier(t, reasoning.OpContinue)
	if opts.single {
		r.MaxAttempts = 1
		r.Offset = offset
	}
	res, attempts, err := Retry(ctx, r,
		func(ctx context.Context, attempt int, model string) (TurnResult, error) {
			raw, err := m.svc.ContinueInterview(ctx, reasoning.ContinueRequest{
				SessionID:  snap.ID,
				Answer:     text,
				TurnNumber: snap.TurnNumber,
				Model:      model,
			})
			if err != nil {
				return TurnResult{}, Classify(reasoning.OpContinue, err)
			}
			return Normalize(raw), nil
		}, isEmptyTurn)

	t.mu.Lock()
	t.lastAttempts = r.Offset + attempts
	t.mu.Unlock()

	if err == nil {
		return res, nil
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		return TurnResult{}, err
	}
	if !opts.allowFallback {
		return TurnResult{}, nil
	}
	log.Printf("interview: session %s: continue exhausted after %d attempts, using contextual fallback: %v",
		snap.ID, ex.Attempts, ex.Last)
	return m.fallbackTurn(t), nil
}

// advance applies the termination policy to r until it settles on asking a
// question or declaring the session ready, then records the outcome.
func (m *Manager) advance(ctx context.Context, t *tracked, r TurnResult, st PolicyState) (Session, error) {
	id := m.snapshot(t).ID
	var conf, target *int
	for {
		if r.Confidence != nil {
			conf = r.Confidence
		}
		if r.TargetConfidence != nil {
			target = r.TargetConfidence
		}

		switch m.policy.Decide(st, r) {
		case DecisionAsk:
			question := r.Question
			return m.update(t, func(s *Session) {
				applyConfidence(s, conf, target)
				s.appendTurn(RoleQuestion, question, m.now())
				s.TurnNumber++
				if st.Escalating {
					s.EscalationQuestions++
				}
				s.Phase = PhaseInterviewing
				s.PriorPhase = ""
				s.RetryCount = 0
			}), nil

		case DecisionReady:
			notice := r.Message
			switch {
			case m.policy.MaxTotalQuestions > 0 && st.TurnNumber >= m.policy.MaxTotalQuestions:
				notice = limitNotice
			case notice == "":
				notice = readyNotice
			}
			snap := m.update(t, func(s *Session) {
				applyConfidence(s, conf, target)
				s.appendTurn(RoleNotice, notice, m.now())
				s.Phase = PhaseAwaitingAnalysis
				s.PriorPhase = ""
				s.Escalation = ""
				s.RetryCount = 0
			})
			log.Printf("interview: session %s ready for analysis after %d questions", snap.ID, snap.TurnNumber)
			return snap, nil

		case DecisionForceOneMore:
			st.Forced = true
			log.Printf("interview: session %s: ready after %d questions, forcing one more", id, st.TurnNumber)
			next, err := m.callContinue(ctx, t, forcedContinuationText, continueOpts{})
			if err != nil {
				return m.fail(t, "continue", PhaseInterviewing, err)
			}
			r = next

		case DecisionRetryAlternate:
			st.Retried = true
			text := m.snapshot(t).lastAnswer()
			if text == "" {
				text = forcedContinuationText
			}
			next, err := m.callContinue(ctx, t, text, continueOpts{single: true})
			if err != nil {
				return m.fail(t, "continue", PhaseInterviewing, err)
			}
			r = next
		}
	}
}

func applyConfidence(s *Session, conf, target *int) {
	if conf != nil {
		s.Confidence = cloneInt(conf)
	}
	if target != nil && s.Escalation == EscalationAskMore {
		s.TargetConfidence = *target
	}
}

// fallbackTurn synthesizes the next contextual question for a session whose
// remote calls are exhausted.
func (m *Manager) fallbackTurn(t *tracked) TurnResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := FallbackQuestion(t.s.Subject, t.fallbacks)
	t.fallbacks++
	return TurnResult{Kind: ResultNextQuestion, Question: q, Fallback: true}
}

// localTurn serves a session that has no remote counterpart from the
// contextual question bank, one question per turn until it runs out.
func localTurn(s Session) TurnResult {
	qs := FallbackQuestions(s.Subject)
	if s.TurnNumber < len(qs) {
		return TurnResult{Kind: ResultNextQuestion, Question: qs[s.TurnNumber], Fallback: true}
	}
	return TurnResult{Kind: ResultReady, ReadyForAnalysis: true, Message: localReadyNotice}
}
