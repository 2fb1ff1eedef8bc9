package interview

// Decision is what the turn controller does next with a normalized result.
type Decision int

const (
	// DecisionAsk shows the result's question and waits for an answer.
	DecisionAsk Decision = iota
	// DecisionForceOneMore sends a synthetic continuation before deciding.
	DecisionForceOneMore
	// DecisionRetryAlternate repeats the call once against another model.
	DecisionRetryAlternate
	// DecisionReady stops asking and waits for completion.
	DecisionReady
)

func (d Decision) String() string {
	switch d {
	case DecisionAsk:
		return "ask"
	case DecisionForceOneMore:
		return "force_one_more"
	case DecisionRetryAlternate:
		return "retry_alternate"
	default:
		return "ready"
	}
}

// Policy holds the question-count thresholds that end an interview.
type Policy struct {
	MinimumQuestionsBeforeReady int
	MaxTotalQuestions           int // across the interview and every escalation
	AskMoreMaxQuestions         int // per Ask Me More round
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinimumQuestionsBeforeReady: 2,
		MaxTotalQuestions:           11,
		AskMoreMaxQuestions:         5,
	}
}

// PolicyState is what the policy needs to know about the session.
type PolicyState struct {
	TurnNumber          int  // questions asked so far
	Forced              bool // a forced continuation was already sent for this turn
	Retried             bool // an alternate-model retry was already sent for this turn
	Escalating          bool // an Ask Me More round is active
	EscalationQuestions int  // questions asked in the current round
	TargetConfidence    int
}

// Decide applies the termination rules to one normalized result.
func (p Policy) Decide(st PolicyState, r TurnResult) Decision {
	if p.MaxTotalQuestions > 0 && st.TurnNumber >= p.MaxTotalQuestions {
		return DecisionReady
	}

	if st.Escalating {
		target := st.TargetConfidence
		if r.TargetConfidence != nil {
			target = *r.TargetConfidence
		}
		// The minimum-question rule only guards the initial interview.
		if r.ShouldFinalize || r.ReadyForAnalysis {
			return DecisionReady
		}
		if r.Confidence != nil && target > 0 && *r.Confidence >= target {
			return DecisionReady
		}
		if p.AskMoreMaxQuestions > 0 && st.EscalationQuestions >= p.AskMoreMaxQuestions {
			return DecisionReady
		}
		if r.RemainingQuestions != nil && *r.RemainingQuestions <= 0 {
			return DecisionReady
		}
	}

	switch r.Kind {
	case ResultFinalizeLimit:
		return DecisionReady
	case ResultReady:
		if st.TurnNumber < p.MinimumQuestionsBeforeReady && !st.Forced {
			return DecisionForceOneMore
		}
		return DecisionReady
	case ResultNextQuestion:
		return DecisionAsk
	}

	// Neither a question nor a termination signal.
	if st.TurnNumber < p.MinimumQuestionsBeforeReady {
		if !st.Retried {
			return DecisionRetryAlternate
		}
		if !st.Forced {
			return DecisionForceOneMore
		}
	}
	return DecisionReady
}

// AskMoreBudget returns how many questions an Ask Me More round may add given
// the questions already asked.
func (p Policy) AskMoreBudget(turnNumber int) int {
	budget := p.MaxTotalQuestions - turnNumber
	if p.AskMoreMaxQuestions < budget {
		budget = p.AskMoreMaxQuestions
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}
