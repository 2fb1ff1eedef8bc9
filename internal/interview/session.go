// Package interview drives adaptive symptom interviews against a remote
// reasoning service: session lifecycle, turn-taking, termination policy,
// retries with model fallback, and post-completion tier escalation.
package interview

import (
	"time"

	"github.com/zulandar/intake/internal/reasoning"
)

// Subject describes what is being assessed. It is set once per session.
type Subject = reasoning.Subject

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseInitializing     Phase = "initializing"
	PhaseInterviewing     Phase = "interviewing"
	PhaseAwaitingAnalysis Phase = "awaiting-analysis"
	PhaseCompleted        Phase = "completed"
	PhaseEscalating       Phase = "escalating"
	PhaseErrored          Phase = "errored"
)

// Tier is the analysis quality level.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierEnhanced Tier = "enhanced"
	TierUltra    Tier = "ultra"
)

// tierRank orders tiers so a lower tier never replaces a higher one.
func tierRank(t Tier) int {
	switch t {
	case TierBasic:
		return 1
	case TierEnhanced:
		return 2
	case TierUltra:
		return 3
	}
	return 0
}

// Escalation is a post-completion enhancement flow.
type Escalation string

const (
	EscalationAskMore     Escalation = "ask_more"
	EscalationThinkHarder Escalation = "think_harder"
)

// Role is the speaker of a transcript entry.
type Role string

const (
	RoleQuestion Role = "question"
	RoleAnswer   Role = "answer"
	RoleNotice   Role = "notice"
)

// Turn is one transcript entry. Ordinals start at 1 and never repeat.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Ordinal   int       `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`
}

// TierResult is the analysis stored for one tier.
type TierResult struct {
	Analysis         map[string]any `json:"analysis"`
	Confidence       *int           `json:"confidence,omitempty"`
	CriticalInsights []string       `json:"critical_insights,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ConfidenceStep is one point on the basic -> enhanced -> ultra trail.
type ConfidenceStep struct {
	Tier       Tier `json:"tier"`
	Confidence int  `json:"confidence"`
}

// Session is one interview. Values returned by Manager are snapshots; mutating
// them has no effect on the live session.
type Session struct {
	ID                  string              `json:"id"`
	RequesterID         string              `json:"requester_id"`
	Phase               Phase               `json:"phase"`
	PriorPhase          Phase               `json:"prior_phase,omitempty"`
	Subject             Subject             `json:"subject"`
	Transcript          []Turn              `json:"transcript"`
	TurnNumber          int                 `json:"turn_number"`
	Confidence          *int                `json:"confidence,omitempty"`
	TargetConfidence    int                 `json:"target_confidence"`
	RetryCount          int                 `json:"retry_count"`
	Tier                Tier                `json:"tier,omitempty"`
	Analysis            map[string]any      `json:"analysis,omitempty"`
	Analyses            map[Tier]TierResult `json:"analyses,omitempty"`
	ConfidenceTrail     []ConfidenceStep    `json:"confidence_trail,omitempty"`
	Escalation          Escalation          `json:"escalation,omitempty"`
	EscalationQuestions int                 `json:"escalation_questions"`
	LocalOnly           bool                `json:"local_only"`
	Archived            bool                `json:"archived"`
	LastError           *ErrorInfo          `json:"last_error,omitempty"`
	ResultID            string              `json:"result_id,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	CompletedAt         *time.Time          `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	c := s
	c.Subject.FormAnswers = cloneStrings(s.Subject.FormAnswers)
	c.Transcript = append([]Turn(nil), s.Transcript...)
	c.Confidence = cloneInt(s.Confidence)
	c.Analysis = cloneMap(s.Analysis)
	if s.Analyses != nil {
		c.Analyses = make(map[Tier]TierResult, len(s.Analyses))
		for k, v := range s.Analyses {
			v.Analysis = cloneMap(v.Analysis)
			v.Confidence = cloneInt(v.Confidence)
			v.CriticalInsights = append([]string(nil), v.CriticalInsights...)
			c.Analyses[k] = v
		}
	}
	c.ConfidenceTrail = append([]ConfidenceStep(nil), s.ConfidenceTrail...)
	if s.LastError != nil {
		e := *s.LastError
		e.Recovery.Actions = append([]Action(nil), e.Recovery.Actions...)
		c.LastError = &e
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// LastQuestion returns the most recent question, or "".
func (s Session) LastQuestion() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleQuestion {
			return s.Transcript[i].Content
		}
	}
	return ""
}

// lastAnswer returns the most recent answer, or "".
func (s Session) lastAnswer() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleAnswer {
			return s.Transcript[i].Content
		}
	}
	return ""
}

func (s *Session) appendTurn(role Role, content string, at time.Time) {
	s.Transcript = append(s.Transcript, Turn{
		Role:      role,
		Content:   content,
		Ordinal:   len(s.Transcript) + 1,
		Timestamp: at,
	})
}

// Progress is the phase and confidence view pushed to subscribers.
type Progress struct {
	SessionID        string `json:"session_id"`
	Phase            Phase  `json:"phase"`
	Confidence       *int   `json:"confidence,omitempty"`
	TargetConfidence int    `json:"target_confidence"`
	TurnNumber       int    `json:"turn_number"`
	Tier             Tier   `json:"tier,omitempty"`
	AskMoreEnabled   bool   `json:"ask_more_enabled"`
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(v int) *int { return &v }

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneMap deep-copies decoded JSON objects.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}
