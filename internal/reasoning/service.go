// Package reasoning is the boundary to the remote reasoning service that
// generates interview questions and analyses. Responses are returned as
// decoded JSON values and are never interpreted here.
package reasoning

import (
	"context"
	"fmt"
)

// Operation names, used in errors and by MockService.
const (
	OpStart    = "start_interview"
	OpContinue = "continue_interview"
	OpAskMore  = "resume_for_more_questions"
	OpFinalize = "finalize"
	OpUltra    = "ultra_reanalyze"
	OpSummary  = "generate_summary"
)

// Service is the set of remote operations the interview orchestrator consumes.
// Each call returns the raw decoded response body.
type Service interface {
	StartInterview(ctx context.Context, req StartRequest) (any, error)
	ContinueInterview(ctx context.Context, req ContinueRequest) (any, error)
	ResumeForMoreQuestions(ctx context.Context, req AskMoreRequest) (any, error)
	Finalize(ctx context.Context, req FinalizeRequest) (any, error)
	UltraReanalyze(ctx context.Context, req UltraRequest) (any, error)
	GenerateSummary(ctx context.Context, req SummaryRequest) error
}

// Subject describes what is being assessed. It is fixed for the life of a
// session.
type Subject struct {
	BodyArea    string            `json:"body_area"`
	Category    string            `json:"category,omitempty"`
	Symptoms    string            `json:"symptoms"`
	FormAnswers map[string]string `json:"form_answers,omitempty"`
}

// StartRequest opens a fresh interview.
type StartRequest struct {
	Subject     Subject `json:"subject"`
	RequesterID string  `json:"requester_id"`
	Model       string  `json:"model"`
}

// ContinueRequest submits an answer and asks for the next turn.
type ContinueRequest struct {
	SessionID  string `json:"session_id"`
	Answer     string `json:"answer"`
	TurnNumber int    `json:"turn_number"`
	Model      string `json:"model"`
}

// AskMoreRequest resumes a session to push confidence toward a higher target.
type AskMoreRequest struct {
	SessionID         string `json:"session_id"`
	CurrentConfidence int    `json:"current_confidence"`
	TargetConfidence  int    `json:"target_confidence"`
	RequesterID       string `json:"requester_id"`
	MaxAdditional     int    `json:"max_additional"`
}

// FinalizeRequest asks for the structured analysis of a finished interview.
type FinalizeRequest struct {
	SessionID   string `json:"session_id"`
	RequesterID string `json:"requester_id"`
	Model       string `json:"model"`
}

// UltraRequest asks for a higher-effort re-analysis of an existing transcript.
type UltraRequest struct {
	SessionID   string `json:"session_id"`
	RequesterID string `json:"requester_id"`
	Model       string `json:"model"`
}

// SummaryRequest asks the service to generate a textual summary of a result.
type SummaryRequest struct {
	ResultID    string `json:"result_id"`
	RequesterID string `json:"requester_id"`
}

// APIError is a non-2xx response from the reasoning service.
type APIError struct {
	Op         string
	StatusCode int
	Code       string // machine-readable code from the body, if any
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("reasoning: %s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("reasoning: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("reasoning: %s: status %d", e.Op, e.StatusCode)
	}
}

// Temporary reports whether the failure is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
