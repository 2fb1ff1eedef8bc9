package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/intake/internal/reasoning"
)

// Kind classifies an interview failure.
type Kind string

const (
	KindTransient         Kind = "transient_network_failure"
	KindEmptyResponse     Kind = "empty_response"
	KindMalformedAnalysis Kind = "malformed_analysis"
	KindSessionNotFound   Kind = "session_not_found"
	KindAlreadyFinalized  Kind = "session_already_finalized"
	KindQuestionLimit     Kind = "question_limit_reached"
	KindInvalidState      Kind = "invalid_session_state"
	KindRejected          Kind = "rejected"
)

// Error is a classified interview failure. Compare against the Err* sentinels
// with errors.Is; the kind is all that is matched.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("interview: %s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("interview: %s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("interview: %s: %v", e.Kind, e.Err)
	default:
		return "interview: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTransient         = &Error{Kind: KindTransient}
	ErrEmptyResponse     = &Error{Kind: KindEmptyResponse}
	ErrMalformedAnalysis = &Error{Kind: KindMalformedAnalysis}
	ErrSessionNotFound   = &Error{Kind: KindSessionNotFound}
	ErrAlreadyFinalized  = &Error{Kind: KindAlreadyFinalized}
	ErrQuestionLimit     = &Error{Kind: KindQuestionLimit}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrRejected          = &Error{Kind: KindRejected}
)

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the retry engine should try err again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindEmptyResponse:
		return true
	}
	return false
}

// Classify maps a raw failure from the reasoning service onto the taxonomy.
// Already-classified errors pass through unchanged. Transport failures and
// anything unrecognized are treated as transient.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}
	var apiErr *reasoning.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: classifyAPIError(apiErr), Op: op, Err: err}
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func classifyAPIError(e *reasoning.APIError) Kind {
	text := strings.ToLower(strings.ReplaceAll(e.Code+" "+e.Message, "_", " "))
	switch {
	case e.Temporary():
		return KindTransient
	case strings.Contains(text, "already finalized") || strings.Contains(text, "already completed"):
		return KindAlreadyFinalized
	case strings.Contains(text, "question limit") || strings.Contains(text, "limit reached"):
		return KindQuestionLimit
	case e.StatusCode == 404 || strings.Contains(text, "not found"):
		return KindSessionNotFound
	default:
		return KindInvalidState
	}
}

// Action is a recovery step offered to the user alongside an error.
type Action string

const (
	ActionResume        Action = "resume_current_confidence"
	ActionStartFresh    Action = "start_fresh"
	ActionTryEscalation Action = "try_escalation"
	ActionRetry         Action = "retry"
)

// Recovery is the user-facing message and follow-up actions for a failure.
type Recovery struct {
	Message string   `json:"message"`
	Actions []Action `json:"actions"`
}

// RecoveryFor returns the recovery guidance for kind.
func RecoveryFor(kind Kind) Recovery {
	switch kind {
	case KindSessionNotFound:
		return Recovery{
			Message: "This interview session could not be found. Start a fresh interview to continue.",
			Actions: []Action{ActionStartFresh},
		}
	case KindAlreadyFinalized:
		return Recovery{
			Message: "This session has already been finalized. Try Think Harder for a deeper analysis or start a fresh interview.",
			Actions: []Action{ActionTryEscalation, ActionStartFresh},
		}
	case KindQuestionLimit:
		return Recovery{
			Message: "The question limit for this session has been reached. Request the analysis or try Think Harder instead.",
			Actions: []Action{ActionTryEscalation},
		}
	case KindInvalidState:
		return Recovery{
			Message: "The session cannot do that right now. Resume with the current confidence or start a fresh interview.",
			Actions: []Action{ActionResume, ActionStartFresh},
		}
	case KindMalformedAnalysis:
		return Recovery{
			Message: "The analysis came back in an unexpected format. Please request it again.",
			Actions: []Action{ActionRetry},
		}
	case KindRejected:
		return Recovery{
			Message: "Another request for this session is still in progress.",
			Actions: []Action{ActionRetry},
		}
	default:
		return Recovery{
			Message: "The reasoning service is temporarily unavailable. Please try again in a moment.",
			Actions: []Action{ActionRetry},
		}
	}
}

// ErrorInfo is the last surfaced failure recorded on a session.
type ErrorInfo struct {
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Recovery Recovery `json:"recovery"`
}

func errorInfo(err error) *ErrorInfo {
	kind := KindOf(err)
	if kind == "" {
		kind = KindTransient
	}
	return &ErrorInfo{Kind: kind, Message: err.Error(), Recovery: RecoveryFor(kind)}
}
