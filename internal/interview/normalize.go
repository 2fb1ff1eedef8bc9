package interview

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ResultKind is the variant of a normalized turn result.
type ResultKind int

const (
	// ResultEmpty means the response carried neither a question nor a
	// termination signal.
	ResultEmpty ResultKind = iota
	ResultNextQuestion
	ResultReady
	ResultFinalizeLimit
)

func (k ResultKind) String() string {
	switch k {
	case ResultNextQuestion:
		return "next_question"
	case ResultReady:
		return "ready_for_analysis"
	case ResultFinalizeLimit:
		return "finalize_limit"
	default:
		return "empty"
	}
}

// TurnResult is the canonical form of every turn-producing response.
type TurnResult struct {
	Kind               ResultKind
	Question           string
	QuestionNumber     *int
	ReadyForAnalysis   bool
	Confidence         *int
	TargetConfidence   *int
	ShouldFinalize     bool
	Message            string
	Category           string
	ExpectedGain       *int
	RemainingQuestions *int
	QuestionsAsked     *int
	SessionID          string
	// Fallback is set when the question was synthesized locally.
	Fallback bool
}

// Field aliases seen across service versions, in lookup order.
var (
	questionKeys       = []string{"question", "next_question", "nextQuestion"}
	questionNumberKeys = []string{"question_number", "questionNumber"}
	readyKeys          = []string{"ready_for_analysis", "readyForAnalysis", "ready", "is_complete", "already_sufficient"}
	confidenceKeys     = []string{"current_confidence", "confidence", "currentConfidence", "confidence_score"}
	targetKeys         = []string{"target_confidence", "targetConfidence"}
	finalizeKeys       = []string{"should_finalize", "shouldFinalize", "limit_reached"}
	messageKeys        = []string{"message", "notice", "detail"}
	categoryKeys       = []string{"question_category", "questionCategory", "category"}
	gainKeys           = []string{"expected_confidence_gain", "expectedConfidenceGain", "expected_gain"}
	remainingKeys      = []string{"remaining_questions", "questions_remaining", "remainingQuestions"}
	askedKeys          = []string{"questions_asked", "questionsAsked", "total_questions"}
	sessionIDKeys      = []string{"session_id", "sessionId"}
	envelopeKeys       = []string{"data", "result"}
)

// readyStatuses are status values that mean the interview has enough signal.
var readyStatuses = map[string]bool{
	"ready":              true,
	"complete":           true,
	"completed":          true,
	"sufficient":         true,
	"already_sufficient": true,
}

// Normalize converts a raw decoded response into a TurnResult. It accepts any
// value: nil and non-object inputs yield an empty result, and a bare string
// becomes the message.
func Normalize(raw any) TurnResult {
	var r TurnResult
	switch v := raw.(type) {
	case map[string]any:
		r = normalizeObject(flatten(v))
	case string:
		r.Message = strings.TrimSpace(v)
	}
	r.Kind = classify(r)
	return r
}

func classify(r TurnResult) ResultKind {
	switch {
	case r.ShouldFinalize:
		return ResultFinalizeLimit
	case r.ReadyForAnalysis:
		return ResultReady
	case r.Question != "":
		return ResultNextQuestion
	default:
		return ResultEmpty
	}
}

// flatten merges envelope objects into the top level. Top-level keys win.
func flatten(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, key := range envelopeKeys {
		inner, ok := m[key].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range flatten(inner) {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

func normalizeObject(m map[string]any) TurnResult {
	r := TurnResult{
		Question:           questionText(m),
		QuestionNumber:     intField(m, questionNumberKeys),
		ReadyForAnalysis:   boolField(m, readyKeys),
		Confidence:         percentField(m, confidenceKeys),
		TargetConfidence:   percentField(m, targetKeys),
		ShouldFinalize:     boolField(m, finalizeKeys),
		Message:            stringField(m, messageKeys),
		Category:           stringField(m, categoryKeys),
		ExpectedGain:       intField(m, gainKeys),
		RemainingQuestions: intField(m, remainingKeys),
		QuestionsAsked:     intField(m, askedKeys),
		SessionID:          stringField(m, sessionIDKeys),
	}
	if status, ok := m["status"].(string); ok && readyStatuses[strings.ToLower(strings.TrimSpace(status))] {
		r.ReadyForAnalysis = true
	}
	return r
}

// questionText accepts a plain string or an object carrying the text.
func questionText(m map[string]any) string {
	for _, k := range questionKeys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			if s := stringField(v, []string{"text", "question", "content"}); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringField(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func boolField(m map[string]any, keys []string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err == nil {
				return parsed
			}
		case float64:
			return b != 0
		case json.Number:
			f, err := b.Float64()
			if err == nil {
				return f != 0
			}
		}
	}
	return false
}

func intField(m map[string]any, keys []string) *int {
	for _, k := range keys {
		if f, ok := number(m[k]); ok {
			n := int(math.Round(f))
			return &n
		}
	}
	return nil
}

// percentField reads a percentage from the first key present.
func percentField(m map[string]any, keys []string) *int {
	for _, k := range keys {
		if n, ok := percent(m[k]); ok {
			return &n
		}
	}
	return nil
}

// percent converts v to a whole percentage. Fractions in (0, 1] are scaled
// to 0..100 and the result is clamped.
func percent(v any) (int, bool) {
	f, ok := number(v)
	if !ok {
		return 0, false
	}
	if f > 0 && f <= 1 {
		f *= 100
	}
	n := int(math.Round(f))
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

// number accepts JSON numbers, numeric strings and strings like "85%".
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
