package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/intake/internal/interview"
)

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatConfidence renders an optional percentage (nil -> "-").
func formatConfidence(c *int) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *c)
}

// printSession writes the detail view used by "session show".
func printSession(out io.Writer, s interview.Session) {
	fmt.Fprintf(out, "Session:    %s\n", s.ID)
	fmt.Fprintf(out, "Requester:  %s\n", s.RequesterID)
	phase := string(s.Phase)
	if s.Archived {
		phase += " (archived)"
	}
	fmt.Fprintf(out, "Phase:      %s\n", phase)
	fmt.Fprintf(out, "Subject:    %s\n", orDash(strings.TrimSpace(s.Subject.BodyArea+" "+s.Subject.Category)))
	if s.Subject.Symptoms != "" {
		fmt.Fprintf(out, "Symptoms:   %s\n", s.Subject.Symptoms)
	}
	fmt.Fprintf(out, "Questions:  %d\n", s.TurnNumber)
	fmt.Fprintf(out, "Confidence: %s (target %d%%)\n", formatConfidence(s.Confidence), s.TargetConfidence)
	if s.Tier != "" {
		fmt.Fprintf(out, "Tier:       %s\n", s.Tier)
	}
	if len(s.ConfidenceTrail) > 0 {
		steps := make([]string, len(s.ConfidenceTrail))
		for i, st := range s.ConfidenceTrail {
			steps[i] = fmt.Sprintf("%s %d%%", st.Tier, st.Confidence)
		}
		fmt.Fprintf(out, "Trail:      %s\n", strings.Join(steps, " -> "))
	}
	if s.LastError != nil {
		fmt.Fprintf(out, "Last error: %s (%s)\n", s.LastError.Kind, s.LastError.Recovery.Message)
	}

	if len(s.Transcript) > 0 {
		fmt.Fprintln(out, "\nTranscript:")
		for _, t := range s.Transcript {
			fmt.Fprintf(out, "  %2d %-8s %s\n", t.Ordinal, t.Role, t.Content)
		}
	}
}
