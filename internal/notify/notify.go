// Package notify delivers best-effort completion notices about interview
// sessions to a clinician chat channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Notice describes a finished analysis.
type Notice struct {
	SessionID      string
	RequesterID    string
	Tier           string
	BodyArea       string
	Symptoms       string
	Confidence     *int
	QuestionsAsked int
	Insights       []string
}

// Title is the one-line headline for a notice.
func (n Notice) Title() string {
	area := n.BodyArea
	if area == "" {
		area = "general"
	}
	return fmt.Sprintf("Interview %s ready (%s, %s analysis)", n.SessionID, area, n.Tier)
}

// Fields returns the notice body as ordered label/value pairs.
func (n Notice) Fields() [][2]string {
	conf := "unknown"
	if n.Confidence != nil {
		conf = fmt.Sprintf("%d%%", *n.Confidence)
	}
	fields := [][2]string{
		{"Requester", n.RequesterID},
		{"Confidence", conf},
		{"Questions", fmt.Sprintf("%d", n.QuestionsAsked)},
	}
	if n.Symptoms != "" {
		fields = append(fields, [2]string{"Symptoms", truncate(n.Symptoms, 200)})
	}
	if len(n.Insights) > 0 {
		fields = append(fields, [2]string{"Critical insights", strings.Join(n.Insights, "\n")})
	}
	return fields
}

// Sidebar colors per analysis tier.
const (
	ColorBasic    = "#2196f3"
	ColorEnhanced = "#36a64f"
	ColorUltra    = "#8e24aa"
)

// Color returns the sidebar color for the notice's tier.
func (n Notice) Color() string {
	switch n.Tier {
	case "ultra":
		return ColorUltra
	case "enhanced":
		return ColorEnhanced
	default:
		return ColorBasic
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Notifier sends a notice somewhere.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// MockNotifier records notices for testing.
type MockNotifier struct {
	mu      sync.Mutex
	notices []Notice
	err     error
	ch      chan Notice
}

// NewMockNotifier creates a MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{ch: make(chan Notice, 16)}
}

// SetError makes subsequent Notify calls fail with err.
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Notify records n and returns the configured error.
func (m *MockNotifier) Notify(ctx context.Context, n Notice) error {
	m.mu.Lock()
	m.notices = append(m.notices, n)
	err := m.err
	m.mu.Unlock()
	select {
	case m.ch <- n:
	default:
	}
	return err
}

// Notices returns a copy of everything received.
func (m *MockNotifier) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice(nil), m.notices...)
}

// Received delivers each notice as it arrives.
func (m *MockNotifier) Received() <-chan Notice {
	return m.ch
}
