package reasoning

import (
	"context"
	"fmt"
	"sync"
)

// MockReply is one scripted response from MockService.
type MockReply struct {
	Response any
	Err      error
	// Started, if set, is closed when the call begins.
	Started chan struct{}
	// Wait, if set, blocks the call until it is closed or ctx is done.
	Wait <-chan struct{}
}

// MockCall records one call made against MockService.
type MockCall struct {
	Op      string
	Model   string
	Request any
}

// MockService implements Service for testing. Replies are consumed in order
// per operation; once a queue is drained the operation's Always reply is used.
type MockService struct {
	mu      sync.Mutex
	queued  map[string][]MockReply
	always  map[string]MockReply
	calls   []MockCall
	summary chan SummaryRequest
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{
		queued:  make(map[string][]MockReply),
		always:  make(map[string]MockReply),
		summary: make(chan SummaryRequest, 16),
	}
}

// Queue appends scripted replies for op.
func (m *MockService) Queue(op string, replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[op] = append(m.queued[op], replies...)
}

// Always sets the reply used for op once its queue is empty.
func (m *MockService) Always(op string, reply MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.always[op] = reply
}

// Calls returns the recorded calls for op, or every call when op is empty.
func (m *MockService) Calls(op string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times op was called.
func (m *MockService) CallCount(op string) int {
	return len(m.Calls(op))
}

// Summaries delivers every GenerateSummary request as it arrives.
func (m *MockService) Summaries() <-chan SummaryRequest {
	return m.summary
}

// StartInterview returns the next scripted reply for OpStart.
func (m *MockService) StartInterview(ctx context.Context, req StartRequest) (any, error) {
	return m.reply(ctx, OpStart, req.Model, req)
}

// ContinueInterview returns the next scripted reply for OpContinue.
func (m *MockService) ContinueInterview(ctx context.Context, req ContinueRequest) (any, error) {
	return m.reply(ctx, OpContinue, req.Model, req)
}

// ResumeForMoreQuestions returns the next scripted reply for OpAskMore.
func (m *MockService) ResumeForMoreQuestions(ctx context.Context, req AskMoreRequest) (any, error) {
	return m.reply(ctx, OpAskMore, "", req)
}

// Finalize returns the next scripted reply for OpFinalize.
func (m *MockService) Finalize(ctx context.Context, req FinalizeRequest) (any, error) {
	return m.reply(ctx, OpFinalize, req.Model, req)
}

// UltraReanalyze returns the next scripted reply for OpUltra.
func (m *MockService) UltraReanalyze(ctx context.Context, req UltraRequest) (any, error) {
	return m.reply(ctx, OpUltra, req.Model, req)
}

// GenerateSummary records the request and returns the scripted error, if any.
func (m *MockService) GenerateSummary(ctx context.Context, req SummaryRequest) error {
	_, err := m.reply(ctx, OpSummary, "", req)
	select {
	case m.summary <- req:
	default:
	}
	return err
}

func (m *MockService) reply(ctx context.Context, op, model string, req any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Op: op, Model: model, Request: req})
	var r MockReply
	var ok bool
	if q := m.queued[op]; len(q) > 0 {
		r, ok = q[0], true
		m.queued[op] = q[1:]
	} else {
		r, ok = m.always[op]
	}
	m.mu.Unlock()

	if !ok {
		if op == OpSummary {
			return nil, nil
		}
		return nil, fmt.Errorf("mock reasoning: no reply scripted for %s", op)
	}
	if r.Started != nil {
		close(r.Started)
	}
	if r.Wait != nil {
		select {
		case <-r.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Response, r.Err
}
