package interview

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/intake/internal/notify"
	"github.com/zulandar/intake/internal/reasoning"
)

// sideEffectTimeout bounds background summary and notice calls.
const sideEffectTimeout = 30 * time.Second

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Service  reasoning.Service
	Store    *Store          // optional; sessions are memory-only without it
	Notifier notify.Notifier // optional
	Policy   Policy          // defaults to DefaultPolicy()

	Models         []string      // model fallback order
	RetryAttempts  int           // defaults to 3
	RetryBaseDelay time.Duration // defaults to 1s

	RequesterID             string // used when a request names none
	BaselineConfidence      int    // defaults to 85
	TargetConfidence        int    // defaults to 90
	AskMoreTargetConfidence int    // defaults to 95

	// For testing.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	NewID func() string
}

// Manager owns live interview sessions and every operation on them.
type Manager struct {
	svc           reasoning.Service
	store         *Store
	notifier      notify.Notifier
	policy        Policy
	models        ModelRegistry
	attempts      int
	baseDelay     time.Duration
	requesterID   string
	baseline      int
	target        int
	askMoreTarget int
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
	newID         func() string

	initGuard *Guard

	mu       sync.Mutex
	sessions map[string]*tracked

	bg sync.WaitGroup
}

// tracked is a live session plus its guard and subscribers.
type tracked struct {
	guard *Guard

	mu           sync.Mutex
	s            Session
	subs         map[int]chan Progress
	nextSub      int
	fallbacks    int // contextual questions used so far
	lastAttempts int // attempts made by the most recent continue call
	lastActive   time.Time
}

func newTracked(s Session) *tracked {
	return &tracked{
		guard:      NewGuard(),
		s:          s,
		subs:       make(map[int]chan Progress),
		lastActive: s.UpdatedAt,
	}
}

// enter acquires name on the session guard. It fails if name or any other
// mutating operation is already in flight.
func (t *tracked) enter(name string) (func(), bool) {
	release, ok := t.guard.Acquire(name)
	if !ok {
		return release, false
	}
	for _, other := range []string{lockSubmit, lockComplete, lockEscalate, lockArchive} {
		if other != name && t.guard.Held(other) {
			release()
			return func() {}, false
		}
	}
	return release, true
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("interview: service is required")
	}
	m := &Manager{
		svc:           opts.Service,
		store:         opts.Store,
		notifier:      opts.Notifier,
		policy:        opts.Policy,
		models:        NewModelRegistry(opts.Models...),
		attempts:      opts.RetryAttempts,
		baseDelay:     opts.RetryBaseDelay,
		requesterID:   opts.RequesterID,
		baseline:      opts.BaselineConfidence,
		target:        opts.TargetConfidence,
		askMoreTarget: opts.AskMoreTargetConfidence,
		sleep:         opts.Sleep,
		now:           opts.Now,
		newID:         opts.NewID,
		initGuard:     NewGuard(),
		sessions:      make(map[string]*tracked),
	}
	if m.policy == (Policy{}) {
		m.policy = DefaultPolicy()
	}
	if m.attempts <= 0 {
		m.attempts = 3
	}
	if m.baseDelay == 0 {
		m.baseDelay = time.Second
	}
	if m.baseline <= 0 {
		m.baseline = 85
	}
	if m.target <= 0 {
		m.target = 90
	}
	if m.askMoreTarget <= 0 {
		m.askMoreTarget = 95
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m, nil
}

// Policy returns the termination policy in use.
func (m *Manager) Policy() Policy { return m.policy }

// Wait blocks until background summary and notice calls have finished.
func (m *Manager) Wait() { m.bg.Wait() }

// Get returns a snapshot of a session, loading it from the store if it is
// not live.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return m.snapshot(t), nil
}

// List returns session summaries, newest first.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]Summary, error) {
	if m.store != nil {
		return m.store.List(ctx, f)
	}

	m.mu.Lock()
	live := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		live = append(live, t)
	}
	m.mu.Unlock()

	var out []Summary
	for _, t := range live {
		s := m.snapshot(t)
		if f.Phase != "" && s.Phase != f.Phase {
			continue
		}
		if f.RequesterID != "" && s.RequesterID != f.RequesterID {
			continue
		}
		out = append(out, summarize(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Subscribe returns a channel of progress updates for a session, starting
// with its current state. Slow readers only miss intermediate updates. The
// channel is closed by cancel or when the session is archived.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Progress, func(), error) {
	t, err := m.lookup(ctx, id)
	if err != nil {
		return nil, func() {}, err
	}
	ch := make(chan Progress, 8)

	t.mu.Lock()
	subID := t.nextSub
	t.nextSub++
	t.subs[subID] = ch
	ch <- m.progress(t.s)
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[subID]; ok {
				delete(t.subs, subID)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// lookup finds a live session, or rehydrates it from the store.
func (m *Manager) lookup(ctx context.Context, id string) (*tracked, error) {
	m.mu.Lock()
	t, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return t, nil
	}
	if m.store == nil {
		return nil, newError(KindSessionNotFound, "lookup", "session %s", id)
	}

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	t = newTracked(s)
	m.sessions[id] = t
	return t, nil
}

func (m *Manager) register(t *tracked) {
	id := m.snapshot(t).ID
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = t
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *Manager) snapshot(t *tracked) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s.Clone()
}

// update applies fn to the live session, then persists and publishes the
// result. It returns a snapshot taken after fn.
func (m *Manager) update(t *tracked, fn func(s *Session)) Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
	now := m.now()
	t.s.UpdatedAt = now
	t.lastActive = now
	snap := t.s.Clone()
	m.persist(snap)
	m.publish(t)
	return snap
}

// persist writes the session to the store. Failures are logged; the live
// session stays authoritative.
func (m *Manager) persist(s Session) {
	if m.store == nil || s.ID == "" {
		return
	}
	if err := m.store.Save(context.Background(), s); err != nil {
		log.Printf("interview: persist session %s: %v", s.ID, err)
	}
}

// publish fans the current progress out to subscribers. Caller holds t.mu.
func (m *Manager) publish(t *tracked) {
	p := m.progress(t.s)
	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
			// Drop the oldest pending update in favor of this one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

func (m *Manager) progress(s Session) Progress {
	return Progress{
		SessionID:        s.ID,
		Phase:            s.Phase,
		Confidence:       cloneInt(s.Confidence),
		TargetConfidence: s.TargetConfidence,
		TurnNumber:       s.TurnNumber,
		Tier:             s.Tier,
		AskMoreEnabled:   m.askMoreEnabled(s),
	}
}

// askMoreEnabled reports whether an Ask Me More round could start now.
func (m *Manager) askMoreEnabled(s Session) bool {
	if s.LocalOnly {
		return false
	}
	if s.Phase != PhaseAwaitingAnalysis && s.Phase != PhaseCompleted {
		return false
	}
	return m.policy.AskMoreBudget(s.TurnNumber) > 0
}

func (m *Manager) retrier(t *tracked, op string) Retrier {
	return Retrier{
		Models:      m.models,
		MaxAttempts: m.attempts,
		BaseDelay:   m.baseDelay,
		Sleep:       m.sleep,
		OnRetry: func(attempt int, model string, err error) {
			t.mu.Lock()
			t.s.RetryCount = attempt + 1
			id := t.s.ID
			t.mu.Unlock()
			log.Printf("interview: session %s: %s attempt %d/%d (model %s) failed: %v",
				id, op, attempt+1, m.attempts, model, err)
		},
	}
}

// afterAnalysis runs the best-effort side effects of a new analysis.
func (m *Manager) afterAnalysis(s Session, summarize bool) {
	if summarize {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			err := m.svc.GenerateSummary(ctx, reasoning.SummaryRequest{
				ResultID:    s.ResultID,
				RequesterID: s.RequesterID,
			})
			if err != nil {
				log.Printf("interview: session %s: summary request failed: %v", s.ID, err)
			}
		}()
	}

	if m.notifier == nil {
		return
	}
	n := noticeFor(s)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, n); err != nil {
			log.Printf("interview: session %s: notify failed: %v", s.ID, err)
		}
	}()
}

func noticeFor(s Session) notify.Notice {
	n := notify.Notice{
		SessionID:      s.ID,
		RequesterID:    s.RequesterID,
		Tier:           string(s.Tier),
		BodyArea:       s.Subject.BodyArea,
		Symptoms:       s.Subject.Symptoms,
		Confidence:     cloneInt(s.Confidence),
		QuestionsAsked: s.TurnNumber,
	}
	if r, ok := s.Analyses[s.Tier]; ok {
		n.Insights = append([]string(nil), r.CriticalInsights...)
	}
	return n
}

// initKey identifies a start request for duplicate suppression.
func initKey(requester string, req StartRequest) string {
	if req.ContinueFrom != "" {
		return "init:" + requester + ":continue:" + req.ContinueFrom
	}
	parts := []string{
		subjectArea(req.Subject),
		strings.ToLower(strings.TrimSpace(req.Subject.Category)),
		strings.ToLower(strings.TrimSpace(req.Subject.Symptoms)),
	}
	return "init:" + requester + ":" + strings.Join(parts, "|")
}
