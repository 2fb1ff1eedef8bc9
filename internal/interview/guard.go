package interview

import "sync"

// Lock names held on a session's guard.
const (
	lockSubmit   = "submit"
	lockComplete = "complete"
	lockEscalate = "escalate"
	lockArchive  = "archive"
)

// Guard is a set of named in-flight flags. Entering a held name fails
// immediately instead of blocking, so a duplicate request becomes a no-op
// rather than a queued second call.
type Guard struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]bool)}
}

// TryEnter marks name as held. It returns false, changing nothing, if name is
// already held.
func (g *Guard) TryEnter(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[name] {
		return false
	}
	g.held[name] = true
	return true
}

// Exit releases name. Releasing a name that is not held is a no-op.
func (g *Guard) Exit(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, name)
}

// Held reports whether name is currently held.
func (g *Guard) Held(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[name]
}

// Busy reports whether any name is held.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held) > 0
}

// Acquire enters name and returns its release func, or ok=false if name is
// held. Callers defer the release so every exit path frees the flag:
//
//	release, ok := g.Acquire("submit")
//	if !ok {
//		return ...
//	}
//	defer release()
func (g *Guard) Acquire(name string) (release func(), ok bool) {
	if !g.TryEnter(name) {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { g.Exit(name) }) }, true
}
