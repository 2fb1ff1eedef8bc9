package interview

import (
	"context"
	"log"
	"time"
)

// ArchiveIdle archives completed sessions that have been idle for longer
// than after. Live sessions are archived and evicted from memory; stored
// sessions not held in memory are swept in the store. It returns the total
// number archived.
func (m *Manager) ArchiveIdle(ctx context.Context, after time.Duration) (int, error) {
	cutoff := m.now().Add(-after)

	m.mu.Lock()
	live := make(map[string]*tracked, len(m.sessions))
	for id, t := range m.sessions {
		live[id] = t
	}
	m.mu.Unlock()

	archived := 0
	skip := make([]string, 0, len(live))
	for id, t := range live {
		skip = append(skip, id)
		if m.archiveTracked(t, cutoff) {
			m.forget(id)
			archived++
			log.Printf("interview: archived session %s", id)
		}
	}

	if m.store == nil {
		return archived, nil
	}
	n, err := m.store.ArchiveIdle(ctx, cutoff, skip)
	if err != nil {
		return archived, err
	}
	if n > 0 {
		log.Printf("interview: archived %d stored sessions", n)
	}
	return archived + n, nil
}

// archiveTracked archives one live session if it is completed and idle since
// before cutoff. Subscribers are closed.
func (m *Manager) archiveTracked(t *tracked, cutoff time.Time) bool {
	release, ok := t.enter(lockArchive)
	if !ok {
		return false
	}
	defer release()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.s.Phase != PhaseCompleted || t.s.Archived || !t.lastActive.Before(cutoff) {
		return false
	}
	t.s.Archived = true
	m.persist(t.s.Clone())
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	return true
}
