package settlement

import "sync"

// groupLocks serializes finalizes per group. Entries are reference
// counted and dropped once nobody holds or waits for them.
type groupLocks struct {
	mu    sync.Mutex
	locks map[GroupID]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[GroupID]*groupLock)}
}

// lock blocks until the caller holds the group's lock and returns the
// function that releases it.
func (g *groupLocks) lock(id GroupID) (unlock func()) {
	g.mu.Lock()
	l, ok := g.locks[id]
	if !ok {
		l = &groupLock{}
		g.locks[id] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, id)
		}
		g.mu.Unlock()
	}
}
