// ABOUTME: Connection directory mapping live connections to sessions and observers
// ABOUTME: Holds connections for lookup only; never owns session data

package directory

import "sync"

// Directory tracks which live connection represents which session ID and
// which connections observe all sessions. C is the connection handle type;
// handles are compared by identity.
type Directory[C comparable] struct {
	mu        sync.RWMutex
	bySession map[string]C
	byConn    map[C]map[string]struct{} // reverse index: conn -> bound session IDs
	observers map[C]struct{}
}

// Release describes what ReleaseConnection removed.
type Release struct {
	WasObserver bool     // the connection was in the observer set
	SessionIDs  []string // sessions whose binding pointed at the connection
}

// Stats is a point-in-time count of directory entries.
type Stats struct {
	Observers int // registered observer connections
	Bindings  int // session IDs with a bound connection
}

// New creates an empty Directory.
func New[C comparable]() *Directory[C] {
	return &Directory[C]{
		bySession: make(map[string]C),
		byConn:    make(map[C]map[string]struct{}),
		observers: make(map[C]struct{}),
	}
}

// BindSession records conn as the representative of sessionID, replacing any
// previous connection bound to that ID.
func (d *Directory[C]) BindSession(conn C, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.bySession[sessionID]; ok && prev != conn {
		d.unindexLocked(prev, sessionID)
	}

	d.bySession[sessionID] = conn
	ids, ok := d.byConn[conn]
	if !ok {
		ids = make(map[string]struct{})
		d.byConn[conn] = ids
	}
	ids[sessionID] = struct{}{}
}

// AddObserver marks conn as an observer.
func (d *Directory[C]) AddObserver(conn C) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers[conn] = struct{}{}
}

// RemoveObserver unmarks conn as an observer.
func (d *Directory[C]) RemoveObserver(conn C) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.observers, conn)
}

// IsObserver reports whether conn is currently an observer.
func (d *Directory[C]) IsObserver(conn C) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.observers[conn]
	return ok
}

// ResolveSessionConnection returns the connection bound to sessionID.
func (d *Directory[C]) ResolveSessionConnection(sessionID string) (C, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.bySession[sessionID]
	return conn, ok
}

// ReleaseConnection drops conn from the observer set and from every session
// binding that currently points at it. Bindings that were taken over by a
// newer connection are left alone.
func (d *Directory[C]) ReleaseConnection(conn C) Release {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rel Release
	if _, ok := d.observers[conn]; ok {
		rel.WasObserver = true
		delete(d.observers, conn)
	}

	for id := range d.byConn[conn] {
		if bound, ok := d.bySession[id]; ok && bound == conn {
			delete(d.bySession, id)
			rel.SessionIDs = append(rel.SessionIDs, id)
		}
	}
	delete(d.byConn, conn)

	return rel
}

// Observers returns a snapshot of the observer set in no particular order.
func (d *Directory[C]) Observers() []C {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]C, 0, len(d.observers))
	for conn := range d.observers {
		out = append(out, conn)
	}
	return out
}

// Stats returns current entry counts.
func (d *Directory[C]) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		Observers: len(d.observers),
		Bindings:  len(d.bySession),
	}
}

func (d *Directory[C]) unindexLocked(conn C, sessionID string) {
	ids, ok := d.byConn[conn]
	if !ok {
		return
	}
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(d.byConn, conn)
	}
}
