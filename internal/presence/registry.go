// Package presence tracks which connections have joined the chat and under
// which display name.
package presence

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrAlreadyJoined is returned by Put when the connection already owns a session.
var ErrAlreadyJoined = errors.New("connection already joined")

// ConnID identifies a single transport connection for its whole lifetime.
type ConnID string

// Session is the record kept for a connection that completed the join handshake.
type Session struct {
	ConnectionID ConnID
	DisplayName  string
	JoinedAt     time.Time

	seq uint64
}

// Registry maps connection ids to sessions.
//
// Mutations are expected to come from a single serialized caller (the relay
// engine); the lock exists so read-only collaborators such as the health
// endpoint can take snapshots from other goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[ConnID]Session
	nextSeq  uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[ConnID]Session)}
}

// Put registers a new session. An existing session is never overwritten.
func (r *Registry) Put(id ConnID, displayName string, joinedAt time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return Session{}, ErrAlreadyJoined
	}
	r.nextSeq++
	s := Session{
		ConnectionID: id,
		DisplayName:  displayName,
		JoinedAt:     joinedAt,
		seq:          r.nextSeq,
	}
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session and returns it. Removing an unknown id is a no-op.
func (r *Registry) Remove(id ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// All returns a snapshot of the current sessions in join order.
func (r *Registry) All() []Session {
	r.mu.RLock()
	all := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b Session) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return all
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
