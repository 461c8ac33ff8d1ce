// Package session tracks authenticated connections and fans messages out to
// peers. Sessions are keyed by an opaque connection id; other components
// store only those ids and look live fields up here.
package session

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateIdentity reports that the username or email already has an
	// active session. Registration must not mutate state when it fails.
	ErrDuplicateIdentity = errors.New("session: identity already active")
	ErrNotFound          = errors.New("session: not found")
)

// Sender delivers one framed message to a connection.
type Sender interface {
	Send(payload []byte) error
}

// Session is one connected, authenticated client.
type Session struct {
	ConnID   string
	UserID   int64
	Username string
	Email    string
	Document string // "" while in the lobby

	sender Sender
}

// Send forwards payload to the client.
func (s *Session) Send(payload []byte) error {
	return s.sender.Send(payload)
}

// Registry is the process-wide session table. It is injected into the
// connection loop rather than kept as a package global so tests can build
// isolated instances.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byConn: make(map[string]*Session)}
}

// Register adds a session for connID. At most one active session may exist
// per username and per email.
func (r *Registry) Register(connID string, userID int64, username, email string, sender Sender) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byConn {
		if s.Username == username || s.Email == email {
			return nil, ErrDuplicateIdentity
		}
	}
	s := &Session{
		ConnID:   connID,
		UserID:   userID,
		Username: username,
		Email:    email,
		sender:   sender,
	}
	r.byConn[connID] = s
	return s, nil
}

// Lookup returns the session bound to connID.
func (r *Registry) Lookup(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// LookupUsername returns the session of an active user by name.
func (r *Registry) LookupUsername(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byConn {
		if s.Username == username {
			return s, true
		}
	}
	return nil, false
}

// Active reports whether a session exists for the username or email.
func (r *Registry) Active(username, email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byConn {
		if s.Username == username || s.Email == email {
			return true
		}
	}
	return false
}

// SetDocument updates the session's current document ("" = back to lobby).
func (r *Registry) SetDocument(connID, doc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return ErrNotFound
	}
	s.Document = doc
	return nil
}

// Remove drops the session and returns it so the caller can run
// document-leave cleanup.
func (r *Registry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	return s, true
}

// Snapshot returns a copy of every session's public fields.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, *s)
	}
	return out
}
