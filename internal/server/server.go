// Package server runs the collaborative editing service: it accepts TCP
// connections, decodes framed requests, and drives the session registry,
// room table, conflict resolution and storage collaborators.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"coedit.org/internal/chatcipher"
	"coedit.org/internal/content"
	"coedit.org/internal/room"
	"coedit.org/internal/session"
	"coedit.org/internal/store"
)

var (
	errNotAuthenticated = errors.New("not logged in")
	errNotInDocument    = errors.New("not inside a document")
	errPermissionDenied = errors.New("no permission for this document")
)

// Config carries the collaborators and tunables for a Server.
type Config struct {
	Store   store.Store
	Content *content.Store
	Cipher  chatcipher.Codec

	// RetentionWindow bounds the conflict-resolution history. Zero selects
	// the room package default.
	RetentionWindow time.Duration

	// RequestsPerSecond / Burst shape the per-connection token bucket.
	// Zero values select 100 rps with a burst of 200.
	RequestsPerSecond float64
	Burst             int
}

// Server owns the accept loop and the live in-process state.
type Server struct {
	store   store.Store
	content *content.Store
	cipher  chatcipher.Codec
	reg     *session.Registry
	rooms   *room.Table

	rps   float64
	burst int

	now func() time.Time

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

// New builds a Server. A nil Cipher falls back to plaintext transcripts.
func New(cfg Config) *Server {
	cipher := cfg.Cipher
	if cipher == nil {
		cipher = chatcipher.Plain{}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 100
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 200
	}
	return &Server{
		store:   cfg.Store,
		content: cfg.Content,
		cipher:  cipher,
		reg:     session.NewRegistry(),
		rooms:   room.NewTable(cfg.RetentionWindow),
		rps:     rps,
		burst:   burst,
		now:     time.Now,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}
}

// ListenAndServe binds addr and serves until Close. A bind failure is
// returned immediately; callers treat it as fatal.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, closes every open connection and waits for the
// per-connection goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound listener address, for tests that listen on :0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// sessionFor resolves the authenticated session for a connection.
func (s *Server) sessionFor(connID string) (*session.Session, error) {
	sess, ok := s.reg.Lookup(connID)
	if !ok {
		return nil, errNotAuthenticated
	}
	return sess, nil
}

// documentSessionFor additionally requires the session to be inside a
// document.
func (s *Server) documentSessionFor(connID string) (*session.Session, error) {
	sess, err := s.sessionFor(connID)
	if err != nil {
		return nil, err
	}
	if sess.Document == "" {
		return nil, errNotInDocument
	}
	return sess, nil
}
