// Package session tracks the lifecycle of active reassembly sessions —
// each a fragstream.Reader or rtpstream.Reader bound to one video feed —
// providing the create/remove/list surface cmd/vstreamd uses to address a
// running reader by key.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Engine identifies which reassembler backs a Session.
type Engine string

// Engine kinds a Session may wrap.
const (
	EngineFragstream Engine = "fragstream"
	EngineRTPStream  Engine = "rtpstream"
)

// Session is a handle on one running reader. The stop function passed to
// Create requests both of the
// reader's workers to exit; the registry does not itself join them — the
// caller that spawned the workers owns that.
type Session struct {
	Key       string
	Engine    Engine
	StartedAt time.Time

	stop func()
	done chan struct{}
}

// Stop requests the underlying reader's workers to exit. It is safe to call
// more than once.
func (s *Session) Stop() {
	s.stop()
}

// Done is closed once the session has been removed from its registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Registry tracks active sessions by key, rejecting duplicate keys the same
// way the reassemblers themselves refuse teardown until a reader's workers
// have exited.
type Registry struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry. If log is nil, slog.Default() is
// used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "session-registry"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under key, wrapping stopFn as the
// session's Stop. It returns the session and true, or nil and false if key
// is already registered.
func (r *Registry) Create(key string, engine Engine, stopFn func()) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[key]; ok {
		r.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Session{
		Key:       key,
		Engine:    engine,
		StartedAt: time.Now(),
		stop:      stopFn,
		done:      make(chan struct{}),
	}
	r.sessions[key] = s
	r.log.Info("session created", "key", key, "engine", engine)
	return s, true
}

// Get returns the session registered under key, if any.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove unregisters the session under key. Removing an unknown key is a
// no-op, matching the underlying readers' idempotent Stop semantics.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if ok {
		close(s.done)
		r.log.Info("session removed", "key", key)
	}
}

// List returns every currently registered session.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
