package tutor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vistoamigo/tutor/idgen"
	"github.com/vistoamigo/tutor/knowledge"
)

// ErrSessionNotFound is returned by Hub lookups for unknown session IDs.
var ErrSessionNotFound = errors.New("tutor: session not found")

// Hub owns the live sessions of one process. It assigns IDs, starts each
// session's event loop, and tears everything down on Shutdown.
type Hub struct {
	table   *knowledge.Table
	checker Checker
	logger  *slog.Logger
	newID   idgen.Generator
	opts    []Option

	mu       sync.Mutex
	sessions map[string]*hubEntry
	closed   bool
}

type hubEntry struct {
	session *Session
	cancel  context.CancelFunc
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubIDGenerator overrides the session-ID generator.
func WithHubIDGenerator(gen idgen.Generator) HubOption {
	return func(h *Hub) { h.newID = gen }
}

// WithSessionOptions sets Options applied to every created session.
func WithSessionOptions(opts ...Option) HubOption {
	return func(h *Hub) { h.opts = opts }
}

// NewHub creates an empty session registry.
func NewHub(table *knowledge.Table, checker Checker, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		table:    table,
		checker:  checker,
		logger:   logger,
		newID:    idgen.Prefixed("sess_", idgen.NanoID(12)),
		sessions: make(map[string]*hubEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Create starts a new session for the given visa type and returns it running.
func (h *Hub) Create(visaType string, opts ...Option) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("tutor: hub is shut down")
	}

	id := h.newID()
	all := append(append([]Option{}, h.opts...), opts...)
	s := NewSession(id, visaType, h.table, h.checker, h.logger, all...)

	ctx, cancel := context.WithCancel(context.Background())
	h.sessions[id] = &hubEntry{session: s, cancel: cancel}
	go s.Run(ctx)

	h.logger.Info("tutor: session created", "session", id, "visa_type", visaType, "live", len(h.sessions))
	return s, nil
}

// Get returns the session with the given ID.
func (h *Hub) Get(id string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Remove stops and forgets the session with the given ID.
func (h *Hub) Remove(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.cancel()
	delete(h.sessions, id)
	h.logger.Info("tutor: session removed", "session", id, "live", len(h.sessions))
	return nil
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown stops every session. The hub accepts no new sessions afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, e := range h.sessions {
		e.cancel()
		delete(h.sessions, id)
	}
	h.logger.Info("tutor: hub shut down")
}
