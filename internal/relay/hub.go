package relay

import (
	"context"
	"errors"
	"sync"

	"campuscard/internal/logging"
)

// ErrNoBridge is returned when a command needs the bridge and none is attached.
var ErrNoBridge = errors.New("relay: bridge not connected")

// Role distinguishes the one bridge connection from web clients.
type Role string

const (
	RoleBridge Role = "bridge"
	RoleClient Role = "client"
)

// sessionBuffer bounds each session's outbox. A session that cannot drain
// it in time is detached: at-most-once delivery, no backpressure on the hub.
const sessionBuffer = 32

// Session is one attached connection. The transport layer (websocket pump
// or an in-process consumer) drains Outbox and feeds Inbound.
type Session struct {
	Role   Role
	Outbox chan Envelope

	hub    *Hub
	closed bool
}

// StatusCache persists the last known reader status so a restarted server
// can still answer get-status. The redis implementation lives in this
// package; tests use the in-memory map inside the hub alone.
type StatusCache interface {
	Put(ctx context.Context, status ReaderStatus)
	Get(ctx context.Context) (ReaderStatus, bool)
}

// Hub fans bridge events out to every attached client in emission order and
// routes client commands back to the bridge. A single mutex-guarded
// broadcast path keeps the single-producer ordering guarantee.
type Hub struct {
	log   logging.Logger
	cache StatusCache

	mu         sync.Mutex
	bridge     *Session
	clients    map[*Session]struct{}
	lastStatus *ReaderStatus
}

func NewHub(log logging.Logger, cache StatusCache) *Hub {
	return &Hub{
		log:     log.With("module", "relay_hub"),
		cache:   cache,
		clients: make(map[*Session]struct{}),
	}
}

// Attach registers a new session. A second bridge replaces the first (the
// old connection is detached); clients accumulate. A joining client is
// immediately brought up to date with the cached reader status.
func (h *Hub) Attach(ctx context.Context, role Role) *Session {
	s := &Session{Role: role, Outbox: make(chan Envelope, sessionBuffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if role == RoleBridge {
		if h.bridge != nil {
			h.closeLocked(h.bridge)
		}
		h.bridge = s
		return s
	}

	h.clients[s] = struct{}{}
	if status, ok := h.statusLocked(ctx); ok {
		env, err := NewEnvelope(EventReaderStatus, status)
		if err == nil {
			h.deliverLocked(s, env)
		}
	}
	return s
}

// Detach removes a session and closes its outbox.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(s)
}

// Inbound routes one envelope arriving from a session.
func (h *Hub) Inbound(ctx context.Context, s *Session, env Envelope) {
	switch s.Role {
	case RoleBridge:
		h.fromBridge(ctx, env)
	case RoleClient:
		h.fromClient(ctx, s, env)
	}
}

// ToBridge routes a command envelope to the bridge connection.
func (h *Hub) ToBridge(ctx context.Context, env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bridge == nil {
		return ErrNoBridge
	}
	h.deliverLocked(h.bridge, env)
	return nil
}

// Broadcast sends a server-originated envelope to every client. Used by the
// attendance and payment consumers to push their outcomes to the UIs.
func (h *Hub) Broadcast(ctx context.Context, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(env)
}

// LastStatus returns the cached reader status, if any.
func (h *Hub) LastStatus(ctx context.Context) (ReaderStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(ctx)
}

func (h *Hub) fromBridge(ctx context.Context, env Envelope) {
	if env.Type == EventReaderStatus {
		var status ReaderStatus
		if err := env.Decode(&status); err != nil {
			h.log.Warn(ctx, "undecodable reader status", "error", err)
			return
		}
		h.mu.Lock()
		h.lastStatus = &status
		h.mu.Unlock()
		if h.cache != nil {
			h.cache.Put(ctx, status)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(env)
}

func (h *Hub) fromClient(ctx context.Context, s *Session, env Envelope) {
	switch env.Type {
	case EventGetStatus:
		h.mu.Lock()
		defer h.mu.Unlock()
		if status, ok := h.statusLocked(ctx); ok {
			if reply, err := NewEnvelope(EventReaderStatus, status); err == nil {
				h.deliverLocked(s, reply)
				return
			}
		}
		// Nothing cached yet: ask the bridge, its reply fans out to all.
		if h.bridge != nil {
			h.deliverLocked(h.bridge, env)
		}

	case EventRequestWrite:
		if err := h.ToBridge(ctx, env); err != nil {
			h.log.Warn(ctx, "request-write with no bridge attached")
		}

	default:
		h.log.Warn(ctx, "unexpected client event", "type", string(env.Type))
	}
}

func (h *Hub) broadcastLocked(env Envelope) {
	for s := range h.clients {
		h.deliverLocked(s, env)
	}
}

// deliverLocked enqueues without blocking; a full outbox detaches the
// session rather than stalling everyone behind one slow consumer.
func (h *Hub) deliverLocked(s *Session, env Envelope) {
	if s.closed {
		return
	}
	select {
	case s.Outbox <- env:
	default:
		h.log.Warn(context.Background(), "session outbox full, detaching", "role", string(s.Role))
		h.closeLocked(s)
	}
}

func (h *Hub) closeLocked(s *Session) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.Outbox)
	delete(h.clients, s)
	if h.bridge == s {
		h.bridge = nil
	}
}

func (h *Hub) statusLocked(ctx context.Context) (ReaderStatus, bool) {
	if h.lastStatus != nil {
		return *h.lastStatus, true
	}
	if h.cache != nil {
		if status, ok := h.cache.Get(ctx); ok {
			h.lastStatus = &status
			return status, true
		}
	}
	return ReaderStatus{}, false
}
