package relay

import (
	"fmt"
	"sync"
	"time"

	"watchsync/internal/core/domain"

	"github.com/gorilla/websocket"
)

// endpoint is one WebSocket connection behind a per-connection write
// mutex. gorilla/websocket allows at most one concurrent writer, so every
// write to the conn, whether from its own read loop (pings, error replies)
// or from registry deliveries, must go through here.
type endpoint struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newEndpoint(conn *websocket.Conn, writeTimeout time.Duration) *endpoint {
	return &endpoint{conn: conn, writeTimeout: writeTimeout}
}

func (e *endpoint) writeJSON(v interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	return e.conn.WriteJSON(v)
}

func (e *endpoint) ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	return e.conn.WriteMessage(websocket.PingMessage, nil)
}

// Registry maps room members to their current transport endpoint. It is
// the delivery half of the event relay: broadcasts reach every current
// member, targeted sends reach exactly one.
type Registry struct {
	rooms map[domain.RoomID]map[domain.UserID]*endpoint
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]map[domain.UserID]*endpoint),
	}
}

// Register binds a user's endpoint, replacing any previous one (reconnect
// updates the endpoint reference; room state is untouched).
func (r *Registry) Register(roomID domain.RoomID, userID domain.UserID, ep *endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[domain.UserID]*endpoint)
		r.rooms[roomID] = members
	}
	members[userID] = ep
}

// Unregister removes the binding only if it still points at ep, so a
// reconnect that already replaced the endpoint is not torn down by the
// old connection's cleanup. Reports whether the binding was removed.
func (r *Registry) Unregister(roomID domain.RoomID, userID domain.UserID, ep *endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}

	removed := false
	if current, ok := members[userID]; ok && current == ep {
		delete(members, userID)
		removed = true
	}
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return removed
}

func (r *Registry) BroadcastToRoom(roomID domain.RoomID, event string, payload interface{}) {
	r.mu.RLock()
	endpoints := make([]*endpoint, 0, len(r.rooms[roomID]))
	for _, ep := range r.rooms[roomID] {
		endpoints = append(endpoints, ep)
	}
	r.mu.RUnlock()

	msg := outbound{Event: event, Payload: payload}
	for _, ep := range endpoints {
		// Best effort: a dead member is reaped by its own read loop.
		ep.writeJSON(msg)
	}
}

func (r *Registry) SendToUser(roomID domain.RoomID, to domain.UserID, event string, payload interface{}) error {
	r.mu.RLock()
	ep, ok := r.rooms[roomID][to]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %s in room %s: %w", to, roomID, domain.ErrTargetUnreachable)
	}

	if err := ep.writeJSON(outbound{Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("write to user %s: %w", to, domain.ErrTransportUnavailable)
	}
	return nil
}

// ConnectionCount reports how many endpoints are currently registered.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, members := range r.rooms {
		n += len(members)
	}
	return n
}

// outbound mirrors protocol.Envelope but carries the payload unserialized
// so WriteJSON marshals it in one pass.
type outbound struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}
