package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub tracks the one live connection per user and fans events out to them.
// It is never the source of truth: a push to an offline user is dropped and
// the client catches up from the durable store on its next fetch.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Connection // userID -> live connection
	log      *logrus.Entry
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Connection),
		log:      logrus.WithField("component", "realtime_hub"),
	}
}

// Join attaches conn as the user's session. A previous session for the same
// user is superseded and closed after the swap: reconnects after a network
// blip are idempotent, last writer wins.
func (h *Hub) Join(conn *Connection) {
	h.mu.Lock()
	previous := h.sessions[conn.UserID]
	h.sessions[conn.UserID] = conn
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
		h.log.WithField("user_id", conn.UserID).Debug("superseded previous session")
	}
}

// Leave detaches conn if it is still the user's current session. A stale
// leave from a superseded connection does not knock out the new one.
func (h *Hub) Leave(conn *Connection) {
	h.mu.Lock()
	if current, ok := h.sessions[conn.UserID]; ok && current.ID == conn.ID {
		delete(h.sessions, conn.UserID)
	}
	h.mu.Unlock()
}

// Push delivers event to the user's session if one is live. The return
// value reports whether a delivery attempt was made against a live session,
// not whether the remote rendered it; the product's "delivered" state is
// inferred from this best-effort attempt.
func (h *Hub) Push(userID string, event Event) bool {
	h.mu.RLock()
	conn := h.sessions[userID]
	h.mu.RUnlock()
	if conn == nil {
		return false
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("event", event.Type).Error("failed to encode event")
		return false
	}
	if err := conn.Send(payload); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event.Type,
		}).Warn("push failed, client will recover via fetch")
		return false
	}
	return true
}

// Connected reports whether the user currently has a live session.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[userID] != nil
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		sessions = append(sessions, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "hub shutdown")
	}
}
