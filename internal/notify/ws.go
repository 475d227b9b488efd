package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// ErrNoSession is returned when a passenger has no open websocket.
var ErrNoSession = errors.New("no ws session")

// wsConn is the part of *websocket.Conn a session needs.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// wsSession serializes writes to one connection.
type wsSession struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// SessionRegistry holds passenger websocket sessions. One session per passenger;
// a new connection replaces the previous one.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*wsSession)}
}

// Add registers conn for passengerID.
func (r *SessionRegistry) Add(passengerID string, conn *websocket.Conn) {
	r.add(passengerID, conn)
}

func (r *SessionRegistry) add(passengerID string, conn wsConn) {
	r.mu.Lock()
	old := r.sessions[passengerID]
	r.sessions[passengerID] = &wsSession{conn: conn}
	r.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove drops the session if it still belongs to conn.
func (r *SessionRegistry) Remove(passengerID string, conn *websocket.Conn) {
	r.remove(passengerID, conn)
}

func (r *SessionRegistry) remove(passengerID string, conn wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[passengerID]; ok && s.conn == conn {
		delete(r.sessions, passengerID)
	}
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Send writes v to the passenger's session.
func (r *SessionRegistry) Send(passengerID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[passengerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(v)
}

// Notify pushes ev to the passenger. A passenger without an open session is
// not an error: the outcome is still returned on the HTTP response.
func (r *SessionRegistry) Notify(_ context.Context, ev Event) error {
	err := r.Send(ev.PassengerID, ev)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// Close sends a close frame to every session and empties the registry.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*wsSession)
	r.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range sessions {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = s.conn.Close()
		s.mu.Unlock()
	}
}
