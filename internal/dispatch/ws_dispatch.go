package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-coordinator/internal/ride"
)

const writeWait = 5 * time.Second

// WSSession is one connected passenger app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(u ride.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(u)
}

// WSRegistry holds one socket per passenger session. A newer connection
// replaces the older one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(sessionID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[sessionID]
	r.sessions[sessionID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops the session only if s is still the registered one.
func (r *WSRegistry) Remove(sessionID string, s *WSSession) {
	r.mu.Lock()
	if r.sessions[sessionID] == s {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

func (r *WSRegistry) Connected(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

func (r *WSRegistry) Notify(_ context.Context, u ride.Update) error {
	r.mu.RLock()
	s, ok := r.sessions[u.SessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(u); err != nil {
		r.Remove(u.SessionID, s)
		return err
	}
	return nil
}

// Serve keeps reading from the socket until the client goes away so that
// control frames are processed, then unregisters it.
func (r *WSRegistry) Serve(sessionID string, s *WSSession) {
	defer r.Remove(sessionID, s)
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
