package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one relay session between two peers. Sessions live only
// in memory; a server restart drops them and clients must start over.
type Session struct {
	SenderPeerID   string
	ReceiverPeerID string
	Status         string
	CreatedAt      time.Time
}

// Sessions tracks in-flight relay sessions keyed by session id.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Initiate opens a relay session between two peers and returns its id.
func (s *Sessions) Initiate(senderPeerID, receiverPeerID string) string {
	sessionID := uuid.NewString()

	s.mu.Lock()
	s.sessions[sessionID] = &Session{
		SenderPeerID:   senderPeerID,
		ReceiverPeerID: receiverPeerID,
		Status:         "initiated",
		CreatedAt:      time.Now(),
	}
	s.mu.Unlock()

	return sessionID
}

// Get returns a snapshot of a session.
func (s *Sessions) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// MarkCompleted records that the final chunk passed through a session.
func (s *Sessions) MarkCompleted(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		sess.Status = "completed"
	}
}

// Drop removes a session.
func (s *Sessions) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// DropForPeer removes every session the peer participates in. A relay
// session cannot outlive either participant's connection.
func (s *Sessions) DropForPeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.SenderPeerID == peerID || sess.ReceiverPeerID == peerID {
			delete(s.sessions, id)
		}
	}
}
