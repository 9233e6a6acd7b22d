package gearapi

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionDuplicated = errors.New("sessionId duplicated")
)

// SessionManager tracks the live sessions of this process so they can be
// closed together on shutdown.
type SessionManager struct {
	ID                string
	mu                sync.Mutex
	sessions          map[string]*Session
	numActiveSessions *atomic.Int32
}

func NewSessionManager() *SessionManager {
	sm := &SessionManager{
		ID:                uuid.NewString(),
		sessions:          map[string]*Session{},
		numActiveSessions: atomic.NewInt32(0),
	}
	log.Infow("SessionManager initialized", "id", sm.ID)
	return sm
}

func (sm *SessionManager) Connect(s *Session) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, found := sm.sessions[s.ID]; found {
		log.Errorw("Session already existed", "sessionId", s.ID)
		return ErrSessionDuplicated
	}
	sm.sessions[s.ID] = s
	sm.numActiveSessions.Inc()
	log.Debugw("Session connected", "sessionId", s.ID, "active", sm.numActiveSessions.Load())
	return nil
}

func (sm *SessionManager) Disconnect(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, found := sm.sessions[sessionID]; !found {
		log.Warnw("Could not disconnect session, session not found", "sessionId", sessionID)
		return ErrSessionNotFound
	}
	delete(sm.sessions, sessionID)
	sm.numActiveSessions.Dec()
	log.Debugw("Session disconnected", "sessionId", sessionID, "active", sm.numActiveSessions.Load())
	return nil
}

func (sm *SessionManager) Count() int {
	return int(sm.numActiveSessions.Load())
}

func (sm *SessionManager) SessionIDs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	keys := make([]string, 0, len(sm.sessions))
	for k := range sm.sessions {
		keys = append(keys, k)
	}
	return keys
}

// CloseAll sends every live session a close frame. Sessions deregister
// themselves once their read loop returns.
func (sm *SessionManager) CloseAll(code int, reason string) {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(code, reason)
		}(s)
	}
	wg.Wait()
	log.Infow("Closed all sessions", "count", len(sessions))
}
