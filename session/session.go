// session/session.go
package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wfunc/triviaserver/models"
	"github.com/wfunc/triviaserver/network"
	"github.com/wfunc/triviaserver/room"
)

// Session is one client connection. A player id is assigned on connect and
// may be replaced by the client's previous id in a hello message.
type Session struct {
	ID          string
	Conn        network.Connection
	PlayerID    string
	DisplayName string
	RoomCode    string
	Solo        *room.SoloGame
	CreatedAt   time.Time
	LastActive  time.Time
	limiter     *rate.Limiter
	mutex       sync.RWMutex
}

// NewSession creates a session. limit is the sustained packets per second the
// session may send, with bursts of burst; a zero limit disables limiting.
func NewSession(id string, conn network.Connection, limit rate.Limit, burst int) *Session {
	now := time.Now()
	s := &Session{
		ID:         id,
		Conn:       conn,
		PlayerID:   id,
		CreatedAt:  now,
		LastActive: now,
	}
	if limit > 0 {
		s.limiter = rate.NewLimiter(limit, burst)
	}
	return s
}

// Allow reports whether another inbound packet fits the rate limit.
func (s *Session) Allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.LastActive = time.Now()
}

// IdleSince reports whether nothing has been received since before t.
func (s *Session) IdleSince(t time.Time) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.LastActive.Before(t)
}

func (s *Session) SetPlayer(id, displayName string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.PlayerID = id
	s.DisplayName = displayName
}

// Player returns the roster entry this session plays as.
func (s *Session) Player() models.Player {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return models.Player{ID: s.PlayerID, DisplayName: s.DisplayName}
}

func (s *Session) SetRoom(code string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.RoomCode = code
}

func (s *Session) Room() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.RoomCode
}

func (s *Session) SetSolo(game *room.SoloGame) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Solo = game
}

func (s *Session) SoloGame() *room.SoloGame {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Solo
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of every session.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

// GetByRoom returns the sessions currently watching roomCode.
func (m *Manager) GetByRoom(roomCode string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.Room() == roomCode {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) GetByPlayerID(playerID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.Player().ID == playerID {
			result = append(result, session)
		}
	}
	return result
}
