package chatIO

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the server side of one session key.
type Session struct {
	id           uuid.UUID
	mtx          *sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
	messages     int
}

func newSession(id uuid.UUID) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		mtx:          &sync.Mutex{},
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) touch() {
	s.mtx.Lock()
	s.messages++
	s.lastActivity = time.Now()
	s.mtx.Unlock()
}

// Messages returns how many chat messages the session has sent.
func (s *Session) Messages() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.messages
}
