package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/geo"
	"github.com/AnTengye/contractsign/signing"
	"github.com/AnTengye/contractsign/verification"
	"github.com/google/uuid"
)

// Session kinds
const (
	KindSigning      = "signing"
	KindVerification = "verification"
)

// PageSession binds one browser page to its controller. Exactly one of
// Flow and Verification is set; Relay feeds the page's position reports
// to Flow.
type PageSession struct {
	ID           string
	Kind         string
	Flow         *signing.Flow
	Relay        *geo.Relay
	Verification *verification.Session
	CreatedAt    time.Time

	order uint64
}

func (p *PageSession) close() {
	if p.Flow != nil {
		p.Flow.Close()
	}
	if p.Verification != nil {
		p.Verification.Close()
	}
}

// SessionStore is an in-memory registry of page sessions. Removing a
// session closes its controller.
type SessionStore struct {
	sessions    map[string]*PageSession
	mu          sync.RWMutex
	seq         uint64
	maxSessions int // 0 = unlimited
}

func NewSessionStore(cfg *config.SessionConfig) *SessionStore {
	maxSessions := cfg.MaxSessions
	if maxSessions < 0 {
		maxSessions = 0
	}
	slog.Info("session store initialized", "max_sessions", maxSessions)
	return &SessionStore{
		sessions:    make(map[string]*PageSession),
		maxSessions: maxSessions,
	}
}

// AddFlow registers a signing flow and returns its session
func (s *SessionStore) AddFlow(flow *signing.Flow, relay *geo.Relay) *PageSession {
	return s.add(&PageSession{Kind: KindSigning, Flow: flow, Relay: relay})
}

// AddVerification registers a verification session and returns it
func (s *SessionStore) AddVerification(v *verification.Session) *PageSession {
	return s.add(&PageSession{Kind: KindVerification, Verification: v})
}

func (s *SessionStore) add(p *PageSession) *PageSession {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()

	s.mu.Lock()
	s.seq++
	p.order = s.seq
	s.sessions[p.ID] = p
	evicted := s.cleanupIfNeeded()
	s.mu.Unlock()

	for _, old := range evicted {
		old.close()
	}
	return p
}

func (s *SessionStore) Get(id string) *PageSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Delete removes a session and closes its controller
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	p, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		p.close()
	}
}

// CloseAll closes every controller, for shutdown
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*PageSession)
	s.mu.Unlock()

	for _, p := range sessions {
		p.close()
	}
}

// cleanupIfNeeded removes the oldest sessions beyond maxSessions and
// returns them so they can be closed outside the lock.
// Must be called with lock held
func (s *SessionStore) cleanupIfNeeded() []*PageSession {
	if s.maxSessions <= 0 || len(s.sessions) <= s.maxSessions {
		return nil
	}

	sessions := make([]*PageSession, 0, len(s.sessions))
	for _, p := range s.sessions {
		sessions = append(sessions, p)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].order < sessions[j].order
	})

	removeCount := len(sessions) - s.maxSessions
	evicted := sessions[:removeCount]
	for _, p := range evicted {
		slog.Info("evicting page session",
			"session_id", p.ID,
			"kind", p.Kind,
			"created_at", p.CreatedAt,
		)
		delete(s.sessions, p.ID)
	}
	return evicted
}

// Count returns the number of live sessions
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
