package fanout

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/auth"
	"github.com/alpr-fleet/fleet-server/internal/metrics"
)

// Session is one authenticated viewer connection. A session lives exactly as
// long as its token: the manager disconnects the client at expiry.
type Session struct {
	SID       string
	Claims    *auth.Claims
	ExpiresAt time.Time

	client *Client

	// index is the heap position, -1 once removed. Guarded by the manager.
	index   int
	evicted bool
}

// SessionManager tracks viewer sessions and evicts them when their tokens
// expire. A min-heap orders sessions by expiry; the sweeper sleeps until the
// nearest deadline and is woken through a channel whenever an earlier one is
// inserted.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byExpiry sessionHeap

	wake     chan struct{}
	sweepMax time.Duration
}

// NewSessionManager creates a session manager. sweepMax caps how long the
// sweeper sleeps without re-checking, bounding drift from clock adjustments.
func NewSessionManager(sweepMax time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		byExpiry: make(sessionHeap, 0),
		wake:     make(chan struct{}, 1),
		sweepMax: sweepMax,
	}
}

// Add registers a session and wakes the sweeper when the new session expires
// before anything already tracked.
func (m *SessionManager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.SID] = s
	heap.Push(&m.byExpiry, s)
	first := m.byExpiry[0] == s
	m.mu.Unlock()

	metrics.ViewerSessions.Inc()
	if first {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

// Get returns a live session by id.
func (m *SessionManager) Get(sid string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// Remove drops a session, typically on client disconnect. The heap entry is
// invalidated in place and discarded when it surfaces.
func (m *SessionManager) Remove(sid string) {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
		s.evicted = true
	}
	m.mu.Unlock()

	if ok {
		metrics.ViewerSessions.Dec()
	}
}

// Run sweeps expired sessions until ctx ends.
func (m *SessionManager) Run(ctx context.Context) {
	timer := time.NewTimer(m.sweepMax)
	defer timer.Stop()

	for {
		wait := m.sweep()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
		}
	}
}

// sweep evicts every expired session and returns how long the sweeper may
// sleep before the next deadline.
func (m *SessionManager) sweep() time.Duration {
	now := time.Now()

	var evict []*Session
	m.mu.Lock()
	for m.byExpiry.Len() > 0 {
		s := m.byExpiry[0]
		if s.evicted {
			heap.Pop(&m.byExpiry)
			continue
		}
		if s.ExpiresAt.After(now) {
			break
		}
		heap.Pop(&m.byExpiry)
		s.evicted = true
		delete(m.sessions, s.SID)
		evict = append(evict, s)
	}

	wait := m.sweepMax
	if m.byExpiry.Len() > 0 {
		if d := m.byExpiry[0].ExpiresAt.Sub(now); d < wait {
			wait = d
		}
	}
	m.mu.Unlock()

	for _, s := range evict {
		metrics.ViewerSessions.Dec()
		log.Info().Str("sid", s.SID).Str("user", s.Claims.PersonalNumber).Msg("Viewer session expired")
		if s.client != nil {
			s.client.CloseExpired()
		}
	}

	return wait
}

// sessionHeap orders sessions by ascending expiry.
type sessionHeap []*Session

func (h sessionHeap) Len() int            { return len(h) }
func (h sessionHeap) Less(i, j int) bool  { return h[i].ExpiresAt.Before(h[j].ExpiresAt) }
func (h sessionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *sessionHeap) Push(x interface{}) { s := x.(*Session); s.index = len(*h); *h = append(*h, s) }

func (h *sessionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}
