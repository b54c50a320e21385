// session.go — Streamable HTTP session store: session ids, per-session
// SSE event ring, and Last-Event-Id replay.
//
// Each session's event log is a bounded slice guarded by a mutex, with a
// monotonic position counter so stale cursors can be detected.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrGapDetected is returned by Replay when the requested Last-Event-Id
// is older than the oldest event still retained: the client must
// re-initialize instead of resuming.
var ErrGapDetected = errors.New("session: replay gap detected")

// ErrNotFound is returned when an operation targets an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Event is one SSE event stored in a session's ring.
type Event struct {
	ID      int64
	Payload string
}

// Session is one logical client conversation bound to Mcp-Session-Id.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	lastSeen     time.Time
	ring         []Event
	maxEvents    int
	nextEventID  int64
	oldestInRing int64 // id of ring[0], 0 if ring is empty
}

func newSession(id string, now time.Time, maxEvents int) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		lastSeen:  now,
		maxEvents: maxEvents,
		ring:      make([]Event, 0, maxEvents),
	}
}

// Touch updates last-seen, used by housekeeping to evict idle sessions.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// AppendEvent assigns the next monotonic event id, stores the payload, and
// evicts the oldest ring entry if full. maxEvents == 0 disables the ring
// entirely (every append is immediately discarded; replay always reports
// a gap).
func (s *Session) AppendEvent(payload string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	id := s.nextEventID
	if s.maxEvents <= 0 {
		return id
	}
	if len(s.ring) >= s.maxEvents {
		s.ring = s.ring[1:]
	}
	s.ring = append(s.ring, Event{ID: id, Payload: payload})
	if len(s.ring) > 0 {
		s.oldestInRing = s.ring[0].ID
	}
	return id
}

// Replay returns every event with ID > lastEventID still retained, in
// increasing order. If lastEventID predates the oldest retained event (or
// the ring is disabled), ErrGapDetected is returned.
func (s *Session) Replay(lastEventID int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxEvents <= 0 {
		return nil, ErrGapDetected
	}
	if len(s.ring) == 0 {
		if lastEventID >= s.nextEventID {
			return nil, nil
		}
		return nil, ErrGapDetected
	}
	if lastEventID > 0 && lastEventID < s.oldestInRing-1 {
		return nil, ErrGapDetected
	}
	out := make([]Event, 0, len(s.ring))
	for _, e := range s.ring {
		if e.ID > lastEventID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Store maps session id (uuid) to Session.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	maxEvents  int
	sessionTTL time.Duration
	now        func() time.Time
	newUUID    func() string
}

// NewStore creates a Store. maxEventsPerSession bounds each session's SSE
// ring; sessionTimeout is the idle duration after which Housekeep removes
// a session.
func NewStore(maxEventsPerSession int, sessionTimeout time.Duration) *Store {
	return &Store{
		sessions:   make(map[string]*Session),
		maxEvents:  maxEventsPerSession,
		sessionTTL: sessionTimeout,
		now:        time.Now,
		newUUID:    func() string { return uuid.NewString() },
	}
}

// Create allocates a new session with an empty event ring and returns its id.
func (st *Store) Create() string {
	id := st.newUUID()
	now := st.now()
	s := newSession(id, now, st.maxEvents)
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	return id
}

// Get returns the session for id, or (nil, false) if unknown.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Touch refreshes the last-seen time for id; returns ErrNotFound if id is
// unknown.
func (st *Store) Touch(id string) error {
	s, ok := st.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.Touch(st.now())
	return nil
}

// AppendEvent appends payload to id's event ring.
func (st *Store) AppendEvent(id, payload string) (int64, error) {
	s, ok := st.Get(id)
	if !ok {
		return 0, ErrNotFound
	}
	return s.AppendEvent(payload), nil
}

// Replay returns events after lastEventID for id.
func (st *Store) Replay(id string, lastEventID int64) ([]Event, error) {
	s, ok := st.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Replay(lastEventID)
}

// Destroy removes id and drops its event ring.
func (st *Store) Destroy(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Housekeep removes sessions idle longer than sessionTimeout, returning
// the count removed. A non-positive sessionTimeout disables expiry.
func (st *Store) Housekeep() int {
	if st.sessionTTL <= 0 {
		return 0
	}
	now := st.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.idleSince(now) > st.sessionTTL {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
