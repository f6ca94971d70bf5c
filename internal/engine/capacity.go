package engine

import (
	"booking-engine/internal/model"
	"sync"

	"github.com/google/uuid"
)

// sessionSlots is one session's admission state. Its mutex is the
// per-session exclusive section: Reserve and Release for the same
// session serialize on it, while different sessions never contend.
type sessionSlots struct {
	mu       sync.Mutex
	capacity int
	booked   int
	window   model.Window
	closed   bool
}

// CapacityStore holds capacity and booked count per session and makes
// every admission decision. Booked counts are mutated only through
// Reserve and Release, so 0 <= booked <= capacity holds at all times.
type CapacityStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionSlots
}

func NewCapacityStore() *CapacityStore {
	return &CapacityStore{sessions: make(map[uuid.UUID]*sessionSlots)}
}

// SessionState is an advisory snapshot. It may be stale by the time the
// caller acts on it; only Reserve decides admission.
type SessionState struct {
	SessionID uuid.UUID `json:"session_id"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
}

func (s *CapacityStore) Register(session model.Session, booked int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = &sessionSlots{
		capacity: session.Capacity,
		booked:   booked,
		window:   session.Window(),
		closed:   session.Status == model.SessionClosed,
	}
}

func (s *CapacityStore) lookup(sessionID uuid.UUID) (*sessionSlots, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots, ok := s.sessions[sessionID]
	return slots, ok
}

func (s *CapacityStore) meta(sessionID uuid.UUID) (model.Window, bool, bool) {
	slots, ok := s.lookup(sessionID)
	if !ok {
		return model.Window{}, false, false
	}

	slots.mu.Lock()
	defer slots.mu.Unlock()

	return slots.window, slots.closed, true
}

// Reserve atomically admits one booking if a slot remains. Two callers
// competing for the last slot serialize on the session mutex, so
// exactly one is admitted and the other sees ErrCapacityExceeded.
func (s *CapacityStore) Reserve(sessionID uuid.UUID) error {
	slots, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	slots.mu.Lock()
	defer slots.mu.Unlock()

	if slots.booked >= slots.capacity {
		return ErrCapacityExceeded
	}

	slots.booked++
	return nil
}

// Release frees one slot, floored at zero so a duplicate or replayed
// cancellation can never drive the count negative. Releasing a session
// that is no longer registered is a no-op.
func (s *CapacityStore) Release(sessionID uuid.UUID) {
	slots, ok := s.lookup(sessionID)
	if !ok {
		return
	}

	slots.mu.Lock()
	defer slots.mu.Unlock()

	if slots.booked > 0 {
		slots.booked--
	}
}

func (s *CapacityStore) Snapshot(sessionID uuid.UUID) (SessionState, error) {
	slots, ok := s.lookup(sessionID)
	if !ok {
		return SessionState{}, ErrSessionNotFound
	}

	slots.mu.Lock()
	defer slots.mu.Unlock()

	return SessionState{SessionID: sessionID, Capacity: slots.capacity, Booked: slots.booked}, nil
}

func (s *CapacityStore) Close(sessionID uuid.UUID) error {
	slots, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	slots.mu.Lock()
	defer slots.mu.Unlock()

	slots.closed = true
	return nil
}

func (s *CapacityStore) Remove(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
}
