package engine

import (
	"booking-engine/internal/model"
	"sync"

	"github.com/google/uuid"
)

// ScheduledWindow is one entry in a member's active schedule.
type ScheduledWindow struct {
	SessionID uuid.UUID    `json:"session_id"`
	Window    model.Window `json:"window"`
}

// ScheduleIndex is the per-member view of active reservation windows
// used for overlap checks. It is a projection of the ledger: entries
// are added after a booking commits and removed after a cancellation
// commits, and the whole index can be rebuilt from the ledger.
type ScheduleIndex struct {
	mu      sync.RWMutex
	members map[uuid.UUID]map[uuid.UUID]model.Window
}

func NewScheduleIndex() *ScheduleIndex {
	return &ScheduleIndex{members: make(map[uuid.UUID]map[uuid.UUID]model.Window)}
}

func (i *ScheduleIndex) ActiveWindows(memberID uuid.UUID) []ScheduledWindow {
	i.mu.RLock()
	defer i.mu.RUnlock()

	sessions := i.members[memberID]
	windows := make([]ScheduledWindow, 0, len(sessions))
	for sessionID, window := range sessions {
		windows = append(windows, ScheduledWindow{SessionID: sessionID, Window: window})
	}

	return windows
}

func (i *ScheduleIndex) Add(memberID, sessionID uuid.UUID, window model.Window) {
	i.mu.Lock()
	defer i.mu.Unlock()

	sessions, ok := i.members[memberID]
	if !ok {
		sessions = make(map[uuid.UUID]model.Window)
		i.members[memberID] = sessions
	}

	sessions[sessionID] = window
}

func (i *ScheduleIndex) Remove(memberID, sessionID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()

	sessions, ok := i.members[memberID]
	if !ok {
		return
	}

	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(i.members, memberID)
	}
}

// RemoveSession drops every member's entry for one session, used when
// the completion sweep retires it.
func (i *ScheduleIndex) RemoveSession(sessionID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for memberID, sessions := range i.members {
		if _, ok := sessions[sessionID]; ok {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(i.members, memberID)
			}
		}
	}
}
