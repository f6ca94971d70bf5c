package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionClosed    SessionStatus = "closed"
	SessionCompleted SessionStatus = "completed"
)

type Session struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	CourseID  uuid.UUID     `db:"course_id" json:"course_id"`
	CoachID   uuid.UUID     `db:"coach_id" json:"coach_id"`
	Title     string        `db:"title" json:"title"`
	StartAt   time.Time     `db:"start_at" json:"start_at"`
	EndAt     time.Time     `db:"end_at" json:"end_at"`
	Capacity  int           `db:"capacity" json:"capacity"`
	Status    SessionStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

func (s Session) Window() Window {
	return Window{StartAt: s.StartAt, EndAt: s.EndAt}
}
