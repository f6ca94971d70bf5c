package model

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationBooked    ReservationStatus = "booked"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCompleted ReservationStatus = "completed"
)

type Reservation struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	SessionID   uuid.UUID         `db:"session_id" json:"session_id"`
	MemberID    uuid.UUID         `db:"member_id" json:"member_id"`
	Status      ReservationStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	CancelledAt *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// ReservationDetails is a reservation joined with its session, for
// member-facing listings.
type ReservationDetails struct {
	ID        uuid.UUID         `db:"id" json:"id"`
	SessionID uuid.UUID         `db:"session_id" json:"session_id"`
	Status    ReservationStatus `db:"status" json:"status"`
	Title     string            `db:"title" json:"title"`
	StartAt   time.Time         `db:"start_at" json:"start_at"`
	EndAt     time.Time         `db:"end_at" json:"end_at"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}
