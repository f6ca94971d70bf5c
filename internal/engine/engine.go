package engine

import (
	"booking-engine/internal/model"
	"booking-engine/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Engine admits, rejects and cancels reservations. The capacity store
// and schedule index are in-memory projections owned exclusively by
// the engine; the reservation ledger is the durable system of record
// and wins on any disagreement. Both projections are re-derived from
// the ledger at startup.
type Engine struct {
	capacity *CapacityStore
	schedule *ScheduleIndex
	ledger   repository.ReservationLedger
	members  repository.MemberRepository
	now      func() time.Time
}

func New(ledger repository.ReservationLedger, members repository.MemberRepository) *Engine {
	return &Engine{
		capacity: NewCapacityStore(),
		schedule: NewScheduleIndex(),
		ledger:   ledger,
		members:  members,
		now:      time.Now,
	}
}

// RegisterSession makes a session bookable. The booked argument seeds
// the count when restoring from the ledger; new sessions pass zero.
func (e *Engine) RegisterSession(session model.Session, booked int) {
	e.capacity.Register(session, booked)
}

// RestoreReservation re-adds a booked reservation's window to the
// schedule index during startup restore.
func (e *Engine) RestoreReservation(memberID, sessionID uuid.UUID, window model.Window) {
	e.schedule.Add(memberID, sessionID, window)
}

func (e *Engine) CloseSession(sessionID uuid.UUID) error {
	return e.capacity.Close(sessionID)
}

// RetireSession drops a completed session from both projections.
func (e *Engine) RetireSession(sessionID uuid.UUID) {
	e.capacity.Remove(sessionID)
	e.schedule.RemoveSession(sessionID)
}

// Book runs one reservation request to a terminal outcome: a committed
// reservation, or one of the expected rejection errors in errors.go.
func (e *Engine) Book(ctx context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error) {
	window, closed, ok := e.capacity.meta(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	exists, err := e.members.Exists(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("checking member: %w", err)
	}
	if !exists {
		return nil, ErrMemberNotFound
	}

	if closed {
		return nil, ErrSessionClosed
	}
	if !e.now().Before(window.StartAt) {
		return nil, ErrSessionStarted
	}

	// Overlap check against the member's other active windows. The
	// candidate's own session is skipped: a duplicate of the same
	// session must fall through to the ledger's uniqueness check,
	// which is authoritative for that case.
	for _, active := range e.schedule.ActiveWindows(memberID) {
		if active.SessionID == sessionID {
			continue
		}
		if window.Overlaps(active.Window) {
			return nil, ErrScheduleConflict
		}
	}

	if err := e.capacity.Reserve(sessionID); err != nil {
		return nil, err
	}

	reservation := &model.Reservation{
		SessionID: sessionID,
		MemberID:  memberID,
		Status:    model.ReservationBooked,
	}

	if _, err := e.ledger.Append(ctx, reservation); err != nil {
		// The slot was reserved before the append; give it back before
		// reporting or the capacity leaks.
		e.capacity.Release(sessionID)

		if errors.Is(err, repository.ErrDuplicateActiveReservation) {
			return nil, ErrAlreadyBooked
		}

		return nil, fmt.Errorf("appending reservation: %w", err)
	}

	e.schedule.Add(memberID, sessionID, window)

	return reservation, nil
}

// Cancel is idempotent: an unknown or already-terminal reservation is
// a successful no-op returning nil. The reservation is returned only
// when this call performed the transition, which is also the only case
// that releases the slot and removes the window. Concurrent cancels of
// the same reservation release exactly once.
func (e *Engine) Cancel(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	reservation, err := e.ledger.FindByID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("finding reservation: %w", err)
	}
	if reservation == nil || reservation.Status != model.ReservationBooked {
		return nil, nil
	}

	cancelledAt := e.now().UTC()
	transitioned, err := e.ledger.MarkCancelled(ctx, reservationID, cancelledAt)
	if err != nil {
		return nil, fmt.Errorf("marking cancelled: %w", err)
	}
	if !transitioned {
		// Lost the race to a concurrent cancel; that call released.
		return nil, nil
	}

	e.capacity.Release(reservation.SessionID)
	e.schedule.Remove(reservation.MemberID, reservation.SessionID)

	reservation.Status = model.ReservationCancelled
	reservation.CancelledAt = &cancelledAt

	return reservation, nil
}

// SessionState is the advisory (capacity, booked) snapshot.
func (e *Engine) SessionState(sessionID uuid.UUID) (SessionState, error) {
	return e.capacity.Snapshot(sessionID)
}
