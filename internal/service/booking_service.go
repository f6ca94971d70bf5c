package service

import (
	"booking-engine/internal/engine"
	"booking-engine/internal/events"
	"booking-engine/internal/model"
	"booking-engine/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidSessionWindow = errors.New("session window is invalid")

type BookingService interface {
	CreateSession(ctx context.Context, session *model.Session) (*model.Session, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID) error
	Book(ctx context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID) error
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error)
	ActiveReservationsFor(ctx context.Context, memberID uuid.UUID) ([]model.ReservationDetails, error)
	SessionAvailability(sessionID uuid.UUID) (engine.SessionState, error)
	RestoreState(ctx context.Context) error
	CompleteEndedSessions(ctx context.Context) (int, error)
}

type bookingService struct {
	engine    *engine.Engine
	sessions  repository.SessionRepository
	ledger    repository.ReservationLedger
	publisher events.EventPublisher
	now       func() time.Time
}

func NewBookingService(bookingEngine *engine.Engine, sessions repository.SessionRepository, ledger repository.ReservationLedger, publisher events.EventPublisher) BookingService {
	return &bookingService{
		engine:    bookingEngine,
		sessions:  sessions,
		ledger:    ledger,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *bookingService) CreateSession(ctx context.Context, session *model.Session) (*model.Session, error) {
	if !session.Window().Valid() || !s.now().Before(session.StartAt) {
		return nil, ErrInvalidSessionWindow
	}

	created, err := s.sessions.Create(ctx, session)

	if err != nil {
		return nil, err
	}

	s.engine.RegisterSession(*created, 0)

	go s.publisher.PublishSessionCreated(created)

	return created, nil
}

// CloseSession stops new bookings for a session. Cancellations keep
// releasing slots until the completion sweep retires it.
func (s *bookingService) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	closed, err := s.sessions.Close(ctx, sessionID)

	if err != nil {
		return err
	}

	if !closed {
		session, findErr := s.sessions.FindByID(ctx, sessionID)
		if findErr != nil {
			return findErr
		}
		if session == nil {
			return engine.ErrSessionNotFound
		}

		// Already closed or completed; closing again is a no-op.
		return nil
	}

	if err := s.engine.CloseSession(sessionID); err != nil && !errors.Is(err, engine.ErrSessionNotFound) {
		return err
	}

	go s.publisher.PublishSessionClosed(sessionID)

	return nil
}

func (s *bookingService) Book(ctx context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error) {
	reservation, err := s.engine.Book(ctx, memberID, sessionID)

	if err != nil {
		return nil, err
	}

	go s.publisher.PublishReservationBooked(reservation)

	return reservation, nil
}

func (s *bookingService) Cancel(ctx context.Context, reservationID uuid.UUID) error {
	cancelled, err := s.engine.Cancel(ctx, reservationID)

	if err != nil {
		return err
	}

	if cancelled != nil {
		go s.publisher.PublishReservationCancelled(cancelled)
	}

	return nil
}

func (s *bookingService) GetReservation(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	reservation, err := s.ledger.FindByID(ctx, reservationID)

	if err != nil {
		return nil, err
	}

	if reservation == nil {
		return nil, engine.ErrReservationNotFound
	}

	return reservation, nil
}

func (s *bookingService) ActiveReservationsFor(ctx context.Context, memberID uuid.UUID) ([]model.ReservationDetails, error) {
	return s.ledger.ListActiveByMember(ctx, memberID)
}

func (s *bookingService) SessionAvailability(sessionID uuid.UUID) (engine.SessionState, error) {
	return s.engine.SessionState(sessionID)
}

// RestoreState re-derives the engine's in-memory projections from the
// system of record. Called once at startup, before requests are served.
func (s *bookingService) RestoreState(ctx context.Context) error {
	now := s.now()

	sessions, err := s.sessions.ListOpen(ctx, now)
	if err != nil {
		return fmt.Errorf("listing open sessions: %w", err)
	}

	counts, err := s.ledger.CountActiveBySession(ctx)
	if err != nil {
		return fmt.Errorf("counting active reservations: %w", err)
	}

	open := make(map[uuid.UUID]bool, len(sessions))
	for _, session := range sessions {
		s.engine.RegisterSession(session, counts[session.ID])
		open[session.ID] = true
	}

	windows, err := s.ledger.ActiveWindows(ctx)
	if err != nil {
		return fmt.Errorf("loading active windows: %w", err)
	}

	restored := 0
	for _, window := range windows {
		if !open[window.SessionID] {
			// Ended but not yet swept; the completion sweep owns it.
			continue
		}

		s.engine.RestoreReservation(window.MemberID, window.SessionID, model.Window{StartAt: window.StartAt, EndAt: window.EndAt})
		restored++
	}

	slog.InfoContext(ctx, "Engine state restored", slog.Int("sessions", len(sessions)), slog.Int("reservations", restored))

	return nil
}

// CompleteEndedSessions marks every still-booked reservation of an
// ended session completed and retires the session. Completion is not
// cancellation: no capacity is released.
func (s *bookingService) CompleteEndedSessions(ctx context.Context) (int, error) {
	ended, err := s.sessions.ListEnded(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("listing ended sessions: %w", err)
	}

	swept := 0
	for _, session := range ended {
		reservations, err := s.ledger.ListActiveBySession(ctx, session.ID)
		if err != nil {
			return swept, fmt.Errorf("listing reservations for session %s: %w", session.ID, err)
		}

		completed := 0
		for _, reservation := range reservations {
			transitioned, err := s.ledger.MarkCompleted(ctx, reservation.ID)
			if err != nil {
				return swept, fmt.Errorf("completing reservation %s: %w", reservation.ID, err)
			}
			if transitioned {
				completed++
			}
		}

		if err := s.sessions.MarkCompleted(ctx, session.ID); err != nil {
			return swept, fmt.Errorf("completing session %s: %w", session.ID, err)
		}

		s.engine.RetireSession(session.ID)
		swept++

		go s.publisher.PublishSessionCompleted(session.ID, completed)
	}

	return swept, nil
}

// RunCompletionSweep completes ended sessions every interval until ctx
// is cancelled. Run it in its own goroutine.
func RunCompletionSweep(ctx context.Context, svc BookingService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := svc.CompleteEndedSessions(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Completion sweep failed", slog.String("error", err.Error()))
				continue
			}
			if swept > 0 {
				slog.InfoContext(ctx, "Completed ended sessions", slog.Int("sessions", swept))
			}
		}
	}
}
