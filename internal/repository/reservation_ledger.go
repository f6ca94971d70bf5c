package repository

import (
	"booking-engine/internal/model"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateActiveReservation is returned by Append when the member
// already holds a booked reservation for the same session. It is backed
// by the partial unique index on (member_id, session_id) for booked rows.
var ErrDuplicateActiveReservation = errors.New("member already holds an active reservation for this session")

const uniqueViolationCode = "23505"

// ActiveWindow is one booked reservation's time window, used to rebuild
// the in-memory schedule index from the ledger.
type ActiveWindow struct {
	MemberID  uuid.UUID `db:"member_id"`
	SessionID uuid.UUID `db:"session_id"`
	StartAt   time.Time `db:"start_at"`
	EndAt     time.Time `db:"end_at"`
}

type ReservationLedger interface {
	Append(ctx context.Context, reservation *model.Reservation) (*model.Reservation, error)
	FindByID(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error)
	FindActive(ctx context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error)
	MarkCancelled(ctx context.Context, reservationID uuid.UUID, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, reservationID uuid.UUID) (bool, error)
	ListActiveByMember(ctx context.Context, memberID uuid.UUID) ([]model.ReservationDetails, error)
	ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Reservation, error)
	ActiveWindows(ctx context.Context) ([]ActiveWindow, error)
	CountActiveBySession(ctx context.Context) (map[uuid.UUID]int, error)
}

type postgresReservationLedger struct {
	db *sqlx.DB
}

func NewPostgresReservationLedger(db *sqlx.DB) ReservationLedger {
	return &postgresReservationLedger{db: db}
}

func (r *postgresReservationLedger) Append(ctx context.Context, reservation *model.Reservation) (*model.Reservation, error) {
	query := `
		INSERT INTO reservations (session_id, member_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	row := r.db.QueryRowxContext(ctx, query, reservation.SessionID, reservation.MemberID, reservation.Status)
	err := row.Scan(&reservation.ID, &reservation.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrDuplicateActiveReservation
		}

		return nil, err
	}

	return reservation, nil
}

func (r *postgresReservationLedger) FindByID(ctx context.Context, reservationID uuid.UUID) (*model.Reservation, error) {
	var reservation model.Reservation
	query := `SELECT * FROM reservations WHERE id = $1`
	err := r.db.GetContext(ctx, &reservation, query, reservationID)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return &reservation, nil
}

func (r *postgresReservationLedger) FindActive(ctx context.Context, memberID, sessionID uuid.UUID) (*model.Reservation, error) {
	var reservation model.Reservation
	query := `SELECT * FROM reservations WHERE member_id = $1 AND session_id = $2 AND status = 'booked'`
	err := r.db.GetContext(ctx, &reservation, query, memberID, sessionID)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return &reservation, nil
}

// MarkCancelled reports whether this call performed the transition, so
// the caller releases capacity exactly once per reservation even under
// concurrent cancels.
func (r *postgresReservationLedger) MarkCancelled(ctx context.Context, reservationID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'booked'
	`

	res, err := r.db.ExecContext(ctx, query, reservationID, at)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *postgresReservationLedger) MarkCompleted(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	query := `
		UPDATE reservations
		SET status = 'completed'
		WHERE id = $1 AND status = 'booked'
	`

	res, err := r.db.ExecContext(ctx, query, reservationID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *postgresReservationLedger) ListActiveByMember(ctx context.Context, memberID uuid.UUID) ([]model.ReservationDetails, error) {
	var reservations []model.ReservationDetails
	query := `
		SELECT r.id, r.session_id, r.status, s.title, s.start_at, s.end_at, r.created_at
		FROM reservations r
		JOIN course_sessions s ON r.session_id = s.id
		WHERE r.member_id = $1 AND r.status = 'booked'
		ORDER BY s.start_at ASC
	`

	err := r.db.SelectContext(ctx, &reservations, query, memberID)
	if err != nil {
		return nil, err
	}

	if reservations == nil {
		reservations = []model.ReservationDetails{}
	}

	return reservations, nil
}

func (r *postgresReservationLedger) ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Reservation, error) {
	var reservations []model.Reservation
	query := `SELECT * FROM reservations WHERE session_id = $1 AND status = 'booked'`

	err := r.db.SelectContext(ctx, &reservations, query, sessionID)
	if err != nil {
		return nil, err
	}

	return reservations, nil
}

func (r *postgresReservationLedger) ActiveWindows(ctx context.Context) ([]ActiveWindow, error) {
	var windows []ActiveWindow
	query := `
		SELECT r.member_id, r.session_id, s.start_at, s.end_at
		FROM reservations r
		JOIN course_sessions s ON r.session_id = s.id
		WHERE r.status = 'booked'
	`

	err := r.db.SelectContext(ctx, &windows, query)
	return windows, err
}

func (r *postgresReservationLedger) CountActiveBySession(ctx context.Context) (map[uuid.UUID]int, error) {
	rows := []struct {
		SessionID uuid.UUID `db:"session_id"`
		Booked    int       `db:"booked"`
	}{}
	query := `
		SELECT session_id, COUNT(*) AS booked
		FROM reservations
		WHERE status = 'booked'
		GROUP BY session_id
	`

	err := r.db.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.SessionID] = row.Booked
	}

	return counts, nil
}
