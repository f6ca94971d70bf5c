package repository

import (
	"booking-engine/internal/model"
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) (*model.Session, error)
	FindByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error)
	ListOpen(ctx context.Context, now time.Time) ([]model.Session, error)
	ListEnded(ctx context.Context, now time.Time) ([]model.Session, error)
	Close(ctx context.Context, sessionID uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, sessionID uuid.UUID) error
}

type postgresSessionRepository struct {
	db *sqlx.DB
}

func NewPostgresSessionRepository(db *sqlx.DB) SessionRepository {
	return &postgresSessionRepository{db: db}
}

func (r *postgresSessionRepository) Create(ctx context.Context, session *model.Session) (*model.Session, error) {
	query := `
		INSERT INTO course_sessions (course_id, coach_id, title, start_at, end_at, capacity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at
	`

	row := r.db.QueryRowxContext(ctx, query, session.CourseID, session.CoachID, session.Title, session.StartAt, session.EndAt, session.Capacity)
	err := row.Scan(&session.ID, &session.Status, &session.CreatedAt)

	if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *postgresSessionRepository) FindByID(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	var session model.Session
	query := `SELECT * FROM course_sessions WHERE id = $1`
	err := r.db.GetContext(ctx, &session, query, sessionID)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return &session, nil
}

// ListOpen returns sessions that can still hold active reservations:
// anything not yet completed whose window has not fully passed.
func (r *postgresSessionRepository) ListOpen(ctx context.Context, now time.Time) ([]model.Session, error) {
	var sessions []model.Session
	query := `
		SELECT * FROM course_sessions
		WHERE status != 'completed' AND end_at > $1
		ORDER BY start_at ASC
	`

	err := r.db.SelectContext(ctx, &sessions, query, now)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

func (r *postgresSessionRepository) ListEnded(ctx context.Context, now time.Time) ([]model.Session, error) {
	var sessions []model.Session
	query := `
		SELECT * FROM course_sessions
		WHERE status != 'completed' AND end_at <= $1
		ORDER BY end_at ASC
	`

	err := r.db.SelectContext(ctx, &sessions, query, now)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

func (r *postgresSessionRepository) Close(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `UPDATE course_sessions SET status = 'closed' WHERE id = $1 AND status = 'scheduled'`

	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *postgresSessionRepository) MarkCompleted(ctx context.Context, sessionID uuid.UUID) error {
	query := `UPDATE course_sessions SET status = 'completed' WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}
