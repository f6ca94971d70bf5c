package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"booking-engine/internal/model"
)

// MemberRepository is the local replica of the membership service's
// member records, kept current by the member event subscriber.
type MemberRepository interface {
	Exists(ctx context.Context, memberID uuid.UUID) (bool, error)
	Upsert(ctx context.Context, member *model.Member) error
}

type postgresMemberRepository struct {
	db *sqlx.DB
}

func NewPostgresMemberRepository(db *sqlx.DB) MemberRepository {
	return &postgresMemberRepository{db: db}
}

func (r *postgresMemberRepository) Exists(ctx context.Context, memberID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`
	err := r.db.GetContext(ctx, &exists, query, memberID)

	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *postgresMemberRepository) Upsert(ctx context.Context, member *model.Member) error {
	query := `
		INSERT INTO members (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
	`

	_, err := r.db.ExecContext(ctx, query, member.ID, member.Email, member.Name)
	return err
}
