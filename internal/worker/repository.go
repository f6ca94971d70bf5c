package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type TokenRepository interface {
	DeviceTokensFor(ctx context.Context, memberID uuid.UUID) ([]string, error)
}

type postgresTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresTokenRepository(db *sqlx.DB) TokenRepository {
	return &postgresTokenRepository{db: db}
}

func (r *postgresTokenRepository) DeviceTokensFor(ctx context.Context, memberID uuid.UUID) ([]string, error) {
	var tokens []string
	query := `SELECT device_token FROM member_device_tokens WHERE member_id = $1`
	err := r.db.SelectContext(ctx, &tokens, query, memberID)
	return tokens, err
}
