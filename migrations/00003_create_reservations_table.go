package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateReservationsTable, downCreateReservationsTable)
}

func upCreateReservationsTable(ctx context.Context, tx *sql.Tx) error {
	// The partial unique index is the hard backstop for the one active
	// reservation per member per session rule. Cancelled and completed
	// rows stay behind as history and do not block rebooking.
	query := `
		CREATE TABLE reservations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			session_id UUID NOT NULL REFERENCES course_sessions(id) ON DELETE RESTRICT,
			member_id UUID NOT NULL REFERENCES members(id) ON DELETE RESTRICT,
			status TEXT NOT NULL DEFAULT 'booked' CHECK (status IN ('booked', 'cancelled', 'completed')),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
			cancelled_at TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX uniq_reservations_active_member_session
			ON reservations(member_id, session_id)
			WHERE status = 'booked';

		CREATE INDEX idx_reservations_member_status ON reservations(member_id, status);
		CREATE INDEX idx_reservations_session_status ON reservations(session_id, status);
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateReservationsTable(ctx context.Context, tx *sql.Tx) error {
	query := `DROP TABLE IF EXISTS reservations;`
	_, err := tx.ExecContext(ctx, query)
	if err != nil {
		return err
	}
	return nil
}
