package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCourseSessionsTable, downCreateCourseSessionsTable)
}

func upCreateCourseSessionsTable(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE course_sessions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			course_id UUID NOT NULL,
			coach_id UUID NOT NULL,
			title TEXT NOT NULL,
			start_at TIMESTAMP WITH TIME ZONE NOT NULL,
			end_at TIMESTAMP WITH TIME ZONE NOT NULL,
			capacity INT NOT NULL CHECK (capacity > 0),
			status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'closed', 'completed')),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
			CHECK (end_at > start_at)
		);

		CREATE INDEX idx_course_sessions_status_end_at ON course_sessions(status, end_at);
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateCourseSessionsTable(ctx context.Context, tx *sql.Tx) error {
	query := `DROP TABLE IF EXISTS course_sessions;`
	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}
