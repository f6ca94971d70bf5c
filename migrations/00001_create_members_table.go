package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateMembersTable, downCreateMembersTable)
}

func upCreateMembersTable(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE members (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  email TEXT UNIQUE NOT NULL,
	  name TEXT,
	  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
	);
	`

	_, err := tx.ExecContext(ctx, query)

	if err != nil {
		return err
	}

	return nil
}

func downCreateMembersTable(ctx context.Context, tx *sql.Tx) error {
	query := `DROP TABLE IF EXISTS members;`
	_, err := tx.ExecContext(ctx, query)
	if err != nil {
		return err
	}
	return nil
}
