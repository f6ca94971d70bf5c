package migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upCreateMemberDeviceTokens, downCreateMemberDeviceTokens)
}

func upCreateMemberDeviceTokens(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS member_device_tokens (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			member_id UUID NOT NULL REFERENCES members(id) ON DELETE CASCADE,
			device_token TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_member_device_tokens_member_id ON member_device_tokens(member_id);
	`)
	return err
}

func downCreateMemberDeviceTokens(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS member_device_tokens;`)
	return err
}
