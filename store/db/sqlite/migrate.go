package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

var migrationStmts = []string{
	`CREATE TABLE IF NOT EXISTS chat_session (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		use_memories INTEGER NOT NULL DEFAULT 0,
		title_requested INTEGER NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_session_updated_ts ON chat_session (updated_ts)`,
	`CREATE TABLE IF NOT EXISTS message (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_chat_id ON message (chat_id)`,
	`CREATE INDEX IF NOT EXISTS idx_message_created_ts ON message (created_ts)`,
	`CREATE TABLE IF NOT EXISTS memory_cache (
		user_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_ts BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, memory_id)
	)`,
}

// Migrate creates the schema when missing. Statements are idempotent, so a
// restart against an initialized database is a no-op.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration statement")
		}
	}
	return nil
}
