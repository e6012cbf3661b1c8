package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jotlabs/memochat/store"
)

// ReplaceMemoryCache clears the user's cached snapshot and inserts the new
// one in a single transaction.
func (d *DB) ReplaceMemoryCache(ctx context.Context, userID string, entries []*store.MemoryEntry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_cache WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "failed to clear memory cache")
	}

	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_cache (user_id, memory_id, text, created_ts) VALUES ($1, $2, $3, $4)`,
			userID, entry.ID, entry.Text, entry.CreatedTs,
		); err != nil {
			return errors.Wrapf(err, "failed to insert memory cache entry %s", entry.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit memory cache replace")
	}
	return nil
}

func (d *DB) ListMemoryCache(ctx context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	query := `SELECT memory_id, user_id, text, created_ts
		FROM memory_cache
		WHERE user_id = $1
		ORDER BY created_ts DESC, memory_id ASC`

	rows, err := d.db.QueryContext(ctx, query, find.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory cache")
	}
	defer rows.Close()

	list := make([]*store.MemoryEntry, 0)
	for rows.Next() {
		entry := &store.MemoryEntry{}
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Text, &entry.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory cache entry")
		}
		list = append(list, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory cache")
	}

	return list, nil
}
