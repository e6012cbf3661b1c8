package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/jotlabs/memochat/store"
)

func (d *DB) UpsertMessage(ctx context.Context, message *store.Message) (*store.Message, error) {
	stmt := `
		INSERT INTO message (id, chat_id, role, content, created_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (id) DO UPDATE SET
			chat_id = excluded.chat_id,
			role = excluded.role,
			content = excluded.content,
			created_ts = excluded.created_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		message.ID,
		message.ChatID,
		message.Role,
		message.Content,
		message.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert message")
	}
	return message, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChatID != nil {
		where, args = append(where, "chat_id = "+placeholder(len(args)+1)), append(args, *find.ChatID)
	}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}

	// Id breaks created_ts ties so the order is stable across reloads.
	query := `SELECT id, chat_id, role, content, created_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		message := &store.Message{}
		if err := rows.Scan(
			&message.ID,
			&message.ChatID,
			&message.Role,
			&message.Content,
			&message.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, message)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	return list, nil
}
