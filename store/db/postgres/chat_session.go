package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/jotlabs/memochat/store"
)

func (d *DB) UpsertChatSession(ctx context.Context, session *store.ChatSession) (*store.ChatSession, error) {
	stmt := `
		INSERT INTO chat_session (id, title, model_id, use_memories, title_requested, updated_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			model_id = excluded.model_id,
			use_memories = excluded.use_memories,
			title_requested = excluded.title_requested,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		session.ID,
		session.Title,
		session.ModelID,
		session.UseMemories,
		session.TitleRequested,
		session.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert chat session")
	}
	return session, nil
}

func (d *DB) ListChatSessions(ctx context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}

	query := `SELECT id, title, model_id, use_memories, title_requested, updated_ts
		FROM chat_session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat sessions")
	}
	defer rows.Close()

	list := make([]*store.ChatSession, 0)
	for rows.Next() {
		session := &store.ChatSession{}
		if err := rows.Scan(
			&session.ID,
			&session.Title,
			&session.ModelID,
			&session.UseMemories,
			&session.TitleRequested,
			&session.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat session")
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate chat sessions")
	}

	return list, nil
}

func (d *DB) UpdateChatSession(ctx context.Context, update *store.UpdateChatSession) (*store.ChatSession, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.ModelID != nil {
		set, args = append(set, "model_id = "+placeholder(len(args)+1)), append(args, *update.ModelID)
	}
	if update.UseMemories != nil {
		set, args = append(set, "use_memories = "+placeholder(len(args)+1)), append(args, *update.UseMemories)
	}
	if update.TitleRequested != nil {
		set, args = append(set, "title_requested = "+placeholder(len(args)+1)), append(args, *update.TitleRequested)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE chat_session SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, title, model_id, use_memories, title_requested, updated_ts`
	session := &store.ChatSession{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&session.ID,
		&session.Title,
		&session.ModelID,
		&session.UseMemories,
		&session.TitleRequested,
		&session.UpdatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("chat session %s not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update chat session")
	}

	return session, nil
}

// DeleteChatSession removes the session and all of its messages in one
// transaction.
func (d *DB) DeleteChatSession(ctx context.Context, delete *store.DeleteChatSession) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE chat_id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete session messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_session WHERE id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete chat session")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit session delete")
	}
	return nil
}
