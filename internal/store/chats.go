// ABOUTME: Chat metadata persistence for the SQLite store
// ABOUTME: One record per (world, chat); deleting a chat also drops its events

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveChatData inserts or updates chat metadata.
func (s *SQLiteStore) SaveChatData(ctx context.Context, c *Chat) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (world_id, id, name, description, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(world_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`,
		c.WorldID, c.ID, c.Name, c.Description, c.MessageCount,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("saving chat %s: world %s: %w", c.ID, c.WorldID, ErrNotFound)
		}
		return fmt.Errorf("saving chat: %w", err)
	}
	return nil
}

// LoadChatData retrieves chat metadata.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) LoadChatData(ctx context.Context, worldID, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT world_id, id, name, description, message_count, created_at, updated_at
		FROM chats
		WHERE world_id = ? AND id = ?
	`, worldID, chatID)

	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return c, nil
}

// ListChats returns a world's chats, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, worldID string) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT world_id, id, name, description, message_count, created_at, updated_at
		FROM chats
		WHERE world_id = ?
		ORDER BY updated_at DESC, id ASC
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}
	return chats, nil
}

// DeleteChatData removes chat metadata and the chat's event partition.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) DeleteChatData(ctx context.Context, worldID, chatID string) error {
	unlock := s.locks.lock(worldID, chatID)
	defer unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM chats WHERE world_id = ? AND id = ?`,
			worldID, chatID,
		)
		if err != nil {
			return fmt.Errorf("deleting chat: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE world_id = ? AND chat_key = ?`,
			worldID, chatID,
		); err != nil {
			return fmt.Errorf("deleting chat events: %w", err)
		}
		return nil
	})
}

func scanChat(row rowScanner) (*Chat, error) {
	var (
		c          Chat
		createdStr string
		updatedStr string
	)

	if err := row.Scan(&c.WorldID, &c.ID, &c.Name, &c.Description, &c.MessageCount, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	var err error
	c.CreatedAt, err = parseTime(createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.UpdatedAt, err = parseTime(updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}
