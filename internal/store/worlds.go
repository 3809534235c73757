// ABOUTME: World persistence for the SQLite store
// ABOUTME: Save, load, list, and cascading delete of worlds

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveWorld inserts or updates a world.
func (s *SQLiteStore) SaveWorld(ctx context.Context, w *World) error {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	query := `
		INSERT INTO worlds (id, name, description, current_chat_id, turn_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			current_chat_id = excluded.current_chat_id,
			turn_limit = excluded.turn_limit,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		w.ID,
		w.Name,
		w.Description,
		w.CurrentChatID,
		w.TurnLimit,
		formatTime(w.CreatedAt),
		formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving world: %w", err)
	}

	s.logger.Debug("saved world", "id", w.ID)
	return nil
}

// CreateWorld inserts a new world, returning ErrDuplicateWorld if the id exists.
func (s *SQLiteStore) CreateWorld(ctx context.Context, w *World) error {
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worlds (id, name, description, current_chat_id, turn_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID, w.Name, w.Description, w.CurrentChatID, w.TurnLimit,
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateWorld
		}
		return fmt.Errorf("inserting world: %w", err)
	}
	return nil
}

// LoadWorld retrieves a world by ID.
// Returns ErrNotFound if the world doesn't exist.
func (s *SQLiteStore) LoadWorld(ctx context.Context, id string) (*World, error) {
	query := `
		SELECT id, name, description, current_chat_id, turn_limit, created_at, updated_at
		FROM worlds
		WHERE id = ?
	`

	w, err := scanWorld(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying world: %w", err)
	}
	return w, nil
}

// ListWorlds returns all worlds ordered by name.
func (s *SQLiteStore) ListWorlds(ctx context.Context) ([]*World, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, current_chat_id, turn_limit, created_at, updated_at
		FROM worlds
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying worlds: %w", err)
	}
	defer rows.Close()

	var worlds []*World
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning world: %w", err)
		}
		worlds = append(worlds, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating worlds: %w", err)
	}
	return worlds, nil
}

// DeleteWorld removes a world together with its agents, memories, chats, and
// events in one transaction.
// Returns ErrNotFound if the world doesn't exist.
func (s *SQLiteStore) DeleteWorld(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM agent_memory WHERE world_id = ?`,
			`DELETE FROM agents WHERE world_id = ?`,
			`DELETE FROM chats WHERE world_id = ?`,
			`DELETE FROM events WHERE world_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("deleting world children: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM worlds WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting world: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorld(row rowScanner) (*World, error) {
	var (
		w          World
		currentID  sql.NullString
		createdStr string
		updatedStr string
	)

	if err := row.Scan(&w.ID, &w.Name, &w.Description, &currentID, &w.TurnLimit, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	if currentID.Valid {
		id := currentID.String
		w.CurrentChatID = &id
	}

	var err error
	w.CreatedAt, err = parseTime(createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	w.UpdatedAt, err = parseTime(updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &w, nil
}
