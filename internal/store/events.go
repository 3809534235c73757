// ABOUTME: Append-only event log with per-(world, chat) sequence numbers
// ABOUTME: Seq assignment is serialized per partition and guarded by a unique index

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/agentworld/internal/event"
)

// maxSeqRetries bounds retries when another process wins the same seq.
const maxSeqRetries = 5

// chatKey maps a nullable chat id onto the partition key column.
func chatKey(chatID *string) string {
	if chatID == nil {
		return ""
	}
	return *chatID
}

// SaveEvent assigns the next sequence number for the event's (world, chat)
// partition and persists it. Seq starts at 1 and never decreases, including
// across restarts, because it is derived from the stored maximum.
//
// Assignment happens inside a single INSERT ... SELECT so the read of the
// current maximum and the write of the new row are one atomic statement. The
// partition mutex keeps goroutines in this process from contending on it, and
// the unique index turns a cross-process race into a retryable error rather
// than a duplicate.
func (s *SQLiteStore) SaveEvent(ctx context.Context, e *event.Event) error {
	if e.ChatID != nil && *e.ChatID == "" {
		e.ChatID = nil
	}
	key := chatKey(e.ChatID)

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	var meta any
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encoding meta: %w", err)
		}
		meta = string(b)
	}

	unlock := s.locks.lock(e.WorldID, key)
	defer unlock()

	query := `
		INSERT INTO events (world_id, chat_key, chat_id, id, seq, type, payload, meta, created_at)
		SELECT ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		FROM events
		WHERE world_id = ? AND chat_key = ?
		RETURNING seq
	`

	var lastErr error
	for attempt := 0; attempt < maxSeqRetries; attempt++ {
		var seq int64
		err := s.db.QueryRowContext(ctx, query,
			e.WorldID,
			key,
			e.ChatID,
			e.ID,
			string(e.Type),
			string(payload),
			meta,
			formatTime(e.CreatedAt),
			e.WorldID,
			key,
		).Scan(&seq)
		if err == nil {
			e.Seq = seq
			s.logger.Debug("saved event",
				"world_id", e.WorldID,
				"chat_id", key,
				"event_id", e.ID,
				"type", e.Type,
				"seq", seq,
			)
			return nil
		}
		if !isConstraintViolation(err) || ctx.Err() != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
		if s.eventExists(ctx, e.WorldID, key, e.ID) {
			return fmt.Errorf("inserting event %s: duplicate id", e.ID)
		}
		lastErr = err
	}

	return fmt.Errorf("inserting event after %d attempts: %w", maxSeqRetries, lastErr)
}

func (s *SQLiteStore) eventExists(ctx context.Context, worldID, key, id string) bool {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM events WHERE world_id = ? AND chat_key = ? AND id = ?`,
		worldID, key, id,
	).Scan(&one)
	return err == nil
}

// GetEventsByWorldAndChat returns events of one partition ordered by seq.
//
// The read is a single statement, so it observes one committed snapshot.
// Rows within a partition commit in seq order, which means a reader racing a
// writer sees a gap-free prefix of the sequence and never a later seq without
// all earlier ones.
func (s *SQLiteStore) GetEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string, q EventQuery) ([]*event.Event, error) {
	var sb strings.Builder
	args := []any{worldID, chatKey(chatID), q.SinceSeq}

	sb.WriteString(`
		SELECT id, world_id, chat_id, seq, type, payload, meta, created_at
		FROM events
		WHERE world_id = ? AND chat_key = ? AND seq > ?
	`)

	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		sb.WriteString(" AND type IN (" + strings.Join(placeholders, ", ") + ")")
	}

	sb.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}

// GetEvent looks up a single event by id anywhere in a world.
// Returns ErrNotFound if no such event exists.
func (s *SQLiteStore) GetEvent(ctx context.Context, worldID, id string) (*event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, world_id, chat_id, seq, type, payload, meta, created_at
		FROM events
		WHERE world_id = ? AND id = ?
		LIMIT 1
	`, worldID, id)
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying event: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanEvent(rows)
}

// DeleteEventsByWorldAndChat removes every event in a partition.
func (s *SQLiteStore) DeleteEventsByWorldAndChat(ctx context.Context, worldID string, chatID *string) (int64, error) {
	key := chatKey(chatID)
	unlock := s.locks.lock(worldID, key)
	defer unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE world_id = ? AND chat_key = ?`,
		worldID, key,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}
	n, _ := result.RowsAffected()
	s.logger.Debug("deleted events", "world_id", worldID, "chat_id", key, "count", n)
	return n, nil
}

func scanEvent(rows *sql.Rows) (*event.Event, error) {
	var (
		e          event.Event
		chatID     sql.NullString
		eventType  string
		payloadStr string
		metaStr    sql.NullString
		createdStr string
	)

	if err := rows.Scan(&e.ID, &e.WorldID, &chatID, &e.Seq, &eventType, &payloadStr, &metaStr, &createdStr); err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	e.Type = event.Type(eventType)
	if chatID.Valid {
		id := chatID.String
		e.ChatID = &id
	}

	p, err := event.DecodePayload(e.Type, json.RawMessage(payloadStr))
	if err != nil {
		return nil, fmt.Errorf("decoding payload of event %s: %w", e.ID, err)
	}
	e.Payload = p

	if metaStr.Valid && metaStr.String != "" {
		if err := json.Unmarshal([]byte(metaStr.String), &e.Meta); err != nil {
			return nil, fmt.Errorf("decoding meta of event %s: %w", e.ID, err)
		}
	}

	e.CreatedAt, err = parseTime(createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &e, nil
}
