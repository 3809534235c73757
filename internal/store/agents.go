// ABOUTME: Agent and conversation memory persistence for the SQLite store
// ABOUTME: An agent and its memory list are always written in one transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveAgent inserts or updates an agent and replaces its memory list.
func (s *SQLiteStore) SaveAgent(ctx context.Context, worldID string, a *Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.WorldID = worldID

	var lastActive any
	if a.LastActive != nil {
		lastActive = formatTime(*a.LastActive)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (world_id, id, name, type, provider, model, system_prompt, llm_call_count, last_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(world_id, id) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				provider = excluded.provider,
				model = excluded.model,
				system_prompt = excluded.system_prompt,
				llm_call_count = excluded.llm_call_count,
				last_active = excluded.last_active
		`,
			worldID, a.ID, a.Name, a.Type, a.Provider, a.Model, a.SystemPrompt,
			a.LLMCallCount, lastActive, formatTime(a.CreatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("saving agent %s: world %s: %w", a.ID, worldID, ErrNotFound)
			}
			return fmt.Errorf("saving agent: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?`,
			worldID, a.ID,
		); err != nil {
			return fmt.Errorf("clearing agent memory: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO agent_memory (
				world_id, agent_id, position, role, content, message_id,
				reply_to_message_id, chat_id, sender, tool_call_id, tool_name,
				tool_args, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing memory insert: %w", err)
		}
		defer stmt.Close()

		for i, m := range a.Memory {
			var toolArgs any
			if len(m.ToolArgs) > 0 {
				b, err := json.Marshal(m.ToolArgs)
				if err != nil {
					return fmt.Errorf("encoding tool args of entry %d: %w", i, err)
				}
				toolArgs = string(b)
			}
			if _, err := stmt.ExecContext(ctx,
				worldID, a.ID, i, m.Role, m.Content,
				nullString(m.MessageID),
				nullString(m.ReplyToMessageID),
				nullString(m.ChatID),
				nullString(m.Sender),
				nullString(m.ToolCallID),
				nullString(m.ToolName),
				toolArgs,
				formatTime(m.CreatedAt),
			); err != nil {
				return fmt.Errorf("inserting memory entry %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("saved agent", "world_id", worldID, "agent_id", a.ID, "memory", len(a.Memory))
	return nil
}

// LoadAgent retrieves an agent with its memory.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) LoadAgent(ctx context.Context, worldID, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT world_id, id, name, type, provider, model, system_prompt, llm_call_count, last_active, created_at
		FROM agents
		WHERE world_id = ? AND id = ?
	`, worldID, agentID)

	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	a.Memory, err = s.loadMemory(ctx, worldID, agentID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAgents returns every agent in a world, each with its memory.
func (s *SQLiteStore) ListAgents(ctx context.Context, worldID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT world_id, id, name, type, provider, model, system_prompt, llm_call_count, last_active, created_at
		FROM agents
		WHERE world_id = ?
		ORDER BY created_at ASC, id ASC
	`, worldID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	rows.Close()

	// Memory is read after the agent cursor is closed; the store holds a
	// single connection.
	for _, a := range agents {
		a.Memory, err = s.loadMemory(ctx, worldID, a.ID)
		if err != nil {
			return nil, err
		}
	}
	return agents, nil
}

// DeleteAgent removes an agent and its memory.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM agent_memory WHERE world_id = ? AND agent_id = ?`,
			worldID, agentID,
		); err != nil {
			return fmt.Errorf("deleting agent memory: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM agents WHERE world_id = ? AND id = ?`,
			worldID, agentID,
		)
		if err != nil {
			return fmt.Errorf("deleting agent: %w", err)
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

func (s *SQLiteStore) loadMemory(ctx context.Context, worldID, agentID string) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, message_id, reply_to_message_id, chat_id, sender,
			tool_call_id, tool_name, tool_args, created_at
		FROM agent_memory
		WHERE world_id = ? AND agent_id = ?
		ORDER BY position ASC
	`, worldID, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	defer rows.Close()

	var memory []ConversationMessage
	for rows.Next() {
		var (
			m                              ConversationMessage
			msgID, replyTo, chatID, sender sql.NullString
			toolCallID, toolName, toolArgs sql.NullString
			createdStr                     string
		)
		if err := rows.Scan(&m.Role, &m.Content, &msgID, &replyTo, &chatID, &sender,
			&toolCallID, &toolName, &toolArgs, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		m.MessageID = msgID.String
		m.ReplyToMessageID = replyTo.String
		m.ChatID = chatID.String
		m.Sender = sender.String
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolArgs.Valid && toolArgs.String != "" {
			if err := json.Unmarshal([]byte(toolArgs.String), &m.ToolArgs); err != nil {
				return nil, fmt.Errorf("decoding tool args: %w", err)
			}
		}
		m.AgentID = agentID
		m.CreatedAt, err = parseTime(createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing memory created_at: %w", err)
		}
		memory = append(memory, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory: %w", err)
	}
	return memory, nil
}

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		a          Agent
		lastActive sql.NullString
		createdStr string
	)

	if err := row.Scan(&a.WorldID, &a.ID, &a.Name, &a.Type, &a.Provider, &a.Model,
		&a.SystemPrompt, &a.LLMCallCount, &lastActive, &createdStr); err != nil {
		return nil, err
	}

	var err error
	a.CreatedAt, err = parseTime(createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastActive.Valid {
		t, err := parseTime(lastActive.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_active: %w", err)
		}
		a.LastActive = &t
	}
	return &a, nil
}
