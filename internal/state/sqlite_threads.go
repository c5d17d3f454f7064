package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// CreateThread creates a thread on an existing datasource. An empty ID is generated.
func (s *SQLiteStore) CreateThread(ctx context.Context, t *core.Thread) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if t.ID == "" {
		t.ID = generateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if _, err := s.GetDataSource(ctx, t.DataSource); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, datasource, created_at) VALUES (?, ?, ?)`,
		t.ID, t.DataSource, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// GetThread retrieves a thread by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*core.Thread, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	var t core.Thread
	err := s.db.QueryRowContext(ctx, `SELECT id, datasource, created_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.DataSource, &t.CreatedAt)
	if isNoRows(err) {
		return nil, notFound("thread", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return &t, nil
}

// ListThreads returns the threads of a datasource, newest first.
func (s *SQLiteStore) ListThreads(ctx context.Context, datasource string) ([]*core.Thread, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datasource, created_at FROM threads WHERE datasource = ? ORDER BY created_at DESC, id`, datasource)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Thread
	for rows.Next() {
		var t core.Thread
		if err := rows.Scan(&t.ID, &t.DataSource, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the checkpoint of a thread. A thread that has never
// run yields an empty checkpoint.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, threadID string) (*core.Checkpoint, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	var (
		messages string
		state    sql.NullString
		cp       = core.Checkpoint{ThreadID: threadID}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, state, updated_at FROM checkpoints WHERE thread_id = ?`, threadID).
		Scan(&messages, &state, &cp.UpdatedAt)
	if isNoRows(err) {
		if _, err := s.GetThread(ctx, threadID); err != nil {
			return nil, err
		}
		return &cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &cp.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint messages: %w", err)
	}
	if state.Valid && state.String != "" {
		cp.State = json.RawMessage(state.String)
	}
	return &cp, nil
}

// PutCheckpoint replaces the checkpoint of a thread. Last write wins.
func (s *SQLiteStore) PutCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	messages, err := json.Marshal(nonNilMessages(cp.Messages))
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint messages: %w", err)
	}
	var state sql.NullString
	if len(cp.State) > 0 {
		state = sql.NullString{String: string(cp.State), Valid: true}
	}
	cp.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, messages, state, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			messages = excluded.messages,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		cp.ThreadID, string(messages), state, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func nonNilMessages(m []core.Message) []core.Message {
	if m == nil {
		return []core.Message{}
	}
	return m
}
