package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// SaveResponse persists a pipeline response. An empty ID is generated.
func (s *SQLiteStore) SaveResponse(ctx context.Context, r *core.Response) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if r.ID == "" {
		r.ID = generateID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var result sql.NullString
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (id, thread_id, text, sql, result, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ThreadID, r.Text, r.SQL, result, r.Error, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}
	return nil
}

// GetResponse retrieves a response with its feedback annotation, if any.
func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*core.Response, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	var (
		r          = &core.Response{}
		result     sql.NullString
		feedbackAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, text, sql, result, error, feedback_at, created_at FROM responses WHERE id = ?`, id).
		Scan(&r.ID, &r.ThreadID, &r.Text, &r.SQL, &result, &r.Error, &feedbackAt, &r.CreatedAt)
	if isNoRows(err) {
		return nil, notFound("response", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	if result.Valid {
		r.Result = &core.ResultSet{}
		if err := json.Unmarshal([]byte(result.String), r.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	if feedbackAt.Valid {
		row := s.db.QueryRowContext(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE response_id = ?`, id)
		fb, err := scanFeedback(row)
		if err != nil && !isNoRows(err) {
			return nil, fmt.Errorf("failed to get feedback: %w", err)
		}
		r.RestoreFeedback(fb)
	}
	return r, nil
}

// SetResponseFeedback annotates a response exactly once and appends the
// feedback entry. A second annotation fails with core.ErrFeedbackAlreadySet.
func (s *SQLiteStore) SetResponseFeedback(ctx context.Context, fb *core.Feedback) error {
	if !fb.Sentiment.Valid() {
		return &core.ValidationError{Path: "sentiment", Problems: []string{"must be positive or negative"}}
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	selected, err := json.Marshal(fb.SelectedResponse)
	if err != nil {
		return fmt.Errorf("failed to encode selected response: %w", err)
	}
	history, err := json.Marshal(nonNilMessages(fb.History))
	if err != nil {
		return fmt.Errorf("failed to encode message history: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE responses SET feedback_at = ? WHERE id = ? AND feedback_at IS NULL`, fb.CreatedAt, fb.ResponseID)
		if err != nil {
			return fmt.Errorf("failed to mark response: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM responses WHERE id = ?`, fb.ResponseID).Scan(&exists)
			if isNoRows(err) {
				return notFound("response", fb.ResponseID)
			}
			if err != nil {
				return fmt.Errorf("failed to check response: %w", err)
			}
			return core.ErrFeedbackAlreadySet
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO feedback (response_id, datasource, sentiment, reason, selected_response, message_history, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fb.ResponseID, fb.DataSource, string(fb.Sentiment), fb.Reason, string(selected), string(history), fb.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append feedback: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read feedback id: %w", err)
		}
		fb.ID = id
		s.logger.Debug("recorded feedback",
			slog.String("response", fb.ResponseID),
			slog.String("sentiment", string(fb.Sentiment)))
		return nil
	})
}

const feedbackColumns = `id, response_id, datasource, sentiment, reason, selected_response, message_history, created_at`

func scanFeedback(row interface{ Scan(...any) error }) (*core.Feedback, error) {
	var (
		fb                core.Feedback
		sentiment         string
		selected, history string
	)
	if err := row.Scan(&fb.ID, &fb.ResponseID, &fb.DataSource, &sentiment, &fb.Reason, &selected, &history, &fb.CreatedAt); err != nil {
		return nil, err
	}
	fb.Sentiment = core.Sentiment(sentiment)
	if err := json.Unmarshal([]byte(selected), &fb.SelectedResponse); err != nil {
		return nil, fmt.Errorf("failed to decode selected response: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &fb.History); err != nil {
		return nil, fmt.Errorf("failed to decode message history: %w", err)
	}
	return &fb, nil
}

// ListFeedback returns the feedback of a datasource in insertion order.
func (s *SQLiteStore) ListFeedback(ctx context.Context, datasource string, unconsumedOnly bool) ([]*core.Feedback, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	query := `SELECT ` + feedbackColumns + ` FROM feedback WHERE datasource = ?`
	if unconsumedOnly {
		query += ` AND consumed_at IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, datasource)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// MarkFeedbackConsumed records that a refinement used the given entries.
func (s *SQLiteStore) MarkFeedbackConsumed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedback SET consumed_at = ? WHERE consumed_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark feedback consumed: %w", err)
	}
	return nil
}
