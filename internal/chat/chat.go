// Package chat binds conversation threads to the query pipeline: each turn
// rehydrates the thread's history from its checkpoint, runs the pipeline,
// persists the new checkpoint and a response that can be rated once.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Layer is the part of a semantic layer a conversation reads and feeds back into.
type Layer interface {
	Metrics() []core.Metric
	Examples() []core.Example
	AddFeedback(fb core.Feedback)
}

// Runner runs the query pipeline.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.State, error)
}

// Config holds chat dependencies.
type Config struct {
	Thread *core.Thread
	Store  core.Store
	Layer  Layer
	Runner Runner
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Chat is one conversation thread on one datasource. Turns on the same
// thread must be serialized by the caller.
type Chat struct {
	thread *core.Thread
	store  core.Store
	layer  Layer
	runner Runner
	logger *slog.Logger
}

// New creates a chat bound to an existing thread.
func New(cfg Config) (*Chat, error) {
	if cfg.Thread == nil || cfg.Store == nil || cfg.Layer == nil || cfg.Runner == nil {
		return nil, errors.New("chat requires a thread, store, layer and runner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chat{
		thread: cfg.Thread,
		store:  cfg.Store,
		layer:  cfg.Layer,
		runner: cfg.Runner,
		logger: logger.With(slog.String("thread", cfg.Thread.ID)),
	}, nil
}

// ID returns the thread id.
func (c *Chat) ID() string { return c.thread.ID }

// DataSource returns the datasource the thread is bound to.
func (c *Chat) DataSource() string { return c.thread.DataSource }

// Prompt runs one turn. Execution failures are part of the response; oracle
// failures abort the turn and leave the checkpoint untouched.
func (c *Chat) Prompt(ctx context.Context, text string, opts pipeline.Options) (*core.Response, *pipeline.State, error) {
	cp, err := c.store.GetCheckpoint(ctx, c.thread.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	st, err := c.runner.Run(ctx, pipeline.Input{
		Question: text,
		History:  cp.Messages,
		Metrics:  c.layer.Metrics(),
		Examples: c.layer.Examples(),
		Options:  opts,
	})
	if err != nil {
		return nil, st, err
	}

	answer := st.Answer
	if opts.OnlySQL {
		answer = st.Plan.SQL
		if answer == "" {
			answer = st.Note
		}
	}

	state, err := json.Marshal(st)
	if err != nil {
		return nil, st, fmt.Errorf("failed to encode pipeline state: %w", err)
	}
	messages := append(append([]core.Message(nil), cp.Messages...),
		core.Message{Role: core.RoleUser, Content: text},
		core.Message{Role: core.RoleAssistant, Content: answer},
	)
	if err := c.store.PutCheckpoint(ctx, &core.Checkpoint{ThreadID: c.thread.ID, Messages: messages, State: state}); err != nil {
		return nil, st, err
	}

	resp := &core.Response{
		ThreadID: c.thread.ID,
		Text:     answer,
		SQL:      st.Plan.SQL,
		Result:   st.Result,
		Error:    st.Error,
	}
	if err := c.store.SaveResponse(ctx, resp); err != nil {
		return nil, st, err
	}

	c.logger.Debug("turn complete", slog.String("response", resp.ID), slog.String("metric", st.Plan.Metric))
	return resp, st, nil
}

// Messages returns the thread's history.
func (c *Chat) Messages(ctx context.Context) ([]core.Message, error) {
	cp, err := c.store.GetCheckpoint(ctx, c.thread.ID)
	if err != nil {
		return nil, err
	}
	return cp.Messages, nil
}

// LastState returns the pipeline state of the last turn, or nil before the first turn.
func (c *Chat) LastState(ctx context.Context) (*pipeline.State, error) {
	cp, err := c.store.GetCheckpoint(ctx, c.thread.ID)
	if err != nil {
		return nil, err
	}
	if len(cp.State) == 0 {
		return nil, nil
	}
	var st pipeline.State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline state: %w", err)
	}
	return &st, nil
}

// Feedback rates a response of this thread exactly once. The entry is
// appended to the store and to the semantic layer.
func (c *Chat) Feedback(ctx context.Context, resp *core.Response, sentiment core.Sentiment, reason string) (*core.Feedback, error) {
	if resp.ThreadID != c.thread.ID {
		return nil, fmt.Errorf("response %s belongs to another thread: %w", resp.ID, core.ErrNotFound)
	}
	fb, err := resp.DraftFeedback(sentiment, reason)
	if err != nil {
		return nil, err
	}
	history, err := c.Messages(ctx)
	if err != nil {
		return nil, err
	}
	fb.DataSource = c.thread.DataSource
	fb.History = history

	// the in-memory response is only marked once the store has the entry
	if err := c.store.SetResponseFeedback(ctx, fb); err != nil {
		return nil, err
	}
	stored := *fb
	resp.RestoreFeedback(&stored)
	c.layer.AddFeedback(*fb)
	c.logger.Info("feedback recorded", slog.String("response", resp.ID), slog.String("sentiment", string(sentiment)))
	return fb, nil
}

// FeedbackByID rates a persisted response of this thread.
func (c *Chat) FeedbackByID(ctx context.Context, responseID string, sentiment core.Sentiment, reason string) (*core.Feedback, error) {
	resp, err := c.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	return c.Feedback(ctx, resp, sentiment, reason)
}
