// Package mcpserver exposes the workspace as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leapstack-labs/leapmetrics/internal/chat"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/internal/workspace"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Tools holds the workspace used by tool handlers.
type Tools struct {
	Workspace *workspace.Workspace
	Logger    *slog.Logger
}

// New creates an MCP server with all tools registered.
func New(ws *workspace.Workspace, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tools{Workspace: ws, Logger: logger}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "leapmetrics",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_datasources",
		Description: "List registered datasources",
	}, t.ListDataSources)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_metrics",
		Description: "List the metrics of a datasource's semantic layer",
	}, t.ListMetrics)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_chats",
		Description: "List the conversation threads of a datasource, newest first",
	}, t.ListChats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from a datasource's metrics; pass thread_id to continue a conversation",
	}, t.Ask)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "feedback",
		Description: "Rate an answer returned by ask as positive or negative",
	}, t.Feedback)

	return srv
}

// Serve runs the server over stdio, or over streamable HTTP when addr is set.
func Serve(ctx context.Context, srv *mcp.Server, addr string) error {
	if addr == "" {
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	hs := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// --- Input types ---

type ListMetricsInput struct {
	DataSource string `json:"datasource" jsonschema:"datasource name"`
}

type AskInput struct {
	DataSource string `json:"datasource,omitempty" jsonschema:"datasource name, required when thread_id is empty"`
	Question   string `json:"question" jsonschema:"natural-language question"`
	ThreadID   string `json:"thread_id,omitempty" jsonschema:"thread returned by a previous ask"`
	OnlySQL    bool   `json:"only_sql,omitempty" jsonschema:"return the generated SQL without executing it"`
}

type AskOutput struct {
	ThreadID   string          `json:"thread_id"`
	ResponseID string          `json:"response_id"`
	Metric     string          `json:"metric,omitempty"`
	Answer     string          `json:"answer"`
	SQL        string          `json:"sql,omitempty"`
	Result     *core.ResultSet `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type FeedbackInput struct {
	ResponseID string `json:"response_id" jsonschema:"response_id returned by ask"`
	Sentiment  string `json:"sentiment" jsonschema:"positive or negative"`
	Reason     string `json:"reason,omitempty" jsonschema:"what was good or wrong"`
}

// --- Handlers ---

func (t *Tools) ListDataSources(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	sources, err := t.Workspace.DataSources(ctx)
	if err != nil {
		return toolError("Failed to list datasources: %v", err), nil, nil
	}
	if sources == nil {
		sources = []*core.DataSource{}
	}
	return toolJSON(sources)
}

func (t *Tools) ListMetrics(_ context.Context, _ *mcp.CallToolRequest, input ListMetricsInput) (*mcp.CallToolResult, any, error) {
	if input.DataSource == "" {
		return toolError("datasource is required"), nil, nil
	}
	layer, err := t.Workspace.Layer(input.DataSource)
	if err != nil {
		return toolError("Failed to load metrics: %v", err), nil, nil
	}
	return toolJSON(layer.Metrics())
}

func (t *Tools) ListChats(ctx context.Context, _ *mcp.CallToolRequest, input ListMetricsInput) (*mcp.CallToolResult, any, error) {
	if input.DataSource == "" {
		return toolError("datasource is required"), nil, nil
	}
	threads, err := t.Workspace.Chats(ctx, input.DataSource)
	if err != nil {
		return toolError("Failed to list chats: %v", err), nil, nil
	}
	return toolJSON(threads)
}

func (t *Tools) Ask(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, any, error) {
	if input.Question == "" {
		return toolError("question is required"), nil, nil
	}

	var (
		c   *chat.Chat
		err error
	)
	switch {
	case input.ThreadID != "":
		c, err = t.Workspace.Chat(ctx, input.ThreadID)
	case input.DataSource != "":
		c, err = t.Workspace.NewChat(ctx, input.DataSource)
	default:
		return toolError("datasource or thread_id is required"), nil, nil
	}
	if err != nil {
		return toolError("Failed to open thread: %v", err), nil, nil
	}

	opts := pipeline.DefaultOptions()
	opts.OnlySQL = input.OnlySQL
	resp, st, err := c.Prompt(ctx, input.Question, opts)
	if err != nil {
		return toolError("Failed to answer: %v", err), nil, nil
	}
	t.Logger.Debug("answered question", slog.String("thread", c.ID()), slog.String("metric", st.Plan.Metric))

	return toolJSON(AskOutput{
		ThreadID:   c.ID(),
		ResponseID: resp.ID,
		Metric:     st.Plan.Metric,
		Answer:     resp.Text,
		SQL:        resp.SQL,
		Result:     resp.Result,
		Error:      resp.Error,
	})
}

func (t *Tools) Feedback(ctx context.Context, _ *mcp.CallToolRequest, input FeedbackInput) (*mcp.CallToolResult, any, error) {
	if input.ResponseID == "" {
		return toolError("response_id is required"), nil, nil
	}
	fb, err := t.Workspace.RecordFeedback(ctx, input.ResponseID, core.Sentiment(input.Sentiment), input.Reason)
	if err != nil {
		return toolError("Failed to record feedback: %v", err), nil, nil
	}
	return toolJSON(fb)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
