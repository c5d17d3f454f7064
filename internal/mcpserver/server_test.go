package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/internal/workspace"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

func setup(t *testing.T) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)
	root := t.TempDir()

	store, err := state.Open(filepath.Join(root, "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := deploy.New(ctx, deploy.Config{TransientDir: filepath.Join(root, "transient"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	stub := &oracle.Stub{
		SelectMetricFunc: func(_ context.Context, req oracle.SelectMetricRequest) (*oracle.MetricChoice, error) {
			return &oracle.MetricChoice{Metric: req.Metrics[0].Name}, nil
		},
		GenerateSQLFunc: func(_ context.Context, _ oracle.GenerateSQLRequest) (*oracle.SQLGeneration, error) {
			return &oracle.SQLGeneration{SQL: "SELECT SUM(price * qty) AS revenue FROM sales WHERE region = 'north'"}, nil
		},
		RespondFunc: func(_ context.Context, _ oracle.RespondRequest) (*oracle.Answer, error) {
			return &oracle.Answer{Text: "North revenue is 42."}, nil
		},
	}
	ws, err := workspace.Open(ctx, workspace.Config{
		LayerDir: filepath.Join(root, "layers"),
		Store:    store,
		Engine:   engine,
		Oracle:   stub,
		Logger:   logger,
	})
	require.NoError(t, err)

	csv := testutil.WriteFile(t, root, "shop.csv", testutil.SalesCSV)
	_, err = ws.CreateDataSource(ctx, csv, "")
	require.NoError(t, err)
	layer, err := ws.Layer("shop")
	require.NoError(t, err)
	require.NoError(t, layer.SetMetrics([]core.Metric{testutil.SalesMetric("shop")}, ""))
	_, err = ws.Deploy(ctx, "shop", deploy.Options{})
	require.NoError(t, err)

	srv := New(ws, "test", logger)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err = srv.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session := setup(t)
	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_datasources", "list_metrics", "list_chats", "ask", "feedback"}, names)
}

func TestAskAndFeedback(t *testing.T) {
	session := setup(t)

	text, isErr := callTool(t, session, "list_metrics", map[string]any{"datasource": "shop"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"name": "sales"`)

	text, isErr = callTool(t, session, "ask", map[string]any{"datasource": "shop", "question": "north revenue?"})
	require.False(t, isErr, text)
	var out AskOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "North revenue is 42.", out.Answer)
	assert.Equal(t, "sales", out.Metric)
	require.Equal(t, 1, out.Result.Len())
	assert.InDelta(t, 42.0, out.Result.Rows[0][0], 0.001)

	// continuing the thread keeps the same id
	text, isErr = callTool(t, session, "ask", map[string]any{"thread_id": out.ThreadID, "question": "and again?"})
	require.False(t, isErr, text)
	var again AskOutput
	require.NoError(t, json.Unmarshal([]byte(text), &again))
	assert.Equal(t, out.ThreadID, again.ThreadID)

	text, isErr = callTool(t, session, "list_chats", map[string]any{"datasource": "shop"})
	require.False(t, isErr, text)
	var threads []core.Thread
	require.NoError(t, json.Unmarshal([]byte(text), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, out.ThreadID, threads[0].ID)

	text, isErr = callTool(t, session, "feedback", map[string]any{"response_id": out.ResponseID, "sentiment": "positive"})
	require.False(t, isErr, text)

	text, isErr = callTool(t, session, "feedback", map[string]any{"response_id": out.ResponseID, "sentiment": "negative"})
	assert.True(t, isErr)
	assert.Contains(t, text, "already set")
}

func TestAsk_Errors(t *testing.T) {
	session := setup(t)

	_, isErr := callTool(t, session, "ask", map[string]any{"question": "hi"})
	assert.True(t, isErr)

	text, isErr := callTool(t, session, "ask", map[string]any{"datasource": "nope", "question": "hi"})
	assert.True(t, isErr)
	assert.Contains(t, text, "not found")
}
