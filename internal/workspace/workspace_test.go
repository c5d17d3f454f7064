package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ws     *Workspace
	store  *state.SQLiteStore
	engine *deploy.Engine
	oracle *oracle.Stub
	root   string
	csv    string
}

func salesOracle() *oracle.Stub {
	return &oracle.Stub{
		SelectMetricFunc: func(_ context.Context, req oracle.SelectMetricRequest) (*oracle.MetricChoice, error) {
			return &oracle.MetricChoice{Metric: req.Metrics[0].Name}, nil
		},
		GenerateSQLFunc: func(_ context.Context, req oracle.GenerateSQLRequest) (*oracle.SQLGeneration, error) {
			return &oracle.SQLGeneration{SQL: "SELECT region, SUM(price * qty) AS revenue FROM " + req.Metric.Name + " GROUP BY region ORDER BY region"}, nil
		},
		RespondFunc: func(_ context.Context, _ oracle.RespondRequest) (*oracle.Answer, error) {
			return &oracle.Answer{Text: "Revenue by region."}, nil
		},
		RefineMetricsFunc: func(_ context.Context, req oracle.RefineRequest) (*oracle.RefinedMetrics, error) {
			m := req.Metrics[0]
			m.Description = "Revenue per order line"
			return &oracle.RefinedMetrics{
				Observations: []string{"descriptions were vague"},
				Metrics:      []oracle.RefinedMetric{{OriginalName: m.Name, Metric: m}},
			}, nil
		},
	}
}

func openEnv(t *testing.T, root string) *env {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	store, err := state.Open(filepath.Join(root, "state.db"), logger)
	require.NoError(t, err)

	engine, err := deploy.New(ctx, deploy.Config{
		TransientDir: filepath.Join(root, "transient"),
		Logger:       logger,
	})
	require.NoError(t, err)

	stub := salesOracle()
	ws, err := Open(ctx, Config{
		LayerDir: filepath.Join(root, "layers"),
		Store:    store,
		Engine:   engine,
		Oracle:   stub,
		Logger:   logger,
	})
	require.NoError(t, err)

	e := &env{ws: ws, store: store, engine: engine, oracle: stub, root: root}
	t.Cleanup(e.close)
	return e
}

func (e *env) close() {
	_ = e.engine.Close()
	_ = e.store.Close()
}

func newEnvWithSales(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := openEnv(t, root)
	e.csv = testutil.WriteFile(t, root, "shop.csv", testutil.SalesCSV)

	ds, err := e.ws.CreateDataSource(context.Background(), e.csv, "")
	require.NoError(t, err)
	require.Equal(t, "shop", ds.Name)

	layer, err := e.ws.Layer("shop")
	require.NoError(t, err)
	require.NoError(t, layer.SetMetrics([]core.Metric{testutil.SalesMetric("shop")}, ""))
	require.NoError(t, layer.Dump(true))
	return e
}

func TestCreateDataSource(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)

	ds, err := e.ws.DataSource(ctx, "SHOP")
	require.NoError(t, err)
	assert.Equal(t, core.DataSourceCSV, ds.Type)
	assert.NotNil(t, ds.LastHydrated)

	_, err = e.ws.CreateDataSource(ctx, e.csv, "shop")
	var dup *core.DuplicateNameError
	require.ErrorAs(t, err, &dup)

	_, err = e.ws.CreateDataSource(ctx, filepath.Join(e.root, "missing.csv"), "")
	var cerr *core.ConnectionError
	require.ErrorAs(t, err, &cerr)
	_, err = e.ws.DataSource(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	all, err := e.ws.DataSources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeploy_AppliesCategories(t *testing.T) {
	e := newEnvWithSales(t)

	report, err := e.ws.Deploy(context.Background(), "shop", deploy.Options{Statistics: true})
	require.NoError(t, err)
	assert.EqualValues(t, 6, report.Materialized["sales"])

	layer, err := e.ws.Layer("shop")
	require.NoError(t, err)
	m, ok := layer.Metric("sales")
	require.True(t, ok)
	for _, d := range m.Dimensions {
		if d.Name == "region" {
			assert.Len(t, d.Categories, 3)
		}
	}
}

func TestChatFeedbackRefine(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)
	_, err := e.ws.Deploy(ctx, "shop", deploy.Options{})
	require.NoError(t, err)

	_, err = e.ws.Refine(ctx, "shop", catalog.RefineOptions{})
	require.ErrorIs(t, err, catalog.ErrNoFeedback)

	c, err := e.ws.NewChat(ctx, "shop")
	require.NoError(t, err)
	resp, st, err := c.Prompt(ctx, "revenue by region", pipeline.DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 3, resp.Result.Len())
	assert.Equal(t, 1, st.Executions)

	same, err := e.ws.Chat(ctx, c.ID())
	require.NoError(t, err)
	assert.Same(t, c, same)

	_, err = e.ws.RecordFeedback(ctx, resp.ID, core.SentimentNegative, "description is vague")
	require.NoError(t, err)
	_, err = e.ws.RecordFeedback(ctx, resp.ID, core.SentimentPositive, "")
	require.ErrorIs(t, err, core.ErrFeedbackAlreadySet)

	result, err := e.ws.Refine(ctx, "shop", catalog.RefineOptions{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "sales", result.Changes[0].Metric)

	layer, err := e.ws.Layer("shop")
	require.NoError(t, err)
	m, _ := layer.Metric("sales")
	assert.Equal(t, "Revenue per order line", m.Description)

	// feedback is consumed
	_, err = e.ws.Refine(ctx, "shop", catalog.RefineOptions{})
	require.ErrorIs(t, err, catalog.ErrNoFeedback)
}

func TestDeleteDataSource(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)
	_, err := e.ws.Deploy(ctx, "shop", deploy.Options{})
	require.NoError(t, err)
	c, err := e.ws.NewChat(ctx, "shop")
	require.NoError(t, err)

	require.NoError(t, e.ws.DeleteDataSource(ctx, "shop"))

	_, err = e.ws.Layer("shop")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.ws.Chat(ctx, c.ID())
	require.ErrorIs(t, err, core.ErrNotFound)
	views, err := e.engine.GovernedViews(ctx)
	require.NoError(t, err)
	assert.Empty(t, views)

	// the name is free again
	_, err = e.ws.CreateDataSource(ctx, e.csv, "")
	require.NoError(t, err)
}

func TestOpen_ReattachesPersistedSources(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)
	root := e.root
	e.close()

	reopened := openEnv(t, root)
	attached, err := reopened.engine.IsAttached(ctx, "shop")
	require.NoError(t, err)
	assert.True(t, attached)

	layer, err := reopened.ws.Layer("shop")
	require.NoError(t, err)
	assert.Len(t, layer.Metrics(), 1)
}

func TestWatch_ReloadsChangedLayer(t *testing.T) {
	e := newEnvWithSales(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.ws.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	layer, err := e.ws.Layer("shop")
	require.NoError(t, err)

	// give the watcher time to register before editing
	time.Sleep(50 * time.Millisecond)

	m := testutil.SalesMetric("shop")
	m.Name = "orders"
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(layer.Dir(), "orders.json"), data, 0o600))

	require.Eventually(t, func() bool {
		_, ok := layer.Metric("orders")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestChats(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)

	threads, err := e.ws.Chats(ctx, "shop")
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.NotNil(t, threads)

	first, err := e.ws.NewChat(ctx, "shop")
	require.NoError(t, err)
	second, err := e.ws.NewChat(ctx, "shop")
	require.NoError(t, err)

	threads, err = e.ws.Chats(ctx, "SHOP")
	require.NoError(t, err)
	ids := []string{threads[0].ID, threads[1].ID}
	assert.ElementsMatch(t, []string{first.ID(), second.ID()}, ids)

	_, err = e.ws.Chats(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCopyLayer(t *testing.T) {
	ctx := context.Background()
	e := newEnvWithSales(t)
	other := testutil.WriteFile(t, e.root, "shop_copy.csv", testutil.SalesCSV)
	_, err := e.ws.CreateDataSource(ctx, other, "")
	require.NoError(t, err)

	layer, err := e.ws.CopyLayer("shop", "shop_copy", false)
	require.NoError(t, err)
	require.Len(t, layer.Metrics(), 1)
	assert.Equal(t, "shop_copy", layer.Metrics()[0].DataSource)
	assert.Contains(t, layer.UpdateReasoning(), "shop")
	assert.NoFileExists(t, filepath.Join(e.root, "layers", "shop_copy", "sales.json"))

	_, err = e.ws.CopyLayer("shop", "shop_copy", true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(e.root, "layers", "shop_copy", "sales.json"))

	_, err = e.ws.CopyLayer("shop", "shop", true)
	assert.Error(t, err)
	_, err = e.ws.CopyLayer("nope", "shop", true)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
