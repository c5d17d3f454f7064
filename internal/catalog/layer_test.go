package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLayer(t *testing.T, opts ...Option) *SemanticLayer {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shop")
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	return New("shop", dir, opts...)
}

func TestLoad_MissingDirectoryIsEmpty(t *testing.T) {
	l := newLayer(t)
	require.NoError(t, l.Load())
	assert.Empty(t, l.Metrics())
	assert.Empty(t, l.Examples())
}

func TestDumpLoad_RoundTrip(t *testing.T) {
	l := newLayer(t)
	require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, "initial"))
	l.SetExamples([]core.Example{{Prompt: "revenue?", SQL: "SELECT SUM(price * qty) FROM sales", Explanation: "sum"}})

	require.NoError(t, l.Dump(true))
	assert.Empty(t, l.UpdateReasoning())
	assert.FileExists(t, filepath.Join(l.Dir(), "sales.json"))
	assert.FileExists(t, filepath.Join(l.Dir(), ExamplesFile))

	reloaded := New("shop", l.Dir())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, l.Metrics(), reloaded.Metrics())
	assert.Equal(t, l.Examples(), reloaded.Examples())

	m, ok := reloaded.Metric("SALES")
	require.True(t, ok)
	assert.Equal(t, "shop", m.DataSource)
}

func TestDump_ClearRemovesStaleFiles(t *testing.T) {
	tests := []struct {
		name      string
		clear     bool
		wantStale bool
	}{
		{name: "clear", clear: true, wantStale: false},
		{name: "in place", clear: false, wantStale: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayer(t)
			stale := testutil.SalesMetric("orders")
			stale.Name = "stale"
			require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders"), stale}, ""))
			require.NoError(t, l.Dump(true))

			require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, ""))
			require.NoError(t, l.Dump(tt.clear))

			_, err := os.Stat(filepath.Join(l.Dir(), "stale.json"))
			assert.Equal(t, tt.wantStale, err == nil)

			entries, err := os.ReadDir(filepath.Dir(l.Dir()))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "staging directories must be cleaned up")
		})
	}
}

func TestLoad_MalformedFileLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "bad json", file: "broken.json", content: `{"name": `},
		{name: "unknown field", file: "odd.json", content: `{"name":"odd","sql_to_underlying_datasource":"SELECT 1","colour":"red"}`},
		{name: "missing sql", file: "nosql.json", content: `{"name":"nosql","dimensions":[]}`},
		{name: "reserved name", file: "x.json", content: `{"name":"Examples","sql_to_underlying_datasource":"SELECT 1"}`},
		{
			name: "measure references unknown column",
			file: "m.json",
			content: `{"name":"m","sql_to_underlying_datasource":"SELECT a FROM t",
				"dimensions":[{"name":"a","description":""}],
				"measures":[{"name":"total","description":"","expr":"SUM(b)"}]}`,
		},
		{
			name: "duplicate dimension",
			file: "d.json",
			content: `{"name":"d","sql_to_underlying_datasource":"SELECT a FROM t",
				"dimensions":[{"name":"a","description":""},{"name":"A","description":""}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayer(t)
			require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, ""))
			require.NoError(t, l.Dump(true))
			require.NoError(t, l.Load())

			testutil.WriteFile(t, l.Dir(), tt.file, tt.content)

			err := l.Load()
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, l.Metrics(), 1)
			assert.Equal(t, "sales", l.Metrics()[0].Name)
		})
	}
}

func TestLoad_DuplicateMetricNamesAcrossFiles(t *testing.T) {
	l := newLayer(t)
	testutil.WriteFile(t, l.Dir(), "a.json", `{"name":"sales","sql_to_underlying_datasource":"SELECT 1"}`)
	testutil.WriteFile(t, l.Dir(), "b.json", `{"name":"Sales","sql_to_underlying_datasource":"SELECT 2"}`)

	err := l.Load()
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "defined twice")
}

func TestDumps(t *testing.T) {
	l := newLayer(t)
	require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, "added sales"))

	out, err := l.Dumps()
	require.NoError(t, err)
	assert.Contains(t, out, `"update_reasoning": "added sales"`)
	assert.Contains(t, out, `"sql_to_underlying_datasource": "SELECT region, sku, price, qty FROM orders"`)
	assert.Contains(t, out, `"examples": []`)
	assert.NoDirExists(t, l.Dir())
}

func TestApplyCategories(t *testing.T) {
	l := newLayer(t)
	require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, ""))

	l.ApplyCategories(map[string]map[string][]any{
		"Sales": {"REGION": {"north", "south"}, "price": nil},
	})

	m, ok := l.Metric("sales")
	require.True(t, ok)
	region, _ := m.Dimension("region")
	assert.Equal(t, []any{"north", "south"}, region.Categories)
	price, _ := m.Dimension("price")
	assert.Nil(t, price.Categories)
}

func TestApplyCategories_ResetsFailedDimensions(t *testing.T) {
	l := newLayer(t)
	metric := testutil.SalesMetric("orders")
	for i := range metric.Dimensions {
		metric.Dimensions[i].Categories = []any{"stale"}
	}
	other := testutil.SalesMetric("orders")
	other.Name = "untouched"
	other.Dimensions[0].Categories = []any{"kept"}
	require.NoError(t, l.SetMetrics([]core.Metric{metric, other}, ""))

	// statistics ran for sales but only the region dimension succeeded
	l.ApplyCategories(map[string]map[string][]any{
		"sales": {"region": {"north"}},
	})

	m, _ := l.Metric("sales")
	for _, d := range m.Dimensions {
		if d.Name == "region" {
			assert.Equal(t, []any{"north"}, d.Categories)
			continue
		}
		assert.Empty(t, d.Categories, d.Name)
	}
	u, _ := l.Metric("untouched")
	assert.Equal(t, []any{"kept"}, u.Dimensions[0].Categories)
}

func TestReject_RestoresPersistedState(t *testing.T) {
	l := newLayer(t)
	require.NoError(t, l.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, ""))
	require.NoError(t, l.Dump(true))

	other := testutil.SalesMetric("orders")
	other.Name = "other"
	require.NoError(t, l.SetMetrics([]core.Metric{other}, "draft"))

	require.NoError(t, l.Reject())
	assert.Equal(t, "sales", l.Metrics()[0].Name)
	assert.Empty(t, l.UpdateReasoning())
}

func TestFeedbackAccumulates(t *testing.T) {
	l := newLayer(t)
	l.AddFeedback(core.Feedback{Sentiment: core.SentimentNegative, Reason: "wrong totals"})
	l.AddFeedback(core.Feedback{Sentiment: core.SentimentPositive})

	fb := l.Feedback()
	require.Len(t, fb, 2)
	assert.Equal(t, "wrong totals", fb[0].Reason)
}

func TestCopyFrom(t *testing.T) {
	src := newLayer(t)
	require.NoError(t, src.SetMetrics([]core.Metric{testutil.SalesMetric("orders")}, ""))
	src.SetExamples([]core.Example{{Prompt: "revenue?", SQL: "SELECT SUM(price * qty) FROM sales"}})

	dst := New("outlet", filepath.Join(t.TempDir(), "outlet"), WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, dst.CopyFrom(src, false))
	require.Len(t, dst.Metrics(), 1)
	assert.Equal(t, "outlet", dst.Metrics()[0].DataSource)
	assert.Len(t, dst.Examples(), 1)
	assert.Equal(t, "copied from shop", dst.UpdateReasoning())
	assert.NoDirExists(t, dst.Dir())

	require.NoError(t, dst.CopyFrom(src, true))
	assert.FileExists(t, filepath.Join(dst.Dir(), "sales.json"))
	assert.FileExists(t, filepath.Join(dst.Dir(), ExamplesFile))

	// the source is not affected by edits to the copy
	require.NoError(t, dst.SetMetrics(nil, ""))
	assert.Len(t, src.Metrics(), 1)

	assert.Error(t, dst.CopyFrom(dst, false))
}
