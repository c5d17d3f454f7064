package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	fn      func(query string) (*core.ResultSet, error)
	queries []string
}

func (f *fakeExecutor) Execute(_ context.Context, query string) (*core.ResultSet, error) {
	f.queries = append(f.queries, query)
	if f.fn == nil {
		return &core.ResultSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
	}
	return f.fn(query)
}

func (f *fakeExecutor) TransientDDL(context.Context) (string, error) {
	return "CREATE TABLE sales (region VARCHAR);", nil
}

func failing(query string) (*core.ResultSet, error) {
	return nil, &core.ExecutionError{SQL: query, Err: errors.New("Binder Error: column nope not found")}
}

// salesOracle picks sales and generates fixed SQL.
func salesOracle(sql string) *oracle.Stub {
	return &oracle.Stub{
		SelectMetricFunc: func(context.Context, oracle.SelectMetricRequest) (*oracle.MetricChoice, error) {
			return &oracle.MetricChoice{Metric: "sales", Reasoning: "revenue lives in sales", SQL: "SELECT leaked"}, nil
		},
		GenerateSQLFunc: func(context.Context, oracle.GenerateSQLRequest) (*oracle.SQLGeneration, error) {
			return &oracle.SQLGeneration{SQL: sql}, nil
		},
		RepairSQLFunc: func(context.Context, oracle.RepairSQLRequest) (*oracle.SQLRepair, error) {
			return &oracle.SQLRepair{SQL: sql}, nil
		},
		RespondFunc: func(_ context.Context, req oracle.RespondRequest) (*oracle.Answer, error) {
			return &oracle.Answer{Text: "answer"}, nil
		},
	}
}

func newPipeline(t *testing.T, o oracle.Oracle, exec Executor) *Pipeline {
	t.Helper()
	p, err := New(Config{Oracle: o, Executor: exec, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return p
}

func input(opts Options) Input {
	return Input{
		Question: "total revenue by region",
		Metrics:  []core.Metric{testutil.SalesMetric("shop")},
		Options:  opts,
	}
}

func TestRun_HappyPath(t *testing.T) {
	stub := salesOracle("```sql\nSELECT region, SUM(price * qty) AS revenue FROM sales GROUP BY region;\n```")
	var selectReq oracle.SelectMetricRequest
	stub.SelectMetricFunc = func(_ context.Context, req oracle.SelectMetricRequest) (*oracle.MetricChoice, error) {
		selectReq = req
		return &oracle.MetricChoice{Metric: "SALES", SQL: "SELECT leaked"}, nil
	}
	exec := &fakeExecutor{}

	st, err := newPipeline(t, stub, exec).Run(context.Background(), input(DefaultOptions()))
	require.NoError(t, err)

	assert.Empty(t, selectReq.Metrics[0].SQL, "metrics are masked for selection")
	assert.Equal(t, "sales", st.Plan.Metric)
	assert.Equal(t, "SELECT region, SUM(price * qty) AS revenue FROM sales GROUP BY region\nLIMIT 1000", st.Plan.SQL)
	assert.Equal(t, []string{st.Plan.SQL}, exec.queries)
	assert.Equal(t, []Step{StepSelectMetric, StepGenerateSQL, StepExecuteSQL, StepRespond, StepEnd}, st.Trace)
	assert.Equal(t, 1, st.Executions)
	assert.Equal(t, "answer", st.Answer)
	assert.NotNil(t, st.Result)
	assert.Empty(t, st.Error)
}

func TestRun_NoMetricShortCircuits(t *testing.T) {
	tests := []struct {
		name   string
		choice string
	}{
		{name: "explicit none", choice: "none"},
		{name: "unknown metric", choice: "inventory"},
		{name: "empty", choice: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := salesOracle("SELECT 1 FROM sales")
			stub.SelectMetricFunc = func(context.Context, oracle.SelectMetricRequest) (*oracle.MetricChoice, error) {
				return &oracle.MetricChoice{Metric: tt.choice, SQL: "SELECT * FROM secrets"}, nil
			}
			var respondReq oracle.RespondRequest
			stub.RespondFunc = func(_ context.Context, req oracle.RespondRequest) (*oracle.Answer, error) {
				respondReq = req
				return &oracle.Answer{Text: "I cannot answer that."}, nil
			}
			exec := &fakeExecutor{}

			st, err := newPipeline(t, stub, exec).Run(context.Background(), input(DefaultOptions()))
			require.NoError(t, err)

			assert.False(t, st.Visited(StepGenerateSQL))
			assert.Zero(t, stub.Calls(oracle.CallGenerateSQL))
			assert.Empty(t, st.Plan.SQL)
			assert.Empty(t, exec.queries)
			assert.Equal(t, NoteNoMetric, st.Note)
			assert.Equal(t, NoteNoMetric, respondReq.Note)
		})
	}
}

func TestRun_NoMetricsSkipsSelection(t *testing.T) {
	stub := &oracle.Stub{}
	st, err := newPipeline(t, stub, &fakeExecutor{}).Run(context.Background(), Input{Question: "hi", Options: DefaultOptions()})
	require.NoError(t, err)
	assert.Zero(t, stub.Calls(oracle.CallSelectMetric))
	assert.Equal(t, NoteNoMetric, st.Answer, "empty oracle answers fall back to the note")
}

func TestRun_RetryBudget(t *testing.T) {
	tests := []struct {
		retries        int
		wantExecutions int
	}{
		{retries: 0, wantExecutions: 1},
		{retries: 1, wantExecutions: 2},
		{retries: 3, wantExecutions: 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("retries=%d", tt.retries), func(t *testing.T) {
			stub := salesOracle("SELECT nope FROM sales")
			var respondReq oracle.RespondRequest
			stub.RespondFunc = func(_ context.Context, req oracle.RespondRequest) (*oracle.Answer, error) {
				respondReq = req
				return &oracle.Answer{Text: "failed"}, nil
			}
			exec := &fakeExecutor{fn: failing}

			st, err := newPipeline(t, stub, exec).Run(context.Background(), input(Options{Retries: tt.retries}))
			require.NoError(t, err)

			assert.Equal(t, tt.wantExecutions, st.Executions)
			assert.Len(t, exec.queries, tt.wantExecutions)
			assert.Equal(t, tt.retries, st.Count(StepRepairSQL))
			assert.Equal(t, tt.retries, stub.Calls(oracle.CallRepairSQL))
			assert.Equal(t, 1, st.Count(StepRespond))
			assert.Zero(t, st.RetriesLeft)
			assert.Contains(t, st.Error, "column nope not found")
			assert.Equal(t, st.Error, respondReq.Error)
			assert.Nil(t, st.Result)
		})
	}
}

func TestRun_RepairSucceeds(t *testing.T) {
	stub := salesOracle("SELECT nope FROM sales")
	var repairReq oracle.RepairSQLRequest
	stub.RepairSQLFunc = func(_ context.Context, req oracle.RepairSQLRequest) (*oracle.SQLRepair, error) {
		repairReq = req
		return &oracle.SQLRepair{SQL: "SELECT region FROM sales LIMIT 5"}, nil
	}
	exec := &fakeExecutor{fn: func(query string) (*core.ResultSet, error) {
		if strings.Contains(query, "nope") {
			return failing(query)
		}
		return &core.ResultSet{Columns: []string{"region"}, Rows: [][]any{{"north"}}}, nil
	}}

	st, err := newPipeline(t, stub, exec).Run(context.Background(), input(Options{Retries: 2}))
	require.NoError(t, err)

	assert.Equal(t, "CREATE TABLE sales (region VARCHAR);", repairReq.Schema)
	assert.Contains(t, repairReq.Error, "column nope not found")
	assert.Equal(t, "SELECT region FROM sales LIMIT 5", st.Plan.SQL)
	assert.Equal(t, 2, st.Executions)
	assert.Equal(t, 1, st.RetriesLeft)
	assert.Empty(t, st.Error)
	require.NotNil(t, st.Result)
	assert.Equal(t, 1, st.Result.Len())
}

func TestRun_CannotRepair(t *testing.T) {
	stub := salesOracle("SELECT nope FROM sales")
	stub.RepairSQLFunc = func(context.Context, oracle.RepairSQLRequest) (*oracle.SQLRepair, error) {
		return &oracle.SQLRepair{SQL: "none"}, nil
	}
	exec := &fakeExecutor{fn: failing}

	st, err := newPipeline(t, stub, exec).Run(context.Background(), input(Options{Retries: 3}))
	require.NoError(t, err)

	assert.Equal(t, 1, st.Executions)
	assert.Equal(t, 1, stub.Calls(oracle.CallRepairSQL))
	assert.Equal(t, NoteNoSQL, st.Note)
	assert.Empty(t, st.Plan.SQL)
	assert.NotEmpty(t, st.Error, "the last failure is kept for the answer")
	assert.Equal(t, []Step{StepSelectMetric, StepGenerateSQL, StepExecuteSQL, StepRepairSQL, StepExecuteSQL, StepRespond, StepEnd}, st.Trace)
}

func TestRun_OnlySQL(t *testing.T) {
	stub := salesOracle("SELECT region FROM sales")
	exec := &fakeExecutor{}

	st, err := newPipeline(t, stub, exec).Run(context.Background(), input(Options{OnlySQL: true, Retries: 1}))
	require.NoError(t, err)

	assert.Equal(t, []Step{StepSelectMetric, StepGenerateSQL, StepEnd}, st.Trace)
	assert.Equal(t, "SELECT region FROM sales\nLIMIT 1000", st.Plan.SQL)
	assert.Empty(t, exec.queries)
	assert.Zero(t, stub.Calls(oracle.CallRespond))
}

func TestRun_Fuzz(t *testing.T) {
	stub := salesOracle("SELECT region, SUM(price * qty) AS revenue FROM sales GROUP BY region")
	var fabReq oracle.FabricateRowsRequest
	stub.FabricateRowsFunc = func(_ context.Context, req oracle.FabricateRowsRequest) (*oracle.FabricatedRows, error) {
		fabReq = req
		return &oracle.FabricatedRows{Rows: []map[string]any{
			{"region": "north", "revenue": 12.5},
			{"region": "south"},
		}}, nil
	}

	st, err := newPipeline(t, stub, nil).Run(context.Background(), input(Options{Fuzz: true}))
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "revenue"}, fabReq.Columns)
	assert.Empty(t, fabReq.Metric.SQL)
	require.NotNil(t, st.Result)
	assert.Equal(t, []string{"region", "revenue"}, st.Result.Columns)
	assert.Equal(t, [][]any{{"north", 12.5}, {"south", nil}}, st.Result.Rows)
	assert.Equal(t, 1, st.Executions)
}

func TestRun_GuardRoutesToRepair(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{name: "other relation", sql: "SELECT * FROM returns"},
		{name: "join", sql: "SELECT * FROM sales JOIN returns USING (sku)"},
		{name: "mutation", sql: "DELETE FROM sales"},
		{name: "no relation", sql: "SELECT 42"},
		{name: "from-first derived table", sql: `SELECT r.* FROM sales, (FROM "shop".main."shop") r`},
		{name: "from-first cte", sql: `WITH r AS (FROM "transient_shop".main.other_metric) SELECT * FROM sales, r`},
		{name: "same name in another catalog", sql: `SELECT * FROM "transient_shop".main.sales`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := salesOracle(tt.sql)
			stub.RepairSQLFunc = func(context.Context, oracle.RepairSQLRequest) (*oracle.SQLRepair, error) {
				return &oracle.SQLRepair{SQL: "SELECT region FROM sales"}, nil
			}
			exec := &fakeExecutor{}

			st, err := newPipeline(t, stub, exec).Run(context.Background(), input(Options{Retries: 1}))
			require.NoError(t, err)

			assert.Equal(t, 2, st.Executions)
			assert.Equal(t, []string{"SELECT region FROM sales\nLIMIT 1000"}, exec.queries, "guarded SQL never reaches the engine")
			assert.Empty(t, st.Error)
		})
	}
}

func TestRun_OracleErrorAborts(t *testing.T) {
	stub := salesOracle("SELECT region FROM sales")
	stub.GenerateSQLFunc = func(context.Context, oracle.GenerateSQLRequest) (*oracle.SQLGeneration, error) {
		return nil, &core.OracleError{CallSite: oracle.CallGenerateSQL, Err: errors.New("timeout")}
	}

	st, err := newPipeline(t, stub, &fakeExecutor{}).Run(context.Background(), input(DefaultOptions()))
	var oerr *core.OracleError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, oracle.CallGenerateSQL, oerr.CallSite)
	assert.False(t, st.Visited(StepRespond))
}

func TestRun_InvalidInput(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	p := newPipeline(t, &oracle.Stub{}, &fakeExecutor{})
	_, err = p.Run(context.Background(), input(Options{Retries: -1}))
	require.Error(t, err)

	noExec := newPipeline(t, &oracle.Stub{}, nil)
	_, err = noExec.Run(context.Background(), input(DefaultOptions()))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, input(DefaultOptions()))
	require.ErrorIs(t, err, context.Canceled)
}
