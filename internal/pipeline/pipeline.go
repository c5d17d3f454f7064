// Package pipeline turns one question into a metric choice, a governed SQL
// query, its result and a natural-language answer. The run is a bounded state
// machine: select_metric, generate_sql, execute_sql, repair_sql (at most
// Retries times), respond, end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// Executor runs governed queries for one datasource.
type Executor interface {
	Execute(ctx context.Context, query string) (*core.ResultSet, error)
	// TransientDDL describes the snapshot tables behind the governed views
	TransientDDL(ctx context.Context) (string, error)
}

// Config holds pipeline dependencies.
type Config struct {
	Oracle   oracle.Oracle
	Executor Executor
	// RowLimit is appended to queries without a top-level LIMIT
	RowLimit int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Pipeline runs questions against one datasource's governed views.
type Pipeline struct {
	oracle   oracle.Oracle
	executor Executor
	rowLimit int
	logger   *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("pipeline requires an oracle")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultRowLimit
	}
	return &Pipeline{oracle: cfg.Oracle, executor: cfg.Executor, rowLimit: cfg.RowLimit, logger: logger}, nil
}

// Input is one turn.
type Input struct {
	Question string
	// History is the thread's prior messages, excluding Question
	History  []core.Message
	Metrics  []core.Metric
	Examples []core.Example
	Options  Options
}

// run carries per-run inputs through the steps.
type run struct {
	in     Input
	metric *core.Metric
	log    *slog.Logger
}

// Run executes the state machine. Execution failures are recorded in the
// returned state; oracle failures abort the run and are returned.
func (p *Pipeline) Run(ctx context.Context, in Input) (*State, error) {
	if in.Options.Retries < 0 {
		return nil, fmt.Errorf("retry budget must not be negative, got %d", in.Options.Retries)
	}
	if p.executor == nil && !in.Options.Fuzz && !in.Options.OnlySQL {
		return nil, errors.New("pipeline has no executor")
	}

	st := &State{
		Question:    in.Question,
		Options:     in.Options,
		RetriesLeft: in.Options.Retries,
	}
	r := &run{in: in, log: p.logger}

	step := StepSelectMetric
	for step != StepEnd {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Trace = append(st.Trace, step)
		r.log.Debug("pipeline step", slog.String("step", string(step)))

		var err error
		switch step {
		case StepSelectMetric:
			step, err = p.selectMetric(ctx, r, st)
		case StepGenerateSQL:
			step, err = p.generateSQL(ctx, r, st)
		case StepExecuteSQL:
			step, err = p.executeSQL(ctx, r, st)
		case StepRepairSQL:
			step, err = p.repairSQL(ctx, r, st)
		case StepRespond:
			step, err = p.respond(ctx, r, st)
		default:
			err = fmt.Errorf("unknown pipeline step %q", step)
		}
		if err != nil {
			return st, err
		}
	}
	st.Trace = append(st.Trace, StepEnd)

	r.log.Info("pipeline finished",
		slog.String("metric", st.Plan.Metric),
		slog.Int("executions", st.Executions),
		slog.Bool("failed", st.Error != ""))
	return st, nil
}

func (p *Pipeline) selectMetric(ctx context.Context, r *run, st *State) (Step, error) {
	if len(r.in.Metrics) > 0 {
		choice, err := p.oracle.SelectMetric(ctx, oracle.SelectMetricRequest{
			Question: r.in.Question,
			History:  r.in.History,
			Metrics:  core.MaskMetrics(r.in.Metrics),
		})
		if err != nil {
			return "", err
		}
		st.Plan.MetricReasoning = choice.Reasoning
		// volunteered SQL is never trusted at this stage
		choice.SQL = ""

		name := strings.TrimSpace(choice.Metric)
		if name != "" && !strings.EqualFold(name, oracle.NoMetric) {
			for i := range r.in.Metrics {
				if strings.EqualFold(r.in.Metrics[i].Name, name) {
					r.metric = &r.in.Metrics[i]
					break
				}
			}
			if r.metric == nil {
				r.log.Warn("oracle chose an unknown metric", slog.String("metric", name))
			}
		}
	}

	if r.metric == nil {
		st.Plan.Metric = ""
		st.Note = NoteNoMetric
		if st.Options.OnlySQL {
			return StepEnd, nil
		}
		return StepRespond, nil
	}
	st.Plan.Metric = r.metric.Name
	r.log = r.log.With(slog.String("metric", r.metric.Name))
	return StepGenerateSQL, nil
}

func (p *Pipeline) generateSQL(ctx context.Context, r *run, st *State) (Step, error) {
	if r.metric == nil {
		st.Note = NoteNoMetric
		return StepRespond, nil
	}

	gen, err := p.oracle.GenerateSQL(ctx, oracle.GenerateSQLRequest{
		Question: r.in.Question,
		History:  r.in.History,
		Metric:   r.metric.Masked(),
		Examples: r.in.Examples,
		RowLimit: p.rowLimit,
	})
	if err != nil {
		return "", err
	}
	st.Plan.SQL = p.prepare(gen.SQL)
	st.Plan.SQLReasoning = gen.Reasoning

	if st.Options.OnlySQL {
		if st.Plan.SQL == "" {
			st.Note = NoteNoSQL
		}
		return StepEnd, nil
	}
	return StepExecuteSQL, nil
}

// prepare normalizes generated SQL; "none" and empty mean no query.
func (p *Pipeline) prepare(raw string) string {
	q := sqlref.StripFences(raw)
	if q == "" || strings.EqualFold(q, oracle.NoMetric) {
		return ""
	}
	return sqlref.EnsureLimit(q, p.rowLimit)
}

func (p *Pipeline) executeSQL(ctx context.Context, r *run, st *State) (Step, error) {
	st.Result = nil
	if st.Plan.SQL == "" {
		st.Note = NoteNoSQL
		return StepRespond, nil
	}
	st.Executions++

	result, err := p.execute(ctx, r, st.Plan.SQL)
	if err != nil {
		var oerr *core.OracleError
		if errors.As(err, &oerr) {
			return "", err
		}
		st.Error = err.Error()
		r.log.Debug("execution failed", slog.String("error", st.Error), slog.Int("retries_left", st.RetriesLeft))
		if st.RetriesLeft > 0 {
			return StepRepairSQL, nil
		}
		return StepRespond, nil
	}

	st.Error = ""
	st.Note = ""
	st.Result = result
	return StepRespond, nil
}

// execute guards the query and runs it, or fabricates rows in fuzz mode.
func (p *Pipeline) execute(ctx context.Context, r *run, query string) (*core.ResultSet, error) {
	if err := guard(query, r.metric.Name); err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	if !r.in.Options.Fuzz {
		return p.executor.Execute(ctx, query)
	}

	columns := sqlref.Projections(query)
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		columns = columns[:0]
		for _, d := range r.metric.Dimensions {
			columns = append(columns, d.Name)
		}
	}
	out, err := p.oracle.FabricateRows(ctx, oracle.FabricateRowsRequest{
		Question: r.in.Question,
		SQL:      query,
		Columns:  columns,
		Metric:   r.metric.Masked(),
	})
	if err != nil {
		return nil, err
	}
	return core.ResultFromRecords(columns, out.Rows), nil
}

// guard restricts a query to one read-only statement over a single metric view.
func guard(query, metric string) error {
	if err := sqlref.CheckReadOnly(query); err != nil {
		return err
	}
	refs := sqlref.TableRefs(query)
	if len(refs) == 0 {
		return fmt.Errorf("query must read from the %s view", metric)
	}
	for _, ref := range refs {
		qualified := len(ref.Parts) > 2 || (len(ref.Parts) == 2 && !strings.EqualFold(ref.Parts[0], "main"))
		if qualified || !strings.EqualFold(ref.Name(), metric) {
			return fmt.Errorf("query may only read from the %s view, found %s", metric, ref)
		}
	}
	return nil
}

func (p *Pipeline) repairSQL(ctx context.Context, r *run, st *State) (Step, error) {
	var schema string
	if p.executor != nil {
		ddl, err := p.executor.TransientDDL(ctx)
		if err != nil {
			r.log.Warn("failed to describe snapshot tables", slog.String("error", err.Error()))
		}
		schema = ddl
	}

	fix, err := p.oracle.RepairSQL(ctx, oracle.RepairSQLRequest{
		Question: r.in.Question,
		History:  r.in.History,
		Metric:   r.metric.Masked(),
		SQL:      st.Plan.SQL,
		Error:    st.Error,
		Schema:   schema,
	})
	if err != nil {
		return "", err
	}
	st.RetriesLeft--
	st.Plan.SQL = p.prepare(fix.SQL)
	if fix.Reasoning != "" {
		st.Plan.SQLReasoning = fix.Reasoning
	}
	return StepExecuteSQL, nil
}

func (p *Pipeline) respond(ctx context.Context, r *run, st *State) (Step, error) {
	answer, err := p.oracle.Respond(ctx, oracle.RespondRequest{
		Question: r.in.Question,
		History:  r.in.History,
		Metric:   st.Plan.Metric,
		SQL:      st.Plan.SQL,
		Result:   st.Result,
		Note:     st.Note,
		Error:    st.Error,
	})
	if err != nil {
		return "", err
	}
	st.Answer = strings.TrimSpace(answer.Text)
	if st.Answer == "" {
		st.Answer = fallbackAnswer(st)
	}
	return StepEnd, nil
}

// fallbackAnswer is used when the oracle returns an empty answer.
func fallbackAnswer(st *State) string {
	switch {
	case st.Error != "":
		return "The query failed: " + st.Error
	case st.Note != "":
		return st.Note
	case st.Result != nil:
		return fmt.Sprintf("The query returned %d rows.", st.Result.Len())
	default:
		return "I could not answer that question."
	}
}
