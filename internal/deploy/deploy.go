package deploy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// Deployment phases, reported in core.DeployError.
const (
	PhaseReconcile   = "reconcile"
	PhaseMaterialize = "materialize"
	PhasePublish     = "publish"
	PhaseStatistics  = "statistics"
)

// Options controls a deployment.
type Options struct {
	// Statistics collects category lists for low-cardinality dimensions
	Statistics bool
}

// Report summarizes a deployment.
type Report struct {
	DataSource   string           `json:"datasource"`
	Dropped      []string         `json:"dropped,omitempty"`
	Materialized map[string]int64 `json:"materialized"`
	// Categories maps metric then dimension to its category list; an empty
	// list means the dimension exceeded the cutoff
	Categories       map[string]map[string][]any `json:"categories,omitempty"`
	StatisticsErrors []error                     `json:"-"`
	Duration         time.Duration               `json:"duration"`
}

// StatisticsErr joins the per-dimension statistics failures.
func (r *Report) StatisticsErr() error {
	return errors.Join(r.StatisticsErrors...)
}

// Deploy makes the governed catalog match metrics for one datasource.
// Snapshots and views of metrics no longer present are dropped, every metric
// is re-materialized from the raw catalog and published as a view, and
// optionally dimension categories are collected. The first materialization
// failure stops the deployment.
func (e *Engine) Deploy(ctx context.Context, name string, metrics []core.Metric, opts Options) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	scope := e.Scope(name)
	log := e.logger.With(slog.String("datasource", name))

	attached, err := e.db.HasDatabase(ctx, scope.Transient)
	if err != nil {
		return nil, err
	}
	if !attached {
		return nil, &core.DeployError{DataSource: name, Phase: PhaseReconcile, Err: fmt.Errorf("datasource is not attached: %w", core.ErrNotFound)}
	}

	report := &Report{DataSource: name, Materialized: make(map[string]int64, len(metrics))}

	dropped, err := e.reconcile(ctx, scope, metrics)
	if err != nil {
		return nil, &core.DeployError{DataSource: name, Phase: PhaseReconcile, Err: err}
	}
	report.Dropped = dropped

	for _, m := range metrics {
		rows, err := e.materialize(ctx, scope, m)
		if err != nil {
			return report, &core.DeployError{DataSource: name, Phase: PhaseMaterialize, Metric: m.Name, Err: err}
		}
		report.Materialized[m.Name] = rows
		log.Debug("materialized metric", slog.String("metric", m.Name), slog.Int64("rows", rows))
	}

	for _, m := range metrics {
		if err := e.publish(ctx, scope, m.Name); err != nil {
			return report, &core.DeployError{DataSource: name, Phase: PhasePublish, Metric: m.Name, Err: err}
		}
	}

	if opts.Statistics {
		report.Categories = make(map[string]map[string][]any, len(metrics))
		for _, m := range metrics {
			report.Categories[m.Name] = e.collectCategories(ctx, scope, m, report)
		}
	}

	report.Duration = time.Since(start)
	log.Info("deployed semantic layer",
		slog.Int("metrics", len(metrics)),
		slog.Int("dropped", len(dropped)),
		slog.Int("statistics_errors", len(report.StatisticsErrors)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// reconcile drops the snapshots and views of metrics that are no longer defined.
func (e *Engine) reconcile(ctx context.Context, scope Scope, metrics []core.Metric) ([]string, error) {
	keep := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		keep[strings.ToLower(m.Name)] = true
	}

	tables, err := e.db.Tables(ctx, scope.Transient)
	if err != nil {
		return nil, err
	}
	views, err := e.backedViews(ctx, scope)
	if err != nil {
		return nil, err
	}

	var dropped []string
	seen := make(map[string]bool)
	for _, name := range append(views, tables...) {
		key := strings.ToLower(name)
		if keep[key] || seen[key] {
			continue
		}
		seen[key] = true
		if err := e.db.Exec(ctx, "DROP VIEW IF EXISTS "+qualified(scope.Governed, name)); err != nil {
			return dropped, fmt.Errorf("failed to drop view %s: %w", name, err)
		}
		if err := e.db.Exec(ctx, "DROP TABLE IF EXISTS "+qualified(scope.Transient, name)); err != nil {
			return dropped, fmt.Errorf("failed to drop snapshot %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}

// materialize snapshots one metric into the transient catalog and returns its row count.
func (e *Engine) materialize(ctx context.Context, scope Scope, m core.Metric) (int64, error) {
	if err := sqlref.CheckReadOnly(m.SQL); err != nil {
		return 0, err
	}
	body := sqlref.QualifyTables(strings.TrimRight(strings.TrimSpace(m.SQL), ";"), scope.Raw)
	table := qualified(scope.Transient, m.Name)

	if err := e.db.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", table, body)); err != nil {
		return 0, fmt.Errorf("failed to create snapshot: %w", err)
	}

	var count int64
	if err := e.db.DB.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshot rows: %w", err)
	}
	return count, nil
}

// publish exposes a snapshot through a governed view, refusing to replace a
// view owned by another datasource.
func (e *Engine) publish(ctx context.Context, scope Scope, metric string) error {
	var def sql.NullString
	err := e.db.DB.QueryRowContext(ctx, `
		SELECT sql FROM duckdb_views()
		WHERE database_name = ? AND schema_name = 'main' AND lower(view_name) = lower(?)`,
		scope.Governed, metric).Scan(&def)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to inspect view: %w", err)
	case !readsCatalog(def.String, scope.Transient):
		return &core.DuplicateNameError{Kind: "governed view", Name: metric}
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s",
		qualified(scope.Governed, metric), qualified(scope.Transient, metric))
	if err := e.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create view: %w", err)
	}
	return nil
}

// collectCategories enumerates low-cardinality dimensions of one snapshot.
// Failures are recorded on the report and never abort the deployment.
func (e *Engine) collectCategories(ctx context.Context, scope Scope, m core.Metric, report *Report) map[string][]any {
	out := make(map[string][]any, len(m.Dimensions))
	table := qualified(scope.Transient, m.Name)
	for _, d := range m.Dimensions {
		values, err := e.categories(ctx, table, d.Name)
		if err != nil {
			err = &core.DeployError{DataSource: scope.DataSource, Phase: PhaseStatistics, Metric: m.Name, Err: fmt.Errorf("dimension %s: %w", d.Name, err)}
			e.logger.Warn("failed to collect categories", slog.String("error", err.Error()))
			report.StatisticsErrors = append(report.StatisticsErrors, err)
			continue
		}
		out[d.Name] = values
	}
	return out
}

// categories returns the distinct values of a column ordered by value with
// NULL last, or nil when there are more than the cutoff. NULL counts as one
// value.
func (e *Engine) categories(ctx context.Context, table, column string) ([]any, error) {
	col := sqlref.QuoteIdent(column)

	// approx_count_distinct is cheap but approximate; it only rules out
	// columns well above the cutoff
	var approx int64
	if err := e.db.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT approx_count_distinct(%s) FROM %s", col, table)).Scan(&approx); err != nil {
		return nil, err
	}
	if approx > int64(e.cfg.Cutoff)*2 {
		return nil, nil
	}

	rows, err := e.db.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s ORDER BY 1 NULLS LAST LIMIT %d",
		col, table, e.cfg.Cutoff+1))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var values []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, normalize(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) > e.cfg.Cutoff {
		return nil, nil
	}
	return values, nil
}
