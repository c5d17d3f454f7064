package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ErrNoFeedback is returned by Refine when there is nothing to learn from.
var ErrNoFeedback = errors.New("no feedback to refine from")

// Propose asks the oracle for a fresh metric set grounded in the source schema
// and replaces the current metrics with it.
func (l *SemanticLayer) Propose(ctx context.Context, questions []string, context string) error {
	if err := l.requireOracle(); err != nil {
		return err
	}
	ddl, err := l.describe(ctx)
	if err != nil {
		return err
	}

	out, err := l.oracle.ProposeMetrics(ctx, oracle.ProposeRequest{
		DataSource: l.dataSource,
		Questions:  questions,
		Context:    context,
		Schema:     ddl,
	})
	if err != nil {
		return err
	}
	if len(out.Metrics) == 0 {
		return &core.OracleError{CallSite: oracle.CallProposeMetrics, Err: errors.New("no metrics proposed")}
	}

	metrics := core.CloneMetrics(out.Metrics)
	for i := range metrics {
		if core.IsReservedName(metrics[i].Name) || strings.EqualFold(metrics[i].Name, "example") {
			metrics[i].Name += "_ds"
		}
		metrics[i].DataSource = l.dataSource
	}
	if err := Validate(metrics); err != nil {
		return &core.OracleError{CallSite: oracle.CallProposeMetrics, Err: err}
	}

	l.mu.Lock()
	l.metrics = metrics
	l.updateReasoning = fmt.Sprintf("Proposed %d metrics from %d sample questions.", len(metrics), len(questions))
	l.mu.Unlock()

	l.logger.Info("metrics proposed", slog.Int("metrics", len(metrics)))
	return nil
}

// RefineOptions controls Refine.
type RefineOptions struct {
	// Publish sends the refined metrics to the configured Publisher.
	Publish bool
}

// FieldChange is one changed field of a metric.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// MetricChange summarizes how Refine changed one metric.
type MetricChange struct {
	Metric string        `json:"metric"`
	Added  bool          `json:"added,omitempty"`
	Fields []FieldChange `json:"fields,omitempty"`
}

// RefineResult is the outcome of Refine.
type RefineResult struct {
	Observations []string       `json:"observations"`
	Changes      []MetricChange `json:"changes"`
	Publication  *Publication   `json:"publication,omitempty"`
	PublishError string         `json:"publish_error,omitempty"`
}

// Refine asks the oracle to revise metrics given feedback and merges the
// revisions by name: known names are replaced in place, new names appended,
// untouched metrics kept. Publication failures are reported in the result.
func (l *SemanticLayer) Refine(ctx context.Context, feedback []core.Feedback, opts RefineOptions) (*RefineResult, error) {
	if len(feedback) == 0 {
		return nil, ErrNoFeedback
	}
	if err := l.requireOracle(); err != nil {
		return nil, err
	}
	ddl, err := l.describe(ctx)
	if err != nil {
		return nil, err
	}

	current := l.Metrics()
	out, err := l.oracle.RefineMetrics(ctx, oracle.RefineRequest{
		DataSource: l.dataSource,
		Metrics:    current,
		Schema:     ddl,
		Feedback:   feedback,
	})
	if err != nil {
		return nil, err
	}

	merged, changes := mergeByName(current, out.Metrics)
	for i := range merged {
		merged[i].DataSource = l.dataSource
	}
	if err := Validate(merged); err != nil {
		return nil, &core.OracleError{CallSite: oracle.CallRefineMetrics, Err: err}
	}

	l.mu.Lock()
	l.metrics = merged
	l.updateReasoning = strings.Join(out.Observations, "\n")
	l.mu.Unlock()

	result := &RefineResult{Observations: out.Observations, Changes: changes}
	l.logger.Info("metrics refined", slog.Int("feedback", len(feedback)), slog.Int("changed", len(changes)))

	if opts.Publish && l.publisher != nil && len(changes) > 0 {
		pub, err := l.publisher.Publish(ctx, l.dataSource, changedMetrics(merged, changes))
		if err != nil {
			l.logger.Warn("failed to publish refined metrics", slog.String("error", err.Error()))
			result.PublishError = err.Error()
		} else {
			result.Publication = pub
		}
	}
	return result, nil
}

// mergeByName applies refined metrics on top of current.
func mergeByName(current []core.Metric, updates []oracle.RefinedMetric) ([]core.Metric, []MetricChange) {
	merged := core.CloneMetrics(current)
	index := make(map[string]int, len(merged))
	for i, m := range merged {
		index[strings.ToLower(m.Name)] = i
	}

	var changes []MetricChange
	for _, upd := range updates {
		key := strings.ToLower(strings.TrimSpace(upd.OriginalName))
		if key == "" {
			key = strings.ToLower(upd.Metric.Name)
		}
		next := upd.Metric.Clone()
		if i, ok := index[key]; ok {
			fields := diffMetric(merged[i], next)
			if len(fields) > 0 {
				changes = append(changes, MetricChange{Metric: next.Name, Fields: fields})
			}
			merged[i] = next
			index[strings.ToLower(next.Name)] = i
			continue
		}
		merged = append(merged, next)
		index[strings.ToLower(next.Name)] = len(merged) - 1
		changes = append(changes, MetricChange{Metric: next.Name, Added: true})
	}
	return merged, changes
}

func changedMetrics(metrics []core.Metric, changes []MetricChange) []core.Metric {
	names := make(map[string]bool, len(changes))
	for _, c := range changes {
		names[strings.ToLower(c.Metric)] = true
	}
	var out []core.Metric
	for _, m := range metrics {
		if names[strings.ToLower(m.Name)] {
			out = append(out, m)
		}
	}
	return out
}

// diffMetric lists the fields that differ between two versions of a metric.
func diffMetric(before, after core.Metric) []FieldChange {
	var fields []FieldChange
	add := func(field, b, a string) {
		if b != a {
			fields = append(fields, FieldChange{Field: field, Before: b, After: a})
		}
	}
	add("name", before.Name, after.Name)
	add("description", before.Description, after.Description)
	add("sql", before.SQL, after.SQL)

	beforeDims := make(map[string]core.Dimension, len(before.Dimensions))
	for _, d := range before.Dimensions {
		beforeDims[strings.ToLower(d.Name)] = d
	}
	for _, d := range after.Dimensions {
		old, ok := beforeDims[strings.ToLower(d.Name)]
		delete(beforeDims, strings.ToLower(d.Name))
		if !ok {
			add("dimensions."+d.Name, "", "added")
			continue
		}
		add("dimensions."+d.Name+".description", old.Description, d.Description)
		add("dimensions."+d.Name+".dtype", old.DataType, d.DataType)
	}
	for _, d := range before.Dimensions {
		if _, ok := beforeDims[strings.ToLower(d.Name)]; ok {
			add("dimensions."+d.Name, "present", "")
		}
	}

	beforeMeasures := make(map[string]core.Measure, len(before.Measures))
	for _, ms := range before.Measures {
		beforeMeasures[strings.ToLower(ms.Name)] = ms
	}
	for _, ms := range after.Measures {
		old, ok := beforeMeasures[strings.ToLower(ms.Name)]
		delete(beforeMeasures, strings.ToLower(ms.Name))
		if !ok {
			add("measures."+ms.Name, "", ms.Expr)
			continue
		}
		add("measures."+ms.Name+".expr", old.Expr, ms.Expr)
		add("measures."+ms.Name+".description", old.Description, ms.Description)
	}
	for _, ms := range before.Measures {
		if _, ok := beforeMeasures[strings.ToLower(ms.Name)]; ok {
			add("measures."+ms.Name, ms.Expr, "")
		}
	}

	if !reflect.DeepEqual(before.SampleQuestions, after.SampleQuestions) {
		add("sample_questions", strings.Join(before.SampleQuestions, "; "), strings.Join(after.SampleQuestions, "; "))
	}
	return fields
}

// Update applies a free-form change request to the whole layer through the
// oracle. The revision stays in memory until Dump or Reject.
func (l *SemanticLayer) Update(ctx context.Context, statement string, history []core.Message) (*oracle.LayerUpdate, error) {
	if err := l.requireOracle(); err != nil {
		return nil, err
	}
	ddl, err := l.describe(ctx)
	if err != nil {
		return nil, err
	}

	snap := l.Snapshot()
	out, err := l.oracle.UpdateLayer(ctx, oracle.UpdateLayerRequest{
		DataSource: l.dataSource,
		Statement:  statement,
		History:    history,
		Metrics:    snap.Metrics,
		Examples:   snap.Examples,
		Schema:     ddl,
	})
	if err != nil {
		return nil, err
	}

	metrics := core.CloneMetrics(out.Metrics)
	for i := range metrics {
		metrics[i].DataSource = l.dataSource
	}
	if err := Validate(metrics); err != nil {
		return nil, &core.OracleError{CallSite: oracle.CallUpdateLayer, Err: err}
	}

	l.mu.Lock()
	l.metrics = metrics
	l.examples = append([]core.Example(nil), out.Examples...)
	l.updateReasoning = out.Reasoning
	l.mu.Unlock()

	l.logger.Info("semantic layer updated", slog.Int("metrics", len(metrics)), slog.Int("examples", len(out.Examples)))
	return out, nil
}
