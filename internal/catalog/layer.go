// Package catalog implements the semantic layer of one datasource: its
// metrics, few-shot examples and accumulated feedback, persisted as one JSON
// file per metric plus a reserved examples file.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// ExamplesFile is the reserved file holding the example collection.
const ExamplesFile = core.ReservedMetricName + ".json"

// SchemaProvider returns the DDL of a datasource's raw relations.
type SchemaProvider interface {
	Describe(ctx context.Context) (string, error)
}

// Publisher sends a refined metric set to an external change-review system.
type Publisher interface {
	Publish(ctx context.Context, datasource string, metrics []core.Metric) (*Publication, error)
}

// Publication describes a published change request.
type Publication struct {
	Branch string `json:"branch"`
	URL    string `json:"url"`
}

// Option configures a SemanticLayer.
type Option func(*SemanticLayer)

// WithOracle sets the oracle used by Propose, Refine and Update.
func WithOracle(o oracle.Oracle) Option {
	return func(l *SemanticLayer) { l.oracle = o }
}

// WithSchemaProvider sets the source of grounding DDL.
func WithSchemaProvider(p SchemaProvider) Option {
	return func(l *SemanticLayer) { l.schema = p }
}

// WithPublisher sets the publisher used by Refine.
func WithPublisher(p Publisher) Option {
	return func(l *SemanticLayer) { l.publisher = p }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *SemanticLayer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// SemanticLayer is the metric catalog of one datasource.
// In-memory edits are only persisted by Dump.
type SemanticLayer struct {
	dataSource string
	dir        string
	oracle     oracle.Oracle
	schema     SchemaProvider
	publisher  Publisher
	logger     *slog.Logger

	mu              sync.RWMutex
	metrics         []core.Metric
	examples        []core.Example
	updateReasoning string
	feedback        []core.Feedback
}

// New creates an empty semantic layer for datasource persisted under dir.
func New(dataSource, dir string, opts ...Option) *SemanticLayer {
	l := &SemanticLayer{
		dataSource: dataSource,
		dir:        dir,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("datasource", dataSource))
	return l
}

// DataSource returns the owning datasource name.
func (l *SemanticLayer) DataSource() string { return l.dataSource }

// Dir returns the persistence directory.
func (l *SemanticLayer) Dir() string { return l.dir }

// Metrics returns a copy of the current metrics.
func (l *SemanticLayer) Metrics() []core.Metric {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return core.CloneMetrics(l.metrics)
}

// Examples returns a copy of the current examples.
func (l *SemanticLayer) Examples() []core.Example {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Example(nil), l.examples...)
}

// UpdateReasoning returns the note describing unaccepted in-memory changes.
func (l *SemanticLayer) UpdateReasoning() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updateReasoning
}

// Metric returns the metric with the given name, matched case-insensitively.
func (l *SemanticLayer) Metric(name string) (core.Metric, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.metrics {
		if strings.EqualFold(m.Name, name) {
			return m.Clone(), true
		}
	}
	return core.Metric{}, false
}

// SetMetrics replaces the metric set after validation.
func (l *SemanticLayer) SetMetrics(metrics []core.Metric, reasoning string) error {
	metrics = core.CloneMetrics(metrics)
	for i := range metrics {
		metrics[i].DataSource = l.dataSource
	}
	if err := Validate(metrics); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = metrics
	l.updateReasoning = reasoning
	return nil
}

// CopyFrom replaces the metrics and examples with those of other, rebound to
// this datasource. With dump the result is persisted, otherwise it stays an
// unaccepted in-memory change.
func (l *SemanticLayer) CopyFrom(other *SemanticLayer, dump bool) error {
	if other == nil || other == l {
		return fmt.Errorf("cannot copy a semantic layer onto itself")
	}
	if err := l.SetMetrics(other.Metrics(), "copied from "+other.DataSource()); err != nil {
		return err
	}
	l.SetExamples(other.Examples())
	l.logger.Info("copied semantic layer", slog.String("from", other.DataSource()))
	if dump {
		return l.Dump(true)
	}
	return nil
}

// SetExamples replaces the example collection.
func (l *SemanticLayer) SetExamples(examples []core.Example) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.examples = append([]core.Example(nil), examples...)
}

// ApplyCategories stores category enumerations collected by the statistics
// pass, keyed by metric then dimension name. Every dimension of a metric
// present in the map is reset first, so dimensions whose statistics failed
// end up with no categories. Metrics absent from the map are untouched.
func (l *SemanticLayer) ApplyCategories(categories map[string]map[string][]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.metrics {
		dims, ok := lookupFold(categories, l.metrics[i].Name)
		if !ok {
			continue
		}
		for j := range l.metrics[i].Dimensions {
			values, _ := lookupFold(dims, l.metrics[i].Dimensions[j].Name)
			l.metrics[i].Dimensions[j].Categories = values
		}
	}
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// AddFeedback records a feedback entry on the layer.
func (l *SemanticLayer) AddFeedback(fb core.Feedback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feedback = append(l.feedback, fb)
}

// Feedback returns the feedback accumulated since the layer was created.
func (l *SemanticLayer) Feedback() []core.Feedback {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.Feedback(nil), l.feedback...)
}

type examplesDoc struct {
	Examples []core.Example `json:"examples"`
}

// Load replaces the in-memory state with the persisted files. A missing
// directory yields an empty layer. Any malformed file aborts the load and
// leaves the in-memory state untouched.
func (l *SemanticLayer) Load() error {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		l.mu.Lock()
		l.metrics, l.examples, l.updateReasoning = nil, nil, ""
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read semantic layer directory: %w", err)
	}

	var (
		metrics  []core.Metric
		examples []core.Example
	)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		if entry.Name() == ExamplesFile {
			var doc examplesDoc
			if err := decodeStrict(data, &doc); err != nil {
				return &core.ValidationError{Path: path, Err: err}
			}
			examples = doc.Examples
			continue
		}

		var m core.Metric
		if err := decodeStrict(data, &m); err != nil {
			return &core.ValidationError{Path: path, Err: err}
		}
		if problems := validateMetric(m); len(problems) > 0 {
			return &core.ValidationError{Path: path, Problems: problems}
		}
		metrics = append(metrics, m)
	}
	if err := Validate(metrics); err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			verr.Path = l.dir
		}
		return err
	}

	sort.SliceStable(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = metrics
	l.examples = examples
	l.updateReasoning = ""
	l.logger.Debug("loaded semantic layer", slog.Int("metrics", len(metrics)), slog.Int("examples", len(examples)))
	return nil
}

// Reject discards in-memory edits by reloading the persisted state.
func (l *SemanticLayer) Reject() error {
	return l.Load()
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON document")
	}
	return nil
}

// Dump writes the in-memory state to disk and clears the update reasoning.
// With clear, the directory is staged and swapped in whole so stale metric
// files disappear; otherwise each file is replaced individually.
func (l *SemanticLayer) Dump(clear bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return fmt.Errorf("failed to create layer parent directory: %w", err)
	}
	staging := fmt.Sprintf("%s.staging-%s", l.dir, uuid.NewString()[:8])
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	files := make([]string, 0, len(l.metrics)+1)
	for _, m := range l.metrics {
		name := m.Name + ".json"
		if err := writeJSON(filepath.Join(staging, name), m); err != nil {
			return err
		}
		files = append(files, name)
	}
	if err := writeJSON(filepath.Join(staging, ExamplesFile), examplesDoc{Examples: nonNil(l.examples)}); err != nil {
		return err
	}
	files = append(files, ExamplesFile)

	if clear {
		if err := swapDir(staging, l.dir); err != nil {
			return err
		}
	} else {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return fmt.Errorf("failed to create layer directory: %w", err)
		}
		for _, name := range files {
			if err := os.Rename(filepath.Join(staging, name), filepath.Join(l.dir, name)); err != nil {
				return fmt.Errorf("failed to replace %s: %w", name, err)
			}
		}
	}

	l.updateReasoning = ""
	l.logger.Info("semantic layer saved", slog.Int("metrics", len(l.metrics)), slog.Bool("clear", clear))
	return nil
}

// swapDir replaces dst with src using renames, keeping dst intact on failure.
func swapDir(src, dst string) error {
	backup := fmt.Sprintf("%s.old-%s", dst, uuid.NewString()[:8])
	hadOld := true
	if err := os.Rename(dst, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to move old layer aside: %w", err)
		}
		hadOld = false
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("failed to install new layer: %w", err)
	}
	if hadOld {
		_ = os.RemoveAll(backup)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Snapshot is the serialized form of a whole layer.
type Snapshot struct {
	Metrics         []core.Metric  `json:"metrics" yaml:"metrics"`
	Examples        []core.Example `json:"examples" yaml:"examples"`
	UpdateReasoning string         `json:"update_reasoning,omitempty" yaml:"update_reasoning,omitempty"`
}

// Snapshot returns a copy of the whole in-memory state.
func (l *SemanticLayer) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Metrics:         nonNil(core.CloneMetrics(l.metrics)),
		Examples:        nonNil(append([]core.Example(nil), l.examples...)),
		UpdateReasoning: l.updateReasoning,
	}
}

// Dumps serializes the in-memory state for display or diffing.
func (l *SemanticLayer) Dumps() (string, error) {
	data, err := json.MarshalIndent(l.Snapshot(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode semantic layer: %w", err)
	}
	return string(data), nil
}

// describe asks the schema provider for grounding DDL, if one is configured.
func (l *SemanticLayer) describe(ctx context.Context) (string, error) {
	if l.schema == nil {
		return "", nil
	}
	ddl, err := l.schema.Describe(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to describe datasource: %w", err)
	}
	return ddl, nil
}

func (l *SemanticLayer) requireOracle() error {
	if l.oracle == nil {
		return fmt.Errorf("semantic layer %s has no oracle configured", l.dataSource)
	}
	return nil
}
