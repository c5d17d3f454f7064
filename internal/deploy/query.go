package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// Execute runs one read-only query against the governed catalog. References
// must be bare or qualified with the governed catalog; file scans and table
// functions are rejected.
func (e *Engine) Execute(ctx context.Context, query string) (*core.ResultSet, error) {
	if err := e.checkGoverned(query); err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}

	rows, err := e.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	result := &core.ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &core.ExecutionError{SQL: query, Err: err}
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.ExecutionError{SQL: query, Err: err}
	}
	return result, nil
}

func (e *Engine) checkGoverned(query string) error {
	if err := sqlref.CheckReadOnly(query); err != nil {
		return err
	}
	if scans := sqlref.ExternalScans(query); len(scans) > 0 {
		return fmt.Errorf("direct reads are not allowed: %s", strings.Join(scans, ", "))
	}
	for _, ref := range sqlref.TableRefs(query) {
		switch len(ref.Parts) {
		case 1:
		case 2:
			if !strings.EqualFold(ref.Parts[0], "main") && !strings.EqualFold(ref.Parts[0], e.governed) {
				return fmt.Errorf("relation %s is outside the governed catalog", ref)
			}
		default:
			if !strings.EqualFold(ref.Parts[0], e.governed) {
				return fmt.Errorf("relation %s is outside the governed catalog", ref)
			}
		}
	}
	return nil
}

// normalize converts driver values into JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case interface{ Float64() float64 }:
		return x.Float64()
	default:
		return v
	}
}

// Describe returns the DDL of a datasource's raw catalog.
func (e *Engine) Describe(ctx context.Context, name string) (string, error) {
	return e.db.DescribeDatabase(ctx, e.Scope(name).Raw)
}

// DescribeTransient returns the DDL of a datasource's snapshot tables.
func (e *Engine) DescribeTransient(ctx context.Context, name string) (string, error) {
	return e.db.DescribeDatabase(ctx, e.Scope(name).Transient)
}

// GovernedViews lists the views of the governed catalog.
func (e *Engine) GovernedViews(ctx context.Context) ([]string, error) {
	return e.db.Views(ctx, e.governed)
}

// Scoped binds the engine to one datasource.
type Scoped struct {
	engine *Engine
	name   string
}

// Scoped returns a handle for one datasource.
func (e *Engine) Scoped(name string) *Scoped {
	return &Scoped{engine: e, name: name}
}

// Execute runs a governed query.
func (s *Scoped) Execute(ctx context.Context, query string) (*core.ResultSet, error) {
	return s.engine.Execute(ctx, query)
}

// TransientDDL returns the DDL of the datasource's snapshot tables.
func (s *Scoped) TransientDDL(ctx context.Context) (string, error) {
	return s.engine.DescribeTransient(ctx, s.name)
}

// Describe returns the DDL of the datasource's raw relations.
func (s *Scoped) Describe(ctx context.Context) (string, error) {
	return s.engine.Describe(ctx, s.name)
}
