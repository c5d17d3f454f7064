package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// CreateDataSource registers a datasource. Names are unique regardless of case.
func (s *SQLiteStore) CreateDataSource(ctx context.Context, ds *core.DataSource) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO datasources (name, type, uri, last_hydrated, created_at) VALUES (?, ?, ?, ?, ?)`,
		ds.Name, string(ds.Type), ds.URI, nullTime(ds.LastHydrated), ds.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return &core.DuplicateNameError{Kind: "datasource", Name: ds.Name}
		}
		return fmt.Errorf("failed to create datasource: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read datasource id: %w", err)
	}
	ds.ID = id
	s.logger.Debug("created datasource", slog.String("name", ds.Name), slog.Int64("id", id))
	return nil
}

const dataSourceColumns = `id, name, type, uri, last_hydrated, created_at`

func scanDataSource(row interface{ Scan(...any) error }) (*core.DataSource, error) {
	var (
		ds       core.DataSource
		typ      string
		hydrated sql.NullTime
	)
	if err := row.Scan(&ds.ID, &ds.Name, &typ, &ds.URI, &hydrated, &ds.CreatedAt); err != nil {
		return nil, err
	}
	ds.Type = core.DataSourceType(typ)
	if hydrated.Valid {
		t := hydrated.Time
		ds.LastHydrated = &t
	}
	return &ds, nil
}

// GetDataSource retrieves a datasource by name.
func (s *SQLiteStore) GetDataSource(ctx context.Context, name string) (*core.DataSource, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+dataSourceColumns+` FROM datasources WHERE name = ?`, name)
	ds, err := scanDataSource(row)
	if isNoRows(err) {
		return nil, notFound("datasource", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get datasource: %w", err)
	}
	return ds, nil
}

// ListDataSources returns all datasources ordered by name.
func (s *SQLiteStore) ListDataSources(ctx context.Context) ([]*core.DataSource, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+dataSourceColumns+` FROM datasources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan datasource: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// TouchDataSource records a successful hydration.
func (s *SQLiteStore) TouchDataSource(ctx context.Context, name string, hydrated time.Time) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE datasources SET last_hydrated = ? WHERE name = ?`, hydrated.UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update datasource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("datasource", name)
	}
	return nil
}

// DeleteDataSource removes a datasource with its threads, checkpoints,
// responses and feedback.
func (s *SQLiteStore) DeleteDataSource(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasources WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete datasource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("datasource", name)
	}
	s.logger.Debug("deleted datasource", slog.String("name", name))
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
