package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	params *Params
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" or an empty path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.params = params

	if err := a.applyParams(ctx); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}
	return nil
}

// applyParams installs extensions and applies settings.
func (a *Adapter) applyParams(ctx context.Context) error {
	for _, ext := range a.params.Extensions {
		if err := a.LoadExtension(ctx, ext); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(a.params.Settings))
	for k := range a.params.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmt := fmt.Sprintf("SET %s = %s", sqlref.QuoteIdent(k), sqlref.QuoteString(a.params.Settings[k]))
		if err := a.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}
	return nil
}

// LoadExtension installs and loads a DuckDB extension.
func (a *Adapter) LoadExtension(ctx context.Context, name string) error {
	ident := sqlref.QuoteIdent(name)
	if err := a.Exec(ctx, "INSTALL "+ident); err != nil {
		return fmt.Errorf("failed to install extension %s: %w", name, err)
	}
	if err := a.Exec(ctx, "LOAD "+ident); err != nil {
		return fmt.Errorf("failed to load extension %s: %w", name, err)
	}
	a.Logger.Debug("loaded duckdb extension", slog.String("extension", name))
	return nil
}

// CurrentDatabase returns the name of the default catalog of the connection.
func (a *Adapter) CurrentDatabase(ctx context.Context) (string, error) {
	names, err := a.QueryStrings(ctx, "SELECT current_database()")
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("duckdb returned no current database")
	}
	return names[0], nil
}

// HasDatabase reports whether a catalog with the given name is attached.
func (a *Adapter) HasDatabase(ctx context.Context, name string) (bool, error) {
	names, err := a.QueryStrings(ctx, "SELECT database_name FROM duckdb_databases() WHERE lower(database_name) = lower(?)", name)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// Tables lists the base tables of a catalog.
func (a *Adapter) Tables(ctx context.Context, database string) ([]string, error) {
	return a.QueryStrings(ctx,
		"SELECT table_name FROM duckdb_tables() WHERE database_name = ? AND schema_name = 'main' ORDER BY table_name",
		database)
}

// Views lists the non-internal views of a catalog.
func (a *Adapter) Views(ctx context.Context, database string) ([]string, error) {
	return a.QueryStrings(ctx,
		"SELECT view_name FROM duckdb_views() WHERE database_name = ? AND schema_name = 'main' AND NOT internal ORDER BY view_name",
		database)
}

// DescribeDatabase returns the CREATE statements of the user relations of a catalog.
func (a *Adapter) DescribeDatabase(ctx context.Context, database string) (string, error) {
	tables, err := a.QueryStrings(ctx, `
		SELECT sql FROM duckdb_tables()
		WHERE database_name = ? AND schema_name NOT IN ('information_schema', 'pg_catalog')
		ORDER BY schema_name, table_name`, database)
	if err != nil {
		return "", fmt.Errorf("failed to describe tables of %s: %w", database, err)
	}
	views, err := a.QueryStrings(ctx, `
		SELECT sql FROM duckdb_views()
		WHERE database_name = ? AND NOT internal AND schema_name NOT IN ('information_schema', 'pg_catalog')
		ORDER BY schema_name, view_name`, database)
	if err != nil {
		return "", fmt.Errorf("failed to describe views of %s: %w", database, err)
	}
	return adapter.JoinDDL(append(tables, views...)), nil
}

// DescribeSchema returns the DDL of the default catalog.
func (a *Adapter) DescribeSchema(ctx context.Context) (string, error) {
	db, err := a.CurrentDatabase(ctx)
	if err != nil {
		return "", err
	}
	return a.DescribeDatabase(ctx, db)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
