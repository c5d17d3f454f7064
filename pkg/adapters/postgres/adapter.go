package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
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
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
// cfg.DSN accepts both URL and keyword/value connection strings.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	pc, err := pgconn.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	a.Logger.Debug("connecting to postgres", slog.String("host", pc.Host), slog.String("database", pc.Database))

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// KeywordDSN converts a postgres connection string into the keyword/value
// form understood by DuckDB's postgres extension.
func KeywordDSN(connString string) (string, error) {
	pc, err := pgconn.ParseConfig(connString)
	if err != nil {
		return "", fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	parts := []string{
		"host=" + quoteValue(pc.Host),
		fmt.Sprintf("port=%d", pc.Port),
		"dbname=" + quoteValue(pc.Database),
	}
	if pc.User != "" {
		parts = append(parts, "user="+quoteValue(pc.User))
	}
	if pc.Password != "" {
		parts = append(parts, "password="+quoteValue(pc.Password))
	}
	return strings.Join(parts, " "), nil
}

// quoteValue quotes a libpq keyword value when it contains spaces or quotes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DescribeSchema reconstructs CREATE TABLE statements for every user table.
func (a *Adapter) DescribeSchema(ctx context.Context) (string, error) {
	if a.DB == nil {
		return "", fmt.Errorf("database connection not established")
	}
	rows, err := a.DB.QueryContext(ctx, `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string][]adapter.Column)
	for rows.Next() {
		var schema, table, nullable string
		var col adapter.Column
		if err := rows.Scan(&schema, &table, &col.Name, &col.Type, &nullable); err != nil {
			return "", fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		key := sqlref.QuoteIdent(schema) + "." + sqlref.QuoteIdent(table)
		col.Position = len(tables[key]) + 1
		tables[key] = append(tables[key], col)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating column metadata: %w", err)
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]string, 0, len(names))
	for _, name := range names {
		stmts = append(stmts, createTable(name, tables[name]))
	}
	return adapter.JoinDDL(stmts), nil
}

func createTable(name string, columns []adapter.Column) string {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		def := sqlref.QuoteIdent(c.Name) + " " + strings.ToUpper(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
