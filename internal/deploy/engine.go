// Package deploy materializes semantic layers into DuckDB.
//
// One DuckDB instance hosts three kinds of catalogs: the governed catalog
// (the connection's default database, holding only metric views), one raw
// catalog per datasource and one writable transient catalog per datasource
// holding the snapshots behind the views. Every statement names its catalog
// explicitly through a Scope; the engine never switches the current catalog.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
	"github.com/leapstack-labs/leapmetrics/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// DefaultCutoff is the default low-cardinality threshold for categories.
const DefaultCutoff = 100

// transientPrefix names the per-datasource snapshot catalog.
const transientPrefix = "transient_"

// Config holds engine configuration.
type Config struct {
	// Database is the governed DuckDB file; empty means in-memory
	Database string
	// TransientDir holds one <datasource>.duckdb snapshot file per datasource
	TransientDir string
	// Cutoff is the inclusive distinct-value limit for dimension categories
	Cutoff int
	// Extensions are installed and loaded at startup
	Extensions []string
	// Settings are applied with SET at startup
	Settings map[string]string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Scope names the catalogs one datasource's statements run against.
type Scope struct {
	DataSource string
	Raw        string
	Transient  string
	Governed   string
}

// Engine owns the DuckDB connection. Attach, Deploy and Detach are
// serialized; Execute and Describe run concurrently with each other.
type Engine struct {
	db       *duckdb.Adapter
	cfg      Config
	governed string
	logger   *slog.Logger

	mu sync.Mutex
}

// New opens the governed database and applies extensions and settings.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = DefaultCutoff
	}
	if cfg.TransientDir == "" {
		dir, err := os.MkdirTemp("", "leapmetrics-transient-")
		if err != nil {
			return nil, fmt.Errorf("failed to create transient directory: %w", err)
		}
		cfg.TransientDir = dir
	}
	if cfg.Database != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	params := map[string]any{}
	if len(cfg.Extensions) > 0 {
		params["extensions"] = cfg.Extensions
	}
	if len(cfg.Settings) > 0 {
		params["settings"] = cfg.Settings
	}

	db := duckdb.New(logger)
	if err := db.Connect(ctx, adapter.Config{Type: duckdb.Name, Path: cfg.Database, Params: params}); err != nil {
		return nil, fmt.Errorf("failed to open governed database: %w", err)
	}
	governed, err := db.CurrentDatabase(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("deployment engine ready", slog.String("governed", governed), slog.String("transient_dir", cfg.TransientDir))
	return &Engine{db: db, cfg: cfg, governed: governed, logger: logger}, nil
}

// Close closes the DuckDB connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Governed returns the name of the governed catalog.
func (e *Engine) Governed() string { return e.governed }

// Scope returns the catalogs of a datasource.
func (e *Engine) Scope(name string) Scope {
	return Scope{
		DataSource: name,
		Raw:        name,
		Transient:  transientPrefix + name,
		Governed:   e.governed,
	}
}

// transientPath is the snapshot file of a datasource.
func (e *Engine) transientPath(name string) string {
	return filepath.Join(e.cfg.TransientDir, name+".duckdb")
}

// IsAttached reports whether the datasource's transient catalog is attached.
func (e *Engine) IsAttached(ctx context.Context, name string) (bool, error) {
	return e.db.HasDatabase(ctx, e.Scope(name).Transient)
}

// Detach drops the governed views backed by the datasource, detaches its
// catalogs and removes the snapshot file. Detaching an unknown datasource is
// a no-op.
func (e *Engine) Detach(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.Scope(name)
	views, err := e.backedViews(ctx, scope)
	if err != nil {
		return err
	}
	for _, v := range views {
		if err := e.db.Exec(ctx, "DROP VIEW IF EXISTS "+qualified(scope.Governed, v)); err != nil {
			return fmt.Errorf("failed to drop view %s: %w", v, err)
		}
	}
	for _, catalog := range []string{scope.Transient, scope.Raw} {
		if err := e.db.Exec(ctx, "DETACH DATABASE IF EXISTS "+sqlref.QuoteIdent(catalog)); err != nil {
			return fmt.Errorf("failed to detach %s: %w", catalog, err)
		}
	}

	path := e.transientPath(name)
	for _, p := range []string{path, path + ".wal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove snapshot file: %w", err)
		}
	}
	e.logger.Info("datasource detached", slog.String("datasource", name), slog.Int("views_dropped", len(views)))
	return nil
}

// backedViews lists governed views that read from the scope's transient catalog.
func (e *Engine) backedViews(ctx context.Context, scope Scope) ([]string, error) {
	rows, err := e.db.DB.QueryContext(ctx, `
		SELECT view_name, sql FROM duckdb_views()
		WHERE database_name = ? AND schema_name = 'main' AND NOT internal
		ORDER BY view_name`, scope.Governed)
	if err != nil {
		return nil, fmt.Errorf("failed to list governed views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		if readsCatalog(def, scope.Transient) {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

// readsCatalog reports whether a view definition references catalog.
func readsCatalog(def, catalog string) bool {
	for _, ref := range sqlref.TableRefs(def) {
		if len(ref.Parts) == 3 && strings.EqualFold(ref.Parts[0], catalog) {
			return true
		}
	}
	return false
}

// qualified renders catalog.main.name.
func qualified(catalog, name string) string {
	return sqlref.QuoteIdent(catalog) + ".main." + sqlref.QuoteIdent(name)
}
