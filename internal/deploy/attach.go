package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/pkg/adapters/postgres"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// Attach makes a datasource queryable: its raw catalog read-only and its
// transient catalog writable. File sources are hydrated into an in-memory
// catalog holding one table named after the datasource. It returns the
// hydration time.
func (e *Engine) Attach(ctx context.Context, ds core.DataSource) (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.Scope(ds.Name)
	if err := e.checkNames(ctx, ds, scope); err != nil {
		return time.Time{}, err
	}

	if err := e.attachRaw(ctx, ds, scope); err != nil {
		_ = e.db.Exec(ctx, "DETACH DATABASE IF EXISTS "+sqlref.QuoteIdent(scope.Raw))
		return time.Time{}, err
	}

	if err := os.MkdirAll(e.cfg.TransientDir, 0o755); err != nil {
		_ = e.db.Exec(ctx, "DETACH DATABASE IF EXISTS "+sqlref.QuoteIdent(scope.Raw))
		return time.Time{}, fmt.Errorf("failed to create transient directory: %w", err)
	}
	stmt := fmt.Sprintf("ATTACH %s AS %s", sqlref.QuoteString(e.transientPath(ds.Name)), sqlref.QuoteIdent(scope.Transient))
	if err := e.db.Exec(ctx, stmt); err != nil {
		_ = e.db.Exec(ctx, "DETACH DATABASE IF EXISTS "+sqlref.QuoteIdent(scope.Raw))
		return time.Time{}, &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnUnreachable, Err: err}
	}

	hydrated := time.Now().UTC()
	e.logger.Info("datasource attached",
		slog.String("datasource", ds.Name),
		slog.String("type", string(ds.Type)))
	return hydrated, nil
}

func (e *Engine) checkNames(ctx context.Context, ds core.DataSource, scope Scope) error {
	if strings.TrimSpace(ds.Name) == "" {
		return &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnInvalidURI, Err: errors.New("datasource name is empty")}
	}
	if strings.EqualFold(ds.Name, e.governed) || strings.HasPrefix(strings.ToLower(ds.Name), transientPrefix) {
		return &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnNameCollision, Err: errors.New("name is reserved for an internal catalog")}
	}
	for _, catalog := range []string{scope.Raw, scope.Transient} {
		exists, err := e.db.HasDatabase(ctx, catalog)
		if err != nil {
			return err
		}
		if exists {
			return &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnNameCollision, Err: fmt.Errorf("catalog %s is already attached", catalog)}
		}
	}
	return nil
}

func (e *Engine) attachRaw(ctx context.Context, ds core.DataSource, scope Scope) error {
	invalid := func(err error) error {
		return &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnInvalidURI, Err: err}
	}
	unreachable := func(err error) error {
		return &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnUnreachable, Err: err}
	}
	raw := sqlref.QuoteIdent(scope.Raw)

	switch ds.Type {
	case core.DataSourceDuckDB:
		if err := checkLocalFile(ds.URI); err != nil {
			return invalid(err)
		}
		if err := e.db.Exec(ctx, fmt.Sprintf("ATTACH %s AS %s (READ_ONLY)", sqlref.QuoteString(ds.URI), raw)); err != nil {
			return unreachable(err)
		}

	case core.DataSourcePostgres:
		dsn, err := postgres.KeywordDSN(ds.URI)
		if err != nil {
			return invalid(err)
		}
		if err := e.db.LoadExtension(ctx, "postgres"); err != nil {
			return unreachable(err)
		}
		if err := e.db.Exec(ctx, fmt.Sprintf("ATTACH %s AS %s (TYPE POSTGRES, READ_ONLY)", sqlref.QuoteString(dsn), raw)); err != nil {
			return unreachable(err)
		}

	case core.DataSourceMySQL:
		dsn, err := MySQLDSN(ds.URI)
		if err != nil {
			return invalid(err)
		}
		if err := e.db.LoadExtension(ctx, "mysql"); err != nil {
			return unreachable(err)
		}
		if err := e.db.Exec(ctx, fmt.Sprintf("ATTACH %s AS %s (TYPE MYSQL, READ_ONLY)", sqlref.QuoteString(dsn), raw)); err != nil {
			return unreachable(err)
		}

	case core.DataSourceCSV, core.DataSourceParquet:
		if !isRemote(ds.URI) {
			if err := checkLocalFile(ds.URI); err != nil {
				return invalid(err)
			}
		}
		reader := "read_csv_auto"
		if ds.Type == core.DataSourceParquet {
			reader = "read_parquet"
		}
		if err := e.db.Exec(ctx, fmt.Sprintf("ATTACH ':memory:' AS %s", raw)); err != nil {
			return unreachable(err)
		}
		stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s(%s)", qualified(scope.Raw, ds.Name), reader, sqlref.QuoteString(ds.URI))
		if err := e.db.Exec(ctx, stmt); err != nil {
			return unreachable(err)
		}

	default:
		return invalid(fmt.Errorf("unsupported datasource type %q", ds.Type))
	}
	return nil
}

func isRemote(uri string) bool {
	return strings.Contains(uri, "://")
}

func checkLocalFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// MySQLDSN converts a mysql:// URL into the keyword/value form understood by
// DuckDB's mysql extension. Keyword strings pass through unchanged.
func MySQLDSN(uri string) (string, error) {
	if !strings.HasPrefix(uri, "mysql://") {
		if strings.Contains(uri, "=") {
			return uri, nil
		}
		return "", fmt.Errorf("not a mysql connection string: %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("mysql url has no host")
	}

	parts := []string{"host=" + u.Hostname()}
	if port := u.Port(); port != "" {
		parts = append(parts, "port="+port)
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		parts = append(parts, "database="+db)
	}
	if u.User != nil {
		parts = append(parts, "user="+u.User.Username())
		if pw, ok := u.User.Password(); ok {
			parts = append(parts, "passwd="+pw)
		}
	}
	return strings.Join(parts, " "), nil
}
