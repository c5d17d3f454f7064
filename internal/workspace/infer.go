package workspace

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// InferType derives the datasource type from a connection URI.
func InferType(uri string) (core.DataSourceType, error) {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return core.DataSourceCSV, nil
	case strings.HasSuffix(lower, ".parquet"):
		return core.DataSourceParquet, nil
	case strings.HasPrefix(lower, "postgres"):
		return core.DataSourcePostgres, nil
	case strings.HasPrefix(lower, "mysql"):
		return core.DataSourceMySQL, nil
	case strings.HasSuffix(lower, ".duckdb"), strings.HasSuffix(lower, ".ddb"):
		return core.DataSourceDuckDB, nil
	}
	return "", &core.ConnectionError{
		Kind: core.ConnInvalidURI,
		Err:  fmt.Errorf("cannot infer datasource type from %q", uri),
	}
}

// InferName derives a datasource name from a connection URI: the file base
// for file sources, the database name for servers.
func InferName(t core.DataSourceType, uri string) string {
	var name string
	switch t {
	case core.DataSourcePostgres, core.DataSourceMySQL:
		if u, err := url.Parse(uri); err == nil && u.Path != "" {
			name = path.Base(u.Path)
		} else {
			name = uri[strings.LastIndex(uri, "/")+1:]
			name, _, _ = strings.Cut(name, "?")
		}
	default:
		name = uri[strings.LastIndexAny(uri, `/\`)+1:]
		name, _, _ = strings.Cut(name, ".")
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
