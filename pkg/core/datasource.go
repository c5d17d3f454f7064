package core

import "time"

// DataSourceType identifies how a raw source is attached.
type DataSourceType string

// DataSource type constants.
const (
	DataSourceCSV      DataSourceType = "csv"
	DataSourceParquet  DataSourceType = "parquet"
	DataSourcePostgres DataSourceType = "postgres"
	DataSourceMySQL    DataSourceType = "mysql"
	DataSourceDuckDB   DataSourceType = "duckdb"
)

// Valid reports whether t is a known datasource type.
func (t DataSourceType) Valid() bool {
	switch t {
	case DataSourceCSV, DataSourceParquet, DataSourcePostgres, DataSourceMySQL, DataSourceDuckDB:
		return true
	}
	return false
}

// IsFile reports whether the source is hydrated from a local file.
func (t DataSourceType) IsFile() bool {
	return t == DataSourceCSV || t == DataSourceParquet
}

// DataSource is a raw source registered with the workspace.
// It exclusively owns one semantic layer and any number of chat threads.
type DataSource struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Type         DataSourceType `json:"type"`
	URI          string         `json:"uri"`
	LastHydrated *time.Time     `json:"last_hydrated,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
