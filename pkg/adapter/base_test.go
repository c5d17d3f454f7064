package adapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBase(t *testing.T) (*BaseSQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &BaseSQLAdapter{DB: db}, mock
}

func TestBaseSQLAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	base := &BaseSQLAdapter{}

	assert.False(t, base.IsConnected())
	assert.NoError(t, base.Close())

	err := base.Exec(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection not established")

	_, err = base.Query(ctx, "SELECT 1")
	require.Error(t, err)

	_, err = base.QueryStrings(ctx, "SELECT 1")
	require.Error(t, err)
}

func TestBaseSQLAdapter_Exec(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		sql       string
		errMsg    string
	}{
		{
			name: "exec success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("ATTACH").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			sql: "ATTACH 'shop.duckdb' AS shop",
		},
		{
			name: "exec with error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INVALID SQL").WillReturnError(assert.AnError)
			},
			sql:    "INVALID SQL",
			errMsg: "failed to execute SQL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, mock := newMockBase(t)
			tt.setupMock(mock)

			err := base.Exec(context.Background(), tt.sql)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBaseSQLAdapter_Query(t *testing.T) {
	base, mock := newMockBase(t)
	mock.ExpectQuery("SELECT region").WillReturnRows(
		sqlmock.NewRows([]string{"region"}).AddRow("EU").AddRow("US"))

	rows, err := base.Query(context.Background(), "SELECT region FROM sales")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var got []string
	for rows.Next() {
		var r string
		require.NoError(t, rows.Scan(&r))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"EU", "US"}, got)
}

func TestBaseSQLAdapter_QueryStrings(t *testing.T) {
	base, mock := newMockBase(t)
	mock.ExpectQuery("SELECT sql FROM duckdb_tables").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"sql"}).
			AddRow("CREATE TABLE sales(region VARCHAR)").
			AddRow(nil))

	got, err := base.QueryStrings(context.Background(), "SELECT sql FROM duckdb_tables() WHERE database_name = ?", "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE sales(region VARCHAR)"}, got)
}

func TestJoinDDL(t *testing.T) {
	got := JoinDDL([]string{"CREATE TABLE a(x INT);", "", "  CREATE VIEW b AS SELECT 1  "})
	assert.Equal(t, "CREATE TABLE a(x INT);\nCREATE VIEW b AS SELECT 1;\n", got)
}
