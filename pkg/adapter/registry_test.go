package adapter

import (
	"context"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	const typ core.DataSourceType = "registry_test"
	Register(typ, func(_ *slog.Logger) Adapter { return nil })

	assert.True(t, Supports(typ))
	assert.Contains(t, Registered(), typ)
	assert.False(t, Supports("nothing"))

	_, err := NewAdapter(Config{Type: string(typ)}, nil)
	assert.NoError(t, err)
}

func TestNewAdapter_Errors(t *testing.T) {
	_, err := NewAdapter(Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, "adapter type not specified", err.Error())

	_, err = NewAdapter(Config{Type: "mysql"}, nil)
	var unsupported *UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "mysql", unsupported.Type)
	assert.Contains(t, err.Error(), `"mysql"`)
}

func TestDial_Unsupported(t *testing.T) {
	_, err := Dial(context.Background(), core.DataSource{Name: "x", Type: "parquet", URI: "x.parquet"}, nil)
	var unsupported *UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}
