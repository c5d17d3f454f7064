package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

var (
	mu        sync.RWMutex
	factories = map[core.DataSourceType]Factory{}
)

// Register makes an adapter available for a datasource type.
// Implementations call it from init().
func Register(typ core.DataSourceType, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typ] = factory
}

// Registered reports the datasource types that have an adapter, sorted.
func Registered() []core.DataSourceType {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]core.DataSourceType, 0, len(factories))
	for typ := range factories {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// Supports reports whether typ has a registered adapter.
func Supports(typ core.DataSourceType) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[typ]
	return ok
}

// NewAdapter creates an adapter for cfg.Type. A nil logger discards.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	mu.RLock()
	factory, ok := factories[core.DataSourceType(cfg.Type)]
	mu.RUnlock()
	if !ok {
		return nil, &UnsupportedTypeError{Type: cfg.Type, Available: Registered()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// Dial creates an adapter for ds and connects it. Callers close the adapter.
func Dial(ctx context.Context, ds core.DataSource, logger *slog.Logger) (Adapter, error) {
	cfg := Config{Type: string(ds.Type), DSN: ds.URI}
	if ds.Type == core.DataSourceDuckDB {
		cfg = Config{Type: string(ds.Type), Path: ds.URI}
	}
	a, err := NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, &core.ConnectionError{DataSource: ds.Name, Kind: core.ConnUnreachable, Err: err}
	}
	return a, nil
}

// UnsupportedTypeError is returned when no adapter serves a datasource type.
type UnsupportedTypeError struct {
	Type      string
	Available []core.DataSourceType
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("no adapter for datasource type %q (available: %v)", e.Type, e.Available)
}
