// Package postgres provides a PostgreSQL database adapter.
//
// This file registers the PostgreSQL adapter with the adapter registry.
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

// Name is the registry name of the adapter.
const Name = "postgres"

func init() {
	adapter.Register(Name, func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
