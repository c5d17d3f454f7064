// Package adapter provides the database adapter contract used to reach
// raw datasources and the embedded analytical engine.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves by name in init().
package adapter

import (
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Rows is an alias for core.Rows.
	Rows = core.Rows

	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter
)
