// Package core defines the shared language of the leapmetrics system.
//
// This package contains:
//   - Domain entities (Metric, Dimension, Measure, Example, DataSource)
//   - Conversation records (Message, Response, Feedback)
//   - Query results (ResultSet)
//   - Service interfaces (Adapter, Store)
//   - The error taxonomy shared by every layer
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
