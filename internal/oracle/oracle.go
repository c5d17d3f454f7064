// Package oracle defines the structured-output language capability used by
// the catalog and the query pipeline, one method per call site.
package oracle

import (
	"context"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Call site names, used in errors, logs and schema names.
const (
	CallSelectMetric   = "select_metric"
	CallGenerateSQL    = "generate_sql"
	CallRepairSQL      = "repair_sql"
	CallRespond        = "respond"
	CallProposeMetrics = "propose_metrics"
	CallRefineMetrics  = "refine_metrics"
	CallFabricateRows  = "fabricate_rows"
	CallUpdateLayer    = "update_layer"
)

// NoMetric is the explicit "nothing fits" metric choice.
const NoMetric = "none"

// Oracle turns prompt context into validated structured output.
// Implementations must honour ctx cancellation and deadlines.
type Oracle interface {
	SelectMetric(ctx context.Context, req SelectMetricRequest) (*MetricChoice, error)
	GenerateSQL(ctx context.Context, req GenerateSQLRequest) (*SQLGeneration, error)
	RepairSQL(ctx context.Context, req RepairSQLRequest) (*SQLRepair, error)
	Respond(ctx context.Context, req RespondRequest) (*Answer, error)
	ProposeMetrics(ctx context.Context, req ProposeRequest) (*MetricSet, error)
	RefineMetrics(ctx context.Context, req RefineRequest) (*RefinedMetrics, error)
	FabricateRows(ctx context.Context, req FabricateRowsRequest) (*FabricatedRows, error)
	UpdateLayer(ctx context.Context, req UpdateLayerRequest) (*LayerUpdate, error)
}

// SelectMetricRequest asks which metric can answer the question.
// Metrics must be masked.
type SelectMetricRequest struct {
	Question string
	History  []core.Message
	Metrics  []core.Metric
}

// GenerateSQLRequest asks for a query against one metric view.
type GenerateSQLRequest struct {
	Question string
	History  []core.Message
	Metric   core.Metric
	Examples []core.Example
	RowLimit int
}

// RepairSQLRequest asks for a corrected query after an execution failure.
type RepairSQLRequest struct {
	Question string
	History  []core.Message
	Metric   core.Metric
	SQL      string
	Error    string
	// Schema is the DDL of the transient snapshot tables
	Schema string
}

// RespondRequest asks for the final natural-language answer.
type RespondRequest struct {
	Question string
	History  []core.Message
	Metric   string
	SQL      string
	Result   *core.ResultSet
	// Note explains why there is no result (no metric, no SQL, execution failed)
	Note  string
	Error string
}

// ProposeRequest asks for a complete metric set for a datasource.
type ProposeRequest struct {
	DataSource string
	Questions  []string
	Context    string
	Schema     string
}

// RefineRequest asks for per-metric updates given user feedback.
type RefineRequest struct {
	DataSource string
	Metrics    []core.Metric
	Schema     string
	Feedback   []core.Feedback
}

// FabricateRowsRequest asks for plausible rows shaped by a projection list.
type FabricateRowsRequest struct {
	Question string
	SQL      string
	Columns  []string
	Metric   core.Metric
}

// UpdateLayerRequest asks for a revised semantic layer from a user statement.
type UpdateLayerRequest struct {
	DataSource string
	Statement  string
	History    []core.Message
	Metrics    []core.Metric
	Examples   []core.Example
	Schema     string
}

// MetricChoice is the output of SelectMetric.
type MetricChoice struct {
	Metric    string `json:"metric" jsonschema:"name of the single metric that answers the question, or none"`
	Reasoning string `json:"reasoning" jsonschema:"why the metric was chosen"`
	SQL       string `json:"sql,omitempty" jsonschema:"leave empty"`
}

// SQLGeneration is the output of GenerateSQL.
type SQLGeneration struct {
	SQL       string `json:"sql" jsonschema:"one read-only DuckDB query against the metric view"`
	Reasoning string `json:"reasoning" jsonschema:"how the query answers the question"`
}

// SQLRepair is the output of RepairSQL.
type SQLRepair struct {
	SQL       string `json:"sql" jsonschema:"corrected query, or none when it cannot be repaired"`
	Reasoning string `json:"reasoning,omitempty" jsonschema:"what was wrong"`
}

// Answer is the output of Respond.
type Answer struct {
	Text string `json:"text" jsonschema:"answer to the user in plain language"`
}

// MetricSet is the output of ProposeMetrics.
type MetricSet struct {
	Metrics []core.Metric `json:"metrics" jsonschema:"complete set of metrics for the datasource"`
}

// RefinedMetric is one per-metric update of RefineMetrics.
type RefinedMetric struct {
	OriginalName string      `json:"original_name" jsonschema:"name of the metric being replaced, or a new name"`
	Metric       core.Metric `json:"updated_metric" jsonschema:"full replacement metric"`
}

// RefinedMetrics is the output of RefineMetrics.
type RefinedMetrics struct {
	Observations []string        `json:"observation" jsonschema:"what the feedback revealed"`
	Metrics      []RefinedMetric `json:"metrics" jsonschema:"metrics to replace or add"`
}

// FabricatedRows is the output of FabricateRows.
type FabricatedRows struct {
	Rows      []map[string]any `json:"data" jsonschema:"between 1 and 10 rows keyed by column name"`
	Reasoning string           `json:"reasoning,omitempty" jsonschema:"how the rows were made up"`
}

// LayerUpdate is the output of UpdateLayer.
type LayerUpdate struct {
	Metrics   []core.Metric  `json:"metrics" jsonschema:"complete revised metric set"`
	Examples  []core.Example `json:"examples" jsonschema:"complete revised example set"`
	Reasoning string         `json:"update_reasoning" jsonschema:"what changed and why"`
	Reply     string         `json:"reply" jsonschema:"message to show the user"`
}
