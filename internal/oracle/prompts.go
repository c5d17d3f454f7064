package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// System instructions per call site. The output shape is enforced by the
// response schema, so the instructions only describe the task.
var instructions = map[string]string{
	CallSelectMetric: `You route analytics questions to governed metrics.
Pick the single metric whose dimensions and measures can answer the latest user question.
Answer "none" when no metric fits or the question is not about the data.`,
	CallGenerateSQL: `You write DuckDB SQL against exactly one metric view.
Query only the view named after the metric and only its dimensions and measures.
Measures are aggregate expressions: project them as <expr> AS <measure name>.
Never modify data. Always include a LIMIT.`,
	CallRepairSQL: `You fix a failing DuckDB query against one metric view.
Keep the query on the same single metric; joins to other metrics are not allowed.
Answer "none" if the query cannot be fixed.`,
	CallRespond: `You answer the user's question from the query result.
Be brief and concrete. If there is no result, say why and suggest how to rephrase.`,
	CallProposeMetrics: `You design a semantic layer for a datasource.
Propose metrics that answer the sample questions. Every metric has a SELECT over the raw tables
producing one column per dimension, and measures that only reference those dimensions.`,
	CallRefineMetrics: `You improve a semantic layer from user feedback.
Return only the metrics that must change or be added, each as a full replacement.`,
	CallFabricateRows: `You fabricate plausible result rows for a query, for demos without live data.
Return between 1 and 10 rows keyed exactly by the given column names.`,
	CallUpdateLayer: `You edit a semantic layer on request.
Return the complete revised metrics and examples, explain the change, and reply to the user.`,
}

// section renders a labelled block of the user prompt.
func section(b *strings.Builder, title string, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", title, body)
}

func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func historyBlock(history []core.Message) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func (r SelectMetricRequest) prompt() string {
	var b strings.Builder
	section(&b, "Metrics", jsonBlock(r.Metrics))
	section(&b, "Conversation", historyBlock(r.History))
	section(&b, "Question", r.Question)
	return b.String()
}

func (r GenerateSQLRequest) prompt() string {
	var b strings.Builder
	section(&b, "Metric", jsonBlock(r.Metric))
	if len(r.Examples) > 0 {
		section(&b, "Examples", jsonBlock(r.Examples))
	}
	section(&b, "Conversation", historyBlock(r.History))
	if r.RowLimit > 0 {
		section(&b, "Row limit", fmt.Sprintf("%d", r.RowLimit))
	}
	section(&b, "Question", r.Question)
	return b.String()
}

func (r RepairSQLRequest) prompt() string {
	var b strings.Builder
	section(&b, "Metric", jsonBlock(r.Metric))
	section(&b, "Snapshot schema", r.Schema)
	section(&b, "Failing SQL", r.SQL)
	section(&b, "Error", r.Error)
	section(&b, "Conversation", historyBlock(r.History))
	section(&b, "Question", r.Question)
	return b.String()
}

func (r RespondRequest) prompt() string {
	var b strings.Builder
	section(&b, "Conversation", historyBlock(r.History))
	section(&b, "Question", r.Question)
	section(&b, "Metric", r.Metric)
	section(&b, "SQL", r.SQL)
	if r.Result != nil {
		section(&b, "Result", jsonBlock(r.Result.Records()))
	}
	section(&b, "Note", r.Note)
	section(&b, "Error", r.Error)
	return b.String()
}

func (r ProposeRequest) prompt() string {
	var b strings.Builder
	section(&b, "Datasource", r.DataSource)
	section(&b, "Schema", r.Schema)
	section(&b, "Sample questions", strings.Join(r.Questions, "\n"))
	section(&b, "Context", r.Context)
	return b.String()
}

func (r RefineRequest) prompt() string {
	var b strings.Builder
	section(&b, "Datasource", r.DataSource)
	section(&b, "Schema", r.Schema)
	section(&b, "Current metrics", jsonBlock(r.Metrics))
	section(&b, "Feedback", jsonBlock(r.Feedback))
	return b.String()
}

func (r FabricateRowsRequest) prompt() string {
	var b strings.Builder
	section(&b, "Metric", jsonBlock(r.Metric))
	section(&b, "SQL", r.SQL)
	section(&b, "Columns", strings.Join(r.Columns, ", "))
	section(&b, "Question", r.Question)
	return b.String()
}

func (r UpdateLayerRequest) prompt() string {
	var b strings.Builder
	section(&b, "Datasource", r.DataSource)
	section(&b, "Schema", r.Schema)
	section(&b, "Current metrics", jsonBlock(r.Metrics))
	section(&b, "Current examples", jsonBlock(r.Examples))
	section(&b, "Conversation", historyBlock(r.History))
	section(&b, "Request", r.Statement)
	return b.String()
}
