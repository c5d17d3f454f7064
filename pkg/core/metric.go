package core

import "strings"

// ReservedMetricName is the name of the persisted example collection.
// No metric may use it, in any letter case.
const ReservedMetricName = "examples"

// Metric is a governed, named view over a datasource.
// The name doubles as the materialized table and governed view identifier.
type Metric struct {
	// Name is unique within a semantic layer
	Name string `json:"name" yaml:"name" jsonschema:"unique snake_case identifier, also used as the view name"`
	// Description explains what the metric answers
	Description string `json:"description" yaml:"description" jsonschema:"what questions this metric answers"`
	// DataSource is the owning datasource name
	DataSource string `json:"datasource" yaml:"datasource" jsonschema:"name of the owning datasource"`
	// Dimensions are the columns exposed by the view
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions" jsonschema:"columns exposed by the metric view"`
	// Measures are aggregate expressions over the dimensions
	Measures []Measure `json:"measures" yaml:"measures" jsonschema:"aggregate expressions over the dimensions"`
	// SampleQuestions are questions this metric is expected to answer
	SampleQuestions []string `json:"sample_questions" yaml:"sample_questions" jsonschema:"example questions answerable with this metric"`
	// SQL is the materializing SELECT against the raw source
	SQL string `json:"sql_to_underlying_datasource,omitempty" yaml:"sql_to_underlying_datasource,omitempty" jsonschema:"SELECT against the raw source producing one column per dimension"`
}

// Dimension is a filterable or groupable attribute of a metric.
type Dimension struct {
	Name        string `json:"name" yaml:"name" jsonschema:"column name, unique within the metric"`
	Description string `json:"description" yaml:"description" jsonschema:"meaning of the column"`
	DataType    string `json:"dtype,omitempty" yaml:"dtype,omitempty" jsonschema:"SQL data type of the column"`
	// Categories is filled by the statistics pass for low-cardinality columns only.
	Categories []any `json:"categories,omitempty" yaml:"categories,omitempty" jsonschema:"distinct values when the domain is small"`
}

// Measure is an aggregate expression computed over a metric's dimensions.
type Measure struct {
	Name        string `json:"name" yaml:"name" jsonschema:"measure name, unique within the metric"`
	Description string `json:"description" yaml:"description" jsonschema:"meaning of the aggregate"`
	Expr        string `json:"expr" yaml:"expr" jsonschema:"aggregate SQL expression referencing only dimensions"`
}

// Example is a few-shot prompt, SQL and explanation triple.
type Example struct {
	Prompt      string `json:"prompt" yaml:"prompt" jsonschema:"natural language question"`
	SQL         string `json:"sql" yaml:"sql" jsonschema:"SQL answering the question"`
	Explanation string `json:"explanation" yaml:"explanation" jsonschema:"why the SQL answers the question"`
}

// IsReservedName reports whether name collides with the example collection.
func IsReservedName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), ReservedMetricName)
}

// Dimension returns the dimension with the given name, matched case-insensitively.
func (m *Metric) Dimension(name string) (*Dimension, bool) {
	for i := range m.Dimensions {
		if strings.EqualFold(m.Dimensions[i].Name, name) {
			return &m.Dimensions[i], true
		}
	}
	return nil, false
}

// Masked returns a copy of the metric with its materializing SQL removed.
func (m Metric) Masked() Metric {
	out := m.Clone()
	out.SQL = ""
	return out
}

// Clone returns a deep copy of the metric.
func (m Metric) Clone() Metric {
	out := m
	out.Dimensions = make([]Dimension, len(m.Dimensions))
	for i, d := range m.Dimensions {
		out.Dimensions[i] = d
		if d.Categories != nil {
			out.Dimensions[i].Categories = append([]any(nil), d.Categories...)
		}
	}
	out.Measures = append([]Measure(nil), m.Measures...)
	out.SampleQuestions = append([]string(nil), m.SampleQuestions...)
	return out
}

// CloneMetrics deep copies a metric list.
func CloneMetrics(metrics []Metric) []Metric {
	out := make([]Metric, len(metrics))
	for i, m := range metrics {
		out[i] = m.Clone()
	}
	return out
}

// MaskMetrics returns copies of metrics without their materializing SQL.
func MaskMetrics(metrics []Metric) []Metric {
	out := make([]Metric, len(metrics))
	for i, m := range metrics {
		out[i] = m.Masked()
	}
	return out
}
