package pipeline

import (
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Step is a state of the query pipeline.
type Step string

// Pipeline steps.
const (
	StepSelectMetric Step = "select_metric"
	StepGenerateSQL  Step = "generate_sql"
	StepExecuteSQL   Step = "execute_sql"
	StepRepairSQL    Step = "repair_sql"
	StepRespond      Step = "respond"
	StepEnd          Step = "end"
)

// Notes explaining a missing result.
const (
	NoteNoMetric = "No metric chosen."
	NoteNoSQL    = "No SQL query generated."
)

// DefaultRetries is the default repair budget.
const DefaultRetries = 1

// DefaultRowLimit is appended to generated queries without a LIMIT.
const DefaultRowLimit = 1000

// Options are per-run mode flags.
type Options struct {
	// OnlySQL stops after SQL generation
	OnlySQL bool `json:"only_sql,omitempty"`
	// Fuzz fabricates rows through the oracle instead of executing
	Fuzz bool `json:"fuzz,omitempty"`
	// Retries is the repair budget; zero disables repair
	Retries int `json:"retries"`
}

// DefaultOptions returns the options of a normal run.
func DefaultOptions() Options {
	return Options{Retries: DefaultRetries}
}

// Plan is the metric choice and SQL of a run.
type Plan struct {
	Metric          string `json:"metric,omitempty"`
	MetricReasoning string `json:"metric_reasoning,omitempty"`
	SQL             string `json:"sql,omitempty"`
	SQLReasoning    string `json:"sql_reasoning,omitempty"`
}

// State is the run state, checkpointed after every turn.
type State struct {
	Question    string          `json:"question"`
	Options     Options         `json:"options"`
	Plan        Plan            `json:"plan"`
	Result      *core.ResultSet `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Note        string          `json:"note,omitempty"`
	Answer      string          `json:"answer,omitempty"`
	RetriesLeft int             `json:"retries_left"`
	Executions  int             `json:"executions"`
	Trace       []Step          `json:"trace"`
}

// Visited reports whether the run passed through step.
func (s *State) Visited(step Step) bool {
	for _, t := range s.Trace {
		if t == step {
			return true
		}
	}
	return false
}

// Count returns how many times the run entered step.
func (s *State) Count(step Step) int {
	n := 0
	for _, t := range s.Trace {
		if t == step {
			n++
		}
	}
	return n
}
