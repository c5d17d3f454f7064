package catalog

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/sqlref"
)

// validateMetric returns the problems of one metric definition.
func validateMetric(m core.Metric) []string {
	var problems []string
	name := strings.TrimSpace(m.Name)
	switch {
	case name == "":
		problems = append(problems, "metric name is empty")
	case core.IsReservedName(name):
		problems = append(problems, fmt.Sprintf("metric name %q is reserved", m.Name))
	case strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, "."):
		problems = append(problems, fmt.Sprintf("metric name %q is not a valid file name", m.Name))
	}
	if strings.TrimSpace(m.SQL) == "" {
		problems = append(problems, fmt.Sprintf("metric %q has no materializing SQL", m.Name))
	}

	dims := make(map[string]bool, len(m.Dimensions))
	for _, d := range m.Dimensions {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if key == "" {
			problems = append(problems, fmt.Sprintf("metric %q has a dimension without a name", m.Name))
			continue
		}
		if dims[key] {
			problems = append(problems, fmt.Sprintf("metric %q declares dimension %q twice", m.Name, d.Name))
		}
		dims[key] = true
	}

	measures := make(map[string]bool, len(m.Measures))
	for _, ms := range m.Measures {
		key := strings.ToLower(strings.TrimSpace(ms.Name))
		if key == "" {
			problems = append(problems, fmt.Sprintf("metric %q has a measure without a name", m.Name))
			continue
		}
		if measures[key] {
			problems = append(problems, fmt.Sprintf("metric %q declares measure %q twice", m.Name, ms.Name))
		}
		measures[key] = true
		if strings.TrimSpace(ms.Expr) == "" {
			problems = append(problems, fmt.Sprintf("measure %s.%s has no expression", m.Name, ms.Name))
			continue
		}
		for _, col := range sqlref.Identifiers(ms.Expr) {
			if !dims[col] {
				problems = append(problems, fmt.Sprintf("measure %s.%s references %q which is not a dimension", m.Name, ms.Name, col))
			}
		}
	}
	return problems
}

// Validate checks a metric set: every metric must be valid and names must be
// unique regardless of case.
func Validate(metrics []core.Metric) error {
	var problems []string
	seen := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		problems = append(problems, validateMetric(m)...)
		key := strings.ToLower(strings.TrimSpace(m.Name))
		if key != "" && seen[key] {
			problems = append(problems, fmt.Sprintf("metric %q is defined twice", m.Name))
		}
		seen[key] = true
	}
	if len(problems) > 0 {
		return &core.ValidationError{Problems: problems}
	}
	return nil
}
