package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// OutputFormats lists the accepted values of the output key.
var OutputFormats = []string{"auto", "text", "markdown", "json"}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Home == "" {
		problems = append(problems, "home is required")
	}
	if c.Cutoff <= 0 {
		problems = append(problems, fmt.Sprintf("low_cardinality_cutoff must be positive, got %d", c.Cutoff))
	}
	if c.Pipeline.Retries < 0 {
		problems = append(problems, fmt.Sprintf("pipeline.retries must not be negative, got %d", c.Pipeline.Retries))
	}
	if c.Pipeline.RowLimit <= 0 {
		problems = append(problems, fmt.Sprintf("pipeline.row_limit must be positive, got %d", c.Pipeline.RowLimit))
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		problems = append(problems, fmt.Sprintf("output must be one of %s, got %q", strings.Join(OutputFormats, ", "), c.OutputFormat))
	}
	if c.Oracle.Timeout <= 0 {
		problems = append(problems, "oracle.timeout must be positive")
	}
	if c.GitHub.Repo != "" {
		owner, name, ok := strings.Cut(c.GitHub.Repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			problems = append(problems, fmt.Sprintf("github.repo must be owner/name, got %q", c.GitHub.Repo))
		}
	}
	if len(problems) > 0 {
		return &core.ValidationError{Path: "configuration", Problems: problems}
	}
	return nil
}
