package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/spf13/cobra"
)

type deployOutput struct {
	*deploy.Report
	StatisticsErrors []string `json:"statistics_errors,omitempty"`
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand() *cobra.Command {
	var noStats bool
	cmd := &cobra.Command{
		Use:   "deploy <datasource>",
		Short: "Materialize a semantic layer as governed views",
		Long: `Snapshot every metric's tables from the raw source and publish one governed
view per metric. Views of metrics no longer in the layer are dropped.

Statistics collect the distinct values of low-cardinality dimensions (NULL
included) and save them as each dimension's categories in the layer files.
Dimensions above the cutoff, or whose statistics fail, get no categories.`,
		Example: `  leapmetrics deploy shop
  leapmetrics deploy shop --no-stats`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := cc.Workspace.Deploy(cmd.Context(), args[0], deploy.Options{Statistics: !noStats})
			if err != nil {
				return err
			}
			if !noStats && len(report.Categories) > 0 {
				// persist the category annotations
				layer, err := cc.Workspace.Layer(args[0])
				if err != nil {
					return err
				}
				if err := layer.Dump(false); err != nil {
					return err
				}
			}
			return renderDeploy(cc.Renderer, report)
		},
	}
	cmd.Flags().BoolVar(&noStats, "no-stats", false, "Skip dimension category statistics")
	return cmd
}

func renderDeploy(r *output.Renderer, report *deploy.Report) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := deployOutput{Report: report}
		for _, e := range report.StatisticsErrors {
			out.StatisticsErrors = append(out.StatisticsErrors, e.Error())
		}
		return r.JSON(out)
	}

	r.Header(1, "Deployed "+report.DataSource)
	for _, name := range slices.Sorted(maps.Keys(report.Materialized)) {
		detail := fmt.Sprintf("(%d rows)", report.Materialized[name])
		if dims := report.Categories[name]; len(dims) > 0 {
			var cats []string
			for _, dim := range slices.Sorted(maps.Keys(dims)) {
				if n := len(dims[dim]); n > 0 {
					cats = append(cats, fmt.Sprintf("%s: %d", dim, n))
				}
			}
			if len(cats) > 0 {
				detail += " categories " + strings.Join(cats, ", ")
			}
		}
		r.StatusLine(name, true, detail)
	}
	for _, name := range report.Dropped {
		r.StatusLine(name, false, "(dropped)")
	}
	for _, err := range report.StatisticsErrors {
		r.Warning(err.Error())
	}
	r.Muted(fmt.Sprintf("Done in %s", report.Duration.Round(time.Millisecond)))
	return nil
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand() *cobra.Command {
	var transient bool
	cmd := &cobra.Command{
		Use:   "describe <datasource>",
		Short: "Print the DDL of a datasource",
		Long: `Print CREATE TABLE statements for the tables of a datasource's raw
catalog, or with --transient for the snapshot tables behind its governed views.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ds, err := cc.Workspace.DataSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			describe := cc.Engine.Describe
			if transient {
				describe = cc.Engine.DescribeTransient
			}
			ddl, err := describe(cmd.Context(), ds.Name)
			if err != nil {
				return err
			}
			switch cc.Renderer.EffectiveMode() {
			case output.ModeJSON:
				return cc.Renderer.JSON(map[string]string{"datasource": ds.Name, "ddl": ddl})
			case output.ModeMarkdown:
				cc.Renderer.Println("```sql")
				cc.Renderer.Println(strings.TrimRight(ddl, "\n"))
				cc.Renderer.Println("```")
			default:
				cc.Renderer.Println(ddl)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&transient, "transient", false, "Describe the deployed snapshot tables")
	return cmd
}
