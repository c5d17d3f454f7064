package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// NewDataSourceCommand creates the datasource command group.
func NewDataSourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasource",
		Aliases: []string{"ds"},
		Short:   "Manage datasources",
	}
	cmd.AddCommand(newDataSourceAddCommand(), newDataSourceListCommand(), newDataSourceChatsCommand(), newDataSourceRemoveCommand())
	return cmd
}

func newDataSourceAddCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <uri>",
		Short: "Register and attach a datasource",
		Long: `Register a datasource and attach it read-only.

The type is inferred from the URI: .csv, .parquet, .duckdb/.ddb files,
postgres:// and mysql:// connection strings. The name defaults to the file
or database name.`,
		Example: `  leapmetrics datasource add ./data/shop.csv
  leapmetrics datasource add postgres://user@localhost/sales --name crm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ds, err := cc.Workspace.CreateDataSource(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			if cc.Renderer.EffectiveMode() == output.ModeJSON {
				return cc.Renderer.JSON(ds)
			}
			cc.Renderer.Success(fmt.Sprintf("Added %s datasource %s", ds.Type, ds.Name))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Datasource name (default: inferred from the URI)")
	return cmd
}

func newDataSourceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List datasources",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sources, err := cc.Workspace.DataSources(cmd.Context())
			if err != nil {
				return err
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				if sources == nil {
					sources = []*core.DataSource{}
				}
				return r.JSON(sources)
			}
			if len(sources) == 0 {
				r.Muted("No datasources. Add one with `leapmetrics datasource add <uri>`.")
				return nil
			}

			r.Header(1, fmt.Sprintf("Datasources (%d)", len(sources)))
			rows := make([][]any, 0, len(sources))
			for _, ds := range sources {
				metrics := 0
				if layer, err := cc.Workspace.Layer(ds.Name); err == nil {
					metrics = len(layer.Metrics())
				}
				rows = append(rows, []any{ds.Name, string(ds.Type), ds.URI, metrics, hydrated(ds)})
			}
			r.Table(labels("name", "type", "uri", "metrics", "last_hydrated"), rows)
			return nil
		},
	}
}

func newDataSourceChatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chats <name>",
		Short: "List the conversation threads of a datasource",
		Long: `List conversation threads, newest first. Resume one with
leapmetrics ask --thread <id> or leapmetrics chat --thread <id>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			threads, err := cc.Workspace.Chats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(threads)
			}
			if len(threads) == 0 {
				r.Muted("No threads for " + args[0] + ".")
				return nil
			}
			r.Header(1, fmt.Sprintf("Threads of %s (%d)", args[0], len(threads)))
			rows := make([][]any, 0, len(threads))
			for _, t := range threads {
				rows = append(rows, []any{t.ID, t.CreatedAt.Local().Format(time.DateTime)})
			}
			r.Table(labels("id", "created_at"), rows)
			return nil
		},
	}
}

func newDataSourceRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Detach and forget a datasource",
		Long: `Detach a datasource and delete its threads and feedback.

The semantic layer directory is kept on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Workspace.DeleteDataSource(cmd.Context(), args[0]); err != nil {
				return err
			}
			cc.Renderer.Success("Removed datasource " + args[0])
			return nil
		},
	}
}

func hydrated(ds *core.DataSource) string {
	if ds.LastHydrated == nil {
		return "never"
	}
	return ds.LastHydrated.Local().Format(time.DateTime)
}

func labels(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = output.Label(n)
	}
	return out
}
