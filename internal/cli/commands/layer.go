package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// NewLayerCommand creates the layer command group.
//
// Commands that change a layer (propose, refine, update, import, copy) stage the
// result next to the layer directory; accept persists it and reject drops it.
// With --accept the change is persisted immediately.
func NewLayerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layer",
		Short: "Inspect and evolve semantic layers",
	}
	cmd.AddCommand(
		newLayerShowCommand(),
		newLayerProposeCommand(),
		newLayerRefineCommand(),
		newLayerUpdateCommand(),
		newLayerImportCommand(),
		newLayerCopyCommand(),
		newLayerAcceptCommand(),
		newLayerRejectCommand(),
	)
	return cmd
}

// pendingPath is the staged layer document of a datasource.
func pendingPath(layerDir, datasource string) string {
	return filepath.Join(layerDir, ".pending-"+datasource+".yaml")
}

// openLayer returns the layer with any staged change applied.
func openLayer(cc *CommandContext, name string) (*catalog.SemanticLayer, bool, error) {
	layer, err := cc.Workspace.Layer(name)
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(pendingPath(cc.Cfg.LayerDir, layer.DataSource()))
	if errors.Is(err, os.ErrNotExist) {
		return layer, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open staged layer: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap, err := catalog.DecodeSnapshot(f)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read staged layer: %w", err)
	}
	if err := layer.SetMetrics(snap.Metrics, snap.UpdateReasoning); err != nil {
		return nil, false, err
	}
	layer.SetExamples(snap.Examples)
	return layer, true, nil
}

// stage persists the layer when accept is set, otherwise writes it to the pending file.
func stage(cc *CommandContext, layer *catalog.SemanticLayer, accept bool) error {
	path := pendingPath(cc.Cfg.LayerDir, layer.DataSource())
	if accept {
		if err := layer.Dump(true); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove staged layer: %w", err)
		}
		cc.Renderer.Success("Saved semantic layer " + layer.DataSource())
		return nil
	}

	doc, err := layer.DumpsYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("failed to stage layer: %w", err)
	}
	cc.Renderer.Muted(fmt.Sprintf("Staged. Run `leapmetrics layer accept %[1]s` to save or `leapmetrics layer reject %[1]s` to discard.", layer.DataSource()))
	return nil
}

func newLayerShowCommand() *cobra.Command {
	var (
		format  string
		pending bool
	)
	cmd := &cobra.Command{
		Use:   "show <datasource>",
		Short: "Show a semantic layer",
		Example: `  leapmetrics layer show shop
  leapmetrics layer show shop --format yaml
  leapmetrics layer show shop --pending`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, err := cc.Workspace.Layer(args[0])
			if err != nil {
				return err
			}
			if pending {
				var staged bool
				if layer, staged, err = openLayer(cc, args[0]); err != nil {
					return err
				}
				if !staged {
					return fmt.Errorf("no staged changes for %s", args[0])
				}
			}

			r := cc.Renderer
			switch {
			case format == "yaml":
				doc, err := layer.DumpsYAML()
				if err != nil {
					return err
				}
				r.Printf("%s", doc)
				return nil
			case format == "json" || r.EffectiveMode() == output.ModeJSON:
				return r.JSON(layer.Snapshot())
			case format != "":
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
			renderLayer(r, layer.Snapshot())
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Document format (yaml|json)")
	cmd.Flags().BoolVar(&pending, "pending", false, "Show staged changes instead of the saved layer")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newLayerProposeCommand() *cobra.Command {
	var (
		questions []string
		context   string
		accept    bool
	)
	cmd := &cobra.Command{
		Use:   "propose <datasource>",
		Short: "Propose a metric set from the source schema",
		Example: `  leapmetrics layer propose shop -q "revenue by region" -q "top skus last month"
  leapmetrics layer propose shop --context "retail orders, one row per line item" --accept`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, _, err := openLayer(cc, args[0])
			if err != nil {
				return err
			}
			before := layer.Metrics()
			if err := layer.Propose(cmd.Context(), questions, context); err != nil {
				return err
			}
			renderDiff(cc.Renderer, before, layer.Metrics())
			return stage(cc, layer, accept)
		},
	}
	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "Sample question the metrics should answer (repeatable)")
	cmd.Flags().StringVar(&context, "context", "", "Free-form description of the data")
	cmd.Flags().BoolVar(&accept, "accept", false, "Save the result without staging")
	return cmd
}

func newLayerRefineCommand() *cobra.Command {
	var publish, accept bool
	cmd := &cobra.Command{
		Use:   "refine <datasource>",
		Short: "Refine metrics from collected feedback",
		Long: `Ask the oracle to revise the metrics given every piece of feedback not yet
used by a previous refinement. With --publish the refined metrics are sent to
the configured GitHub repository as a pull request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, _, err := openLayer(cc, args[0])
			if err != nil {
				return err
			}
			result, err := cc.Workspace.Refine(cmd.Context(), args[0], catalog.RefineOptions{Publish: publish})
			if err != nil {
				return err
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				if err := r.JSON(result); err != nil {
					return err
				}
			} else {
				renderRefine(r, result)
			}
			return stage(cc, layer, accept)
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "Open a pull request with the refined metrics")
	cmd.Flags().BoolVar(&accept, "accept", false, "Save the result without staging")
	return cmd
}

func newLayerUpdateCommand() *cobra.Command {
	var accept bool
	cmd := &cobra.Command{
		Use:     "update <datasource> <statement>",
		Short:   "Revise a layer from a plain-language request",
		Example: `  leapmetrics layer update shop "revenue should exclude refunds"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, _, err := openLayer(cc, args[0])
			if err != nil {
				return err
			}
			before := layer.Metrics()
			statement := strings.Join(args[1:], " ")
			update, err := layer.Update(cmd.Context(), statement, []core.Message{{Role: core.RoleUser, Content: statement}})
			if err != nil {
				return err
			}

			r := cc.Renderer
			if update.Reply != "" {
				r.Println(update.Reply)
			}
			if update.Reasoning != "" {
				r.Muted(update.Reasoning)
			}
			renderDiff(r, before, layer.Metrics())
			return stage(cc, layer, accept)
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "Save the result without staging")
	return cmd
}

func newLayerImportCommand() *cobra.Command {
	var accept bool
	cmd := &cobra.Command{
		Use:   "import <datasource> <file|->",
		Short: "Merge metrics from a YAML or JSON document",
		Long: `Merge metrics and examples from a layer document. Metrics replace existing
ones of the same name; examples are appended. Use - to read standard input.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, _, err := openLayer(cc, args[0])
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[1], err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			before := layer.Metrics()
			n, err := layer.Import(in)
			if err != nil {
				return err
			}
			cc.Renderer.Printf("Imported %d metrics.\n", n)
			renderDiff(cc.Renderer, before, layer.Metrics())
			return stage(cc, layer, accept)
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "Save the result without staging")
	return cmd
}

func newLayerCopyCommand() *cobra.Command {
	var accept bool
	cmd := &cobra.Command{
		Use:   "copy <from> <to>",
		Short: "Replace a layer with the saved layer of another datasource",
		Long: `Copy the saved metrics and examples of one datasource onto another.
The metrics' SQL is kept as is, so the target should expose the same relations.`,
		Example: `  leapmetrics layer copy shop_2023 shop_2024 --accept`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			src, err := cc.Workspace.Layer(args[0])
			if err != nil {
				return err
			}
			dst, _, err := openLayer(cc, args[1])
			if err != nil {
				return err
			}

			before := dst.Metrics()
			if err := dst.CopyFrom(src, false); err != nil {
				return err
			}
			cc.Renderer.Printf("Copied %d metrics from %s.\n", len(dst.Metrics()), src.DataSource())
			renderDiff(cc.Renderer, before, dst.Metrics())
			return stage(cc, dst, accept)
		},
	}
	cmd.Flags().BoolVar(&accept, "accept", false, "Save the result without staging")
	return cmd
}

func newLayerAcceptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <datasource>",
		Short: "Save staged layer changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, staged, err := openLayer(cc, args[0])
			if err != nil {
				return err
			}
			if !staged {
				return fmt.Errorf("no staged changes for %s", args[0])
			}
			return stage(cc, layer, true)
		},
	}
}

func newLayerRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <datasource>",
		Short: "Discard staged layer changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			layer, err := cc.Workspace.Layer(args[0])
			if err != nil {
				return err
			}
			err = os.Remove(pendingPath(cc.Cfg.LayerDir, layer.DataSource()))
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no staged changes for %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to remove staged layer: %w", err)
			}
			if err := layer.Reject(); err != nil {
				return err
			}
			cc.Renderer.Success("Discarded staged changes for " + layer.DataSource())
			return nil
		},
	}
}

func renderLayer(r *output.Renderer, snap catalog.Snapshot) {
	if len(snap.Metrics) == 0 {
		r.Muted("No metrics.")
		return
	}
	for _, m := range snap.Metrics {
		r.Header(2, m.Name)
		if m.Description != "" {
			r.Println(m.Description)
		}
		for _, d := range m.Dimensions {
			value := d.Description
			if d.DataType != "" {
				value = fmt.Sprintf("%s (%s)", value, d.DataType)
			}
			r.KeyValue(d.Name, value)
		}
		for _, ms := range m.Measures {
			r.KeyValue(ms.Name, ms.Expr)
		}
		r.Println("")
	}
	if len(snap.Examples) > 0 {
		r.Muted(fmt.Sprintf("%d examples", len(snap.Examples)))
	}
	if snap.UpdateReasoning != "" {
		r.Muted(snap.UpdateReasoning)
	}
}

// renderDiff lists metrics added, removed and changed between two revisions.
func renderDiff(r *output.Renderer, before, after []core.Metric) {
	styles := r.Styles()
	old := make(map[string]core.Metric, len(before))
	for _, m := range before {
		old[strings.ToLower(m.Name)] = m
	}
	seen := make(map[string]bool, len(after))
	for _, m := range after {
		key := strings.ToLower(m.Name)
		seen[key] = true
		prev, ok := old[key]
		switch {
		case !ok:
			r.Println(styles.Success.Render("+ " + m.Name))
		case !reflect.DeepEqual(prev, m):
			r.Println(styles.Warning.Render("~ " + m.Name))
		}
	}
	for _, m := range before {
		if !seen[strings.ToLower(m.Name)] {
			r.Println(styles.Error.Render("- " + m.Name))
		}
	}
}

func renderRefine(r *output.Renderer, result *catalog.RefineResult) {
	styles := r.Styles()
	if len(result.Observations) > 0 {
		r.Header(2, "Observations")
		for _, o := range result.Observations {
			r.Println("  " + o)
		}
	}
	r.Header(2, "Changes")
	for _, c := range result.Changes {
		if c.Added {
			r.Println(styles.Success.Render("+ " + c.Metric))
			continue
		}
		r.Println(styles.Warning.Render("~ " + c.Metric))
		for _, f := range c.Fields {
			r.Println(styles.Muted.Render("    " + f.Field))
		}
	}
	if result.Publication != nil {
		r.KeyValue("Pull request", result.Publication.URL)
	}
	if result.PublishError != "" {
		r.Warning("publish failed: " + result.PublishError)
	}
}
