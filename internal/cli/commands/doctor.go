package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Health check statuses.
const (
	statusPass  = "pass"
	statusWarn  = "warn"
	statusError = "error"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the workspace for problems",
		Long: `Check configuration, the state store and every datasource: whether it is
attached, whether its semantic layer is valid, whether every metric is deployed
and whether changes are waiting to be accepted.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := runDoctor(cmd.Context(), cc)
			if err != nil {
				return err
			}
			switch cc.Renderer.EffectiveMode() {
			case output.ModeJSON:
				return cc.Renderer.JSON(out)
			case output.ModeMarkdown:
				renderDoctorMarkdown(cc.Renderer, out)
			default:
				renderDoctorText(cc.Renderer, out)
			}
			if out.Errors > 0 {
				return fmt.Errorf("%d checks failed", out.Errors)
			}
			return nil
		},
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	HealthChecks []HealthCheck `json:"health_checks"`
	Warnings     int           `json:"warnings"`
	Errors       int           `json:"errors"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string   `json:"name"`
	Group   string   `json:"group"`
	Status  string   `json:"status"` // "pass", "warn", "error"
	Details []string `json:"details,omitempty"`
}

func (o *DoctorOutput) add(group, name, status string, details ...string) {
	o.HealthChecks = append(o.HealthChecks, HealthCheck{Name: name, Group: group, Status: status, Details: details})
	switch status {
	case statusWarn:
		o.Warnings++
	case statusError:
		o.Errors++
	}
}

func runDoctor(ctx context.Context, cc *CommandContext) (*DoctorOutput, error) {
	out := &DoctorOutput{}
	cfg := cc.Cfg

	if file := config.GetConfigFileUsed(); file != "" {
		out.add("configuration", "config file", statusPass, file)
	} else {
		out.add("configuration", "config file", statusPass, "defaults and environment only")
	}
	if cfg.Oracle.Enabled() {
		out.add("configuration", "oracle", statusPass, cfg.Oracle.Endpoint+" "+cfg.Oracle.Model)
	} else {
		out.add("configuration", "oracle", statusWarn, "no oracle.api_key or oracle.endpoint; ask, chat and layer commands will fail")
	}
	if cfg.GitHub.Enabled() {
		out.add("configuration", "publication", statusPass, cfg.GitHub.Repo)
	} else {
		out.add("configuration", "publication", statusWarn, "github.repo or github.token not set; refined metrics are not published")
	}

	version, err := cc.Store.MigrationVersion()
	if err != nil {
		out.add("storage", "state store", statusError, err.Error())
	} else {
		out.add("storage", "state store", statusPass, fmt.Sprintf("%s (schema version %d)", cfg.StatePath, version))
	}

	sources, err := cc.Workspace.DataSources(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		out.add("datasources", "datasources", statusWarn, "none registered")
	}
	views, err := cc.Engine.GovernedViews(ctx)
	if err != nil {
		return nil, err
	}

	for _, ds := range sources {
		group := "datasource " + ds.Name

		attached, err := cc.Engine.IsAttached(ctx, ds.Name)
		switch {
		case err != nil:
			out.add(group, "attached", statusError, err.Error())
		case !attached:
			out.add(group, "attached", statusError, "not attached: "+ds.URI)
		default:
			out.add(group, "attached", statusPass)
		}

		layer, err := cc.Workspace.Layer(ds.Name)
		if err != nil {
			out.add(group, "semantic layer", statusError, err.Error())
			continue
		}
		metrics := layer.Metrics()
		if err := catalog.Validate(metrics); err != nil {
			out.add(group, "semantic layer", statusError, err.Error())
		} else if len(metrics) == 0 {
			out.add(group, "semantic layer", statusWarn, "no metrics; run `leapmetrics layer propose "+ds.Name+"`")
		} else {
			out.add(group, "semantic layer", statusPass, fmt.Sprintf("%d metrics", len(metrics)))
		}

		var missing []string
		for _, m := range metrics {
			if !slices.ContainsFunc(views, func(v string) bool { return strings.EqualFold(v, m.Name) }) {
				missing = append(missing, m.Name)
			}
		}
		if len(missing) > 0 {
			out.add(group, "deployed", statusWarn, "not deployed: "+strings.Join(missing, ", "))
		} else if len(metrics) > 0 {
			out.add(group, "deployed", statusPass)
		}

		if _, err := os.Stat(pendingPath(cfg.LayerDir, ds.Name)); err == nil {
			out.add(group, "staged changes", statusWarn, "run `leapmetrics layer accept "+ds.Name+"` or `layer reject`")
		} else if !errors.Is(err, os.ErrNotExist) {
			out.add(group, "staged changes", statusError, err.Error())
		}
	}
	return out, nil
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("leapmetrics Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 40)))

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("")
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 36)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case statusWarn:
			icon = styles.Warning.Render("!")
		case statusError:
			icon = styles.StatusFailed.String()
		}
		r.Println("   " + icon + " " + check.Name)
		for _, detail := range check.Details {
			r.Println(styles.Muted.Render("       " + detail))
		}
	}

	r.Println("")
	r.Printf("%d warnings, %d errors\n", out.Warnings, out.Errors)
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println(output.FormatHeader(1, "leapmetrics Health Report"))
	currentGroup := ""
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("")
			r.Println(output.FormatHeader(2, currentGroup))
		}
		line := fmt.Sprintf("- [%s] %s", check.Status, check.Name)
		if len(check.Details) > 0 {
			line += ": " + strings.Join(check.Details, "; ")
		}
		r.Println(line)
	}
	r.Println("")
	r.Printf("%d warnings, %d errors\n", out.Warnings, out.Errors)
}
