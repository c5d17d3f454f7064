package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# leapmetrics configuration
# Every key can be overridden with LEAPMETRICS_<KEY> (for example
# LEAPMETRICS_ORACLE_API_KEY) or a command-line flag.

home: .leapmetrics
# layer_dir: layers            # relative to home
# database: governed.duckdb    # ":memory:" for an in-memory governed catalog
low_cardinality_cutoff: 100
output: auto

oracle:
  endpoint: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key: ${OPENAI_API_KEY}
  timeout: 60s
  temperature: 0

pipeline:
  retries: 1
  row_limit: 1000

server:
  addr: ":8080"
  watch: false
  auto_refine: false
  # cors_origins: [http://localhost:3000]

# github:
#   token: ${GITHUB_TOKEN}
#   repo: owner/name
#   base_branch: main
#   dir: metrics

# duckdb:
#   extensions: [httpfs]
#   settings:
#     threads: "4"
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter leapmetrics.yaml",
		Long: `Write a commented leapmetrics.yaml with every configuration key and its
default, and create the home directory.`,
		Example: `  # Initialize in current directory
  leapmetrics init

  # Force overwrite existing config
  leapmetrics init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			r := NewCommandContextWithoutWorkspace(cmd).Renderer

			if err := os.MkdirAll(filepath.Join(dir, ".leapmetrics"), 0o750); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
			path := filepath.Join(dir, "leapmetrics.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists. Use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			r.Success("Created " + path)
			r.Println("")
			r.Println("Next steps:")
			r.Println("  leapmetrics datasource add ./data/orders.csv")
			r.Println("  leapmetrics layer propose orders --accept")
			r.Println("  leapmetrics deploy orders")
			r.Println(`  leapmetrics ask orders "revenue by month"`)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	return cmd
}
