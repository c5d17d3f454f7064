package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/internal/cli/config"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/internal/deploy"
	"github.com/leapstack-labs/leapmetrics/internal/oracle"
	"github.com/leapstack-labs/leapmetrics/internal/publish"
	"github.com/leapstack-labs/leapmetrics/internal/state"
	"github.com/leapstack-labs/leapmetrics/internal/workspace"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Renderer  *output.Renderer
	Store     *state.SQLiteStore
	Engine    *deploy.Engine
	Workspace *workspace.Workspace
}

// newOracle builds the oracle from configuration. It returns nil when none is configured.
var newOracle = func(cfg config.OracleConfig, logger *slog.Logger) oracle.Oracle {
	if !cfg.Enabled() {
		return nil
	}
	return oracle.NewClient(oracle.Config{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
	}, logger)
}

// newPublisher builds the GitHub publisher. It returns nil when publication is not configured.
var newPublisher = func(cfg config.GitHubConfig, logger *slog.Logger) (catalog.Publisher, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	gh, err := publish.NewGitHub(publish.Config{
		Token:      cfg.Token,
		Repo:       cfg.Repo,
		BaseBranch: cfg.BaseBranch,
		Dir:        cfg.Dir,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return gh, nil
}

// NewCommandContext opens the state store, the deployment engine and the workspace.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutWorkspace(cmd)
	cfg := cc.Cfg
	ctx := cmd.Context()

	// Ensure state directory exists
	for _, dir := range []string{cfg.Home, filepath.Dir(cfg.StatePath)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	store, err := state.Open(cfg.StatePath, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	engine, err := deploy.New(ctx, deploy.Config{
		Database:     cfg.Database,
		TransientDir: cfg.TransientDir,
		Cutoff:       cfg.Cutoff,
		Extensions:   cfg.DuckDB.Extensions,
		Settings:     cfg.DuckDB.Settings,
		Logger:       cc.Logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to open deployment engine: %w", err)
	}

	cleanup := func() {
		_ = engine.Close()
		_ = store.Close()
	}

	publisher, err := newPublisher(cfg.GitHub, cc.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	ws, err := workspace.Open(ctx, workspace.Config{
		LayerDir:  cfg.LayerDir,
		Store:     store,
		Engine:    engine,
		Oracle:    newOracle(cfg.Oracle, cc.Logger),
		Publisher: publisher,
		RowLimit:  cfg.Pipeline.RowLimit,
		Logger:    cc.Logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	cc.Store = store
	cc.Engine = engine
	cc.Workspace = ws
	return cc, cleanup, nil
}

// NewCommandContextWithoutWorkspace creates a CommandContext without opening any database.
func NewCommandContextWithoutWorkspace(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
	return &CommandContext{Cfg: cfg, Logger: logger, Renderer: r}
}

// getConfig returns the loaded configuration, loading defaults and environment if needed.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.LoadConfig("", nil)
	if err != nil {
		return &config.Config{
			Home:         config.DefaultHome,
			LayerDir:     filepath.Join(config.DefaultHome, config.DefaultLayerDir),
			TransientDir: filepath.Join(config.DefaultHome, config.DefaultTransientDir),
			StatePath:    filepath.Join(config.DefaultHome, config.DefaultStateFile),
			Cutoff:       config.DefaultCutoff,
			OutputFormat: config.DefaultOutput,
			Pipeline:     config.PipelineConfig{Retries: config.DefaultRetries, RowLimit: config.DefaultRowLimit},
			Server:       config.ServerConfig{Addr: config.DefaultAddr},
		}
	}
	return cfg
}
