package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapmetrics/internal/api"
	"github.com/leapstack-labs/leapmetrics/internal/mcpserver"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var cors []string
	var autoRefine bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve datasources, semantic layers and chats over HTTP.

With --watch, semantic layers edited on disk are reloaded. With --auto-refine,
negative feedback refines the layer and publishes the result when GitHub
publication is configured.`,
		Example: `  leapmetrics serve --addr :8080 --watch
  leapmetrics serve --cors-origin http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			origins := cc.Cfg.Server.CORSOrigins
			if cmd.Flags().Changed("cors-origin") {
				origins = cors
			}
			srv := api.NewServer(api.Config{
				Workspace:   cc.Workspace,
				Addr:        cc.Cfg.Server.Addr,
				CORSOrigins: origins,
				AutoRefine:  autoRefine || cc.Cfg.Server.AutoRefine,
				Watch:       cc.Cfg.Server.Watch,
				Logger:      cc.Logger,
			})
			cc.Renderer.Muted("Listening on " + cc.Cfg.Server.Addr)
			return srv.Serve(ctx)
		},
	}
	// --addr and --watch are bound to server.addr and server.watch by the config loader
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	cmd.Flags().Bool("watch", false, "Reload semantic layers edited on disk")
	cmd.Flags().StringSliceVar(&cors, "cors-origin", nil, "Allowed browser origin (repeatable)")
	cmd.Flags().BoolVar(&autoRefine, "auto-refine", false, "Refine on negative feedback")
	return cmd
}

// NewMCPCommand creates the mcp command.
func NewMCPCommand(version string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve tools over the Model Context Protocol",
		Long: `Expose list_datasources, list_metrics, ask and feedback as MCP tools.
Speaks stdio by default, or streamable HTTP with --http.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mcpserver.New(cc.Workspace, version, cc.Logger)
			return mcpserver.Serve(ctx, srv, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "Serve streamable HTTP on this address instead of stdio")
	return cmd
}
