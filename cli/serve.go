package cli

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/mcpserver"
	"github.com/sammcj/toolbridge/server"
	"github.com/sammcj/toolbridge/tools"
	"github.com/spf13/cobra"
)

// DefaultDatabasePath is where seed-db writes when no path is given or configured
const DefaultDatabasePath = "example.db"

func (a *App) newServeStdioCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-stdio",
		Short: "Serve the built-in tools as an MCP server on stdin and stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, owned, err := a.newRegistry()
			if err != nil {
				return err
			}

			srv, err := mcpserver.New(cmd.Context(), registry, owned...)
			if err != nil {
				_ = owned.Close()
				return err
			}
			defer srv.Close()

			return srv.Serve()
		},
	}
}

func (a *App) newServeHTTPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-http",
		Short: "Serve the built-in tools over HTTP",
		Long: `Serve the built-in tools on POST /tools/{name}. When a model can be
created from the configuration, POST /api/chat answers queries with them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			registry, owned, err := a.newRegistry()
			if err != nil {
				return err
			}

			var opts []server.Option
			if b, err := a.newBridge(registry); err != nil {
				logger.KV(xlog.WARNING, "reason", "chat_disabled", "err", err.Error())
			} else {
				opts = append(opts, server.WithBridge(b))
			}

			srv := server.New(a.cfg.Addr(), registry, opts...)
			sm := server.NewShutdownManager(srv.HTTPServer(), a.cfg.Server.ShutdownTimeout, owned...)

			errs := make(chan error, 1)
			go func() {
				errs <- srv.Start()
			}()
			fmt.Fprintf(a.stdout, "Listening on http://%s\n", a.cfg.Addr())

			select {
			case err = <-errs:
				_ = sm.Shutdown()
				return err
			case <-ctx.Done():
			}

			if err := sm.HandleGracefulShutdown(ctx); err != nil {
				return err
			}
			return <-errs
		},
	}
}

func (a *App) newSeedDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-db [path]",
		Short: "Create the example users and orders database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Database.Path
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = DefaultDatabasePath
			}

			if err := tools.SeedExampleDB(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Example database created at %s\n", path)
			return nil
		},
	}
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "toolbridge %s\n", Version)
			fmt.Fprintf(a.stdout, "  commit:     %s\n", Commit)
			fmt.Fprintf(a.stdout, "  go version: %s\n", runtime.Version())
		},
	}
}
