package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/tablesync/internal/config"
	"github.com/vango-dev/tablesync/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		addr   string
		driver string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Run the authoritative sync server.

The server loads the table from the configured store, accepts
WebSocket clients on /ws and saves the table after changes and
on shutdown.

Endpoints:
  /ws       WebSocket sync endpoint
  /healthz  Health check
  /state    Current state as JSON
  /metrics  Prometheus metrics

Examples:
  tablesync serve
  tablesync serve --addr=:8080
  tablesync serve --store=sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Apply command-line overrides
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if driver != "" {
				cfg.Store.Driver = driver
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from tablesync.json)")
	cmd.Flags().StringVar(&driver, "store", "", "Store driver: memory, file, sqlite or s3")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	printBanner()
	info("Table:  %s", cfg.Server.TableKey)
	info("Store:  %s", cfg.Store.Driver)
	info("Listen: %s", cfg.Server.Addr)
	if cfg.Store.Driver == config.DriverMemory {
		warn("The memory store loses the table on shutdown")
	}

	srv := server.New(serverConfig(cfg),
		server.WithStore(st),
		server.WithLogger(logger),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	success("Table saved, server stopped")
	return nil
}

// serverConfig maps the server section onto a server.ServerConfig.
func serverConfig(cfg *config.Config) *server.ServerConfig {
	sc := server.DefaultServerConfig().WithAddress(cfg.Server.Addr).WithMaxSessions(cfg.Server.MaxSessions)
	sc.TableKey = cfg.Server.TableKey
	sc.BroadcastInterval = cfg.BroadcastInterval()
	sc.PersistDelay = cfg.PersistDelay()
	sc.PersistMaxDelay = cfg.PersistMaxDelay()
	sc.CompressThreshold = cfg.Server.CompressThreshold
	sc.Version = version
	sc.BuildHash = commit
	if cfg.Server.AllowAnyOrigin {
		sc.CheckOrigin = func(*http.Request) bool { return true }
	}
	return sc
}
