// Package cli implements the pointsd command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/directory"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/observability"
	"github.com/warp/points-ledger/store/sqlite"
)

var (
	configPath string
	dbOverride string
)

var rootCmd = &cobra.Command{
	Use:   "pointsd",
	Short: "Points ledger service",
	Long: `pointsd keeps a per-user point balance and an append-only history of
every adjustment. Run "pointsd serve" for the HTTP API, or use the other
commands to inspect and adjust balances directly against the database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "SQLite database path (overrides config; \":memory:\" for in-memory)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wiring shared by every command.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  *sqlite.Store
	users  *directory.Cached
	ledger *ledger.Ledger
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}

	log, err := observability.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	users := directory.NewCached(store, cfg.Directory.CacheTTL)
	l := ledger.New(store,
		ledger.WithLogger(log),
		ledger.WithUserDirectory(users),
		ledger.WithPageLimits(ledger.PageLimits{
			DefaultPageSize: cfg.Pagination.DefaultPageSize,
			MaxPageSize:     cfg.Pagination.MaxPageSize,
		}),
		ledger.WithSummarySize(cfg.Pagination.SummarySize),
	)

	return &app{cfg: cfg, log: log, store: store, users: users, ledger: l}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
