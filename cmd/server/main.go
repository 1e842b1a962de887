package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/relaychat-server/internal/app"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/log"
	"github.com/vovakirdan/relaychat-server/internal/store/sqlite"
)

type flags struct {
	configPath string
	addr       string
	logLevel   string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "relaychat-server",
		Short:         "Realtime presence and chat fanout server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&f.dbPath, "db", "", "sqlite database path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "HTTP listen address")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrate(f)
		},
	}

	root.AddCommand(serve, migrate)
	// Bare invocation serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func loadConfig(f *flags) (config.Config, error) {
	bootLog := log.New(f.logLevel)
	cfg, path, err := config.Load(bootLog, f.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:         f.addr,
		LogLevel:     f.logLevel,
		DatabasePath: f.dbPath,
	})
	bootLog.Debug().Str("path", path).Msg("config loaded")
	return cfg, nil
}

func runServe(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting relaychat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runMigrate(f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel)

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer st.Close()

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema applied")
	return nil
}
