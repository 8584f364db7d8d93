package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/fredBank/pkg/config"
	"github.com/mcclellann/fredBank/pkg/notify"
	"github.com/mcclellann/fredBank/pkg/observability"
	"github.com/mcclellann/fredBank/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "fredbank",
	Short:         "Accounts, transfers, loans and card applications",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fredbank.toml", "Path to the TOML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	shutdownTracer, err := observability.InitTracer(cmd.Context(), cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	s, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	var notifier notify.Dispatcher = notify.Nop{}
	if cfg.NotifyWebhookURL != "" {
		webhook := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout, logger,
			notify.WithMaxInFlight(cfg.NotifyMaxInFlight),
		)
		defer webhook.Wait()
		notifier = webhook
	}

	server := NewServer(cfg, s, notifier, observability.NewMetrics(), logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db_driver", cfg.DBDriver),
			zap.Bool("loan_disbursement", cfg.LoanDisbursement),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStorage connects to the configured database. Both backends apply the schema on open.
func openStorage(cfg *config.Config, logger *zap.Logger) (store.Storage, error) {
	switch cfg.DBDriver {
	case "postgres":
		return store.NewPostgresStore(cfg.DatabaseDSN, logger)
	default:
		return store.NewSQLiteStore(cfg.DatabaseDSN, logger)
	}
}
