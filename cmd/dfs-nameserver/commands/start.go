package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marmos91/dfs/internal/auth"
	"github.com/marmos91/dfs/internal/config"
	"github.com/marmos91/dfs/internal/logger"
	"github.com/marmos91/dfs/internal/nameserver"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the name server",
	Long: `Start the DFS name server: storage server registration, the global
file index, authentication, and command routing.

Use --config to point at a non-default configuration file.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := auth.NewFlatFileStore(cfg.NameServer.UsersFile)
	if err != nil {
		return fmt.Errorf("failed to load users file: %w", err)
	}
	if err := store.Watch(); err != nil {
		return fmt.Errorf("failed to watch users file: %w", err)
	}
	defer store.Close()

	state := nameserver.NewState(cfg, store)

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		state.SetMetrics(nameserver.NewMetrics(reg))
	}

	server := nameserver.NewServer(state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe(ctx, cfg.NameServer.Addr)
	}()

	var adminSrv *http.Server
	if cfg.Metrics.Enabled {
		adminSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: nameserver.AdminMux(state, reg)}
		go func() {
			logger.Info("admin mux listening", slog.String("addr", cfg.Metrics.Addr))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("admin mux stopped", logger.Err(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("name server is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		if adminSrv != nil {
			_ = adminSrv.Shutdown(context.Background())
		}
		if err := <-serverDone; err != nil {
			logger.Error("name server stopped with error", logger.Err(err))
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("name server error", logger.Err(err))
			return err
		}
	}

	logger.Info("name server stopped gracefully")
	return nil
}
