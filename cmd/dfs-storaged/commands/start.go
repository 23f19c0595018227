package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marmos91/dfs/internal/config"
	"github.com/marmos91/dfs/internal/logger"
	"github.com/marmos91/dfs/internal/storageserver"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this storage server instance",
	Long: `Start a DFS storage server: it registers with the name server, then
serves file CRUD, streaming, undo, and checkpoint commands forwarded from
the name server.

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

	fs := afero.NewOsFs()

	// A restarting storage server has no id of its own until the name
	// server assigns one, so it guesses from its own data directory
	// before registering, the way the original reported whatever files
	// it already had on disk. If the name server hands back a different
	// id, the engine is rebuilt against the id it actually owns.
	guessID := discoverLayoutID(cfg.StorageServer.Root)
	layout := storageserver.NewLayout(cfg.StorageServer.Root, guessID)
	engine, err := storageserver.NewEngine(fs, layout)
	if err != nil {
		return fmt.Errorf("failed to initialize storage layout: %w", err)
	}

	id, err := storageserver.Register(&cfg.StorageServer, engine)
	if err != nil {
		return fmt.Errorf("failed to register with name server: %w", err)
	}
	if id != guessID {
		logger.Warn("assigned id differs from on-disk layout guess",
			slog.Int("guessed", guessID), slog.Int("assigned", id))
		layout = storageserver.NewLayout(cfg.StorageServer.Root, id)
		engine, err = storageserver.NewEngine(fs, layout)
		if err != nil {
			return fmt.Errorf("failed to initialize storage layout: %w", err)
		}
	}

	var metrics *storageserver.Metrics
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metrics = storageserver.NewMetrics(reg)
		engine.SetMetrics(metrics)
	}

	server := storageserver.NewServer(engine, &cfg.StorageServer, id, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe(ctx)
	}()

	var adminSrv *http.Server
	if cfg.Metrics.Enabled {
		adminSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: storageserver.AdminMux(engine, reg)}
		go func() {
			logger.Info("admin mux listening", logger.SSID(id), slog.String("addr", cfg.Metrics.Addr))
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("admin mux stopped", logger.SSID(id), logger.Err(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("storage server is running, press Ctrl+C to stop", logger.SSID(id))

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received", logger.SSID(id))
		cancel()
		if adminSrv != nil {
			_ = adminSrv.Shutdown(context.Background())
		}
		if err := <-serverDone; err != nil {
			logger.Error("storage server stopped with error", logger.SSID(id), logger.Err(err))
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("storage server error", logger.SSID(id), logger.Err(err))
			return err
		}
	}

	logger.Info("storage server stopped gracefully", logger.SSID(id))
	return nil
}

// discoverLayoutID returns the lowest storage<id> directory already present
// under root, or 1 if none exists yet.
func discoverLayoutID(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 1
	}
	best := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		suffix, ok := strings.CutPrefix(entry.Name(), "storage")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n <= 0 {
			continue
		}
		if best == 0 || n < best {
			best = n
		}
	}
	if best == 0 {
		return 1
	}
	return best
}
