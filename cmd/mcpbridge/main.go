package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/httpapi"
	"github.com/mcpbridge/mcpbridge-go/internal/logs"
	"github.com/mcpbridge/mcpbridge-go/internal/observability"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
	"github.com/mcpbridge/mcpbridge-go/internal/runtime"
	"github.com/mcpbridge/mcpbridge-go/internal/storage"
	"github.com/mcpbridge/mcpbridge-go/internal/toolcall"
	"github.com/mcpbridge/mcpbridge-go/internal/tools"
)

var (
	configFile string
	dataDir    string
	listen     string
	logLevel   string
	logToFile  bool

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpbridge",
		Short:   "MCP runtime bridge - health-checked MCP servers and tool execution for the chat UI",
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpbridge)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address (default: :8081)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to a rotating file in the data directory")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}

	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultLogConfig()
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if cfg.Logging.LogDir == "" {
		cfg.Logging.LogDir = cfg.DataDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Starting mcpbridge",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir))

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	return app.run(cfg.Listen, logger)
}

// app is the explicit application context: every component is constructed
// once here and injected downward. No package-level singletons.
type app struct {
	store   *storage.Store
	manager *runtime.Manager
	api     *httpapi.Server
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := storage.NewStore(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	metrics := observability.NewMetrics()
	reg := registry.New(logger)
	manager := runtime.NewManager(reg, store, metrics, cfg.HealthCheckInterval, logger)

	factory := tools.NewFactory(reg, metrics, logger)
	factory.SetObserver(func(serverID, toolName string, _ map[string]interface{}, duration time.Duration, err error) {
		logger.Info("Tool call",
			zap.String("server", serverID),
			zap.String("tool", toolName),
			zap.Duration("duration", duration),
			zap.Error(err))
	})

	processor := toolcall.NewProcessor(factory, logger)
	api := httpapi.NewServer(manager, factory, processor, metrics, logger)

	ctx := context.Background()
	if err := manager.Bootstrap(ctx, cfg.Servers); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to bootstrap runtime: %w", err)
	}

	return &app{
		store:   store,
		manager: manager,
		api:     api,
	}, nil
}

func (a *app) run(listenAddr string, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.manager.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.api.Start(listenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			a.shutdown(logger)
			return err
		}
	}

	a.shutdown(logger)
	return nil
}

func (a *app) shutdown(logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	a.manager.Stop()
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close settings store", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
