package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/gwlsn/restreamer/internal/api"
	"github.com/gwlsn/restreamer/internal/config"
	"github.com/gwlsn/restreamer/internal/ffmpeg"
	"github.com/gwlsn/restreamer/internal/jobs"
	"github.com/gwlsn/restreamer/internal/logger"
	"github.com/gwlsn/restreamer/internal/store"
)

const (
	// httpShutdownTimeout bounds draining in-flight API requests.
	httpShutdownTimeout = 5 * time.Second
	// shutdownTimeout bounds stopping every live encoder on exit.
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the restream manager and HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath, listen)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "Override listen address from config")
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv("RESTREAMER_CONFIG"); p != "" {
		return p
	}
	return "config/restreamer.yaml"
}

func runServe(configPath, listenOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Init("info", "text")
		logger.Warn("Could not load config, using defaults", "path", configPath, "error", err)
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Module("main")

	// Log level follows the config file without a restart
	watcher := config.NewWatcher(configPath, 0, logger.Module("config"))
	watcher.OnReload(func(c *config.Config) {
		logger.SetLevel(c.LogLevel)
		log.Info("Config reloaded", "log_level", c.LogLevel)
	})
	if err := watcher.Start(); err != nil {
		log.Warn("Config file watching disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	var available map[string]bool
	if cfg.DetectEncoders {
		available = ffmpeg.DetectEncoders(cfg.FFmpegPath)
	}
	variants := ffmpeg.HostCandidates(available)
	for i, v := range variants {
		log.Info("Encoder candidate", "order", i+1, "encoder", v.Encoder, "name", v.Name)
	}

	launcher := &ffmpeg.Launcher{
		FFmpegPath:      cfg.FFmpegPath,
		IngestURL:       cfg.IngestURL,
		VAAPIDevice:     cfg.VAAPIDevice,
		Variants:        variants,
		GracefulTimeout: cfg.StopTimeout,
		KillTimeout:     cfg.StopTimeout,
	}

	bus := jobs.NewBus()
	defer bus.Close()
	metrics := jobs.NewMetrics()

	manager := jobs.NewManager(jobs.Options{
		Launcher:        jobs.NewFFmpegLauncher(launcher),
		OpenStore:       store.Opener(cfg.DataDir),
		Bus:             bus,
		Metrics:         metrics,
		StartGrace:      cfg.StartGrace,
		MonitorInterval: cfg.MonitorInterval,
	})
	if err := manager.Initialize(cfg.InstanceID); err != nil {
		return fmt.Errorf("initialize manager: %w", err)
	}

	// Cancelling baseCtx ends long-lived event streams so Shutdown can drain
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	handler := api.NewHandler(manager, bus, variants)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(handler, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	log.Info("Restreamer started",
		"version", version,
		"listen", cfg.Listen,
		"instance_id", cfg.InstanceID,
		"database", cfg.DatabasePath(cfg.InstanceID),
		"ffmpeg", cfg.FFmpegPath)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("Failed to notify systemd", "error", err)
	} else if ok {
		log.Debug("Notified systemd of readiness")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Close the listener first so no new starts race the shutdown
	cancelBase()
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancelHTTP()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn("HTTP server shutdown", "error", err)
		server.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Error("Manager shutdown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	log.Info("Restreamer stopped")
	return runErr
}
