package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pilab-dev/bridge-hds/config"
	"github.com/pilab-dev/bridge-hds/internal/server"
	"github.com/pilab-dev/bridge-hds/internal/telemetry"
	"github.com/pilab-dev/bridge-hds/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "bridge-server",
		Short:         "Runs the bridge between a partner backend and the health data platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: bridge.yaml in ., /etc/bridge-hds/, $HOME/.bridge-hds)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stdLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		stdLog.Error().Err(err).Msg("bridge-server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logLevel, parseErr := log.ParseLevel(cfg.Log.Level)
	appLogger := log.NewZerologAdapter(logLevel, cfg.Log.Pretty)
	if parseErr != nil {
		appLogger.Warn(ctx, "Invalid log level configured, defaulting to 'info'", log.Fields{"configured_log_level": cfg.Log.Level})
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	procs := maxProcs(cfg.Start.NumProcesses, runtime.NumCPU())
	runtime.GOMAXPROCS(procs)
	appLogger.Info(ctx, "Starting bridge server", log.Fields{
		"host":       cfg.Server.Host,
		"port":       cfg.Server.Port,
		"base_url":   cfg.BaseURL,
		"gomaxprocs": procs,
		"plugins":    cfg.Plugins.Enabled,
	})

	tp, err := telemetry.InitTracer(cfg.Service.AppID, cfg.Telemetry.Exporter, os.Stdout, appLogger)
	if err != nil {
		return err
	}

	bridge, err := newApp(ctx, cfg, appLogger)
	if err != nil {
		telemetry.Shutdown(context.Background(), tp, nil, appLogger)
		return err
	}

	httpServer := server.NewHTTPServer(cfg, bridge.echo)
	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on %s", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			appLogger.Error(context.Background(), "HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := bridge.drain(); err != nil {
		appLogger.Error(shutdownCtx, "Finalize guard close error", err)
	}
	telemetry.Shutdown(shutdownCtx, tp, bridge.meter, appLogger)

	appLogger.Info(shutdownCtx, "Server gracefully stopped")
	return nil
}

// maxProcs sizes GOMAXPROCS: zero uses every CPU, a negative value is
// subtracted from the CPU count. The result is at least 1.
func maxProcs(configured, cpus int) int {
	n := configured
	if n <= 0 {
		n = cpus + configured
	}
	if n < 1 {
		n = 1
	}
	return n
}
