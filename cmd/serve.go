package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/fxrecorder/internal/audio"
	"github.com/audiolibrelab/fxrecorder/internal/observe"
	"github.com/audiolibrelab/fxrecorder/internal/server"
	"github.com/audiolibrelab/fxrecorder/internal/service"

	"github.com/spf13/cobra"
)

// version is reported in telemetry.
var version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the FXRecorder HTTP server so recording, playback and effects can be
controlled from another device on the same network.

Metrics are served in Prometheus format at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			cfg.Server.Address = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdown, err := observe.InitProvider(observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("Telemetry shutdown failed", "error", err)
			}
		}()

		// Instruments must be created after the provider is installed.
		metrics := observe.DefaultMetrics()

		driver := audio.NewDriver(cfg, slog.Default())
		svc := service.New(cfg, driver, service.WithMetrics(metrics))

		// A denied microphone is reported by /status and retried on /record.
		if err := svc.Open(ctx); err != nil {
			slog.Warn("Microphone not available yet", "error", err)
		}

		srv := server.New(svc, cfg.Server.Address, server.WithMetrics(metrics))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Debug("Releasing audio devices")
			return svc.Close()
		})

		slog.Info("FXRecorder server running", "address", cfg.Server.Address, "profile", cfg.Profile)
		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("address", "", "listen address (overrides config)")
}
