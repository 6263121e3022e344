// Relay is the roomdrop rendezvous server. It pairs two websocket sessions
// into a room and forwards their connection-setup messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/roomdrop/internal/config"
	"github.com/BioHazard786/roomdrop/internal/logging"
	"github.com/BioHazard786/roomdrop/internal/relay"
	"github.com/BioHazard786/roomdrop/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts config.RelayOptions

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Rendezvous relay for roomdrop peers",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelay(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&opts.Addr, "addr", "a", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "also write JSON logs to this rotating file")
	return cmd
}

func run(ctx context.Context, cfg *config.RelayConfig) error {
	logger := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		DefaultLevel: zapcore.InfoLevel,
		File:         cfg.LogFile,
	})
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if logger.Core().Enabled(zapcore.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := relay.NewMetrics()
	hub := relay.NewHub(logger, metrics)
	router := relay.NewRouter(hub, relay.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		Metrics:        metrics,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(hubCtx)
	})
	g.Go(func() error {
		logger.Info("relay listening", zap.String("addr", cfg.Addr), zap.String("version", version.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		stopHub()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
