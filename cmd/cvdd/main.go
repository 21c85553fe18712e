package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cvdhost/cvdd/cmd/cvdd/api"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		slog.Info("cleaning up application resources")
		cleanup()
		slog.Info("application cleanup complete")
	}()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger

	if app.Config.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "service", app.Config.OtelServiceName)
	}

	if err := os.RemoveAll(app.Config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket %s: %w", app.Config.SocketPath, err)
	}

	listener, err := net.Listen("unix", app.Config.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.Config.SocketPath, err)
	}

	srv := &http.Server{
		Handler: api.NewRouter(app.Service, logger),
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting cvdd", "socket", app.Config.SocketPath)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("command server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx := context.WithoutCancel(gctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, app.Config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown command server", "error", err)
			return err
		}
		logger.Info("command server shutdown complete")
		return nil
	})

	grp.Go(func() error {
		ticker := time.NewTicker(app.Config.ReclaimInterval)
		defer ticker.Stop()

		logger.Info("forced reclamation sweep started", "interval", app.Config.ReclaimInterval)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := app.Reclaimer.Sweep(gctx); err != nil {
					logger.Error("forced reclamation sweep failed", "error", err)
				}
			}
		}
	})

	err = grp.Wait()
	slog.Info("all goroutines finished")
	return err
}
