// Package app provides application lifecycle management for the contact directory server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
)

// DirectoryApp encapsulates all components needed to run the directory server.
// It provides lifecycle management and graceful shutdown capabilities.
type DirectoryApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanup    func()
	stopOnce   sync.Once
	stopErr    error
}

// Start starts the background sync scheduler, when enabled, and the HTTP
// server. It blocks until the HTTP server stops or encounters an error.
func (app *DirectoryApp) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return app.Serve(listener)
}

// Serve is Start on an existing listener
func (app *DirectoryApp) Serve(listener net.Listener) error {
	if app.config.Sync.IsSchedulerEnabled() {
		if err := app.components.SyncCoordinator.Start(app.ctx); err != nil &&
			!errors.Is(err, coordinator.ErrAlreadyRunning) {
			_ = listener.Close()
			return fmt.Errorf("failed to start sync scheduler: %w", err)
		}
	} else {
		slog.Info("Sync scheduler disabled, only manual syncs will run")
	}

	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Run starts the application and stops it gracefully once ctx is done
func (app *DirectoryApp) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(app.Start)
	g.Go(func() error {
		<-gctx.Done()
		return app.Stop(shutdownTimeout)
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. It stops
// the sync coordinator, shuts down the HTTP server, then releases the store.
// Later calls return the result of the first one.
func (app *DirectoryApp) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *DirectoryApp) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.SyncCoordinator.Stop(); err != nil {
		slog.Warn("Sync coordinator did not stop cleanly", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)

	if app.cleanup != nil {
		app.cleanup()
	}

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *DirectoryApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *DirectoryApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the application components
func (app *DirectoryApp) Components() *AppComponents {
	return app.components
}
