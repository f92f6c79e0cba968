// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ashfell/inkwell/internal/api"
	"github.com/ashfell/inkwell/internal/blobstore"
	"github.com/ashfell/inkwell/internal/docservice"
	"github.com/ashfell/inkwell/internal/docstore"
	"github.com/ashfell/inkwell/internal/frames"
	"github.com/ashfell/inkwell/internal/notify"
	"github.com/ashfell/inkwell/internal/scheduler"
	"github.com/ashfell/inkwell/internal/sse"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.thermal == nil {
		app.thermal = frames.NominalSource
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.Store.SQLitePath),
		slog.String("attachments_path", cfg.Store.AttachmentsPath),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize document record store.
	records, err := docstore.Open(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("init docstore: %w", err)
	}
	defer records.Close()

	// Initialize attachment store.
	blobs, err := blobstore.NewFS(cfg.Store.AttachmentsPath)
	if err != nil {
		return fmt.Errorf("init blobstore: %w", err)
	}
	saver := blobstore.NewSaver(blobs, cfg.Store.MaxConcurrentWrites, logger)

	// Change notifier and SSE bridge.
	notifier := notify.New(cfg.Notify.Idle.Std())
	defer notifier.Close()
	broker := sse.NewBroker()
	defer broker.Close()
	notifier.Subscribe(broker.PublishDocumentChanged)

	// Document service.
	svc := docservice.New(records, blobs, saver, notifier, scheduler.Config{
		Debounce:        cfg.Save.Debounce.Std(),
		MinSpacing:      cfg.Save.MinSpacing.Std(),
		AttachmentScale: cfg.Save.AttachmentScale,
		LargeDocBytes:   cfg.Save.LargeDocBytes,
		LargeDocScale:   cfg.Save.LargeDocScale,
	}, logger)

	// Prune attachment files orphaned by a crash between save and
	// reconciliation.
	if err := svc.SyncAttachments(); err != nil {
		logger.Warn("initial attachment sync failed", slog.String("error", err.Error()))
	}

	// Build API router.
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the attachment root for out-of-band file removals.
	g.Go(func() error {
		if err := blobstore.Watch(gCtx, blobs.Root(), logger, svc.AttachmentFileRemoved); err != nil {
			logger.Warn("attachment watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Drive animated-attachment frames, gated by thermal state.
	if cfg.Frames.Enabled {
		g.Go(func() error {
			frames.Run(gCtx, cfg.Frames.Tick.Std(), app.thermal, svc.AdvanceAnimations, logger)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Flush open documents and drain pending attachment writes.
		svc.Shutdown()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
