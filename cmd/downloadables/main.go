package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/downloadables/internal/cleanup"
	"github.com/italolelis/downloadables/internal/config"
	"github.com/italolelis/downloadables/internal/downloadables"
	"github.com/italolelis/downloadables/internal/host"
	"github.com/italolelis/downloadables/internal/http/rest"
	"github.com/italolelis/downloadables/internal/logctx"
	"github.com/italolelis/downloadables/internal/notifier"
	"github.com/italolelis/downloadables/internal/storage"
	"github.com/italolelis/downloadables/internal/storage/postgres"
	"github.com/italolelis/downloadables/internal/storage/sqlite"
	"github.com/italolelis/downloadables/internal/telemetry"
	"github.com/italolelis/downloadables/internal/transport/httpfetch"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewContextHandler(
		slog.NewJSONHandler(logOutput(cfg), &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("downloadables host starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func logOutput(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}

	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	})
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Journal
	repo, closeRepo, err := buildJournal(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build journal: %w", err)
	}
	defer closeRepo()

	trackers := downloadables.MultiTracker{tel}

	var journal *storage.Journal
	if repo != nil {
		journal = storage.NewJournal(repo, storage.GenerateInstanceID(), cfg.Journal.Buffer)
		trackers = append(trackers, journal)
	}

	// =========================================================================
	// Start Notification
	var groupNotifier *notifier.GroupNotifier
	if cfg.DiscordWebhookURL != "" {
		groupNotifier = notifier.NewGroupNotifier(&notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
		trackers = append(trackers, groupNotifier)
	}

	// =========================================================================
	// Start Host
	client := httpfetch.NewClient(ctx, cfg.ContentDir, cfg.MaxParallelFiles, httpfetch.WithTelemetry(tel))
	manager := downloadables.NewManager(client)

	h := host.New(manager, host.FileLoader{
		CatalogPath:       cfg.CatalogPath,
		BundleCatalogPath: cfg.BundleCatalogPath,
		ConfigPath:        cfg.DownloadablesConfigPath,
		DownloadablesPath: cfg.DownloadablesPath,
	}, host.Options{
		TickInterval:      cfg.TickInterval,
		AutoCreateHandles: cfg.AutoCreateHandles,
		TrackingEnabled:   cfg.TrackingEnabled,
		Tracker:           trackers,
		Telemetry:         tel,
	})

	// =========================================================================
	// Start Cleanup
	cleaner := &cleanup.Cleaner{
		Dir:       cfg.ContentDir,
		Interval:  cfg.CleanupInterval,
		OlderThan: cfg.KeepUnreferenced,
		Keep:      catalogBundles(h),
		Telemetry: tel,
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	g, gctx := errgroup.WithContext(workersCtx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return cleaner.Run(gctx) })

	if journal != nil {
		g.Go(func() error { return journal.Run(gctx) })
	}

	if groupNotifier != nil {
		g.Go(func() error { return groupNotifier.Run(gctx) })
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, h, repo, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("serving downloadables",
		"content_dir", cfg.ContentDir,
		"tick_interval", cfg.TickInterval.String(),
		"journal", cfg.Journal.Driver,
		"cleanup_interval", cfg.CleanupInterval.String(),
	)

	select {
	case err := <-serverErrors:
		stopWorkers()

		return errors.Join(fmt.Errorf("server error: %w", err), g.Wait())
	case <-gctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return g.Wait()
	}
}

// buildJournal is an abstract factory for the event journal. A nil repository
// means journaling is disabled.
func buildJournal(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (storage.EventRepository, func(), error) {
	logger := logctx.LoggerFromContext(ctx)

	switch cfg.Journal.Driver {
	case "sqlite":
		db, err := sqlite.InitDB(cfg.Journal.Path)
		if err != nil {
			return nil, nil, err
		}

		closer := func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close journal database", "err", err)
			}
		}

		return storage.NewInstrumentedEventRepository(sqlite.NewEventRepository(db), tel), closer, nil
	case "postgres":
		repo, err := postgres.NewEventRepository(ctx, cfg.Journal.DSN)
		if err != nil {
			return nil, nil, err
		}

		closer := func() {
			if err := repo.Close(); err != nil {
				logger.Error("failed to close journal database", "err", err)
			}
		}

		return storage.NewInstrumentedEventRepository(repo, tel), closer, nil
	case "none":
		return nil, func() {}, nil
	}

	return nil, nil, fmt.Errorf("invalid journal driver: %s", cfg.Journal.Driver)
}

// catalogBundles keeps every bundle the loaded catalog references.
func catalogBundles(h *host.Host) cleanup.KeepFunc {
	return func(ctx context.Context) ([]string, error) {
		var names []string

		err := h.Do(ctx, func(m *downloadables.Manager) error {
			catalog := m.Catalog()
			if catalog == nil {
				return downloadables.ErrNotInitialized
			}

			names = catalog.BundleNames()

			return nil
		})

		return names, err
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	h *host.Host,
	events storage.EventReadRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := rest.NewDownloadablesHandler(cfg.API.Username, cfg.API.Password, h, events)
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
