package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/download_coordinator/internal/cleanup"
	"github.com/italolelis/download_coordinator/internal/completion"
	"github.com/italolelis/download_coordinator/internal/config"
	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/dm/local"
	"github.com/italolelis/download_coordinator/internal/dm/putio"
	"github.com/italolelis/download_coordinator/internal/http/rest"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/notifier"
	"github.com/italolelis/download_coordinator/internal/opener"
	"github.com/italolelis/download_coordinator/internal/permission"
	"github.com/italolelis/download_coordinator/internal/progress"
	"github.com/italolelis/download_coordinator/internal/screen"
	"github.com/italolelis/download_coordinator/internal/storage/sqlite"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

const serviceName = "download_coordinator"

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("download coordinator starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		DiskPath:       cfg.DownloadDir(),
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	// =========================================================================
	// Start Download Service
	svc, err := buildDownloadService(ctx, cfg, database, tel)
	if err != nil {
		return fmt.Errorf("failed to build download service: %w", err)
	}

	profile, err := config.LoadRequestProfile(cfg.RequestProfile)
	if err != nil {
		return fmt.Errorf("failed to load request profile: %w", err)
	}

	coord := coordinator.New(
		dm.NewInstrumentedService(svc, tel, cfg.DownloadService),
		sqlite.NewInstrumentedPreferenceRepository(database, tel),
		profile,
	)

	// =========================================================================
	// Start Screen
	ctrl := screen.NewController(
		coord,
		progress.NewPoller(coord, cfg.PollInterval, tel),
		completion.NewListener(coord, tel),
		buildPermissionGate(cfg),
		opener.New(cfg.OpenHandlers),
		buildNotifier(cfg),
		tel,
		screen.Config{OpenOnComplete: cfg.OpenOnComplete},
	)

	// The screen outlives ctx so that it can persist its state on shutdown.
	screenCtx, stopScreen := context.WithCancel(context.WithoutCancel(ctx))
	defer stopScreen()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(screenCtx)
	})

	if err := ctrl.Create(ctx); err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}

	if err := ctrl.Foreground(ctx); err != nil {
		return fmt.Errorf("failed to show screen: %w", err)
	}

	g.Go(func() error {
		<-gctx.Done()

		if err := ctrl.Background(screenCtx); err != nil {
			logger.Error("failed to hide screen", "err", err)
		}

		stopScreen()

		return nil
	})

	// =========================================================================
	// Start Background Jobs
	switch s := svc.(type) {
	case *local.Service:
		defer s.Close()

		g.Go(func() error {
			cleanup.Run(gctx, s, trackedDownload(ctrl), cfg.CleanupInterval, cfg.KeepDownloadedFor)

			return nil
		})
	case *putio.Service:
		s.Watch(gctx)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, ctrl, tel, cfg)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"download_service", cfg.DownloadService,
		"poll_interval", cfg.PollInterval.String(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	return g.Wait()
}

// This is an abstract factory for the download service.
func buildDownloadService(ctx context.Context, cfg *config.Config, database *sql.DB, tel *telemetry.Telemetry) (dm.Service, error) {
	switch cfg.DownloadService {
	case "local":
		bucket, err := openBucket(ctx, cfg.DownloadBucketURL, cfg.DownloadDir())
		if err != nil {
			return nil, err
		}

		svc, err := local.New(
			sqlite.NewInstrumentedDownloadRepository(database, tel),
			bucket,
			cfg.DownloadBucketURL,
			local.WithTelemetry(tel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create local download service: %w", err)
		}

		if err := svc.Recover(ctx); err != nil {
			return nil, err
		}

		return svc, nil
	case "putio":
		svc := putio.New(putio.NewClient(cfg.PutioToken), cfg.PutioParentID, cfg.PutioWatchInterval, tel)

		if err := svc.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication error: %w", err)
		}

		return svc, nil
	}

	return nil, fmt.Errorf("invalid download service: %s", cfg.DownloadService)
}

// openBucket opens the download bucket. dir, when set, is the directory of a file:// bucket and
// is created first.
func openBucket(ctx context.Context, bucketURL, dir string) (*blob.Bucket, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}

	return bucket, nil
}

func buildPermissionGate(cfg *config.Config) *permission.Gate {
	if cfg.DownloadService == "putio" {
		return permission.NewGate("put.io account", permission.Always)
	}

	return permission.NewDirGate(cfg.DownloadDir(), "write "+cfg.DownloadBucketURL)
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	notif := notifier.Multi{notifier.LogNotifier{}}

	if cfg.DiscordWebhookURL != "" {
		notif = append(notif, &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
	}

	return notif
}

func trackedDownload(ctrl *screen.Controller) func(context.Context) dm.ID {
	return func(ctx context.Context) dm.ID {
		snap, err := ctrl.Snapshot(ctx)
		if err != nil {
			return 0
		}

		return snap.DownloadID
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, ctrl *screen.Controller, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewScreenHandler(cfg.Web.Username, cfg.Web.Password, ctrl).Routes())

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
