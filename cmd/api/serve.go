package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/internal/app"
	"taskboard/internal/attachments"
	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/email"
	"taskboard/internal/realtime"
	"taskboard/internal/search"
	"taskboard/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// runtime holds the collaborators built from configuration.
type runtime struct {
	store   store.Store
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openStore returns Postgres when DATABASE_URL is set and migrates it, or an
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *logrus.Logger, rt *runtime) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		rt.store = store.NewMemoryStore()
		return nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	applied, err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir))
	if err != nil {
		return err
	}
	for _, name := range applied {
		logger.WithField("migration", name).Info("migration applied")
	}
	rt.store = store.NewPostgresStore(db)
	return nil
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	rt := &runtime{}
	defer rt.close()

	if err := openStore(ctx, cfg, logger, rt); err != nil {
		return err
	}

	hub := realtime.NewHub(logger, 64)
	var publisher realtime.Publisher = hub
	deps := app.Deps{Readiness: map[string]app.Pinger{}}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshots, err := cache.NewSnapshotStore(cfg.RedisURL, cfg.SnapshotCacheTTL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = snapshots.Close() })
		deps.Cache = snapshots
		deps.Readiness["redis"] = snapshots

		relay := realtime.NewRedisRelay(snapshots.Client(), realtime.DefaultChannel, hub, logger)
		relayCtx, cancelRelay := context.WithCancel(ctx)
		rt.closers = append(rt.closers, cancelRelay)
		go relay.Run(relayCtx)
		publisher = relay
		logger.Info("redis snapshot cache and cross-instance relay enabled")
	} else {
		logger.Info("REDIS_URL not set, broadcasts stay in this process")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		rt.closers = append(rt.closers, meili.Close)
		deps.Search = search.NewService(meili, search.NewStoreFTS(rt.store), logger)
	} else {
		deps.Search = search.NewService(nil, search.NewStoreFTS(rt.store), logger)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := attachments.NewMinioStore(ctx, attachments.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		deps.Blobs = blobs
	} else {
		logger.Info("MINIO_ENDPOINT not set, attachments disabled")
	}

	deps.Mailer = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, rt.store, publisher, deps, logger)
	sockets := app.NewSocketGateway(service, hub, logger)
	httpServer := app.NewHTTPServer(service, sockets, cfg.CORSOrigins, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("taskboard api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	return nil
}
