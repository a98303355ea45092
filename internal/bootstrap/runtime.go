package bootstrap

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailwatch/internal/alert"
	"mailwatch/internal/api"
	"mailwatch/internal/app"
	"mailwatch/internal/config"
	"mailwatch/internal/observability"
	"mailwatch/internal/providers/postmark"
	"mailwatch/internal/providers/ses"
	"mailwatch/internal/store"
	"mailwatch/internal/track"

	_ "github.com/jackc/pgx/v5/stdlib"

	_ "modernc.org/sqlite"
)

type Runtime struct {
	Handler  http.Handler
	Registry *track.Registry
	Cleanup  func()
}

func NewRuntime(ctx context.Context, cfg config.Config, logger logr.Logger) *Runtime {
	repo, cleanup := buildRepository(ctx, cfg, logger)
	registry := BuildRegistry(ctx, cfg, logger)

	notifier := alert.LogNotifier{Log: logger.WithName("alerts")}
	dispatcher := app.NewService(repo, notifier, cfg.BounceRate.Threshold, cfg.BounceRate.Window, logger)

	server := api.NewServer(registry, dispatcher, api.ServerOptions{
		WebhookPathPrefix: cfg.WebhookPathPrefix,
		Metrics:           observability.NewIngestMetrics(),
		Logger:            logger,
	})

	metrics := observability.NewHTTPMetrics()
	rootMux := http.NewServeMux()
	rootMux.Handle("/metrics", promhttp.Handler())
	rootMux.Handle("/", metrics.Wrap(server.Routes()))

	return &Runtime{
		Handler:  rootMux,
		Registry: registry,
		Cleanup:  cleanup,
	}
}

// BuildRegistry constructs a driver per configured provider. A provider
// whose credentials are absent is simply not registered; its webhook
// path then answers with unknown provider.
func BuildRegistry(ctx context.Context, cfg config.Config, logger logr.Logger) *track.Registry {
	registry := track.NewRegistry()

	if cfg.SES.Region != "" || cfg.SES.AccessKeyID != "" || cfg.SES.WebhookURL != "" {
		driver, err := ses.New(ctx, ses.Options{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			WebhookURL:       cfg.SES.WebhookURL,
			UUIDHeaderName:   cfg.UUIDHeaderName,
			ModelsHeaderName: cfg.ModelsHeaderName,
			ResourcePrefix:   cfg.SES.ResourcePrefix,
			TrackingEvents:   cfg.TrackingEvents,
			SubscriptionWait: cfg.SES.SubscriptionWait,
			Logger:           logger,
		})
		if err != nil {
			logger.Error(err, "ses driver init failed; provider not registered")
		} else {
			registry.Register(driver)
		}
	}

	if cfg.Postmark.ServerToken != "" || cfg.Postmark.WebhookToken != "" {
		registry.Register(postmark.New(postmark.Options{
			ServerToken:    cfg.Postmark.ServerToken,
			WebhookToken:   cfg.Postmark.WebhookToken,
			WebhookURL:     cfg.Postmark.WebhookURL,
			MessageStream:  cfg.Postmark.MessageStream,
			UUIDHeaderName: cfg.UUIDHeaderName,
			TrackingEvents: cfg.TrackingEvents,
			Logger:         logger,
		}))
	}

	return registry
}

func buildRepository(ctx context.Context, cfg config.Config, logger logr.Logger) (store.Repository, func()) {
	if cfg.DBDriver == "" || cfg.DBDSN == "" {
		logger.Info("running with in-memory repository")
		return store.NewMemoryRepository(), func() {}
	}

	db, err := sql.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Info("db open failed, falling back to in-memory repository", "error", err.Error())
		return store.NewMemoryRepository(), func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Info("db ping failed, falling back to in-memory repository", "error", err.Error())
		_ = db.Close()
		return store.NewMemoryRepository(), func() {}
	}

	repo, err := store.NewSQLRepository(db, cfg.DBDialect)
	if err != nil {
		logger.Info("sql repository init failed, falling back to in-memory repository", "error", err.Error())
		_ = db.Close()
		return store.NewMemoryRepository(), func() {}
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Info("schema setup failed, falling back to in-memory repository", "error", err.Error())
		_ = db.Close()
		return store.NewMemoryRepository(), func() {}
	}
	logger.Info("running with SQL repository", "dialect", cfg.DBDialect)
	return repo, func() { _ = db.Close() }
}
