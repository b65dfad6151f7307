// Package app initializes and holds the long-lived services a job run
// needs, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/blob"
	"github.com/seopulse/collector/internal/blob/gcs"
	"github.com/seopulse/collector/internal/blob/local"
	"github.com/seopulse/collector/internal/config"
	"github.com/seopulse/collector/internal/logging"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/metrics"
	"github.com/seopulse/collector/internal/publisher"
	gcppublisher "github.com/seopulse/collector/internal/publisher/pubsub"
	"github.com/seopulse/collector/internal/report"
	"github.com/seopulse/collector/internal/runner"
	"github.com/seopulse/collector/internal/store"
)

// App holds the shared services for one job run: logger, connection pool,
// notifier, report writer and event publisher. It is initialized once at
// startup and fails fast if any critical service cannot be built.
type App struct {
	Cfg       config.Config
	Logger    *zap.Logger
	Pool      *store.Pool
	Mailer    mail.Notifier
	Reports   *report.Writer
	Publisher publisher.Publisher

	gcsClient    *gstorage.Client
	pubsubClient *pubsub.Client
	pubsubPub    *gcppublisher.Publisher
	metricsSrv   *http.Server
}

// New builds the container from bootstrap configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Cfg: cfg, Logger: logger}

	a.Pool, err = store.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, err
	}

	if cfg.SMTP.Enabled {
		a.Mailer = mail.NewSMTP(cfg.SMTP, logger)
	} else {
		a.Mailer = mail.Nop{}
	}

	blobs, err := a.initBlobStore(ctx)
	if err != nil {
		a.Pool.Close()
		return nil, err
	}
	a.Reports = report.NewWriter(blobs, a.Mailer, cfg.SMTP.NotifyErrors, logger)

	if err := a.initPublisher(ctx); err != nil {
		a.Pool.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.startMetricsListener()
	}

	return a, nil
}

func (a *App) initBlobStore(ctx context.Context) (blob.Store, error) {
	switch a.Cfg.Reports.Provider {
	case "local":
		a.Logger.Info("using local report storage",
			zap.String("base_dir", a.Cfg.Reports.BaseDir))
		return local.New(a.Cfg.Reports.BaseDir)
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		a.Logger.Info("using gcs report storage",
			zap.String("bucket", a.Cfg.Reports.GCSBucket))
		return gcs.New(client, a.Cfg.Reports.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown reports provider: %s", a.Cfg.Reports.Provider)
	}
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.Cfg.PubSub.ProjectID == "" || a.Cfg.PubSub.TopicID == "" {
		a.Logger.Info("event publishing disabled")
		a.Publisher = publisher.Nop{}
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client.Topic(a.Cfg.PubSub.TopicID))
	a.Publisher = a.pubsubPub
	a.Logger.Info("publishing job events",
		zap.String("topic", a.Cfg.PubSub.TopicID))
	return nil
}

func (a *App) startMetricsListener() {
	metrics.Init()

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	a.metricsSrv = &http.Server{Addr: a.Cfg.Metrics.Listen, Handler: r}
	go func() {
		a.Logger.Info("metrics listener starting",
			zap.String("addr", a.Cfg.Metrics.Listen))
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Runner assembles the job shell over this container's services.
func (a *App) Runner(test bool) *runner.Runner {
	return &runner.Runner{
		Shared: a.Pool.Shared(),
		Bundles: &runner.PoolBundleFactory{
			Pool:         a.Pool,
			Mailer:       a.Mailer,
			HTTPTimeout:  a.Cfg.HTTPTimeout(),
			NotifyErrors: a.Cfg.SMTP.NotifyErrors,
			Logger:       a.Logger,
		},
		Mailer:       a.Mailer,
		Publisher:    a.Publisher,
		Topic:        a.Cfg.PubSub.TopicID,
		Logger:       a.Logger,
		PIDDir:       a.Cfg.Jobs.PIDDir,
		HTTPTimeout:  a.Cfg.HTTPTimeout(),
		NotifyErrors: a.Cfg.SMTP.NotifyErrors,
		Test:         test,
	}
}

// Close shuts the services down in reverse dependency order.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Logger.Sync()
}
