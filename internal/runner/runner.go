// Package runner is the generic shell every collection job runs inside:
// single-instance lock, operator notifications, config resolution, same-day
// purge, queue build, worker pool, completion event.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/pidfile"
	"github.com/seopulse/collector/internal/publisher"
	"github.com/seopulse/collector/internal/queue"
	"github.com/seopulse/collector/internal/store"
	"github.com/seopulse/collector/internal/worker"
)

const (
	minThreads = 1
	maxThreads = 100
)

// Env is the shared context a job resolves its parameters from and builds
// its queue with. HTTP is a counting client over the shared store, used for
// job-level calls that happen before the workers start (auth handshakes,
// index freshness probes).
type Env struct {
	Store  *store.Store
	HTTP   *httpclient.Client
	Mailer mail.Notifier
	Logger *zap.Logger
}

// Require reads an operator-tunable parameter that the job cannot run
// without. Absence is fatal.
func (e *Env) Require(ctx context.Context, name string) (string, error) {
	value, err := e.Store.LookupConfig(ctx, name)
	if errors.Is(err, store.ErrConfigNotFound) {
		return "", fmt.Errorf("required parameter %s is not configured", name)
	}
	return value, err
}

// RequireInt is Require for numeric parameters.
func (e *Env) RequireInt(ctx context.Context, name string) (int, error) {
	value, err := e.Store.LookupConfigInt(ctx, name)
	if errors.Is(err, store.ErrConfigNotFound) {
		return 0, fmt.Errorf("required parameter %s is not configured", name)
	}
	return value, err
}

// Job is one collection job: rank, pagespeed, linkmetrics, crawlstats or
// pageload. Resolve runs first and loads every parameter the job needs;
// Threads is only meaningful afterwards.
type Job interface {
	Name() string
	Service() string
	Resolve(ctx context.Context, env *Env) error
	Purge(ctx context.Context, env *Env) error
	BuildQueue(ctx context.Context, env *Env) (*queue.Queue, error)
	Pipeline(b *worker.Bundle) collect.Pipeline
	Threads() int
}

// Event is the completion payload published when a run finishes.
type Event struct {
	Job        string    `json:"job"`
	Service    string    `json:"service"`
	Items      int       `json:"items"`
	Test       bool      `json:"test"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner drives one job run end to end.
type Runner struct {
	Shared       *store.Store
	Bundles      worker.BundleFactory
	Mailer       mail.Notifier
	Publisher    publisher.Publisher
	Topic        string
	Logger       *zap.Logger
	PIDDir       string
	HTTPTimeout  time.Duration
	NotifyErrors bool
	Test         bool
}

// Run executes the job. Any returned error is fatal for the process; the
// caller owns the exit code.
func (r *Runner) Run(ctx context.Context, job Job) error {
	logger := r.Logger.With(zap.String("job", job.Name()))

	lock, err := pidfile.Acquire(filepath.Join(r.PIDDir, job.Name()+".pid"), logger)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing instance lock", zap.Error(err))
		}
	}()

	env := &Env{
		Store:  r.Shared,
		HTTP:   httpclient.New(r.HTTPTimeout, r.Shared, r.Mailer, r.NotifyErrors, logger),
		Mailer: r.Mailer,
		Logger: logger,
	}

	notifyStart, err := r.Shared.ConfigFlag(ctx, "notify_job_start")
	if err != nil {
		return fmt.Errorf("read start notification flag: %w", err)
	}
	if notifyStart {
		r.Mailer.Send(job.Name()+" job starting", fmt.Sprintf("The %s data collection job is starting.", job.Name()))
	}

	if err := job.Resolve(ctx, env); err != nil {
		return fmt.Errorf("resolve %s parameters: %w", job.Name(), err)
	}

	if r.Test {
		logger.Info("test mode, skipping purge")
	} else if err := job.Purge(ctx, env); err != nil {
		return fmt.Errorf("purge today's %s data: %w", job.Name(), err)
	}

	q, err := job.BuildQueue(ctx, env)
	if err != nil {
		return fmt.Errorf("build %s queue: %w", job.Name(), err)
	}
	items := q.Len()
	if items == 0 {
		logger.Info("no work queued, finishing")
		r.publish(ctx, job, 0)
		return nil
	}

	threads := job.Threads()
	if threads < minThreads {
		threads = minThreads
	}
	if threads > maxThreads {
		threads = maxThreads
	}
	logger.Info("starting workers",
		zap.Int("threads", threads), zap.Int("items", items))

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		w := &worker.Worker{
			ID:      i,
			Job:     job.Name(),
			Queue:   q,
			Factory: r.Bundles,
			Build:   job.Pipeline,
			Notify:  r.Mailer,
			Logger:  logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()

	logger.Info("run complete", zap.Int("items", items))
	r.publish(ctx, job, items)
	return nil
}

func (r *Runner) publish(ctx context.Context, job Job, items int) {
	if r.Publisher == nil {
		return
	}
	event := Event{
		Job:        job.Name(),
		Service:    job.Service(),
		Items:      items,
		Test:       r.Test,
		FinishedAt: time.Now().UTC(),
	}
	if _, err := r.Publisher.Publish(ctx, r.Topic, event); err != nil {
		r.Logger.Warn("publishing completion event",
			zap.String("job", job.Name()), zap.Error(err))
	}
}

// PoolBundleFactory manufactures per-worker bundles from the shared pgx
// pool: a dedicated connection plus a counting HTTP client bound to it.
type PoolBundleFactory struct {
	Pool         *store.Pool
	Mailer       mail.Notifier
	HTTPTimeout  time.Duration
	NotifyErrors bool
	Logger       *zap.Logger
}

func (f *PoolBundleFactory) NewBundle(ctx context.Context) (*worker.Bundle, error) {
	st, err := f.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &worker.Bundle{
		Store:  st,
		Mailer: f.Mailer,
		HTTP:   httpclient.New(f.HTTPTimeout, st, f.Mailer, f.NotifyErrors, f.Logger),
		Logger: f.Logger,
	}, nil
}
