// Package worker runs queue-draining pipeline workers. Each worker owns
// a private resource bundle (database connection, HTTP client) so no
// pipeline state is shared across goroutines.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/collect"
	"github.com/seopulse/collector/internal/httpclient"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/metrics"
	"github.com/seopulse/collector/internal/queue"
	"github.com/seopulse/collector/internal/store"
)

// Bundle holds the per-worker resources handed to a pipeline. Bundles
// are never shared between workers.
type Bundle struct {
	Store  *store.Store
	Mailer mail.Notifier
	HTTP   *httpclient.Client
	Logger *zap.Logger
}

// Close releases the bundle's database resources.
func (b *Bundle) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
}

// BundleFactory builds one resource bundle per worker.
type BundleFactory interface {
	NewBundle(ctx context.Context) (*Bundle, error)
}

// Worker drains the shared queue through a pipeline built from its own
// bundle. An empty queue is the normal termination signal. A pipeline
// error stops this worker only; the operator is alerted and the
// remaining workers keep draining.
type Worker struct {
	ID      int
	Job     string
	Queue   *queue.Queue
	Factory BundleFactory
	Build   func(*Bundle) collect.Pipeline
	Notify  mail.Notifier
	Logger  *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	logger := w.Logger.With(zap.Int("worker", w.ID), zap.String("job", w.Job))

	bundle, err := w.Factory.NewBundle(ctx)
	if err != nil {
		logger.Error("acquiring worker resources", zap.Error(err))
		w.Notify.Send("Error", fmt.Sprintf("%s worker %d could not acquire resources: %s", w.Job, w.ID, err))
		return
	}
	defer bundle.Close()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	pipeline := w.Build(bundle)
	for {
		item, ok := w.Queue.Pop()
		if !ok {
			logger.Debug("queue drained")
			return
		}
		if err := pipeline.Process(ctx, item); err != nil {
			metrics.ObserveItem(w.Job, "fatal")
			logger.Error("processing item",
				zap.Int64("item_id", item.ID), zap.Error(err))
			w.Notify.Send("Error", fmt.Sprintf("%s worker %d stopped on item %d: %s", w.Job, w.ID, item.ID, err))
			return
		}
		metrics.ObserveItem(w.Job, "processed")
	}
}
