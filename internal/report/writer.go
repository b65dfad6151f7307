// Package report persists raw remote API responses for later inspection.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seopulse/collector/internal/blob"
	"github.com/seopulse/collector/internal/mail"
	"github.com/seopulse/collector/internal/metrics"
)

// Writer saves raw report payloads under service/YYYY/MM/DD/<uuid> and
// returns the relative path for storage alongside the normalized row.
type Writer struct {
	blobs        blob.Store
	mailer       mail.Notifier
	notifyErrors bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewWriter builds a Writer over the configured blob store.
func NewWriter(blobs blob.Store, mailer mail.Notifier, notifyErrors bool, logger *zap.Logger) *Writer {
	return &Writer{
		blobs:        blobs,
		mailer:       mailer,
		notifyErrors: notifyErrors,
		logger:       logger,
		now:          time.Now,
	}
}

// Save writes one payload and returns its relative path. On failure it
// logs, optionally mails the operator, and returns "" so the caller can
// still persist the rest of the row with a no-report marker.
//
// Filenames are UUIDs, so concurrent workers writing the same service and
// day never collide.
func (w *Writer) Save(ctx context.Context, service string, raw []byte) string {
	relPath := fmt.Sprintf("%s/%s/%s", service, w.now().UTC().Format("2006/01/02"), uuid.NewString())

	if err := w.blobs.Put(ctx, relPath, raw); err != nil {
		w.logger.Error("failed to save report file",
			zap.String("service", service),
			zap.String("path", relPath),
			zap.Error(err),
		)
		if w.notifyErrors {
			w.mailer.Send("Error", fmt.Sprintf("Error saving report file: %s", err))
		}
		metrics.ObserveReport(service, "error")
		return ""
	}

	metrics.ObserveReport(service, "ok")
	return relPath
}
