package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seopulse/collector/internal/collect"
)

// pageloadMetricColumns is the ordered set of timing metrics persisted per
// view. Values absent from a report are stored as zero.
var pageloadMetricColumns = []string{
	"load_time", "ttfb", "bytes_out", "bytes_out_doc", "bytes_in", "bytes_in_doc",
	"connections", "requests", "requests_doc",
	"responses_200", "responses_404", "responses_other",
	"result", "render", "fully_loaded", "cached", "doc_time", "dom_time",
	"score_cache", "score_cdn", "score_gzip", "score_cookies", "score_keep_alive",
	"score_minify", "score_combine", "score_compress", "score_etags",
	"gzip_total", "gzip_savings", "minify_total", "minify_savings",
	"image_total", "image_savings", "aft", "dom_elements",
}

// PageloadMetricColumns returns the metric column names in persistence
// order.
func PageloadMetricColumns() []string {
	cols := make([]string, len(pageloadMetricColumns))
	copy(cols, pageloadMetricColumns)
	return cols
}

// PageloadScore is one persisted view of a completed page-load test.
type PageloadScore struct {
	TakenAt    time.Time
	TestID     int64
	RemoteID   string
	ViewNumber int
	Metrics    map[string]int64
	ViewFailed bool
	TestFailed bool
	ReportPath string
}

// PageloadWorkItems lists the configured page-load tests.
func (s *Store) PageloadWorkItems(ctx context.Context) ([]collect.WorkItem, error) {
	const q = `
SELECT t.id, d.domain, u.url, l.location
FROM pageload_tests t
JOIN pageload_domains d ON t.domain_id = d.id
JOIN pageload_urls u ON t.url_id = u.id
JOIN pageload_locations l ON t.location_id = l.id
ORDER BY t.id`

	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pageload tests: %w", err)
	}
	defer rows.Close()

	var items []collect.WorkItem
	for rows.Next() {
		var item collect.WorkItem
		if err := rows.Scan(&item.ID, &item.Domain, &item.Path, &item.Location); err != nil {
			return nil, fmt.Errorf("scan pageload test: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pageload tests: %w", err)
	}
	return items, nil
}

// PurgePageloadToday removes today's score rows ahead of a rerun.
func (s *Store) PurgePageloadToday(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM pageload_scores WHERE taken_at::date = CURRENT_DATE`); err != nil {
		return fmt.Errorf("purge pageload scores: %w", err)
	}
	return nil
}

// InsertPageloadScore records one view of a completed test.
func (s *Store) InsertPageloadScore(ctx context.Context, score PageloadScore) error {
	q := fmt.Sprintf(`
INSERT INTO pageload_scores (taken_at, test_id, remote_id, view_number, %s, view_failed, test_failed, report)
VALUES ($1, $2, $3, $4, %s, $%d, $%d, $%d)`,
		strings.Join(pageloadMetricColumns, ", "),
		placeholders(5, len(pageloadMetricColumns)),
		5+len(pageloadMetricColumns),
		6+len(pageloadMetricColumns),
		7+len(pageloadMetricColumns),
	)

	args := make([]any, 0, len(pageloadMetricColumns)+7)
	args = append(args, score.TakenAt, score.TestID, score.RemoteID, score.ViewNumber)
	for _, col := range pageloadMetricColumns {
		args = append(args, score.Metrics[col])
	}
	args = append(args, score.ViewFailed, score.TestFailed, score.ReportPath)

	if _, err := s.q.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert pageload score: %w", err)
	}
	return nil
}
