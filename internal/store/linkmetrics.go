package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seopulse/collector/internal/collect"
)

// linkMetricColumns is the ordered set of provider metric fields persisted
// per URL per day. The short names are the provider's own response keys.
var linkMetricColumns = []string{
	"ueid", "feid", "peid", "ujid", "uifq", "uipl", "uid", "fid", "pid",
	"umrp", "fmrp", "pmrp", "utrp", "ftrp", "ptrp", "uemrp", "fejp", "pejp",
	"fjp", "pjp", "fuid", "puid", "fipl", "upa", "pda",
}

// LinkMetricColumns returns the metric field names in persistence order.
func LinkMetricColumns() []string {
	cols := make([]string, len(linkMetricColumns))
	copy(cols, linkMetricColumns)
	return cols
}

// LinkMetricsWorkItems lists the URLs tracked for link metrics.
func (s *Store) LinkMetricsWorkItems(ctx context.Context) ([]collect.WorkItem, error) {
	const q = `SELECT id, url FROM linkmetrics_urls ORDER BY id`

	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list linkmetrics urls: %w", err)
	}
	defer rows.Close()

	var items []collect.WorkItem
	for rows.Next() {
		var item collect.WorkItem
		if err := rows.Scan(&item.ID, &item.Path); err != nil {
			return nil, fmt.Errorf("scan linkmetrics url: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list linkmetrics urls: %w", err)
	}
	return items, nil
}

// LastLinkIndexDay returns the most recent provider index date already
// collected. ok is false when no run has been recorded yet.
func (s *Store) LastLinkIndexDay(ctx context.Context) (time.Time, bool, error) {
	const q = `SELECT max(day) FROM linkmetrics_index`

	var day *time.Time
	if err := s.q.QueryRow(ctx, q).Scan(&day); err != nil {
		return time.Time{}, false, fmt.Errorf("last link index day: %w", err)
	}
	if day == nil {
		return time.Time{}, false, nil
	}
	return *day, true, nil
}

// RecordLinkIndexDay marks a provider index date as collected.
func (s *Store) RecordLinkIndexDay(ctx context.Context, day time.Time) error {
	const q = `INSERT INTO linkmetrics_index (day) VALUES ($1) ON CONFLICT (day) DO NOTHING`

	if _, err := s.q.Exec(ctx, q, day); err != nil {
		return fmt.Errorf("record link index day: %w", err)
	}
	return nil
}

// PurgeLinkMetricsToday removes today's metric rows ahead of a rerun.
func (s *Store) PurgeLinkMetricsToday(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM linkmetrics_metrics WHERE day = CURRENT_DATE`); err != nil {
		return fmt.Errorf("purge link metrics: %w", err)
	}
	return nil
}

// InsertLinkMetrics records one URL's metric row. Fields missing from
// values are stored as zero.
func (s *Store) InsertLinkMetrics(ctx context.Context, url string, values map[string]float64) error {
	q := fmt.Sprintf(`
INSERT INTO linkmetrics_metrics (day, url_id, %s)
VALUES (CURRENT_DATE, (SELECT id FROM linkmetrics_urls WHERE url = $1), %s)`,
		strings.Join(linkMetricColumns, ", "),
		placeholders(2, len(linkMetricColumns)),
	)

	args := make([]any, 0, len(linkMetricColumns)+1)
	args = append(args, url)
	for _, col := range linkMetricColumns {
		args = append(args, values[col])
	}

	if _, err := s.q.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert link metrics: %w", err)
	}
	return nil
}

// placeholders renders "$start, $start+1, ..." for count positions.
func placeholders(start, count int) string {
	var b strings.Builder
	for i := range count {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}
