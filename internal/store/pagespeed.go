package store

import (
	"context"
	"fmt"

	"github.com/seopulse/collector/internal/collect"
)

// PagespeedStats holds the page-stat metrics persisted per analysis. A
// metric absent from the API response is stored as zero so downstream
// SUM/AVG aggregation stays well-defined.
type PagespeedStats struct {
	NumberHosts             int64
	NumberResources         int64
	NumberCSSResources      int64
	NumberStaticResources   int64
	TotalRequestBytes       int64
	TextResponseBytes       int64
	CSSResponseBytes        int64
	HTMLResponseBytes       int64
	ImageResponseBytes      int64
	JavascriptResponseBytes int64
	OtherResponseBytes      int64
}

// PagespeedWorkItems lists the configured page-speed tests.
func (s *Store) PagespeedWorkItems(ctx context.Context) ([]collect.WorkItem, error) {
	const q = `
SELECT t.id, d.domain, u.url
FROM pagespeed_tests t
JOIN pagespeed_domains d ON t.domain_id = d.id
JOIN pagespeed_urls u ON t.url_id = u.id
ORDER BY t.id`

	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pagespeed tests: %w", err)
	}
	defer rows.Close()

	var items []collect.WorkItem
	for rows.Next() {
		var item collect.WorkItem
		if err := rows.Scan(&item.ID, &item.Domain, &item.Path); err != nil {
			return nil, fmt.Errorf("scan pagespeed test: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pagespeed tests: %w", err)
	}
	return items, nil
}

// PurgePagespeedToday removes today's scores ahead of a rerun.
func (s *Store) PurgePagespeedToday(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM pagespeed_scores WHERE day = CURRENT_DATE`); err != nil {
		return fmt.Errorf("purge pagespeed scores: %w", err)
	}
	return nil
}

// InsertPagespeedScore records one analysis result for a test and strategy.
func (s *Store) InsertPagespeedScore(ctx context.Context, testID int64, strategy string, score int64, stats PagespeedStats) error {
	const q = `
INSERT INTO pagespeed_scores (
	day, test_id, strategy, score,
	number_hosts, number_resources, number_css_resources, number_static_resources,
	total_request_bytes, text_response_bytes, css_response_bytes, html_response_bytes,
	image_response_bytes, javascript_response_bytes, other_response_bytes
) VALUES (CURRENT_DATE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.q.Exec(ctx, q,
		testID, strategy, score,
		stats.NumberHosts, stats.NumberResources, stats.NumberCSSResources, stats.NumberStaticResources,
		stats.TotalRequestBytes, stats.TextResponseBytes, stats.CSSResponseBytes, stats.HTMLResponseBytes,
		stats.ImageResponseBytes, stats.JavascriptResponseBytes, stats.OtherResponseBytes,
	)
	if err != nil {
		return fmt.Errorf("insert pagespeed score: %w", err)
	}
	return nil
}
