package store

import (
	"context"
	"fmt"

	"github.com/seopulse/collector/internal/collect"
)

// CrawlStatsWorkItems lists the domains registered with the webmaster
// service.
func (s *Store) CrawlStatsWorkItems(ctx context.Context) ([]collect.WorkItem, error) {
	const q = `SELECT id, domain FROM crawlstats_domains ORDER BY domain`

	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list crawlstats domains: %w", err)
	}
	defer rows.Close()

	var items []collect.WorkItem
	for rows.Next() {
		var item collect.WorkItem
		if err := rows.Scan(&item.ID, &item.Domain); err != nil {
			return nil, fmt.Errorf("scan crawlstats domain: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list crawlstats domains: %w", err)
	}
	return items, nil
}

// TrackedKeywords returns the keywords tracked for a domain. Search-query
// stats are only recorded for keywords the rank checker also follows.
func (s *Store) TrackedKeywords(ctx context.Context, domain string) ([]string, error) {
	const q = `
SELECT k.keyword
FROM rank_targets t
JOIN rank_domains d ON t.domain_id = d.id
JOIN rank_keywords k ON t.keyword_id = k.id
WHERE d.domain = $1`

	rows, err := s.q.Query(ctx, q, domain)
	if err != nil {
		return nil, fmt.Errorf("list tracked keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, fmt.Errorf("scan tracked keyword: %w", err)
		}
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracked keywords: %w", err)
	}
	return keywords, nil
}

// PurgeCrawlStatsDay removes crawl-error rows for errorDay and search-query
// rows for queryDay ahead of a rerun. The two dates differ because query
// stats lag the provider by two days.
func (s *Store) PurgeCrawlStatsDay(ctx context.Context, errorDay, queryDay string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM crawlstats_errors WHERE day = $1`, errorDay); err != nil {
		return fmt.Errorf("purge crawl errors: %w", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM crawlstats_queries WHERE day = $1`, queryDay); err != nil {
		return fmt.Errorf("purge crawl queries: %w", err)
	}
	return nil
}

// EnsureCrawlErrorType inserts the error type into the dictionary if
// absent. Types arrive free-form from the provider feed.
func (s *Store) EnsureCrawlErrorType(ctx context.Context, errType string) error {
	const q = `INSERT INTO crawlstats_error_types (type) VALUES ($1) ON CONFLICT (type) DO NOTHING`

	if _, err := s.q.Exec(ctx, q, errType); err != nil {
		return fmt.Errorf("ensure crawl error type: %w", err)
	}
	return nil
}

// InsertCrawlErrorCount records the day's count of one error type for a
// domain.
func (s *Store) InsertCrawlErrorCount(ctx context.Context, day, domain, errType string, count int) error {
	const q = `
INSERT INTO crawlstats_errors (day, domain_id, type_id, count)
VALUES ($1,
        (SELECT id FROM crawlstats_domains WHERE domain = $2),
        (SELECT id FROM crawlstats_error_types WHERE type = $3),
        $4)`

	if _, err := s.q.Exec(ctx, q, day, domain, errType, count); err != nil {
		return fmt.Errorf("insert crawl error count: %w", err)
	}
	return nil
}

// InsertTopQuery records impressions and clicks for a tracked keyword.
func (s *Store) InsertTopQuery(ctx context.Context, day, domain, keyword string, impressions, clicks int) error {
	const q = `
INSERT INTO crawlstats_queries (day, domain_id, keyword_id, impressions, clicks)
VALUES ($1,
        (SELECT id FROM crawlstats_domains WHERE domain = $2),
        (SELECT id FROM rank_keywords WHERE keyword = $3),
        $4, $5)`

	if _, err := s.q.Exec(ctx, q, day, domain, keyword, impressions, clicks); err != nil {
		return fmt.Errorf("insert top query: %w", err)
	}
	return nil
}
