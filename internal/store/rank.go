package store

import (
	"context"
	"fmt"

	"github.com/seopulse/collector/internal/collect"
)

// RankWorkItems lists every (domain, keyword) pair configured for rank
// checking, one work item per pair.
func (s *Store) RankWorkItems(ctx context.Context) ([]collect.WorkItem, error) {
	const q = `
SELECT d.id, d.domain, d.country, d.search_host, k.keyword
FROM rank_targets t
JOIN rank_domains d ON t.domain_id = d.id
JOIN rank_keywords k ON t.keyword_id = k.id
ORDER BY d.domain, k.keyword`

	rows, err := s.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rank targets: %w", err)
	}
	defer rows.Close()

	var items []collect.WorkItem
	for rows.Next() {
		var item collect.WorkItem
		if err := rows.Scan(&item.ID, &item.Domain, &item.Country, &item.SearchHost, &item.Keyword); err != nil {
			return nil, fmt.Errorf("scan rank target: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rank targets: %w", err)
	}
	return items, nil
}

// PurgeRankToday removes today's rank rows so a rerun replaces rather than
// duplicates them.
func (s *Store) PurgeRankToday(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM rank_results WHERE day = CURRENT_DATE`); err != nil {
		return fmt.Errorf("purge rank results: %w", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM rank_top_ten WHERE day = CURRENT_DATE`); err != nil {
		return fmt.Errorf("purge rank top ten: %w", err)
	}
	return nil
}

// EnsureRankURL inserts the URL into the rank url dictionary if absent.
func (s *Store) EnsureRankURL(ctx context.Context, url string) error {
	const q = `INSERT INTO rank_urls (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`

	if _, err := s.q.Exec(ctx, q, url); err != nil {
		return fmt.Errorf("ensure rank url: %w", err)
	}
	return nil
}

// InsertRankResult records today's position for a (domain, keyword) pair.
// Position 0 with url "none" means the domain was checked but not found
// within the configured result window.
func (s *Store) InsertRankResult(ctx context.Context, domain, keyword, url string, position int) error {
	const q = `
INSERT INTO rank_results (day, domain_id, keyword_id, url_id, position)
VALUES (CURRENT_DATE,
        (SELECT id FROM rank_domains WHERE domain = $1),
        (SELECT id FROM rank_keywords WHERE keyword = $2),
        (SELECT id FROM rank_urls WHERE url = $3),
        $4)`

	if _, err := s.q.Exec(ctx, q, domain, keyword, url, position); err != nil {
		return fmt.Errorf("insert rank result: %w", err)
	}
	return nil
}

// InsertRankTopTen records one of the first page's links for a
// (domain, keyword) pair.
func (s *Store) InsertRankTopTen(ctx context.Context, domain, keyword, url string, position int) error {
	const q = `
INSERT INTO rank_top_ten (day, domain_id, keyword_id, url_id, position)
VALUES (CURRENT_DATE,
        (SELECT id FROM rank_domains WHERE domain = $1),
        (SELECT id FROM rank_keywords WHERE keyword = $2),
        (SELECT id FROM rank_urls WHERE url = $3),
        $4)`

	if _, err := s.q.Exec(ctx, q, domain, keyword, url, position); err != nil {
		return fmt.Errorf("insert rank top ten: %w", err)
	}
	return nil
}
