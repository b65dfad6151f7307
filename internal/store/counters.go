package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddAPICalls records n remote API calls for the service today. The upsert
// increment is atomic: every worker shares the same logical counter even
// though each holds a private connection.
func (s *Store) AddAPICalls(ctx context.Context, service string, n int) error {
	const q = `
INSERT INTO api_calls (service, call_date, count)
VALUES ($1, CURRENT_DATE, $2)
ON CONFLICT (service, call_date) DO UPDATE SET count = api_calls.count + EXCLUDED.count`

	if _, err := s.q.Exec(ctx, q, service, n); err != nil {
		return fmt.Errorf("count api calls for %s: %w", service, err)
	}
	return nil
}

// AddAPIErrors records n failed remote API calls for the service today.
func (s *Store) AddAPIErrors(ctx context.Context, service string, n int) error {
	const q = `
INSERT INTO api_errors (service, call_date, count)
VALUES ($1, CURRENT_DATE, $2)
ON CONFLICT (service, call_date) DO UPDATE SET count = api_errors.count + EXCLUDED.count`

	if _, err := s.q.Exec(ctx, q, service, n); err != nil {
		return fmt.Errorf("count api errors for %s: %w", service, err)
	}
	return nil
}

// APICallsToday returns the number of calls recorded for the service today,
// zero when no row exists yet. Budget checks read this just before each
// remote call.
func (s *Store) APICallsToday(ctx context.Context, service string) (int, error) {
	const q = `SELECT count FROM api_calls WHERE service = $1 AND call_date = CURRENT_DATE`

	var count int
	err := s.q.QueryRow(ctx, q, service).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count current api calls for %s: %w", service, err)
	}
	return count, nil
}

// APIErrorsToday returns the number of errors recorded for the service
// today.
func (s *Store) APIErrorsToday(ctx context.Context, service string) (int, error) {
	const q = `SELECT count FROM api_errors WHERE service = $1 AND call_date = CURRENT_DATE`

	var count int
	err := s.q.QueryRow(ctx, q, service).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count current api errors for %s: %w", service, err)
	}
	return count, nil
}
