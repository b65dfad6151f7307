package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// ErrConfigNotFound reports an absent config key. Callers decide whether
// absence is fatal; for required job parameters it always is.
var ErrConfigNotFound = errors.New("config parameter not found")

// LookupConfig returns the value of one operator-tunable parameter.
func (s *Store) LookupConfig(ctx context.Context, name string) (string, error) {
	const q = `SELECT config_value FROM app_config WHERE config_name = $1`

	var value string
	err := s.q.QueryRow(ctx, q, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("lookup config %s: %w", name, err)
	}
	return value, nil
}

// LookupConfigInt returns a numeric parameter. Config values are stored as
// text, so malformed numbers surface here rather than at use sites.
func (s *Store) LookupConfigInt(ctx context.Context, name string) (int, error) {
	value, err := s.LookupConfig(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config %s is not numeric: %w", name, err)
	}
	return n, nil
}

// ConfigFlag reads a 0/1 feature toggle, defaulting to false when the key
// is absent.
func (s *Store) ConfigFlag(ctx context.Context, name string) (bool, error) {
	value, err := s.LookupConfig(ctx, name)
	if errors.Is(err, ErrConfigNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == "1", nil
}
