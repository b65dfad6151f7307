// Package blob abstracts where raw report payloads are persisted.
package blob

import "context"

// Store writes an immutable payload under a relative path. Paths are
// date-partitioned by the report writer; implementations never overwrite.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
}
