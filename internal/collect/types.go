// Package collect defines the shared types of the data-collection pipeline.
package collect

import "context"

// WorkItem is one unit of polling work: a domain or URL to test, plus
// whatever location or locale detail the job needs. Items are created once
// when the queue is populated and never mutated afterwards.
type WorkItem struct {
	ID         int64
	Domain     string
	Path       string
	Location   string
	Keyword    string
	Country    string
	SearchHost string
}

// Pipeline runs the query-and-persist sequence for a single work item.
//
// A nil return means the item is finished, including the cases where it was
// abandoned after a counted remote failure; those are logged and counted
// inside the pipeline, not escalated. A non-nil error is a per-item fatal:
// the worker that hit it alerts the operator and exits without requeueing
// the item.
type Pipeline interface {
	Process(ctx context.Context, item WorkItem) error
}
