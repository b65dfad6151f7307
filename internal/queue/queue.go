// Package queue provides the work queue shared by a job's worker pool.
package queue

import (
	"sync"

	"github.com/seopulse/collector/internal/collect"
)

// Queue is a synchronized FIFO of work items. It is populated once before
// the workers start; no producer runs concurrently with consumers.
//
// Pop never blocks: an empty queue is the normal termination signal for a
// worker, not an error.
type Queue struct {
	mu    sync.Mutex
	items []collect.WorkItem
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends a work item.
func (q *Queue) Push(item collect.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Pop removes and returns the head item. The second return value is false
// when the queue is empty.
func (q *Queue) Pop() (collect.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return collect.WorkItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
