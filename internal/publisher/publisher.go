// Package publisher defines the job event publishing contract.
package publisher

import "context"

// Publisher pushes job lifecycle events to Pub/Sub (or similar). The
// returned string is the broker-assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) (string, error) { return "", nil }
