// Package notify abstracts the outbound message transport.
package notify

import "context"

// Notifier delivers a text message to one recipient. Implementations
// return an error for that recipient only; callers keep going through the
// rest of their batch.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}

// Nop discards every message. Used in tests and when no transport is
// configured.
type Nop struct{}

func (Nop) Send(ctx context.Context, userID int64, text string) error { return nil }
