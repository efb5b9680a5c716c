// Package dedupe tracks which notification ids have already been handled.
package dedupe

import "context"

// Deduplicator is an atomic check-and-insert set of notification ids.
type Deduplicator interface {
	// Observe returns true the first time id is seen and false on every
	// later call with the same id. Concurrent callers racing on one id get
	// exactly one true between them.
	Observe(ctx context.Context, id string) (bool, error)
}
