package ports

import (
	"context"
	"time"
)

// RunLock bounds concurrent dispatch runs to exactly one, across separate
// process invocations when backed by a shared resource.
type RunLock interface {
	// TryAcquire makes a single bounded attempt to take the lock. It
	// returns false when the lock is still held by another run after
	// wait has elapsed; it does not queue.
	TryAcquire(ctx context.Context, wait time.Duration) (bool, error)

	// Release frees the lock. It must be called on every exit path of a
	// successful acquisition.
	Release(ctx context.Context) error
}

// Pacer enforces the minimum interval between successive gateway calls.
type Pacer interface {
	// Pace blocks until the next call is permitted.
	Pace(ctx context.Context) error
}
