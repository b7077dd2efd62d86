// Package filelock implements ports.RunLock with an exclusive lockfile,
// for single-host deployments where dispatch runs are separate process
// invocations (cron) sharing a filesystem.
package filelock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const pollInterval = 250 * time.Millisecond

// DefaultStaleAfter bounds how long a leftover lockfile from a crashed run
// can block new runs. A live owner refreshes the file well inside this
// window, so only files whose owner stopped heartbeating are reclaimed.
const DefaultStaleAfter = 30 * time.Minute

// Lock is a lockfile created with O_EXCL. The file holds a per-acquisition
// token (plus the owner's pid for diagnostics); release and takeover check
// the token so one holder can never remove another holder's file.
type Lock struct {
	path       string
	staleAfter time.Duration

	held  bool
	token string
	stop  chan struct{}
	done  chan struct{}
}

// New creates a Lock at path.
func New(path string) *Lock {
	return &Lock{path: path, staleAfter: DefaultStaleAfter}
}

// SetStaleAfter overrides the stale-lockfile threshold. Non-positive
// values are ignored.
func (l *Lock) SetStaleAfter(d time.Duration) {
	if d > 0 {
		l.staleAfter = d
	}
}

// TryAcquire attempts to create the lockfile, retrying until wait elapses.
// A lockfile whose owner has stopped refreshing it past the stale
// threshold is treated as abandoned and removed.
func (l *Lock) TryAcquire(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.tryOnce()
		if err != nil {
			return false, err
		}
		if ok {
			l.held = true
			l.stop = make(chan struct{})
			l.done = make(chan struct{})
			go l.heartbeat(l.stop, l.done)
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *Lock) tryOnce() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		l.token = uuid.NewString()
		_, _ = f.WriteString(l.token + " " + strconv.Itoa(os.Getpid()) + "\n")
		return true, f.Close()
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("create lockfile: %w", err)
	}

	// Held by someone else. A live owner's heartbeat keeps the mtime
	// fresh; reclaim only a file nobody has touched in staleAfter.
	fi, statErr := os.Stat(l.path)
	if statErr == nil && time.Since(fi.ModTime()) > l.staleAfter {
		_ = os.Remove(l.path)
	}
	return false, nil
}

// heartbeat refreshes the lockfile mtime while the lock is held, so a
// long batch is never mistaken for a crashed run and stolen.
func (l *Lock) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(l.staleAfter / 4)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			now := time.Now()
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

// Release stops the heartbeat and removes the lockfile, but only when the
// file still carries this acquisition's token. A file rewritten by a
// takeover belongs to the new owner and is left in place.
func (l *Lock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	close(l.stop)
	<-l.done

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lockfile: %w", err)
	}
	if token, _, _ := strings.Cut(strings.TrimSpace(string(data)), " "); token != l.token {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lockfile: %w", err)
	}
	return nil
}
