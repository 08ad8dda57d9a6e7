package taskcoord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "resource.lock"
	// fallbackRetryInterval bounds how long a waiter relies on a single
	// fsnotify wakeup before re-checking on its own; a missed event
	// (coalesced writes, a watcher setup race) must not hang a waiter
	// forever.
	fallbackRetryInterval = 250 * time.Millisecond
)

// ResourceLock is a handle to the exclusively-locked sentinel file at
// the root of a resource's directory. At most one ResourceLock exists
// globally per resource at any instant (spec.md I3); it is held for
// the duration of task execution and released at end of scope.
type ResourceLock struct {
	lock *flock.Flock
}

// AcquireResourceLock opens or creates dir/resource.lock and blocks
// until it can take the exclusive lock. The actual exclusion is
// enforced by flock; while waiting it watches the sentinel for
// changes via fsnotify (the teacher's WaitForFile idiom, adapted:
// Release touches the sentinel so waiters wake and retry promptly
// instead of spinning) rather than busy-polling TryLock.
func AcquireResourceLock(ctx context.Context, dir string, resource Resource) (*ResourceLock, error) {
	path := filepath.Join(dir, lockFileName)
	lock := flock.New(path)

	for {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("taskcoord: acquire resource lock %s: %w", path, err)
		}
		if locked {
			return &ResourceLock{lock: lock}, nil
		}

		log.Infof("Waiting for resource %s to become free.", resource.Name())

		if err := waitForChange(ctx, path); err != nil {
			return nil, err
		}
	}
}

// waitForChange blocks until path changes, ctx is cancelled, the
// fallback interval elapses, or an error occurs. Mirrors
// Coordinator.WaitForFile: on Linux inotify events on a watched file
// are less reliable than watching the parent directory, so the parent
// is watched there; elsewhere the file itself is watched directly.
func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("taskcoord: create watcher for %s: %w", path, err)
	}
	defer watcher.Close()

	if runtime.GOOS == "linux" {
		err = watcher.Add(filepath.Dir(path))
	} else {
		err = watcher.Add(path)
	}
	if err != nil {
		return fmt.Errorf("taskcoord: watch %s: %w", path, err)
	}

	timer := time.NewTimer(fallbackRetryInterval)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("taskcoord: fsnotify channel closed abruptly")
			}
			if event.Name != path {
				continue
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("taskcoord: fsnotify error channel closed abruptly")
			}
			return err
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release drops the exclusive lock and touches the sentinel so any
// fsnotify waiters wake and retry rather than sitting out the full
// fallback interval.
func (rl *ResourceLock) Release() error {
	if rl.lock == nil {
		return nil
	}
	path := rl.lock.Path()
	err := rl.lock.Unlock()
	rl.lock = nil
	if err != nil {
		return fmt.Errorf("taskcoord: release resource lock: %w", err)
	}

	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return nil
}
