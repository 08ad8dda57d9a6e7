package taskcoord

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// TaskFile is the on-disk record of one enqueued task on one resource.
// Holding it is evidence of liveness: its creator takes a shared
// advisory lock at creation and releases it only on destroy or
// process exit, so a peer that cannot take an exclusive lock on the
// same path knows the creator is still alive and interested (spec.md
// §3).
type TaskFile struct {
	ident TaskIdent
	path  string
	lock  *flock.Flock
}

func newTaskFile(ident TaskIdent, path string) (*TaskFile, error) {
	lock := flock.New(path)
	locked, err := lock.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("taskcoord: lock task file %s: %w", path, err)
	}
	if !locked {
		// Should be unreachable: we just created this file exclusively.
		return nil, fmt.Errorf("taskcoord: could not acquire fresh lock on %s", path)
	}

	return &TaskFile{
		ident: ident,
		path:  path,
		lock:  lock,
	}, nil
}

// Path returns the absolute path of this task file.
func (tf *TaskFile) Path() string {
	return tf.path
}

// Ident returns the TaskIdent this file encodes.
func (tf *TaskFile) Ident() TaskIdent {
	return tf.ident
}

// Destroy releases the shared lock, closes the descriptor, and
// unlinks the file. It is idempotent on an already-missing file,
// since peer reapers may race to remove it first.
func (tf *TaskFile) Destroy() error {
	if tf.lock != nil {
		if err := tf.lock.Unlock(); err != nil {
			return fmt.Errorf("taskcoord: unlock task file %s: %w", tf.path, err)
		}
		tf.lock = nil
	}

	if err := os.Remove(tf.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("taskcoord: remove task file %s: %w", tf.path, err)
	}
	return nil
}

// tryDestroyPath removes the file at path, but only once an exclusive
// try-lock on it succeeds, proving no shared-lock holder (creator) is
// currently alive. An already-missing file is treated as success
// (ErrAlreadyGone semantics: a peer reaper may have already removed
// it).
func tryDestroyPath(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("taskcoord: stat %s: %w", path, err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("taskcoord: probe-lock %s: %w", path, err)
	}
	if !locked {
		return ErrNotOurs
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("taskcoord: remove %s: %w", path, err)
	}
	return nil
}

// probeLocked reports whether path is currently held by a shared lock
// on any other open descriptor, including a TaskFile of this same
// process (locked == true means a creator appears to be alive). It never keeps the probe lock (spec.md §4.4 step 1): on
// success it unlocks immediately. A vanished file is reported as
// locked == false with no error, since the caller's candidate list
// entry is simply stale.
func probeLocked(path string) (locked bool, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return false, nil
		}
		return false, fmt.Errorf("taskcoord: stat %s: %w", path, statErr)
	}

	lock := flock.New(path)
	acquired, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("taskcoord: probe-lock %s: %w", path, err)
	}
	if acquired {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}
