package taskcoord

import "errors"

// Sentinel errors for the conditions spec'd as "expected signal, not an
// error" or "always non-fatal." Filesystem failures are propagated as
// plain wrapped errors (fmt.Errorf("...: %w", err)), not one of these.
var (
	// ErrParse is returned by ParseIdent when a filename is not a
	// well-formed TaskIdent encoding. Scanners must skip these, never
	// treat them as fatal.
	ErrParse = errors.New("taskcoord: malformed task ident filename")

	// ErrLockBusy classifies a TaskFile as still held by its creator.
	// It is a classification result, not a failure condition.
	ErrLockBusy = errors.New("taskcoord: lock held by another process")

	// ErrAlreadyGone names the case of a target file that was already
	// removed, racing a peer reaper. TryDestroy and Destroy do not
	// return it: they treat that case as success and return nil.
	ErrAlreadyGone = errors.New("taskcoord: file already removed")

	// ErrChannelClosed is returned by Stop when called after the
	// poller has already exited.
	ErrChannelClosed = errors.New("taskcoord: scheduler already stopped")

	// ErrNotOurs is returned by TryDestroy when its exclusive try-lock
	// on the file fails, so a creator may still be alive and the file
	// is not removed.
	ErrNotOurs = errors.New("taskcoord: task file may still be owned by a live process")
)
