package taskcoord

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const processIDLength = 10

const processIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	processID     string
	processIDOnce sync.Once
)

// ProcessID returns the random 10-character token generated once for
// this process's lifetime. Every TaskIdent created by this process
// carries it, so peers can tell which process created a given
// TaskFile.
func ProcessID() string {
	processIDOnce.Do(func() {
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		b := make([]byte, processIDLength)
		for i := range b {
			b[i] = processIDAlphabet[src.Intn(len(processIDAlphabet))]
		}
		processID = string(b)
	})
	return processID
}

// TaskIdent is the immutable identity of a pending task: priority
// (lower is higher priority), a descriptive name, a monotonic
// per-process sequence number, and the creating process's token.
// Equality and ordering are spec.md §3: equality uses all four
// fields; ordering is (priority, creation time) and is computed
// outside TaskIdent, since creation time belongs to the TaskFile, not
// the ident.
type TaskIdent struct {
	Priority  uint
	Name      string
	ID        uint64
	ProcessID string
}

// NewIdent builds a TaskIdent for this process. id must be allocated
// by SchedulerRoot's monotonic counter; NewIdent does not touch disk.
func NewIdent(priority uint, name string, id uint64) TaskIdent {
	return TaskIdent{
		Priority:  priority,
		Name:      name,
		ID:        id,
		ProcessID: ProcessID(),
	}
}

// Filename encodes the ident as "<priority>-<process_id>-<id>-<name>".
// Name is the final field and may itself contain the delimiter; the
// first three fields never do (priority/id are decimal digits,
// process_id is drawn from processIDAlphabet), so ParseIdent can
// always split unambiguously on the first three dashes.
func (t TaskIdent) Filename() string {
	return fmt.Sprintf("%d-%s-%d-%s", t.Priority, t.ProcessID, t.ID, t.Name)
}

// ParseIdent reverses Filename. It returns ErrParse for anything
// out-of-range or missing a separator; callers scanning a directory
// should skip those entries rather than treat them as fatal.
func ParseIdent(filename string) (TaskIdent, error) {
	parts := strings.SplitN(filename, "-", 4)
	if len(parts) != 4 {
		return TaskIdent{}, ErrParse
	}

	priority, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return TaskIdent{}, fmt.Errorf("%w: bad priority field: %v", ErrParse, err)
	}

	pid := parts[1]
	if len(pid) == 0 || !isProcessID(pid) {
		return TaskIdent{}, fmt.Errorf("%w: bad process id field", ErrParse)
	}

	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return TaskIdent{}, fmt.Errorf("%w: bad id field: %v", ErrParse, err)
	}

	return TaskIdent{
		Priority:  uint(priority),
		ProcessID: pid,
		ID:        id,
		Name:      parts[3],
	}, nil
}

func isProcessID(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(processIDAlphabet, r) {
			return false
		}
	}
	return true
}

// EnqueueInDir atomically creates this ident's file in dir, then wraps
// it as a TaskFile holding a shared advisory lock. dir is created if
// missing.
func (t TaskIdent) EnqueueInDir(dir string) (*TaskFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("taskcoord: create resource dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, t.Filename())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("taskcoord: create task file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("taskcoord: close task file %s: %w", path, err)
	}

	return newTaskFile(t, path)
}

// TryDestroy removes this ident's file in dir, but only once its own
// exclusive try-lock on the file succeeds, showing that no creator
// currently holds its shared lock. If the try-lock fails it returns
// ErrNotOurs and leaves the file in place; a file that is already gone
// counts as success.
func (t TaskIdent) TryDestroy(dir string) error {
	path := filepath.Join(dir, t.Filename())
	return tryDestroyPath(path)
}
