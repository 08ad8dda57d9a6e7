package taskcoord

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Task is the payload behind a TaskIdent: the executable to run once
// this ident wins its election. claimed is the atomic claim token
// spec.md §9 explicitly permits in place of a per-task mutex: the
// first ResourceScheduler to CAS it false->true becomes the unique
// executor.
type Task struct {
	Executable Executable

	claimed uint32
}

// tryClaim attempts to become the unique executor of this task. Only
// the first caller across all of this process's ResourceSchedulers
// succeeds.
func (t *Task) tryClaim() bool {
	return atomic.CompareAndSwapUint32(&t.claimed, 0, 1)
}

// SchedulerRoot is the process-wide registry of locally owned tasks
// and their enqueued TaskFiles across resources. One exists per
// Scheduler; ResourceSchedulers hold a shared reference to it but it
// holds no strong reference back to them (spec.md §9).
type SchedulerRoot struct {
	mu sync.Mutex

	root         string
	taskFiles    map[TaskIdent][]*TaskFile
	ownTasks     map[TaskIdent]*Task
	identCounter uint64
}

// NewSchedulerRoot creates the root directory tree and an empty
// registry.
func NewSchedulerRoot(root string) (*SchedulerRoot, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("taskcoord: create scheduler root %s: %w", root, err)
	}
	return &SchedulerRoot{
		root:      root,
		taskFiles: make(map[TaskIdent][]*TaskFile),
		ownTasks:  make(map[TaskIdent]*Task),
	}, nil
}

// Root returns the scheduler's root directory.
func (r *SchedulerRoot) Root() string {
	return r.root
}

// NewIdent allocates a monotonic id and returns a fresh TaskIdent. It
// does not touch disk.
func (r *SchedulerRoot) NewIdent(priority uint, name string) TaskIdent {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.identCounter
	r.identCounter++
	return NewIdent(priority, name, id)
}

// Schedule enqueues one TaskFile per resource for ident, and records
// the shared task payload under ownTasks. Subsequent calls for the
// same ident are idempotent with respect to the stored task: the
// payload stored first is kept and the new one is not stored.
func (r *SchedulerRoot) Schedule(ident TaskIdent, executable Executable, resources []Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.ownTasks[ident]
	if !ok {
		task = &Task{Executable: executable}
		r.ownTasks[ident] = task
	}

	for _, resource := range resources {
		dir := filepath.Join(r.root, resource.DirID())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("taskcoord: create resource dir %s: %w", dir, err)
		}

		tf, err := ident.EnqueueInDir(dir)
		if err != nil {
			return err
		}

		r.taskFiles[ident] = append(r.taskFiles[ident], tf)
	}

	return nil
}

// taskFilesFor returns this process's live TaskFiles for ident.
func (r *SchedulerRoot) taskFilesFor(ident TaskIdent) []*TaskFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*TaskFile(nil), r.taskFiles[ident]...)
}

// ownTask returns this process's Task payload for ident, if any.
func (r *SchedulerRoot) ownTask(ident TaskIdent) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.ownTasks[ident]
	return t, ok
}

// forgetTask removes ident from both maps once it has been fully
// retired (all TaskFiles destroyed).
func (r *SchedulerRoot) forgetTask(ident TaskIdent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ownTasks, ident)
	delete(r.taskFiles, ident)
}

// forgetTaskFile drops a single TaskFile (identified by path) from the
// registry once it has been destroyed, leaving any remaining siblings
// in place.
func (r *SchedulerRoot) forgetTaskFile(ident TaskIdent, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := r.taskFiles[ident]
	for i, tf := range files {
		if tf.Path() == path {
			r.taskFiles[ident] = append(files[:i], files[i+1:]...)
			break
		}
	}
	if len(r.taskFiles[ident]) == 0 {
		delete(r.taskFiles, ident)
	}
}
