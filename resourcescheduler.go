package taskcoord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
)

// previousNext remembers the foreign, apparently-unlocked ident most
// recently seen at the head of the ranking, and how many consecutive
// ticks it has held that position. It backs the reaper rule in
// spec.md §4.4 step 7.
type previousNext struct {
	ident TaskIdent
	count int
}

// ResourceScheduler runs the per-resource election loop for one
// (process, resource) pair. It holds a shared reference to the
// process's SchedulerRoot but the root holds no reference back to it
// (spec.md §9).
type ResourceScheduler struct {
	root     *SchedulerRoot
	dir      string
	resource Resource

	previous *previousNext
}

// NewResourceScheduler creates the election loop for resource, rooted
// at dir (typically root.Root()/resource.DirID()).
func NewResourceScheduler(root *SchedulerRoot, dir string, resource Resource) *ResourceScheduler {
	return &ResourceScheduler{
		root:     root,
		dir:      dir,
		resource: resource,
	}
}

// Resource returns the resource this loop elects tasks for.
func (rs *ResourceScheduler) Resource() Resource {
	return rs.resource
}

type candidate struct {
	ident  TaskIdent
	path   string
	ctime  int64 // UnixNano of the on-disk creation time
	locked bool
}

// HandleNext is a single tick of the election loop (spec.md §4.4).
func (rs *ResourceScheduler) HandleNext(ctx context.Context) error {
	candidates, err := rs.scan()
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		rs.previous = nil
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ident.Priority != b.ident.Priority {
			return a.ident.Priority < b.ident.Priority
		}
		if a.ctime != b.ctime {
			return a.ctime < b.ctime
		}
		// I5: ties within the same instant break on filename order.
		return a.ident.Filename() < b.ident.Filename()
	})

	head := candidates[0]

	task, isOwn := rs.root.ownTask(head.ident)
	if isOwn {
		return rs.handleOwn(ctx, head.ident, task)
	}
	return rs.handleForeign(head.ident, head.locked)
}

// scan lists the resource directory, parses each entry as a
// TaskIdent (skipping parse failures), reads its creation time, and
// probes liveness with an exclusive try-lock without keeping it
// (spec.md §4.4 step 1).
func (rs *ResourceScheduler) scan() ([]candidate, error) {
	entries, err := os.ReadDir(rs.dir)
	if err != nil {
		return nil, fmt.Errorf("taskcoord: scan resource dir %s: %w", rs.dir, err)
	}

	candidates := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == lockFileName {
			continue
		}

		ident, err := ParseIdent(entry.Name())
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info; a peer raced us.
			continue
		}

		path := filepath.Join(rs.dir, entry.Name())
		locked, err := probeLocked(path)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, candidate{
			ident:  ident,
			path:   path,
			ctime:  info.ModTime().UnixNano(),
			locked: locked,
		})
	}

	return candidates, nil
}

// handleOwn implements spec.md §4.4 step 5: this process created
// ident. Winning the non-blocking claim makes this ResourceScheduler
// the unique executor; losing it means a sibling already claimed the
// ident for a different resource.
func (rs *ResourceScheduler) handleOwn(ctx context.Context, ident TaskIdent, task *Task) error {
	if !task.tryClaim() {
		// A sibling ResourceScheduler in this process already claimed
		// it; it will destroy this directory's TaskFile as a loser.
		return nil
	}

	rs.previous = nil

	var toDestroyLater *TaskFile
	for _, tf := range rs.root.taskFilesFor(ident) {
		if filepath.Dir(tf.Path()) != rs.dir {
			if err := tf.Destroy(); err != nil {
				log.WithError(err).WithField("path", tf.Path()).
					Warn("failed to destroy losing task file")
			}
			rs.root.forgetTaskFile(ident, tf.Path())
			continue
		}
		toDestroyLater = tf
	}

	if err := rs.performTask(ctx, task); err != nil {
		return err
	}

	if toDestroyLater != nil {
		if err := toDestroyLater.Destroy(); err != nil {
			log.WithError(err).WithField("path", toDestroyLater.Path()).
				Warn("failed to destroy winning task file after execution")
		}
		rs.root.forgetTaskFile(ident, toDestroyLater.Path())
	}

	rs.root.forgetTask(ident)
	return nil
}

// handleForeign implements spec.md §4.4 steps 6-7: ident was not
// created by this process.
func (rs *ResourceScheduler) handleForeign(ident TaskIdent, locked bool) error {
	if locked {
		rs.previous = nil
		return nil
	}

	switch {
	case rs.previous == nil:
		rs.previous = &previousNext{ident: ident, count: 1}
	case rs.previous.ident == ident && rs.previous.count < 2:
		rs.previous.count++
	case rs.previous.ident == ident:
		log.WithField("resource", rs.resource.Name()).
			WithField("ident", ident.Filename()).
			Info("reaping task file with no live creator")
		// ErrNotOurs means a sibling reaper re-took the lock between our
		// probe and this destroy attempt; a vanished file is already
		// treated as success inside tryDestroyPath (ErrAlreadyGone
		// semantics), so only a real I/O failure propagates here.
		if err := ident.TryDestroy(rs.dir); err != nil && err != ErrNotOurs {
			return err
		}
		rs.previous = nil
	default:
		rs.previous = &previousNext{ident: ident, count: 1}
	}
	return nil
}

// performTask acquires the ResourceLock, runs the executable, and
// releases the lock on every exit path (spec.md §4.4.1).
func (rs *ResourceScheduler) performTask(ctx context.Context, task *Task) error {
	lock, err := AcquireResourceLock(ctx, rs.dir, rs.resource)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to release resource lock")
		}
	}()

	runExecutable(task.Executable, rs)
	return nil
}

// runExecutable isolates a panicking executable from the polling
// thread (spec.md §7: "Panics inside an executable must not take down
// the scheduler").
func runExecutable(executable Executable, preempt Preemption) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("executable panicked during execution")
		}
	}()
	executable.Execute(preempt)
}

// ShouldPreemptNow implements Preemption. Its body is an open question
// per spec.md §9; this stub never preempts. A documented policy (e.g.
// "preempt if a higher-priority task with this resource in its set
// appeared in the last scan") is left for a future change since the
// spec doesn't require one.
func (rs *ResourceScheduler) ShouldPreemptNow(task *Task) bool {
	// TODO: wire this to rs.previous/a fresh scan once a preemption
	// policy is chosen; see spec §9.
	return false
}
