package taskcoord

import "fmt"

// Resource is a named, singleton execution slot: exactly one task runs
// on it at a time. Implementations must return a dir_id that is
// stable and filesystem-safe across the resource's lifetime.
type Resource interface {
	// DirID uniquely identifies the directory associated with this
	// resource, relative to the scheduler root.
	DirID() string
	// Name is a human-readable label for logging.
	Name() string
}

// DefaultResource gives a Resource implementation a default Name(),
// since Go interfaces carry no default method bodies. Embed it and
// implement only DirID. The default label is the fixed string
// "Resource #<unknown>"; it does not contain the embedder's DirID
// (ResourceName builds the "Resource #<dir_id>" form).
type DefaultResource struct{}

// Name formats the default resource label. Embedders relying on this
// must still implement DirID themselves; Name here cannot see it.
func (DefaultResource) Name() string {
	return "Resource #<unknown>"
}

// ResourceName is a convenience for callers building their own
// Resource without embedding DefaultResource.
func ResourceName(dirID string) string {
	return fmt.Sprintf("Resource #%s", dirID)
}

// Executable is the callback a submitted task carries. Execute runs
// the job; Preemption is how ResourceScheduler lets it poll for
// cooperative cancellation.
type Executable interface {
	// Execute runs the task's job. Preemptible executables should poll
	// preempt.ShouldPreemptNow at their own cadence and return
	// promptly once it yields true.
	Execute(preempt Preemption)
	// IsPreemptible reports whether Execute polls for preemption.
	// Executables that don't need to may always return false.
	IsPreemptible() bool
}

// Preemption is the hook passed to Executable.Execute.
type Preemption interface {
	// ShouldPreemptNow reports whether the task currently executing
	// should stop. Only meaningful for preemptible executables.
	ShouldPreemptNow(task *Task) bool
}
