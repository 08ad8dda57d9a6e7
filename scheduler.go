package taskcoord

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPollInterval is the poller's default tick period, matching
// the original POLL_INTERVAL_MS constant.
const DefaultPollInterval = 100 * time.Millisecond

// Scheduler is the façade: it accepts submissions, lazily spawns
// per-resource election loops, and drives them from a single
// background poller (spec.md §4.6).
type Scheduler struct {
	mu           sync.Mutex
	root         *SchedulerRoot
	schedulers   map[string]*ResourceScheduler // keyed by resource.DirID()
	pollInterval time.Duration

	cancel  context.CancelFunc
	stopped chan struct{}
	running bool
}

// NewScheduler creates a Scheduler rooted at root, polling every
// DefaultPollInterval.
func NewScheduler(root string) (*Scheduler, error) {
	return NewSchedulerWithPollInterval(root, DefaultPollInterval)
}

// NewSchedulerWithPollInterval creates a Scheduler rooted at root,
// polling every pollInterval.
func NewSchedulerWithPollInterval(root string, pollInterval time.Duration) (*Scheduler, error) {
	r, err := NewSchedulerRoot(root)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		root:         r,
		schedulers:   make(map[string]*ResourceScheduler),
		pollInterval: pollInterval,
	}, nil
}

// Schedule submits a task with the given priority (lower runs first),
// a descriptive name, an executable, and the set of resources it may
// run on. A ResourceScheduler is lazily created for any resource not
// already seen, deduplicated by DirID.
//
// TODO: resources is accepted in preference order but currently
// raced, per spec §9 — honoring the order is an explicit extension,
// not a requirement, and is left unimplemented.
func (s *Scheduler) Schedule(priority uint, name string, executable Executable, resources []Resource) error {
	s.mu.Lock()
	for _, resource := range resources {
		s.ensureResourceScheduler(resource)
	}
	s.mu.Unlock()

	ident := s.root.NewIdent(priority, name)
	return s.root.Schedule(ident, executable, resources)
}

func (s *Scheduler) ensureResourceScheduler(resource Resource) {
	id := resource.DirID()
	if _, ok := s.schedulers[id]; ok {
		return
	}
	dir := filepath.Join(s.root.Root(), id)
	s.schedulers[id] = NewResourceScheduler(s.root, dir, resource)
}

// Start spawns the single background poller goroutine, which ticks
// every pollInterval, invoking HandleNext on each live
// ResourceScheduler in turn. A stop signal is checked between
// resources and between ticks.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true

	go s.pollLoop(ctx)
	return nil
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, rs := range s.currentSchedulers() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := rs.HandleNext(ctx); err != nil {
				log.WithError(err).WithField("resource", rs.Resource().Name()).
					Error("tick failed, retrying next poll")
			}
		}
	}
}

func (s *Scheduler) currentSchedulers() []*ResourceScheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ResourceScheduler, 0, len(s.schedulers))
	for _, rs := range s.schedulers {
		out = append(out, rs)
	}
	return out
}

// Stop signals the poller to exit before its next tick and waits for
// it to finish. It is idempotent: calling it again after the poller
// has already exited returns ErrChannelClosed.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrChannelClosed
	}
	cancel := s.cancel
	stopped := s.stopped
	s.running = false
	s.mu.Unlock()

	cancel()
	<-stopped
	return nil
}

// Root returns the underlying SchedulerRoot, primarily for tests and
// introspection.
func (s *Scheduler) Root() *SchedulerRoot {
	return s.root
}
