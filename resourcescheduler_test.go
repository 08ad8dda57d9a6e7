package taskcoord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
)

func TestReaperDestroysAfterThreeTicks(t *testing.T) {
	dir := t.TempDir()
	root, err := NewSchedulerRoot(dir)
	if err != nil {
		t.Fatalf("NewSchedulerRoot failed: %v", err)
	}
	rs := NewResourceScheduler(root, dir, testResource{id: "r"})

	ghost := NewIdent(1, "ghost", 999)
	path := filepath.Join(dir, ghost.Filename())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("create ghost file failed: %v", err)
	}
	f.Close()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := rs.HandleNext(ctx); err != nil {
			t.Fatalf("HandleNext tick %d failed: %v", i, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("ghost file should still exist after tick %d: %v", i, err)
		}
	}

	if err := rs.HandleNext(ctx); err != nil {
		t.Fatalf("HandleNext final tick failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("ghost file should have been reaped after three ticks")
	}
}

func TestReaperNeverDestroysLiveCreator(t *testing.T) {
	dir := t.TempDir()
	root, err := NewSchedulerRoot(dir)
	if err != nil {
		t.Fatalf("NewSchedulerRoot failed: %v", err)
	}
	rs := NewResourceScheduler(root, dir, testResource{id: "r"})

	alive := NewIdent(1, "alive", 1)
	path := filepath.Join(dir, alive.Filename())

	lock := flock.New(path)
	locked, err := lock.TryRLock()
	if err != nil || !locked {
		t.Fatalf("failed to take shared lock: %v", err)
	}
	defer lock.Unlock()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := rs.HandleNext(ctx); err != nil {
			t.Fatalf("HandleNext tick %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("live creator's file should never be reaped: %v", err)
	}
}

func TestHandleNextExecutesOwnedTask(t *testing.T) {
	dir := t.TempDir()
	root, err := NewSchedulerRoot(dir)
	if err != nil {
		t.Fatalf("NewSchedulerRoot failed: %v", err)
	}
	resource := testResource{id: "r"}
	resDir := filepath.Join(dir, resource.DirID())
	rs := NewResourceScheduler(root, resDir, resource)

	ident := root.NewIdent(1, "job")
	executed := make(chan struct{}, 1)
	exec := &funcExecutable{fn: func(Preemption) { executed <- struct{}{} }}

	if err := root.Schedule(ident, exec, []Resource{resource}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	ctx := context.Background()
	if err := rs.HandleNext(ctx); err != nil {
		t.Fatalf("HandleNext failed: %v", err)
	}

	select {
	case <-executed:
	default:
		t.Fatal("expected executable to have run")
	}

	if _, err := os.Stat(filepath.Join(resDir, ident.Filename())); !os.IsNotExist(err) {
		t.Fatal("task file should have been retired after execution")
	}
	if _, ok := root.ownTask(ident); ok {
		t.Fatal("own task should have been forgotten after execution")
	}
}

type funcExecutable struct {
	fn          func(Preemption)
	preemptible bool
}

func (f *funcExecutable) Execute(p Preemption) { f.fn(p) }
func (f *funcExecutable) IsPreemptible() bool  { return f.preemptible }
