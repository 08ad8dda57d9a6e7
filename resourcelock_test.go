package taskcoord

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testResource struct {
	id string
}

func (r testResource) DirID() string { return r.id }
func (r testResource) Name() string  { return ResourceName(r.id) }

func TestResourceLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	resource := testResource{id: "r0"}

	ctx := context.Background()

	first, err := AcquireResourceLock(ctx, dir, resource)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := AcquireResourceLock(ctx, dir, resource)
		if err != nil {
			t.Errorf("second Acquire failed: %v", err)
			return
		}
		close(acquired)
		second.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(300 * time.Millisecond):
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestResourceLockCancelContext(t *testing.T) {
	dir := t.TempDir()
	resource := testResource{id: "r0"}

	first, err := AcquireResourceLock(context.Background(), dir, resource)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := AcquireResourceLock(ctx, dir, resource)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after context cancellation")
	}
}

func TestResourceLockManyWaiters(t *testing.T) {
	dir := t.TempDir()
	resource := testResource{id: "r0"}
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	var running int

	n := 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			lock, err := AcquireResourceLock(ctx, dir, resource)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}

			mu.Lock()
			running++
			if running > 1 {
				t.Errorf("more than one holder at once: %d", running)
			}
			order = append(order, i)
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()

			lock.Release()
		}(i)
	}
	wg.Wait()

	if len(order) != n {
		t.Fatalf("expected %d holders to run, got %d", n, len(order))
	}
}
