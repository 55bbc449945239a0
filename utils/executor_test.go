package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestExecutorRunsJobsInOrder(t *testing.T) {
	exec := NewExecutor(4)
	defer exec.Close()

	var mu sync.Mutex
	var order []int
	done := NewOneShot[struct{}]()
	for i := 0; i < 10; i++ {
		err := exec.Post(context.Background(), func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 9 {
				done.Set(struct{}{})
			}
		})
		test.That(t, err, test.ShouldBeNil)
	}
	_, ok := done.WaitFor(5 * time.Second)
	test.That(t, ok, test.ShouldBeTrue)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, order, test.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
}

func TestExecutorJobCanPostToItself(t *testing.T) {
	exec := NewExecutor(1)
	defer exec.Close()

	done := NewOneShot[string]()
	err := exec.Post(context.Background(), func(ctx context.Context) {
		// The follow-up runs after this job returns, never inline.
		test.That(t, exec.TryPost(func(ctx context.Context) { done.Set("continuation") }), test.ShouldBeTrue)
	})
	test.That(t, err, test.ShouldBeNil)

	value, ok := done.WaitFor(5 * time.Second)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, value, test.ShouldEqual, "continuation")
}

func TestExecutorClosed(t *testing.T) {
	exec := NewExecutor(1)
	exec.Close()

	err := exec.Post(context.Background(), func(ctx context.Context) {})
	test.That(t, err, test.ShouldBeError, ErrExecutorClosed)
	test.That(t, exec.TryPost(func(ctx context.Context) {}), test.ShouldBeFalse)
}

func TestExecutorPostHonorsContext(t *testing.T) {
	exec := NewExecutor(1)
	defer exec.Close()

	release := make(chan struct{})
	started := NewOneShot[struct{}]()
	test.That(t, exec.Post(context.Background(), func(ctx context.Context) {
		started.Set(struct{}{})
		<-release
	}), test.ShouldBeNil)
	_, ok := started.WaitFor(5 * time.Second)
	test.That(t, ok, test.ShouldBeTrue)

	// Fill the one-slot queue, then a further post must give up when its context expires.
	test.That(t, exec.Post(context.Background(), func(ctx context.Context) {}), test.ShouldBeNil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := exec.Post(ctx, func(ctx context.Context) {})
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	close(release)
}
