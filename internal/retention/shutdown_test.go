package retention

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCoordinatorRunsTasksInOrder(t *testing.T) {
	c := NewCoordinator()

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownTask {
		return ShutdownTask{Name: name, Run: func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}
	c.Register(record("ipc"))
	c.Register(record("sync"))
	c.Register(record("db"))

	var progress []ShutdownProgress
	c.Run(func(p ShutdownProgress) { progress = append(progress, p) })

	want := []string{"ipc", "sync", "db"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if len(progress) != 3 || progress[2].Completed != 3 || progress[2].Total != 3 {
		t.Fatalf("expected 3 progress reports ending at 3/3, got %+v", progress)
	}
	if !c.Done() {
		t.Fatal("expected Done() to be true after Run returns")
	}
}

func TestCoordinatorContinuesPastTaskError(t *testing.T) {
	c := NewCoordinator()
	wantErr := errors.New("stop failed")
	c.Register(ShutdownTask{Name: "a", Run: func() error { return wantErr }})

	ranB := false
	c.Register(ShutdownTask{Name: "b", Run: func() error { ranB = true; return nil }})

	var progress []ShutdownProgress
	c.Run(func(p ShutdownProgress) { progress = append(progress, p) })

	if !ranB {
		t.Fatal("expected task b to run despite task a's error")
	}
	if progress[0].Err != wantErr {
		t.Fatalf("expected progress to carry the task's error, got %v", progress[0].Err)
	}
}

func TestCoordinatorRunIsIdempotent(t *testing.T) {
	c := NewCoordinator()
	calls := 0
	c.Register(ShutdownTask{Name: "a", Run: func() error { calls++; return nil }})

	c.Run(nil)
	c.Run(nil)

	if calls != 1 {
		t.Fatalf("expected the task to run exactly once across two Run calls, got %d", calls)
	}
}

func TestCoordinatorAwaitForcedBlocksUntilRunCompletes(t *testing.T) {
	c := NewCoordinator()
	started := make(chan struct{})
	release := make(chan struct{})
	c.Register(ShutdownTask{Name: "slow", Run: func() error {
		close(started)
		<-release
		return nil
	}})

	go c.Run(nil)
	<-started // Run has set running=true and is mid-task by this point

	waited := make(chan struct{})
	go func() {
		c.AwaitForced()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("expected AwaitForced to block while the running pass is still in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-waited

	if !c.Done() {
		t.Fatal("expected the coordinator to be done once AwaitForced returns")
	}
}

func TestCoordinatorAwaitForcedReturnsImmediatelyWithNoPass(t *testing.T) {
	c := NewCoordinator()
	done := make(chan struct{})
	go func() {
		c.AwaitForced()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("expected AwaitForced to return immediately when no shutdown pass has started")
	}
}
