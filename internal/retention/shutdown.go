package retention

import (
	"sync"

	"github.com/hkdb/aerion/internal/logging"
)

// ShutdownTask is one unit of work the coordinator must finish before the
// app exits, named for the progress view.
type ShutdownTask struct {
	Name string
	Run  func() error
}

// ShutdownProgress is reported after each task completes.
type ShutdownProgress struct {
	Completed int
	Total     int
	Task      string
	Err       error
}

// Coordinator runs registered shutdown tasks serially, in registration
// order, the way App.Shutdown stops its collaborators one at a time.
// Unlike that fixed sequence, Coordinator lets callers register tasks
// dynamically and blocks a forced shutdown until the running pass drains.
type Coordinator struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []ShutdownTask
	running bool
	done    bool
}

// NewCoordinator builds an empty shutdown coordinator.
func NewCoordinator() *Coordinator {
	c := &Coordinator{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Register adds a task to run on shutdown. Safe to call until Run starts.
func (c *Coordinator) Register(task ShutdownTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
}

// Run executes every registered task in order, reporting progress through
// onProgress after each one (onProgress may be nil). Errors are logged and
// do not stop later tasks, since a failing collaborator must not block the
// rest of shutdown from finishing. Run is idempotent: a second call
// returns immediately once the first has completed.
func (c *Coordinator) Run(onProgress func(ShutdownProgress)) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.running = true
	tasks := append([]ShutdownTask(nil), c.tasks...)
	c.mu.Unlock()

	log := logging.WithComponent("shutdown")
	for i, t := range tasks {
		err := t.Run()
		if err != nil {
			log.Error().Err(err).Str("task", t.Name).Msg("shutdown task failed")
		} else {
			log.Info().Str("task", t.Name).Msg("shutdown task completed")
		}
		if onProgress != nil {
			onProgress(ShutdownProgress{Completed: i + 1, Total: len(tasks), Task: t.Name, Err: err})
		}
	}

	c.mu.Lock()
	c.running = false
	c.done = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// AwaitForced blocks until a shutdown pass (triggered elsewhere by Run) has
// completed. This is the forced-quit path: the app received a terminating
// signal without ever seeing a cooperative quit-requested event, so instead
// of starting its own pass it waits on whichever pass is already running
// (or returns immediately if one already finished).
func (c *Coordinator) AwaitForced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.done && !c.running {
		// no pass has started yet; nothing to wait on
		return
	}
	for !c.done {
		c.cond.Wait()
	}
}

// Done reports whether the registered tasks have all completed.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
