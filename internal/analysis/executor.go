package analysis

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Budget is a shared token budget. It is decremented atomically before each
// dispatch and never refunded, so the remaining amount is monotonically
// non-increasing for the lifetime of a run.
type Budget struct {
	remaining atomic.Int64
	parent    *Budget
}

func NewBudget(total int64) *Budget {
	b := &Budget{}
	b.remaining.Store(total)
	return b
}

// Slice carves a child budget out of this one. Reservations against the
// child also draw down the parent, which is how deeper recursion levels are
// held to a shrinking fraction of what remains.
func (b *Budget) Slice(n int64) *Budget {
	if r := b.Remaining(); n > r {
		n = r
	}
	child := NewBudget(n)
	child.parent = b
	return child
}

// TryReserve consumes n tokens if they are available. Returns false without
// consuming anything when the budget cannot cover the cost.
func (b *Budget) TryReserve(n int64) bool {
	for {
		cur := b.remaining.Load()
		if cur < n {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-n) {
			break
		}
	}
	if b.parent != nil && !b.parent.TryReserve(n) {
		// Parent drained underneath us; stop handing out from this slice.
		b.remaining.Store(0)
		return false
	}
	return true
}

func (b *Budget) Remaining() int64 {
	return b.remaining.Load()
}

func (b *Budget) Exhausted() bool {
	return b.remaining.Load() <= 0
}

// Task is one unit of scoring or analysis work. Run must record its own
// outcome; a failure inside a task never reaches sibling tasks.
type Task struct {
	Cost int64
	Run  func(ctx context.Context)
}

// Report describes how a batch of tasks ended.
type Report struct {
	Dispatched      int
	Skipped         int
	BudgetExhausted bool
	Cancelled       bool
}

// Early reports whether the batch stopped before dispatching everything.
func (r Report) Early() bool {
	return r.BudgetExhausted || r.Cancelled
}

// Executor runs tasks with bounded concurrency against a shared token
// budget. Cancellation stops dispatch of new tasks; in-flight tasks get a
// grace period to finish before their context is cut.
type Executor struct {
	workers int
	grace   time.Duration
	log     *slog.Logger
}

func NewExecutor(workers int, grace time.Duration, log *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{workers: workers, grace: grace, log: log}
}

// RunAll dispatches tasks in order, reserving each task's cost from the
// budget first. It refuses further dispatches once the budget is exhausted
// or ctx is done, then waits for in-flight tasks.
func (e *Executor) RunAll(ctx context.Context, budget *Budget, tasks []Task) Report {
	// Tasks run on a context that outlives ctx by the grace period, so a
	// timeout does not instantly sever calls that are about to complete.
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()
	stop := context.AfterFunc(ctx, func() {
		time.Sleep(e.grace)
		cancelTasks()
	})
	defer stop()

	var g errgroup.Group
	g.SetLimit(e.workers)

	var report Report
	for _, task := range tasks {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if !budget.TryReserve(task.Cost) {
			report.BudgetExhausted = true
			break
		}
		run := task.Run
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("task panicked", "panic", r)
				}
			}()
			run(taskCtx)
			return nil
		})
		report.Dispatched++
	}
	report.Skipped = len(tasks) - report.Dispatched

	g.Wait()
	if ctx.Err() != nil {
		report.Cancelled = true
	}
	return report
}
