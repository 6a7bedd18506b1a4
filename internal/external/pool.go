package external

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCancelled reports a task whose result collection was cancelled before
// it started.
var ErrCancelled = errors.New("external: task cancelled")

// Task is one submitted external plus the future holding its parsed result.
type Task struct {
	// Proc is the underlying process, already running.
	Proc *External

	// Index is the submission order of this task within its pool.
	Index int

	done      chan struct{}
	value     any
	err       error
	cancelled atomic.Bool
}

// Result blocks until the task resolves or ctx is done.
func (t *Task) Result(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel prevents the task's result from being collected if collection has
// not started yet. It reports whether the task was still pending. The
// underlying process, spawned at submit time, is not terminated.
func (t *Task) Cancel() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	return t.cancelled.CompareAndSwap(false, true)
}

// Pool fans out externals and collects their parsed results on a bounded
// set of collector slots.
//
// Known limitation carried over from the original design: processes are
// spawned synchronously at Submit time, so the bound throttles result
// collection only, never process launch.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
	seq atomic.Int64
}

// NewPool returns a pool with the given number of collector slots.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

// Submit spawns argv immediately and schedules its result collection,
// returning the task future.
func (p *Pool) Submit(argv []string, opts Options) (*Task, error) {
	proc, err := Start(argv, opts)
	if err != nil {
		return nil, err
	}
	t := &Task{
		Proc:  proc,
		Index: int(p.seq.Add(1)) - 1,
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		if t.cancelled.Load() {
			t.err = ErrCancelled
			close(t.done)
			return
		}
		t.value, t.err = proc.Results()
		close(t.done)
	}()
	return t, nil
}

// Map submits one external per argv set and returns a lazy sequence of
// results in submission order, regardless of which process finishes first.
// A positive timeout establishes one absolute deadline shared by every
// result wait; when it passes, or when the consumer stops early, tasks not
// yet collected are cancelled. A non-zero exit surfaces at the point the
// corresponding element is consumed.
func (p *Pool) Map(argvs [][]string, timeout time.Duration, opts Options) iter.Seq2[any, error] {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	tasks := make([]*Task, 0, len(argvs))
	for _, argv := range argvs {
		t, err := p.Submit(argv, opts)
		if err != nil {
			t = resolvedTask(err)
		}
		tasks = append(tasks, t)
	}

	return func(yield func(any, error) bool) {
		next := 0
		defer func() {
			for _, t := range tasks[next:] {
				t.Cancel()
			}
		}()
		for next < len(tasks) {
			t := tasks[next]
			next++
			if deadline.IsZero() {
				if !yield(t.Result(context.Background())) {
					return
				}
				continue
			}
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			v, err := t.Result(ctx)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				yield(nil, err)
				return
			}
			if !yield(v, err) {
				return
			}
		}
	}
}

// Shutdown waits for every submitted task to resolve.
func (p *Pool) Shutdown() {
	p.wg.Wait()
}

func resolvedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Product expands per-position alternatives into every argv combination,
// preserving order: Product([]string{"echo"}, []string{"1", "2"}) yields
// [echo 1] then [echo 2].
func Product(parts ...[]string) [][]string {
	combs := [][]string{{}}
	for _, alternatives := range parts {
		next := make([][]string, 0, len(combs)*len(alternatives))
		for _, comb := range combs {
			for _, alt := range alternatives {
				extended := make([]string, len(comb), len(comb)+1)
				copy(extended, comb)
				next = append(next, append(extended, alt))
			}
		}
		combs = next
	}
	return combs
}
