// Package pool executes recurring tasks in deadline order with a fixed
// number of goroutines. Watch mode uses it to schedule periodic pulls; a
// task is re-queued with whatever deadline its function returns, and can be
// pulled forward for an immediate run.
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type Pool struct {
	mu    sync.Mutex
	queue []*task
	reg   map[string]*task
	wait  chan struct{}
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(workers int) *Pool {
	pool := Pool{reg: make(map[string]*task)}

	for range workers {
		go pool.work()
	}

	return &pool
}

// Add schedules fn to run immediately. Each run returns the next deadline;
// a zero deadline removes the task.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&task{name: name, fn: fn, deadline: time.Now()})
}

func (p *Pool) work() {
	for {
		ctx := context.Background()
		p.enqueue(p.dequeue().execute(ctx))
	}
}

// Trigger runs the named task now, regardless of its deadline. If the task
// is currently running it is re-run right after the current run finishes.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(t *task) bool { return t.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// if it's not in p.queue, it must be running at the moment
	if t, ok := p.reg[n]; ok {
		t.rerun = true
		return nil
	}

	return fmt.Errorf("no task with name %s", n)
}

// sortAndWake must be called with p.mu held.
func (p *Pool) sortAndWake() {
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(t *task) {
	if t.deadline.IsZero() {
		// Task requested removal from the pool.
		p.mu.Lock()
		delete(p.reg, t.name)
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.reg[t.name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
	p.mu.Unlock()
}

func (p *Pool) dequeue() *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		var t *task
		if len(p.queue) == 0 {
			t = &task{name: "idle", deadline: time.Now().Add(time.Hour * 24 * 365)}
		} else {
			t = p.queue[0]
		}

		if t.deadline.After(time.Now()) {
			// Not ready yet; wait for the deadline or for an earlier task
			// to arrive.
			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			select {
			case <-time.After(time.Until(t.deadline)):
			case <-wait:
			}

			p.mu.Lock()
			continue
		}

		break
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t
}

func (t *task) execute(ctx context.Context) *task {
	t.deadline = t.fn(ctx)
	if t.rerun {
		t.rerun = false
		t.deadline = time.Now()
	}
	return t
}
