// Package executor runs CPU-bound work on a fixed worker pool.
//
// DESIGN: Search and projection over multi-megabyte payloads can hog a
// goroutine for a while; running them on a bounded pool keeps the protocol
// loop responsive and caps concurrent memory spikes. Submission respects
// the caller's context so a cancelled tool call never blocks on a busy
// pool.
package executor

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrShutdown is returned when work is submitted after Shutdown.
var ErrShutdown = errors.New("executor: shut down")

// Pool is a fixed-size worker pool.
type Pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// New creates a pool with the given worker count. A non-positive count
// picks min(32, NumCPU+4).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU() + 4
		if workers > 32 {
			workers = 32
		}
	}

	p := &Pool{
		tasks: make(chan func(), workers*2),
		quit:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	log.Debug().Int("workers", workers).Msg("executor pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			return
		}
	}
}

// Submit queues fn for execution. It blocks until a worker slot frees up,
// the context is cancelled, or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return ErrShutdown
	default:
	}

	select {
	case p.tasks <- fn:
		return nil
	case <-p.quit:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the workers. Queued tasks that no worker picked up before
// the quit signal are dropped.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

// Run executes fn on the pool and waits for its result.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)

	err := p.Submit(ctx, func() {
		v, err := fn()
		ch <- result{v, err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
