// Package worker runs blocking work on a fixed set of goroutines so slow
// external calls cannot starve the callers that schedule them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tomb "gopkg.in/tomb.v2"
)

// Policy decides what happens to a job submitted while the queue is full.
type Policy int

const (
	// RejectAndLog drops the job and logs it.
	RejectAndLog Policy = iota
	// RunInline runs the job on the submitting goroutine.
	RunInline
)

func (p Policy) String() string {
	switch p {
	case RejectAndLog:
		return "reject_and_log"
	case RunInline:
		return "run_inline"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Job is one unit of work. ctx is cancelled when the pool stops.
type Job func(ctx context.Context) error

type task struct {
	name string
	fn   Job
	done chan error
}

// Pool is a bounded job queue drained by a fixed number of workers under a
// tomb. Each job's panic is recovered into its error.
type Pool struct {
	size   int
	tasks  chan task
	logger *slog.Logger

	t   *tomb.Tomb
	ctx context.Context
}

// New creates a pool with size workers and a queue of the given capacity.
func New(size, queue int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:   size,
		tasks:  make(chan task, queue),
		logger: logger,
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.t, p.ctx = tomb.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i
		p.t.Go(func() error {
			return p.worker(id)
		})
	}
}

// Stop kills the workers and waits for in-flight jobs to return.
func (p *Pool) Stop() error {
	if p.t == nil {
		return nil
	}
	p.t.Kill(nil)
	return p.t.Wait()
}

// Workers wait on queued tasks and run them until the tomb is dying.
func (p *Pool) worker(id int) error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case tk := <-p.tasks:
			err := p.run(tk)
			if err != nil {
				p.logger.Debug("job failed",
					slog.Int("worker", id),
					slog.String("job", tk.name),
					slog.String("error", err.Error()),
				)
			}
			tk.done <- err
		}
	}
}

func (p *Pool) run(tk task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", tk.name, r)
		}
	}()
	return tk.fn(p.ctx)
}

// Submit queues fn and returns a channel that receives its result exactly
// once. When the queue is full the policy applies: RejectAndLog returns
// ErrQueueFull, RunInline runs fn before returning.
func (p *Pool) Submit(name string, policy Policy, fn Job) (<-chan error, error) {
	if p.t == nil || !p.t.Alive() {
		return nil, ErrStopped
	}
	tk := task{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case p.tasks <- tk:
		return tk.done, nil
	default:
	}

	switch policy {
	case RunInline:
		tk.done <- p.run(tk)
		return tk.done, nil
	default:
		p.logger.Warn("worker queue full, job rejected",
			slog.String("job", name),
			slog.String("policy", policy.String()),
		)
		return nil, ErrQueueFull
	}
}

// Do submits fn and waits for its result or for ctx to be done.
func (p *Pool) Do(ctx context.Context, name string, policy Policy, fn Job) error {
	done, err := p.Submit(name, policy, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All submits every job under the same policy and waits for them all,
// joining their errors. Rejected jobs contribute ErrQueueFull.
func (p *Pool) All(ctx context.Context, name string, policy Policy, jobs ...Job) error {
	waits := make([]<-chan error, 0, len(jobs))
	var errs []error
	for _, fn := range jobs {
		done, err := p.Submit(name, policy, fn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		waits = append(waits, done)
	}
	for _, done := range waits {
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}
