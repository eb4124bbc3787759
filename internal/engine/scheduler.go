package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tomb "gopkg.in/tomb.v2"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Task is one periodic maintenance job.
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler drives tasks on independent tickers under a tomb. A failing or
// panicking run is logged as a *domain.MaintenanceTaskError and never
// stops its own schedule or any other task.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger
	t      *tomb.Tomb
}

// NewScheduler creates a scheduler for tasks. logger may be nil.
func NewScheduler(logger *slog.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{tasks: tasks, logger: logger}
}

// Start launches one goroutine per task with a positive interval.
func (s *Scheduler) Start(ctx context.Context) {
	var tctx context.Context
	s.t, tctx = tomb.WithContext(ctx)
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.logger.Warn("maintenance task disabled", slog.String("task", task.Name))
			continue
		}
		task := task
		s.t.Go(func() error {
			s.loop(tctx, task)
			return nil
		})
	}
	// Keep the tomb alive even when every task is disabled.
	s.t.Go(func() error {
		<-s.t.Dying()
		return nil
	})
}

// Stop halts every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	if s.t == nil {
		return nil
	}
	s.t.Kill(nil)
	return s.t.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	if task.RunAtStart {
		s.RunOnce(ctx, task)
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, task)
		}
	}
}

// RunOnce executes one run of task, recovering panics. A failure is
// logged and returned as *domain.MaintenanceTaskError.
func (s *Scheduler) RunOnce(ctx context.Context, task Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &domain.MaintenanceTaskError{Task: task.Name, Err: err}
			s.logger.Error("maintenance task failed",
				slog.String("task", task.Name),
				slog.Bool("critical", domain.IsCriticalLedgerError(err)),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Debug("maintenance task finished",
			slog.String("task", task.Name),
			slog.Duration("duration", time.Since(start)),
		)
	}()
	return task.Run(ctx)
}
