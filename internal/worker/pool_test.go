package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startPool(t *testing.T, size, queue int) *Pool {
	t.Helper()
	p := New(size, queue, quiet)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestPool_DoReturnsJobResult(t *testing.T) {
	p := startPool(t, 2, 4)
	boom := errors.New("boom")

	require.NoError(t, p.Do(context.Background(), "ok", RejectAndLog, func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Do(context.Background(), "fail", RejectAndLog, func(context.Context) error { return boom }), boom)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := startPool(t, 1, 1)
	err := p.Do(context.Background(), "panicky", RejectAndLog, func(context.Context) error { panic("oops") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// The worker survives the panic.
	assert.NoError(t, p.Do(context.Background(), "after", RejectAndLog, func(context.Context) error { return nil }))
}

// fillPool blocks the single worker and fills the queue.
func fillPool(t *testing.T, p *Pool) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit("blocker", RejectAndLog, func(context.Context) error {
		close(started)
		<-gate
		return nil
	})
	require.NoError(t, err)
	<-started
	_, err = p.Submit("queued", RejectAndLog, func(context.Context) error { return nil })
	require.NoError(t, err)
	return func() { close(gate) }
}

func TestPool_RejectAndLogWhenFull(t *testing.T) {
	p := startPool(t, 1, 1)
	release := fillPool(t, p)
	defer release()

	var ran atomic.Bool
	_, err := p.Submit("dropped", RejectAndLog, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, ran.Load())
}

func TestPool_RunInlineWhenFull(t *testing.T) {
	p := startPool(t, 1, 1)
	release := fillPool(t, p)
	defer release()

	var ran atomic.Bool
	done, err := p.Submit("inline", RunInline, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load(), "inline job should run before Submit returns")
	assert.NoError(t, <-done)
}

func TestPool_AllJoinsErrors(t *testing.T) {
	p := startPool(t, 3, 8)
	first, second := errors.New("first"), errors.New("second")
	var count atomic.Int64

	err := p.All(context.Background(), "batch", RunInline,
		func(context.Context) error { count.Add(1); return first },
		func(context.Context) error { count.Add(1); return nil },
		func(context.Context) error { count.Add(1); return second },
	)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.EqualValues(t, 3, count.Load())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := New(1, 1, quiet)
	_, err := p.Submit("early", RunInline, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)

	p.Start(context.Background())
	require.NoError(t, p.Stop())
	_, err = p.Submit("late", RunInline, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPool_DoHonorsContext(t *testing.T) {
	p := startPool(t, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	gate := make(chan struct{})
	defer close(gate)
	err := p.Do(ctx, "slow", RejectAndLog, func(context.Context) error {
		<-gate
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "reject_and_log", RejectAndLog.String())
	assert.Equal(t, "run_inline", RunInline.String())
	assert.Equal(t, "policy(7)", Policy(7).String())
}
