// Package detached runs best-effort side effects outside the caller's
// control flow. The caller never waits on a Task; the outcome is logged and
// kept on the Task so tests can observe it.
package detached

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Task is a running or finished side effect.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Launcher starts tasks. The zero value is not usable; call NewLauncher.
type Launcher struct {
	log     *zap.Logger
	timeout time.Duration
}

func NewLauncher(log *zap.Logger, timeout time.Duration) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{log: log.Named("detached"), timeout: timeout}
}

// Go runs fn on its own goroutine. The parent context only contributes its
// values; cancelling the request that triggered the task does not stop it.
func (l *Launcher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{name: name, done: make(chan struct{})}

	taskCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if l.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, l.timeout)
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("panic: %v", r)
				l.log.Error("detached task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		start := time.Now()
		t.err = fn(taskCtx)
		if t.err != nil {
			l.log.Warn("detached task failed",
				zap.String("task", name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(t.err))
			return
		}
		l.log.Debug("detached task finished", zap.String("task", name), zap.Duration("duration", time.Since(start)))
	}()
	return t
}

func (t *Task) Name() string { return t.name }

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
