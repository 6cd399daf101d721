package detached

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskCapturesFailure(t *testing.T) {
	l := NewLauncher(nil, time.Second)
	boom := errors.New("remote down")

	task := l.Go(context.Background(), "disable-account", func(context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	if !errors.Is(task.Err(), boom) {
		t.Errorf("Err() = %v", task.Err())
	}
}

func TestTaskSurvivesParentCancellation(t *testing.T) {
	l := NewLauncher(nil, 0)
	parent, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	task := l.Go(parent, "slow", func(ctx context.Context) error {
		<-release
		return ctx.Err()
	})
	cancel()
	close(release)

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := task.Wait(ctx); err != nil {
		t.Errorf("task saw parent cancellation: %v", err)
	}
}

func TestTaskRecoversPanic(t *testing.T) {
	l := NewLauncher(nil, 0)
	task := l.Go(context.Background(), "panics", func(context.Context) error { panic("bad") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err == nil {
		t.Error("expected an error from a panicking task")
	}
}

func TestErrBeforeDone(t *testing.T) {
	l := NewLauncher(nil, 0)
	block := make(chan struct{})
	task := l.Go(context.Background(), "blocked", func(context.Context) error {
		<-block
		return errors.New("late")
	})
	if task.Err() != nil {
		t.Error("Err() should be nil while the task runs")
	}
	close(block)
	<-task.Done()
}
