package worker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geethanjalieswaran/distributed"
	"github.com/geethanjalieswaran/distributed/pool"
	"github.com/geethanjalieswaran/distributed/task"
	"github.com/geethanjalieswaran/distributed/worker"
)

func TestWithClient_OutsideTask(t *testing.T) {
	err := worker.WithClient(context.Background(), func(_ context.Context, _ worker.SchedulerClient) error {
		t.Fatal("scope must not run outside a task")
		return nil
	})
	if !errors.Is(err, distributed.ErrNotInTaskContext) {
		t.Fatalf("WithClient = %v, want ErrNotInTaskContext", err)
	}
}

func TestWithClient_NoWorkerRegistered(t *testing.T) {
	// An execution key without a running worker in the process.
	ctx := pool.WithExecution(context.Background(), "stray")
	err := worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
		t.Fatal("scope must not run without a worker")
		return nil
	})
	if !errors.Is(err, distributed.ErrNotInTaskContext) {
		t.Fatalf("WithClient = %v, want ErrNotInTaskContext", err)
	}
}

// A task on a single-slot worker holds the only slot. Inside WithClient
// it must have given the slot up, so a second task can run to
// completion while the first is still in its scope.
func TestWithClient_ReleasesSlotDuringScope(t *testing.T) {
	f := startWorker(t, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.reg.Register("nested", func(ctx context.Context, _ []byte) ([]byte, error) {
		err := worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			close(entered)
			<-release
			return nil
		})
		return nil, err
	})
	f.reg.Register("plain", func(_ context.Context, _ []byte) ([]byte, error) {
		return []byte("ok"), nil
	})

	if err := f.w.Enqueue(task.New("outer", "nested", nil)); err != nil {
		t.Fatalf("Enqueue outer: %v", err)
	}
	<-entered

	// The outer task is seceded: its slot is free and its state moves
	// to long-running.
	waitForState(t, f, "outer", task.StateLongRunning)
	if got := f.w.Pool().Accounted(); got != 0 {
		t.Fatalf("Accounted during scope = %d, want 0", got)
	}

	if err := f.w.Enqueue(task.New("inner", "plain", nil)); err != nil {
		t.Fatalf("Enqueue inner: %v", err)
	}
	waitForState(t, f, "inner", task.StateMemory)

	close(release)
	waitForState(t, f, "outer", task.StateMemory)

	if !f.rec.has("seceded:outer") || !f.rec.has("rejoined:outer") {
		t.Error("missing secede/rejoin lifecycle events for outer task")
	}
	waitFor(t, "pool to settle", func() bool { return f.w.Pool().Accounted() == 0 })
}

func TestWithClient_SubmitAndGather(t *testing.T) {
	f := startWorker(t, 1)

	resultCh := make(chan string, 1)
	f.reg.Register("fanout", func(ctx context.Context, _ []byte) ([]byte, error) {
		err := worker.WithClient(ctx, func(ctx context.Context, c worker.SchedulerClient) error {
			fa, err := c.Submit(ctx, "square", 3)
			if err != nil {
				return err
			}
			fb, err := c.Submit(ctx, "square", 4)
			if err != nil {
				return err
			}
			results, err := c.Gather(ctx, fa, fb)
			if err != nil {
				return err
			}
			resultCh <- string(results[0].Data) + "," + string(results[1].Data)
			return nil
		})
		return nil, err
	})

	if err := f.w.Enqueue(task.New("t1", "fanout", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForState(t, f, "t1", task.StateMemory)

	if got := <-resultCh; got != "3,4" {
		t.Fatalf("gathered = %q, want %q", got, "3,4")
	}
}

func TestWithClient_ErrorStillRejoins(t *testing.T) {
	f := startWorker(t, 1)

	scopeErr := errors.New("scope failed")
	f.reg.Register("failing-scope", func(ctx context.Context, _ []byte) ([]byte, error) {
		return nil, worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			return scopeErr
		})
	})

	if err := f.w.Enqueue(task.New("t1", "failing-scope", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got := waitForState(t, f, "t1", task.StateErred)
	if got.Err != scopeErr.Error() {
		t.Fatalf("Err = %q, want %q", got.Err, scopeErr.Error())
	}
	if !f.rec.has("rejoined:t1") {
		t.Error("task did not rejoin after scope error")
	}
	waitFor(t, "pool to settle", func() bool { return f.w.Pool().Accounted() == 0 })
}

func TestWithClient_PanicStillRejoins(t *testing.T) {
	f := startWorker(t, 1)

	f.reg.Register("panicking-scope", func(ctx context.Context, _ []byte) ([]byte, error) {
		return nil, worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			panic("scope kaboom")
		})
	})

	if err := f.w.Enqueue(task.New("t1", "panicking-scope", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForState(t, f, "t1", task.StateErred)
	if !f.rec.has("rejoined:t1") {
		t.Error("task did not rejoin after scope panic")
	}
	waitFor(t, "pool to settle", func() bool { return f.w.Pool().Accounted() == 0 })
}

func TestWithClient_NoSecession(t *testing.T) {
	f := startWorker(t, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.reg.Register("keeps-slot", func(ctx context.Context, _ []byte) ([]byte, error) {
		err := worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			close(entered)
			<-release
			return nil
		}, worker.WithSecession(false))
		return nil, err
	})

	if err := f.w.Enqueue(task.New("t1", "keeps-slot", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-entered

	// The slot is still held and the state never leaves executing.
	if got := f.w.Pool().Accounted(); got != 1 {
		t.Fatalf("Accounted during scope = %d, want 1", got)
	}
	got, err := f.w.Table().Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != task.StateExecuting {
		t.Fatalf("State during scope = %s, want %s", got.State, task.StateExecuting)
	}

	close(release)
	waitForState(t, f, "t1", task.StateMemory)
	if f.rec.has("seceded:t1") {
		t.Error("unexpected secede event with secession disabled")
	}
}

func TestWithClient_DialFailure(t *testing.T) {
	dialErr := errors.New("scheduler unreachable")
	f := startWorker(t, 1, worker.WithDialer(func(_ context.Context, _ string) (worker.SchedulerClient, error) {
		return nil, dialErr
	}))

	errCh := make(chan error, 1)
	f.reg.Register("no-dial", func(ctx context.Context, _ []byte) ([]byte, error) {
		errCh <- worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			t.Error("scope must not run when the dial fails")
			return nil
		})
		return nil, nil
	})

	if err := f.w.Enqueue(task.New("t1", "no-dial", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := <-errCh; !errors.Is(err, dialErr) {
		t.Fatalf("WithClient = %v, want %v", err, dialErr)
	}
	waitForState(t, f, "t1", task.StateMemory)
	if f.rec.has("seceded:t1") {
		t.Error("task must not secede when no client was obtained")
	}
}

func TestWithClient_ConnectTimeout(t *testing.T) {
	f := startWorker(t, 1, worker.WithDialer(func(ctx context.Context, _ string) (worker.SchedulerClient, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	errCh := make(chan error, 1)
	f.reg.Register("slow-dial", func(ctx context.Context, _ []byte) ([]byte, error) {
		errCh <- worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			return nil
		}, worker.WithTimeout(20*time.Millisecond))
		return nil, nil
	})

	if err := f.w.Enqueue(task.New("t1", "slow-dial", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := <-errCh; !errors.Is(err, distributed.ErrConnectionTimeout) {
		t.Fatalf("WithClient = %v, want ErrConnectionTimeout", err)
	}
}

func TestWithClient_BadTimeoutString(t *testing.T) {
	f := startWorker(t, 1)

	errCh := make(chan error, 1)
	f.reg.Register("bad-timeout", func(ctx context.Context, _ []byte) ([]byte, error) {
		errCh <- worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			return nil
		}, worker.WithTimeoutString("not a duration"))
		return nil, nil
	})

	if err := f.w.Enqueue(task.New("t1", "bad-timeout", nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := <-errCh; !errors.Is(err, distributed.ErrBadTimeout) {
		t.Fatalf("WithClient = %v, want ErrBadTimeout", err)
	}
	if f.dials.Load() != 0 {
		t.Errorf("dials = %d, want 0 on an option error", f.dials.Load())
	}
}

func TestWithClient_ReusesClientAcrossTasks(t *testing.T) {
	f := startWorker(t, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	f.reg.Register("touch-client", func(ctx context.Context, _ []byte) ([]byte, error) {
		defer wg.Done()
		return nil, worker.WithClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			return nil
		})
	})

	for _, key := range []string{"t1", "t2"} {
		if err := f.w.Enqueue(task.New(key, "touch-client", nil)); err != nil {
			t.Fatalf("Enqueue(%s): %v", key, err)
		}
	}
	wg.Wait()

	if got := f.dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1 (client shared across tasks)", got)
	}
}

func TestWithLocalClient_AliasAndDeprecationNotice(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	f := startWorker(t, 1)

	errCh := make(chan error, 2)
	f.reg.Register("legacy", func(ctx context.Context, _ []byte) ([]byte, error) {
		errCh <- worker.WithLocalClient(ctx, func(_ context.Context, _ worker.SchedulerClient) error {
			return nil
		})
		return nil, nil
	})

	for _, key := range []string{"t1", "t2"} {
		if err := f.w.Enqueue(task.New(key, "legacy", nil)); err != nil {
			t.Fatalf("Enqueue(%s): %v", key, err)
		}
		if err := <-errCh; err != nil {
			t.Fatalf("WithLocalClient(%s): %v", key, err)
		}
	}

	if got := strings.Count(buf.String(), "deprecated"); got != 1 {
		t.Fatalf("deprecation notice emitted %d times, want exactly once\nlog: %s", got, buf.String())
	}
}
