package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/geethanjalieswaran/distributed/middleware"
	"github.com/geethanjalieswaran/distributed/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *task.Task, next middleware.Handler) error {
			order = append(order, name+"-in")
			err := next(ctx)
			order = append(order, name+"-out")
			return err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	tk := task.New("k1", "inc", nil)
	err := chain(context.Background(), tk, func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := "outer-in inner-in handler inner-out outer-out"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), task.New("k1", "inc", nil), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("empty chain: err=%v called=%v", err, called)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	chain := middleware.Chain(middleware.Logging(testLogger()))
	err := chain(context.Background(), task.New("k1", "inc", nil), func(_ context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	chain := middleware.Chain(middleware.Recover(testLogger()))
	err := chain(context.Background(), task.New("k1", "inc", nil), func(_ context.Context) error {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("recovered err = %v, want panic message", err)
	}
}

func TestTracing_PassThrough(t *testing.T) {
	t.Parallel()

	// No TracerProvider configured: noop tracer, handler still runs and
	// errors propagate.
	boom := errors.New("boom")
	chain := middleware.Chain(middleware.Tracing())
	err := chain(context.Background(), task.New("k1", "inc", nil), func(_ context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
