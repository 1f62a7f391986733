package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// execute runs one task through the middleware chain and the registered
// handler, then settles its state in the table. The context carries the
// execution key the pool attached, which is what Secede and nested
// submissions key on. All task records handed to middleware and
// extensions are snapshots; the table owns the live record.
func (w *Worker) execute(ctx context.Context, key string) error {
	t, err := w.table.Get(key)
	if err != nil {
		// Released between admission and start.
		w.logger.Debug("task gone before start", slog.String("key", key))
		return err
	}

	handler, ok := w.registry.Get(t.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for task %q", t.Name)
		w.settleErred(ctx, key, err)
		return err
	}

	started, err := w.table.MarkStarted(key)
	if err != nil {
		w.logger.Debug("task gone before start", slog.String("key", key))
		return err
	}
	w.extensions.EmitTaskStarted(ctx, started)

	start := time.Now()

	var result []byte
	// The terminal handler that calls the registered task handler.
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, t.Payload)
		if err != nil {
			return err
		}
		result = out
		return nil
	}

	err = w.mw(ctx, started, terminal)
	elapsed := time.Since(start)

	if err != nil {
		w.settleErred(ctx, key, err)
		return err
	}

	done, terr := w.table.MarkCompleted(key, result)
	if terr != nil {
		w.logger.Warn("task finished but could not settle",
			slog.String("key", key),
			slog.String("error", terr.Error()),
		)
		return nil
	}
	w.extensions.EmitTaskCompleted(ctx, done, elapsed)
	return nil
}

// settleErred records a task failure.
func (w *Worker) settleErred(ctx context.Context, key string, taskErr error) {
	t, err := w.table.MarkErred(key, taskErr)
	if err != nil {
		w.logger.Warn("task erred but could not settle",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	w.extensions.EmitTaskErred(ctx, t, taskErr)
}
