// Package worker implements the worker runtime: it accepts tasks from
// the cluster scheduler, executes them on a fixed-capacity pool through
// a middleware chain, and maintains the per-task state machine.
//
// It also provides the secession protocol's public surface: WithClient
// gives task code a scoped scheduler client whose acquisition secedes
// the calling task from pool accounting, so nested submissions can be
// awaited without exhausting the pool.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/geethanjalieswaran/distributed"
	"github.com/geethanjalieswaran/distributed/ext"
	"github.com/geethanjalieswaran/distributed/id"
	"github.com/geethanjalieswaran/distributed/middleware"
	"github.com/geethanjalieswaran/distributed/pool"
	"github.com/geethanjalieswaran/distributed/task"
)

// controlMsg is a state transition request posted to the control loop.
type controlMsg struct {
	key string
	to  task.State
}

// Worker executes tasks dispatched by the scheduler.
type Worker struct {
	workerID        id.WorkerID
	schedulerAddr   string
	connectTimeout  time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	registry   *task.Registry
	table      *task.Table
	pool       *pool.Pool
	poolOpts   []pool.Option
	extensions *ext.Registry
	mw         middleware.Middleware

	controlCh chan controlMsg
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	// Cached scheduler client, created lazily and single-flighted.
	dial     DialFunc
	sf       singleflight.Group
	clientMu sync.RWMutex
	client   SchedulerClient
}

// Option configures a Worker.
type Option func(*Worker)

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Worker) { w.extensions = r }
}

// WithMiddleware sets the middleware chain task execution runs through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mw = middleware.Chain(mws...) }
}

// WithDialer overrides how the worker dials its scheduler client.
func WithDialer(dial DialFunc) Option {
	return func(w *Worker) { w.dial = dial }
}

// WithPoolOptions forwards options to the worker's pool.
// Must be applied at construction; it has no effect later.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(w *Worker) { w.poolOpts = append(w.poolOpts, opts...) }
}

// New creates a worker. The registry holds the task handlers this worker
// can run; cfg supplies the scheduler address, pool capacity, and the
// default connect timeout used by nested clients.
func New(cfg distributed.Config, registry *task.Registry, logger *slog.Logger, opts ...Option) *Worker {
	defaults := distributed.DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ControlBuffer <= 0 {
		cfg.ControlBuffer = defaults.ControlBuffer
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaults.QueueDepth
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	w := &Worker{
		workerID:        id.NewWorkerID(),
		schedulerAddr:   cfg.SchedulerAddr,
		connectTimeout:  cfg.ConnectTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
		registry:        registry,
		table:           task.NewTable(),
		controlCh:       make(chan controlMsg, cfg.ControlBuffer),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.extensions == nil {
		w.extensions = ext.NewRegistry(logger)
	}
	if w.mw == nil {
		w.mw = middleware.Chain(middleware.Recover(logger))
	}
	if w.dial == nil {
		w.dial = defaultDial(logger)
	}

	poolOpts := append([]pool.Option{pool.WithQueueDepth(cfg.QueueDepth)}, w.poolOpts...)
	w.pool = pool.New(cfg.Concurrency, logger, poolOpts...)

	return w
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() id.WorkerID { return w.workerID }

// Table returns the worker's task table.
func (w *Worker) Table() *task.Table { return w.table }

// Pool returns the worker's execution pool.
func (w *Worker) Pool() *pool.Pool { return w.pool }

// Extensions returns the worker's extension registry.
func (w *Worker) Extensions() *ext.Registry { return w.extensions }

// Start launches the pool and the control loop, and registers this
// worker as the process-current worker if none is registered yet.
// It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.running = true

	w.logger.Info("worker starting",
		slog.String("worker_id", w.workerID.String()),
		slog.Int("concurrency", w.pool.Capacity()),
		slog.String("scheduler", w.schedulerAddr),
	)

	if err := w.pool.Start(ctx); err != nil {
		w.running = false
		return err
	}

	w.wg.Add(1)
	go w.controlLoop()

	registerDefault(w)
	return nil
}

// Stop shuts the worker down: no new tasks are accepted, in-flight
// tasks drain (bounded by the context deadline, or by the configured
// ShutdownTimeout when the context has none), the control loop stops,
// and the cached scheduler client is closed.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping", slog.String("worker_id", w.workerID.String()))

	// A context without a deadline drains for at most ShutdownTimeout.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.shutdownTimeout)
		defer cancel()
	}

	w.extensions.EmitShutdown(ctx)

	if err := w.pool.Stop(ctx); err != nil {
		return err
	}

	close(w.stopCh)
	w.wg.Wait()

	w.clientMu.Lock()
	c := w.client
	w.client = nil
	w.clientMu.Unlock()
	if c != nil {
		if err := c.Close(); err != nil {
			w.logger.Warn("closing scheduler client", slog.String("error", err.Error()))
		}
	}

	unregisterDefault(w)
	w.logger.Info("worker stopped")
	return nil
}

// Enqueue accepts a task from the scheduler and queues it for
// execution.
func (w *Worker) Enqueue(t *task.Task) error {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return distributed.ErrWorkerStopped
	}

	if err := w.table.Put(t); err != nil {
		return err
	}
	ready, err := w.table.Transition(t.Key, task.StateReady)
	if err != nil {
		w.table.Release(t.Key)
		return err
	}
	w.extensions.EmitTaskEnqueued(context.Background(), ready)

	key := t.Key
	if err := w.pool.Submit(pool.Unit{Key: key, Run: func(ctx context.Context) error {
		return w.execute(ctx, key)
	}}); err != nil {
		w.table.Release(key)
		return err
	}
	return nil
}

// controlLoop applies asynchronously posted state transitions. The loop
// is the single writer for transition requests that originate off the
// scheduler path, so the worker's scheduling view of task states stays
// consistent without the posting goroutine blocking.
func (w *Worker) controlLoop() {
	defer w.wg.Done()

	for {
		select {
		case msg := <-w.controlCh:
			w.applyTransition(msg)
		case <-w.stopCh:
			// Drain anything already posted before exiting.
			for {
				select {
				case msg := <-w.controlCh:
					w.applyTransition(msg)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) applyTransition(msg controlMsg) {
	t, err := w.table.Transition(msg.key, msg.to)
	if err != nil {
		// The task may have finished or been released between post and
		// delivery; that is not an error worth failing anything over.
		w.logger.Debug("control: transition not applied",
			slog.String("key", msg.key),
			slog.String("to", string(msg.to)),
			slog.String("reason", err.Error()),
		)
		return
	}

	if msg.to == task.StateLongRunning {
		w.extensions.EmitTaskLongRunning(context.Background(), t)
	}
}

// postTransition delivers a state transition request to the control
// loop without blocking the calling goroutine. If the buffer is full
// the transition is applied on a spawned goroutine instead; it is never
// dropped.
func (w *Worker) postTransition(key string, to task.State) {
	select {
	case w.controlCh <- controlMsg{key: key, to: to}:
	default:
		go w.applyTransition(controlMsg{key: key, to: to})
	}
}
