// Package pool implements the worker's fixed-capacity execution pool and
// its concurrency accounting, including the secession primitives.
//
// Capacity is an accounting limit, not a goroutine limit: each admitted
// unit runs on its own goroutine, and at most Capacity units are counted
// as executing at once. Secede releases the calling unit's slot back to
// the pool while the unit keeps running; Rejoin restores it. A rejoining
// unit never queues behind new admissions: the accounted count may
// transiently exceed capacity until the next completion, which is the
// price of guaranteeing that the same goroutine resuming can never
// deadlock itself.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/geethanjalieswaran/distributed"
)

// Unit is one admissible piece of work: a task key plus its body.
type Unit struct {
	Key string
	Run func(ctx context.Context) error
}

// execution tracks one in-flight unit.
type execution struct {
	key     string
	seceded bool
	cancel  context.CancelFunc
}

// Pool admits queued units while the accounted count is below capacity
// and tracks secede/rejoin bookkeeping per execution.
type Pool struct {
	capacity   int
	queueDepth int
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Unit
	executions map[string]*execution
	accounted  int
	running    bool

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithQueueDepth sets how many accepted-but-not-started units the pool
// buffers before Submit fails.
func WithQueueDepth(n int) Option {
	return func(p *Pool) { p.queueDepth = n }
}

// WithRateLimit caps sustained admissions per second with a token-bucket
// limiter. Zero disables rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pool) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// New creates a pool with the given capacity.
func New(capacity int, logger *slog.Logger, opts ...Option) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		capacity:   capacity,
		queueDepth: 1024,
		logger:     logger,
		executions: make(map[string]*execution),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capacity returns the configured concurrency limit.
func (p *Pool) Capacity() int { return p.capacity }

// Start launches the admission loop. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("pool starting", slog.Int("capacity", p.capacity))

	p.wg.Add(1)
	go p.admitLoop()
	return nil
}

// Stop drains the pool: no new units are admitted, and Stop waits for
// in-flight units to finish. If the context has a deadline, remaining
// units are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("pool shutdown timed out, cancelling executions")
		p.cancelExecutions()
		p.wg.Wait()
	}
	return nil
}

// Submit queues a unit for admission.
func (p *Pool) Submit(u Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return distributed.ErrPoolStopped
	}
	if len(p.queue) >= p.queueDepth {
		return fmt.Errorf("%w: depth %d", distributed.ErrQueueFull, p.queueDepth)
	}
	p.queue = append(p.queue, u)
	p.cond.Broadcast()
	return nil
}

// admitLoop starts queued units whenever accounting permits.
func (p *Pool) admitLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.running && (len(p.queue) == 0 || p.accounted >= p.capacity) {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}

		u := p.queue[0]
		p.queue = p.queue[1:]
		p.accounted++

		ctx, cancel := context.WithCancel(context.Background())
		p.executions[u.Key] = &execution{key: u.Key, cancel: cancel}
		p.mu.Unlock()

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.finish(u.Key)
				cancel()
				continue
			}
		}

		p.wg.Add(1)
		go p.runUnit(ctx, cancel, u)
	}
}

func (p *Pool) runUnit(ctx context.Context, cancel context.CancelFunc, u Unit) {
	defer p.wg.Done()
	defer cancel()
	// Whatever the unit does, its accounting must be settled.
	defer p.finish(u.Key)

	ctx = WithExecution(ctx, u.Key)
	if err := u.Run(ctx); err != nil {
		p.logger.Debug("unit finished with error",
			slog.String("key", u.Key),
			slog.String("error", err.Error()),
		)
	}
}

// finish settles accounting for a completed unit. A unit that finished
// while seceded already gave up its slot, so only accounted executions
// decrement the count.
func (p *Pool) finish(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exec, ok := p.executions[key]
	if !ok {
		return
	}
	if !exec.seceded {
		p.accounted--
	}
	delete(p.executions, key)
	p.cond.Broadcast()
}

// Secede releases the calling execution's slot back to the pool while
// the caller keeps running. A queued unit may start immediately. The
// context must carry the execution key the pool attached; calling
// Secede from a non-accounted goroutine, or twice, fails with
// ErrSecedeOutsidePool, which callers should treat as a warning rather
// than a hard failure.
func (p *Pool) Secede(ctx context.Context) error {
	key, ok := ExecutionFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: context carries no execution", distributed.ErrSecedeOutsidePool)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	exec, ok := p.executions[key]
	if !ok || exec.seceded {
		return fmt.Errorf("%w: %q", distributed.ErrSecedeOutsidePool, key)
	}

	exec.seceded = true
	p.accounted--
	p.cond.Broadcast()

	p.logger.Debug("execution seceded",
		slog.String("key", key),
		slog.Int("accounted", p.accounted),
	)
	return nil
}

// Rejoin restores a previously seceded execution's accounting. It never
// blocks: the same goroutine is resuming, not a new entrant, so it is
// re-registered immediately even if the pool is at capacity (the count
// settles at the next completion). Rejoin without a matching secede is
// a no-op with a warning.
func (p *Pool) Rejoin(ctx context.Context) {
	key, ok := ExecutionFrom(ctx)
	if !ok {
		p.logger.Warn("rejoin outside a pool execution, ignoring")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	exec, ok := p.executions[key]
	if !ok || !exec.seceded {
		p.logger.Warn("rejoin without matching secede, ignoring", slog.String("key", key))
		return
	}

	exec.seceded = false
	p.accounted++

	p.logger.Debug("execution rejoined",
		slog.String("key", key),
		slog.Int("accounted", p.accounted),
	)
}

// Accounted returns how many executions currently count against capacity.
func (p *Pool) Accounted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounted
}

// Active returns how many executions are in flight, seceded or not.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.executions)
}

// Queued returns how many units await admission.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) cancelExecutions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, exec := range p.executions {
		p.logger.Warn("cancelling execution", slog.String("key", key))
		exec.cancel()
	}
}

// WaitIdle blocks until the pool has no queued or in-flight units, or
// the timeout elapses. Intended for tests and graceful handover.
func (p *Pool) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		idle := len(p.queue) == 0 && len(p.executions) == 0
		p.mu.Unlock()
		if idle {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
