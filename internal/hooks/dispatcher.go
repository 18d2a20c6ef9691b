package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/log"
)

// queueSize bounds the events waiting for hook execution
const queueSize = 64

// Dispatcher runs hooks off the publishing goroutine. Events are handled in
// publish order; the hooks of one event run one after another. Publishers
// never wait on hooks: an event arriving while the queue is full is dropped.
type Dispatcher struct {
	registry *Registry
	logger   *log.Logger

	queue  chan events.Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// sendMu orders sends against closing the queue
	sendMu  sync.Mutex
	closed  bool
	dropped atomic.Int64

	mu      sync.Mutex
	results []ExecutionResult
}

// NewDispatcher starts a dispatcher for the hooks in r
func NewDispatcher(r *Registry, logger *log.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry: r,
		logger:   log.OrDiscard(logger).WithComponent("hooks"),
		queue:    make(chan events.Event, queueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go d.run()
	return d
}

// Handle queues e when a hook subscribes to it. Subscribe it with
// Bus.SubscribeAll. Events published after Close are dropped.
func (d *Dispatcher) Handle(e events.Event) {
	if len(d.registry.matching(e)) == 0 {
		return
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warn("hook queue full, dropping event", "event", e.Type, "event_id", e.ID)
	}
}

// Dropped reports how many events were discarded because the queue was full
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, en := range d.registry.matching(e) {
			d.record(d.execute(en, e))
		}
	}
}

func (d *Dispatcher) execute(en entry, e events.Event) ExecutionResult {
	timeout := en.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	start := time.Now()
	err := en.hook.Execute(ctx, e)
	res := ExecutionResult{
		HookName:  en.hook.Name(),
		EventType: e.Type,
		EventID:   e.ID,
		Success:   err == nil,
		Duration:  time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		res.Error = err.Error()
		d.logger.Warn("hook failed", "hook", res.HookName, "event", e.Type, "error", err)
	} else {
		d.logger.Debug("hook ran", "hook", res.HookName, "event", e.Type, "duration", res.Duration)
	}
	return res
}

func (d *Dispatcher) record(r ExecutionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

// Results returns the executions so far, oldest first
func (d *Dispatcher) Results() []ExecutionResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ExecutionResult, len(d.results))
	copy(out, d.results)
	return out
}

// Close stops accepting events and waits for queued hooks until ctx is
// done, after which running hooks are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.sendMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.sendMu.Unlock()
	if n := d.dropped.Load(); n > 0 {
		d.logger.Warn("hook events were dropped", "count", n)
	}

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}
