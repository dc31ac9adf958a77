package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the intake channel (default 1024).
//   - MaxBatchEvents: flush once this many events are pending (default 64).
//   - MaxBatchWait: flush a partial batch after this long (default 100ms), so
//     live observers see messages promptly.
//   - SinkTimeout: per-sink deadline for one Consume call (default 5s).
//   - BaseContext: parent of every sink context (default context.Background()).
//   - Logger: receives drop and sink failure warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 100 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub buffers progress events and delivers them to sinks in batches. Emit is
// safe for concurrent use and never blocks; sinks see events in Emit order.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	closed      atomic.Bool
	dropped     atomic.Int64
	unreported  atomic.Int64
	dropLimiter rateLimiter

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      cfg.Logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events are discarded; when the buffer is full the
// event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.unreported.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.unreported.Swap(0)))
		}
	}
}

// Dropped returns how many events were lost to backpressure so far.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes what is buffered, closes every sink and waits
// for the batching goroutine to exit or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		case <-b.timer.C:
			b.armed = false
			h.flush(b.take())
		case <-h.stopCh:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		default:
			b.disarm()
			h.flush(b.take())
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batcher accumulates events until the size limit or the wait timer fires.
type batcher struct {
	pending []Event
	limit   int
	wait    time.Duration
	timer   *time.Timer
	armed   bool
}

func newBatcher(limit int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	t.Stop()
	return &batcher{
		pending: make([]Event, 0, limit),
		limit:   limit,
		wait:    wait,
		timer:   t,
	}
}

// add appends evt and reports whether the batch is full.
func (b *batcher) add(evt Event) bool {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.limit {
		b.disarm()
		return true
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return false
}

// take hands the pending events to the caller. Sinks may retain the slice.
func (b *batcher) take() []Event {
	out := b.pending
	b.pending = make([]Event, 0, b.limit)
	return out
}

func (b *batcher) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
