// Package batch implements a bounded, background-flushed queue shared by
// every producer of outbound payloads (events today, but generic over the
// item type so it isn't tied to domain.Event).
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Item is a unit of queued work. Materialize is invoked lazily at flush
// time rather than at Enqueue time, so a caller that builds an expensive
// payload (e.g. snapshotting $feature_flags at send time) only pays for it
// if the item survives to flush.
type Item[T any] struct {
	Materialize func(ctx context.Context) (T, error)
}

// Handler processes one flushed batch. The Pipeline discards the returned
// error (logging it is the handler's job), so it never propagates back to
// Enqueue callers.
type Handler[T any] func(ctx context.Context, batch []T) error

// Config controls flush triggers and queue sizing.
type Config struct {
	FlushAt       int
	FlushInterval time.Duration
	MaxBatchSize  int
	MaxQueueSize  int
}

// DefaultConfig mirrors the defaults named in the client's configuration
// surface.
func DefaultConfig() Config {
	return Config{
		FlushAt:       20,
		FlushInterval: 30 * time.Second,
		MaxBatchSize:  100,
		MaxQueueSize:  1000,
	}
}

// DroppedHandler is notified whenever Enqueue overwrites the oldest queued
// item because the ring buffer was full.
type DroppedHandler func(reason string)

// Pipeline is a bounded, drop-oldest FIFO that flushes on depth, on a
// timer, or on demand, and drains into Handler on a background goroutine.
type Pipeline[T any] struct {
	cfg     Config
	handler Handler[T]
	onDrop  DroppedHandler

	mu    sync.Mutex
	ring  []Item[T]
	head  int
	count int

	flushing atomic.Bool
	signal   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	disposeOnce sync.Once
	disposed    atomic.Bool
}

// New builds a Pipeline and starts its background ticker and
// flush-coalescing goroutines. Cancelling the parent context stops those
// goroutines; unlike Dispose it performs no final flush and does not stop
// Enqueue from accepting items.
func New[T any](parent context.Context, cfg Config, handler Handler[T], onDrop DroppedHandler) *Pipeline[T] {
	if cfg.FlushAt <= 0 {
		cfg.FlushAt = DefaultConfig().FlushAt
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}

	ctx, cancel := context.WithCancel(parent)
	p := &Pipeline[T]{
		cfg:     cfg,
		handler: handler,
		onDrop:  onDrop,
		ring:    make([]Item[T], cfg.MaxQueueSize),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(2)
	go p.tickerLoop()
	go p.signalLoop()

	return p
}

// Enqueue adds an item to the queue, dropping the oldest queued item if
// the ring is already at capacity. It never blocks. Returns false if the
// pipeline has been disposed.
func (p *Pipeline[T]) Enqueue(item Item[T]) bool {
	if p.disposed.Load() {
		return false
	}

	p.mu.Lock()
	ringCap := len(p.ring)
	full := p.count == ringCap
	if full {
		// Overwrite the oldest slot in place, then advance head so the
		// slot after it becomes the new oldest.
		p.ring[p.head] = item
		p.head = (p.head + 1) % ringCap
	} else {
		writeAt := (p.head + p.count) % ringCap
		p.ring[writeAt] = item
		p.count++
	}
	depth := p.count
	p.mu.Unlock()

	if full && p.onDrop != nil {
		p.onDrop("queue full: dropped oldest item")
	}

	if depth >= p.cfg.FlushAt {
		p.requestFlush()
	}
	return true
}

// requestFlush coalesces repeated wakeups into a single pending signal.
func (p *Pipeline[T]) requestFlush() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Pipeline[T]) tickerLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.Len() > 0 {
				p.requestFlush()
			}
		}
	}
}

func (p *Pipeline[T]) signalLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.signal:
			p.flushOnce(p.ctx)
		}
	}
}

// Len returns the current queue depth.
func (p *Pipeline[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Flush drains the queue synchronously, chunked at MaxBatchSize. It
// respects the at-most-one-concurrent-flush guard: if another flush is
// already running, Flush returns nil at once without waiting for that
// flush to finish, so the queue may not be empty when it returns.
func (p *Pipeline[T]) Flush(ctx context.Context) error {
	return p.flushOnce(ctx)
}

func (p *Pipeline[T]) flushOnce(ctx context.Context) error {
	if !p.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer p.flushing.Store(false)

	for {
		chunk := p.dequeueChunk()
		if len(chunk) == 0 {
			return nil
		}

		materialized := make([]T, 0, len(chunk))
		for _, item := range chunk {
			v, err := item.Materialize(ctx)
			if err != nil {
				continue
			}
			materialized = append(materialized, v)
		}

		if len(materialized) > 0 {
			_ = p.handler(ctx, materialized) // handler errors are the caller's to log
		}
	}
}

func (p *Pipeline[T]) dequeueChunk() []Item[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.count
	if n > p.cfg.MaxBatchSize {
		n = p.cfg.MaxBatchSize
	}
	if n == 0 {
		return nil
	}

	chunk := make([]Item[T], n)
	for i := 0; i < n; i++ {
		chunk[i] = p.ring[(p.head+i)%len(p.ring)]
	}
	p.head = (p.head + n) % len(p.ring)
	p.count -= n
	return chunk
}

// Dispose stops the background loops, performs one final flush, and makes
// all subsequent Enqueue calls no-ops. Safe to call more than once.
func (p *Pipeline[T]) Dispose(ctx context.Context) error {
	var err error
	p.disposeOnce.Do(func() {
		p.disposed.Store(true)
		p.cancel()
		p.wg.Wait()
		err = p.flushOnce(ctx)
	})
	return err
}
