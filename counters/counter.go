package counters

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

// Store is the durable side of a Counter.
type Store[K comparable] interface {
	// WriteCounts adds every delta to the durable count of its key in one batch.
	WriteCounts(ctx context.Context, deltas map[K]int64) error
	ReadCount(ctx context.Context, key K) (int64, error)
}

type Config struct {
	FlushInterval  time.Duration // age of the accumulator that triggers a flush
	MaxInvocations int64         // increments into one accumulator that trigger a flush
	WriteTimeout   time.Duration // upper bound for one background flush
	// OnFlush, if set, is called after every flush attempt with the number of keys written.
	OnFlush func(keys int, err error)
}

// Counter is an approximate counter: increments are buffered in memory and
// periodically written to the Store as one batch of deltas.
// A failed batch is merged back into the current accumulator and retried with the next flush.
type Counter[K comparable] struct {
	store Store[K]
	cfg   Config
	clock utils.Clock

	// mu guards the current/pending references only.
	// Increments take the read side, so they never wait for each other, and never wait for I/O.
	mu      sync.RWMutex
	current *accumulator[K]
	pending []*accumulator[K]
	closed  bool

	wg sync.WaitGroup // background flushes
}

func NewCounter[K comparable](store Store[K], cfg Config, clock utils.Clock) *Counter[K] {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &Counter[K]{
		store:   store,
		cfg:     cfg,
		clock:   clock,
		current: newAccumulator[K](clock.Now()),
	}
}

func (c *Counter[K]) Increment(key K, delta int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	acc := c.current
	acc.add(key, delta)
	invocations := acc.invocations.Add(1)

	if c.closed || !c.flushDue(acc, invocations) {
		return
	}
	// one flush per accumulator generation
	if !acc.flushing.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go c.backgroundFlush(acc)
}

func (c *Counter[K]) flushDue(acc *accumulator[K], invocations int64) bool {
	if c.cfg.MaxInvocations > 0 && invocations >= c.cfg.MaxInvocations {
		return true
	}
	return c.cfg.FlushInterval > 0 && c.clock.Now().Sub(acc.createdAt) >= c.cfg.FlushInterval
}

func (c *Counter[K]) backgroundFlush(acc *accumulator[K]) {
	defer c.wg.Done()

	ctx := context.Background()
	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}

	if !c.swap(acc) {
		// Flush got to it first
		return
	}
	if err := c.write(ctx, acc); err != nil {
		log.Warn().Err(err).Msg("background counter flush failed, deltas merged back")
	}
}

// GetCount returns the in-memory deltas of key plus its durable count.
// The in-memory part is returned even if reading the durable part fails.
func (c *Counter[K]) GetCount(ctx context.Context, key K) (int64, error) {
	c.mu.RLock()
	inMemory := c.current.get(key)
	for _, p := range c.pending {
		inMemory += p.get(key)
	}
	c.mu.RUnlock()

	durable, err := c.store.ReadCount(ctx, key)
	if err != nil {
		return inMemory, err
	}
	return inMemory + durable, nil
}

// Flush writes the current accumulator synchronously.
// On failure the deltas are kept in memory and the error is returned.
func (c *Counter[K]) Flush(ctx context.Context) error {
	c.mu.Lock()
	acc := c.current
	acc.flushing.Store(true)
	c.swapLocked(acc)
	c.mu.Unlock()

	return c.write(ctx, acc)
}

func (c *Counter[K]) swap(acc *accumulator[K]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.swapLocked(acc)
}

func (c *Counter[K]) swapLocked(acc *accumulator[K]) bool {
	if c.current != acc {
		return false
	}
	c.current = newAccumulator[K](c.clock.Now())
	c.pending = append(c.pending, acc)
	return true
}

func (c *Counter[K]) write(ctx context.Context, acc *accumulator[K]) error {
	defer close(acc.done)

	deltas := acc.snapshot()
	var err error
	if len(deltas) > 0 {
		err = c.store.WriteCounts(ctx, deltas)
	}

	c.mu.Lock()
	c.removePendingLocked(acc)
	if err != nil {
		for key, delta := range deltas {
			c.current.add(key, delta)
		}
	}
	c.mu.Unlock()

	if c.cfg.OnFlush != nil {
		c.cfg.OnFlush(len(deltas), err)
	}
	return err
}

func (c *Counter[K]) removePendingLocked(acc *accumulator[K]) {
	for i, p := range c.pending {
		if p == acc {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Reset drops the in-memory deltas of every key matching match.
// It waits for flushes already in progress, so once it returns no buffered delta
// of a matching key can still reach the Store.
func (c *Counter[K]) Reset(ctx context.Context, match func(K) bool) error {
	c.mu.Lock()
	c.current.drop(match)
	waitFor := make([]chan struct{}, 0, len(c.pending))
	for _, p := range c.pending {
		waitFor = append(waitFor, p.done)
	}
	c.mu.Unlock()

	for _, done := range waitFor {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// a failed flush may have merged matching deltas back in the meantime
	c.mu.Lock()
	c.current.drop(match)
	c.mu.Unlock()
	return nil
}

// Close stops background flushes, waits for the running ones and performs a final flush.
// It is safe to call more than once.
func (c *Counter[K]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return c.Flush(ctx)
}

type accumulator[K comparable] struct {
	createdAt   time.Time
	invocations atomic.Int64
	flushing    atomic.Bool
	deltas      sync.Map // K -> *atomic.Int64
	done        chan struct{}
}

func newAccumulator[K comparable](createdAt time.Time) *accumulator[K] {
	return &accumulator[K]{
		createdAt: createdAt,
		done:      make(chan struct{}),
	}
}

func (a *accumulator[K]) add(key K, delta int64) {
	v, ok := a.deltas.Load(key)
	if !ok {
		v, _ = a.deltas.LoadOrStore(key, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(delta)
}

func (a *accumulator[K]) get(key K) int64 {
	v, ok := a.deltas.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (a *accumulator[K]) snapshot() map[K]int64 {
	result := make(map[K]int64)
	a.deltas.Range(func(k, v any) bool {
		if delta := v.(*atomic.Int64).Load(); delta != 0 {
			result[k.(K)] = delta
		}
		return true
	})
	return result
}

func (a *accumulator[K]) drop(match func(K) bool) {
	a.deltas.Range(func(k, _ any) bool {
		if match(k.(K)) {
			a.deltas.Delete(k)
		}
		return true
	})
}
