package services

import (
	"sync"
	"time"

	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/utils"
)

// inMemoryBuffer holds ready-to-lease candidate rows per queue, so consecutive
// gets don't scan the shards again. Claims still go to the store: a stale
// candidate just loses its claim and is skipped.
type inMemoryBuffer struct {
	size            int
	refreshInterval time.Duration
	clock           utils.Clock

	mu     sync.Mutex
	queues map[string]*candidates
}

type candidates struct {
	rows     []db.QueueMessageRow
	loadedAt time.Time
}

func newInMemoryBuffer(size int, refreshInterval time.Duration, clock utils.Clock) *inMemoryBuffer {
	return &inMemoryBuffer{
		size:            size,
		refreshInterval: refreshInterval,
		clock:           clock,
		queues:          make(map[string]*candidates),
	}
}

// take removes and returns every buffered candidate of the queue with their load time,
// or nil if the buffer is empty or older than the refresh interval.
func (b *inMemoryBuffer) take(queue string) ([]db.QueueMessageRow, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.queues[queue]
	if !ok {
		return nil, time.Time{}
	}
	delete(b.queues, queue)
	if b.clock.Now().Sub(c.loadedAt) >= b.refreshInterval {
		return nil, time.Time{}
	}
	return c.rows, c.loadedAt
}

// putBack stores unused candidates, keeping the original load time.
func (b *inMemoryBuffer) putBack(queue string, rows []db.QueueMessageRow, loadedAt time.Time) {
	if len(rows) == 0 {
		return
	}
	if len(rows) > b.size {
		rows = rows[:b.size]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = &candidates{rows: rows, loadedAt: loadedAt}
}

func (b *inMemoryBuffer) forget(queue string) {
	b.mu.Lock()
	delete(b.queues, queue)
	b.mu.Unlock()
}

func (b *inMemoryBuffer) clear() {
	b.mu.Lock()
	b.queues = make(map[string]*candidates)
	b.mu.Unlock()
}
