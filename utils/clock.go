package utils

import (
	"sync"
	"time"
)

// Clock is the time source of the engine. Lease deadlines, shard ids and
// counter flush triggers are all computed from it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

var SystemClock Clock = systemClock{}

// ManualClock only moves when told to. Meant for tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

func (mc *ManualClock) Advance(d time.Duration) {
	mc.mu.Lock()
	mc.now = mc.now.Add(d)
	mc.mu.Unlock()
}

func (mc *ManualClock) Set(now time.Time) {
	mc.mu.Lock()
	mc.now = now
	mc.mu.Unlock()
}
