package maintenance

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/jobs"

	"github.com/rs/zerolog/log"
)

type ShardAllocator interface {
	CheckShardAllocations(ctx context.Context) (int, error)
}

// ShardAllocationJob creates shards ahead of need, so writers rarely have to create one on the hot path.
type ShardAllocationJob struct {
	*jobs.Job
}

func NewShardAllocationJob(allocator ShardAllocator, intervalMs int64) *ShardAllocationJob {
	job := jobs.Start("shard_allocation", time.Duration(intervalMs)*time.Millisecond, jobs.MaxDuration(intervalMs), func(ctx context.Context) error {
		allocated, err := allocator.CheckShardAllocations(ctx)
		if allocated > 0 {
			log.Debug().Int("allocated", allocated).Msg("shards pre-allocated")
		}
		return err
	})

	return &ShardAllocationJob{
		Job: job,
	}
}

type CountersFlusher interface {
	FlushCounters(ctx context.Context) error
}

// CountersFlushJob persists in-memory counter deltas of idle queues, which never hit the size trigger.
type CountersFlushJob struct {
	*jobs.Job
}

func NewCountersFlushJob(flusher CountersFlusher, intervalMs int64, writeTimeoutMs int64) *CountersFlushJob {
	job := jobs.Start("counters_flush", time.Duration(intervalMs)*time.Millisecond, time.Duration(writeTimeoutMs)*time.Millisecond, flusher.FlushCounters)

	return &CountersFlushJob{
		Job: job,
	}
}
