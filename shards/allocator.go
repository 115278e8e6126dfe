package shards

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

type CountReader interface {
	GetCount(ctx context.Context, key db.ShardKey) (int64, error)
}

type AllocatorConfig struct {
	MaxShardSize int64
	MaxShardAge  time.Duration // 0 disables age-based allocation
	AdvanceTime  time.Duration // how far in the future a new shard starts
}

// Allocator creates new shards ahead of need, so a burst of writes never waits for shard creation.
type Allocator struct {
	strategy *Strategy
	counts   CountReader
	clock    utils.Clock
	cfg      AllocatorConfig
}

func NewAllocator(strategy *Strategy, counts CountReader, clock utils.Clock, cfg AllocatorConfig) *Allocator {
	return &Allocator{
		strategy: strategy,
		counts:   counts,
		clock:    clock,
		cfg:      cfg,
	}
}

// CheckShardAllocation creates a new shard for key if the current one is full or too old.
// It reports whether a shard was created.
func (a *Allocator) CheckShardAllocation(ctx context.Context, key Key) (bool, error) {
	shards, err := a.strategy.Shards(ctx, key)
	if err != nil {
		return false, err
	}

	now := a.clock.Now()
	nowMs := now.UnixMilli()

	if len(shards) == 0 {
		if _, err := a.strategy.CreateShard(ctx, key, nowMs); err != nil {
			return false, err
		}
		return true, nil
	}

	newest := shards[len(shards)-1]
	if newest.ShardID > nowMs {
		// already pre-allocated
		return false, nil
	}

	reason := ""
	count, err := a.counts.GetCount(ctx, key.ShardKey(newest.ShardID))
	if err != nil {
		return false, err
	}
	if count >= a.cfg.MaxShardSize {
		reason = "size"
	} else if a.cfg.MaxShardAge > 0 && now.Sub(time.UnixMilli(newest.ShardID)) >= a.cfg.MaxShardAge {
		reason = "age"
	}
	if reason == "" {
		return false, nil
	}

	nextID := nowMs + a.cfg.AdvanceTime.Milliseconds()
	if nextID <= newest.ShardID {
		nextID = newest.ShardID + 1
	}
	if _, err := a.strategy.CreateShard(ctx, key, nextID); err != nil {
		return false, err
	}
	log.Info().
		Str("queue", key.Queue).
		Str("region", key.Region).
		Stringer("type", key.Type).
		Int64("count", count).
		Int64("shard_id", nextID).
		Str("reason", reason).
		Msg("new shard allocated")
	return true, nil
}
