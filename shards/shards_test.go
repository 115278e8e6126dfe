package shards

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/utils"
)

var testKey = Key{Queue: "orders", Region: "us-east", Type: common.MessageTypeDefault}

func newTestRepo(t *testing.T) *db.SQLiteRepo {
	t.Helper()
	repo, err := db.NewSQLiteRepo(filepath.Join(t.TempDir(), "qakka.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

type fixedCounts struct {
	mu     sync.Mutex
	counts map[db.ShardKey]int64
}

func (fc *fixedCounts) GetCount(ctx context.Context, key db.ShardKey) (int64, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.counts[key], nil
}

func (fc *fixedCounts) set(key db.ShardKey, n int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.counts[key] = n
}

func TestSelectWriteShard_CreatesFirstShard(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(10_000))
	strategy := NewStrategy(repo, clock)
	ctx := context.Background()

	shard, err := strategy.SelectWriteShard(ctx, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if shard.ShardID != 10_000 {
		t.Errorf("first shard id: want 10000, got %d", shard.ShardID)
	}

	clock.Advance(time.Second)
	again, _ := strategy.SelectWriteShard(ctx, testKey)
	if again.ShardID != 10_000 {
		t.Errorf("existing shard should be reused, got %d", again.ShardID)
	}
}

func TestSelectWriteShard_IgnoresFutureShards(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(10_000))
	strategy := NewStrategy(repo, clock)
	ctx := context.Background()

	strategy.CreateShard(ctx, testKey, 10_000)
	strategy.CreateShard(ctx, testKey, 40_000)

	shard, _ := strategy.SelectWriteShard(ctx, testKey)
	if shard.ShardID != 10_000 {
		t.Fatalf("want current shard 10000, got %d", shard.ShardID)
	}

	clock.Set(time.UnixMilli(40_000))
	shard, _ = strategy.SelectWriteShard(ctx, testKey)
	if shard.ShardID != 40_000 {
		t.Errorf("pre-allocated shard should become current, got %d", shard.ShardID)
	}
}

func TestStrategy_RefreshPicksUpForeignShards(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(10_000))
	local := NewStrategy(repo, clock)
	other := NewStrategy(repo, clock)
	ctx := context.Background()

	local.SelectWriteShard(ctx, testKey)
	other.CreateShard(ctx, testKey, 5_000)

	shards, _ := local.Shards(ctx, testKey)
	if len(shards) != 1 {
		t.Fatalf("cached view should not see the foreign shard yet, got %d", len(shards))
	}

	if err := local.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	shards, _ = local.Shards(ctx, testKey)
	if len(shards) != 2 || shards[0].ShardID != 5_000 {
		t.Errorf("after refresh: %+v", shards)
	}
}

func TestStrategy_RemoveAndForget(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(10_000))
	strategy := NewStrategy(repo, clock)
	ctx := context.Background()

	strategy.CreateShard(ctx, testKey, 1_000)
	strategy.CreateShard(ctx, testKey, 2_000)

	if err := strategy.RemoveShard(ctx, testKey.ShardKey(1_000)); err != nil {
		t.Fatal(err)
	}
	shards, _ := strategy.Shards(ctx, testKey)
	if len(shards) != 1 || shards[0].ShardID != 2_000 {
		t.Fatalf("after remove: %+v", shards)
	}

	strategy.Forget("orders")
	if len(strategy.Keys()) != 0 {
		t.Errorf("Forget should drop cached keys, got %v", strategy.Keys())
	}
	// read-through again from the store, the removed shard stays removed
	shards, _ = strategy.Shards(ctx, testKey)
	if len(shards) != 1 {
		t.Errorf("after forget: %+v", shards)
	}
}

func TestCheckShardAllocation(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(100_000))
	strategy := NewStrategy(repo, clock)
	counts := &fixedCounts{counts: make(map[db.ShardKey]int64)}
	allocator := NewAllocator(strategy, counts, clock, AllocatorConfig{
		MaxShardSize: 10,
		MaxShardAge:  time.Minute,
		AdvanceTime:  30 * time.Second,
	})
	ctx := context.Background()

	created, err := allocator.CheckShardAllocation(ctx, testKey)
	if err != nil || !created {
		t.Fatalf("no shard: want created, got %v err=%v", created, err)
	}

	created, _ = allocator.CheckShardAllocation(ctx, testKey)
	if created {
		t.Fatal("below thresholds: nothing should be created")
	}

	counts.set(testKey.ShardKey(100_000), 10)
	created, _ = allocator.CheckShardAllocation(ctx, testKey)
	if !created {
		t.Fatal("full shard: want new shard")
	}
	shards, _ := strategy.Shards(ctx, testKey)
	if len(shards) != 2 || shards[1].ShardID != 130_000 {
		t.Fatalf("new shard should start AdvanceTime ahead: %+v", shards)
	}

	// pre-allocated shard in the future, nothing to do even though the current one is full
	created, _ = allocator.CheckShardAllocation(ctx, testKey)
	if created {
		t.Fatal("already pre-allocated: nothing should be created")
	}

	// writes keep going to the old shard until the new one starts
	current, _ := strategy.SelectWriteShard(ctx, testKey)
	if current.ShardID != 100_000 {
		t.Errorf("current shard: want 100000, got %d", current.ShardID)
	}

	// age threshold
	clock.Set(time.UnixMilli(130_000 + time.Minute.Milliseconds()))
	created, _ = allocator.CheckShardAllocation(ctx, testKey)
	if !created {
		t.Fatal("old shard: want new shard")
	}
}

func TestCheckShardAllocation_ConcurrentRunsConverge(t *testing.T) {
	repo := newTestRepo(t)
	clock := utils.NewManualClock(time.UnixMilli(100_000))
	counts := &fixedCounts{counts: make(map[db.ShardKey]int64)}
	cfg := AllocatorConfig{MaxShardSize: 1, AdvanceTime: 0}
	ctx := context.Background()

	seed := NewStrategy(repo, clock)
	seed.CreateShard(ctx, testKey, 50_000)
	counts.set(testKey.ShardKey(50_000), 1)

	var wg sync.WaitGroup
	strategies := make([]*Strategy, 4)
	for i := range strategies {
		strategies[i] = NewStrategy(repo, clock)
		wg.Add(1)
		go func(s *Strategy) {
			defer wg.Done()
			NewAllocator(s, counts, clock, cfg).CheckShardAllocation(ctx, testKey)
		}(strategies[i])
	}
	wg.Wait()

	for _, s := range strategies {
		s.Refresh(ctx)
		current, err := s.SelectWriteShard(ctx, testKey)
		if err != nil {
			t.Fatal(err)
		}
		if current.ShardID != 100_000 {
			t.Errorf("all writers should converge on shard 100000, got %d", current.ShardID)
		}
	}
}
