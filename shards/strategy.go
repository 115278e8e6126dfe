package shards

import (
	"context"
	"sort"
	"sync"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

// Key identifies the shard set of one (queue, region, type) triple.
type Key struct {
	Queue  string
	Region string
	Type   common.MessageType
}

func (k Key) ShardKey(shardID int64) db.ShardKey {
	return db.ShardKey{
		Queue:   k.Queue,
		Region:  k.Region,
		Type:    k.Type,
		ShardID: shardID,
	}
}

func KeyOf(sk db.ShardKey) Key {
	return Key{Queue: sk.Queue, Region: sk.Region, Type: sk.Type}
}

type Store interface {
	UpsertShard(ctx context.Context, shard *db.Shard) error
	SelectShards(ctx context.Context, queue string, region string, msgType common.MessageType) ([]db.Shard, error)
	MarkShardDeleted(ctx context.Context, key db.ShardKey) error
}

// Strategy keeps a read-through cache of the live shards of every key it has seen.
// Shard ids are millisecond timestamps: readers go oldest first, writers
// use the newest shard whose id is not in the future.
type Strategy struct {
	store Store
	clock utils.Clock

	mu    sync.RWMutex
	cache map[Key][]db.Shard // ascending by shard id
}

func NewStrategy(store Store, clock utils.Clock) *Strategy {
	return &Strategy{
		store: store,
		clock: clock,
		cache: make(map[Key][]db.Shard),
	}
}

// Shards returns the live shards of key, oldest first.
func (s *Strategy) Shards(ctx context.Context, key Key) ([]db.Shard, error) {
	s.mu.RLock()
	shards, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return shards, nil
	}
	return s.load(ctx, key)
}

func (s *Strategy) load(ctx context.Context, key Key) ([]db.Shard, error) {
	shards, err := s.store.SelectShards(ctx, key.Queue, key.Region, key.Type)
	if err != nil {
		return nil, err
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].ShardID < shards[j].ShardID })

	s.mu.Lock()
	s.cache[key] = shards
	s.mu.Unlock()
	return shards, nil
}

// SelectWriteShard returns the shard new rows of key should go to,
// creating the very first shard of the key if there is none yet.
func (s *Strategy) SelectWriteShard(ctx context.Context, key Key) (db.Shard, error) {
	shards, err := s.Shards(ctx, key)
	if err != nil {
		return db.Shard{}, err
	}

	nowMs := s.clock.Now().UnixMilli()
	if shard, ok := currentShard(shards, nowMs); ok {
		return shard, nil
	}
	return s.CreateShard(ctx, key, nowMs)
}

// currentShard is the newest shard whose id is <= nowMs.
func currentShard(shards []db.Shard, nowMs int64) (db.Shard, bool) {
	for i := len(shards) - 1; i >= 0; i-- {
		if shards[i].ShardID <= nowMs {
			return shards[i], true
		}
	}
	return db.Shard{}, false
}

// IsCurrent reports whether shardID is the write shard of key right now.
func (s *Strategy) IsCurrent(ctx context.Context, key Key, shardID int64) (bool, error) {
	shards, err := s.Shards(ctx, key)
	if err != nil {
		return false, err
	}
	current, ok := currentShard(shards, s.clock.Now().UnixMilli())
	return ok && current.ShardID == shardID, nil
}

// CreateShard publishes a shard with the given id. Creating an existing id again
// only refreshes its metadata, so racing creators end up with the same shard.
func (s *Strategy) CreateShard(ctx context.Context, key Key, shardID int64) (db.Shard, error) {
	shard := db.Shard{
		Queue:     key.Queue,
		Region:    key.Region,
		Type:      key.Type,
		ShardID:   shardID,
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	if err := s.store.UpsertShard(ctx, &shard); err != nil {
		return db.Shard{}, err
	}
	log.Debug().Str("queue", key.Queue).Str("region", key.Region).Stringer("type", key.Type).Int64("shard_id", shardID).Msg("shard created")

	// reload rather than patch: another process may have created shards for this key too
	shards, err := s.load(ctx, key)
	if err != nil {
		return db.Shard{}, err
	}
	for _, sh := range shards {
		if sh.ShardID == shardID {
			return sh, nil
		}
	}
	// the id was deleted before, upsert never brings it back
	if current, ok := currentShard(shards, s.clock.Now().UnixMilli()); ok {
		return current, nil
	}
	return db.Shard{}, common.ErrInternal
}

// RemoveShard marks a drained shard deleted and drops it from the cache.
func (s *Strategy) RemoveShard(ctx context.Context, key db.ShardKey) error {
	if err := s.store.MarkShardDeleted(ctx, key); err != nil {
		return err
	}

	k := KeyOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.cache[k]
	if !ok {
		return nil
	}
	kept := make([]db.Shard, 0, len(cached))
	for _, sh := range cached {
		if sh.ShardID != key.ShardID {
			kept = append(kept, sh)
		}
	}
	s.cache[k] = kept
	return nil
}

// Refresh reloads every cached key from the store.
func (s *Strategy) Refresh(ctx context.Context) error {
	for _, key := range s.Keys() {
		if _, err := s.load(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.cache))
	for k := range s.cache {
		keys = append(keys, k)
	}
	return keys
}

// Forget drops every cached key of the queue.
func (s *Strategy) Forget(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if k.Queue == queue {
			delete(s.cache, k)
		}
	}
}
