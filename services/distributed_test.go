package services

import (
	"context"
	"errors"
	"testing"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/metrics"
)

func TestInitAndShutdown_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.dqs.Init(ctx); err != nil {
			t.Fatalf("Init #%d: %v", i+1, err)
		}
	}
	env.createQueue(t, common.Queue{Name: "orders"})
	env.send(t, "orders", `{}`)

	for i := 0; i < 2; i++ {
		if err := env.dqs.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown #%d: %v", i+1, err)
		}
	}

	// the final flush made the counters durable
	shards, err := env.repo.SelectShards(ctx, "orders", "us-east", common.MessageTypeDefault)
	if err != nil || len(shards) != 1 {
		t.Fatalf("want one shard, got %v (%v)", shards, err)
	}
	count, err := env.repo.ReadCount(ctx, shards[0].Key())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("durable count after shutdown: want 1, got %d", count)
	}
}

func TestInit_RetriedAfterFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	store := &recordingStore{Store: env.repo, failSelectAllQueues: true}
	dqs := NewDistributedQueueService(store, env.payloads, metrics.NewMetricsService(false, nil), env.cfg, env.clock)
	t.Cleanup(func() { dqs.Shutdown(context.Background()) })

	if err := dqs.Init(ctx); !errors.Is(err, errSelectAllQueues) {
		t.Fatalf("Init: want the store error, got %v", err)
	}
	if n := jobsCount(dqs); n != 0 {
		t.Fatalf("a failed Init starts no jobs, got %d", n)
	}

	store.setFailSelectAllQueues(false)
	if err := dqs.Init(ctx); err != nil {
		t.Fatalf("retried Init: %v", err)
	}
	if n := jobsCount(dqs); n == 0 {
		t.Fatal("a retried Init starts the jobs")
	}
}

func TestInit_AfterShutdownFails(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.dqs.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := env.dqs.Init(ctx); !errors.Is(err, common.ErrServiceShutDown) {
		t.Fatalf("Init after Shutdown: want ErrServiceShutDown, got %v", err)
	}
	if n := jobsCount(env.dqs); n != 0 {
		t.Errorf("no jobs may outlive the shutdown, got %d", n)
	}
}

func jobsCount(dqs *DistributedQueueService) int {
	dqs.mu.Lock()
	defer dqs.mu.Unlock()
	return len(dqs.jobs)
}

func TestRefresh_PicksUpChangesOfOtherProcesses(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// a second engine sharing the same store
	other := NewDistributedQueueService(env.repo, env.payloads, metrics.NewMetricsService(false, nil), env.cfg, env.clock)
	t.Cleanup(func() { other.Shutdown(context.Background()) })

	env.createQueue(t, common.Queue{Name: "orders"})
	if _, err := other.GetQueue(ctx, "orders"); err != nil {
		t.Fatalf("unknown queues are read through: %v", err)
	}

	if _, err := env.dqs.UpdateQueue(ctx, common.Queue{Name: "orders", RetryCount: 9}); err != nil {
		t.Fatal(err)
	}
	if err := other.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	queue, err := other.GetQueue(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if queue.RetryCount != 9 {
		t.Errorf("RetryCount after refresh: want 9, got %d", queue.RetryCount)
	}

	// a message sent by one engine is leased by the other
	messageID := env.send(t, "orders", `{}`)
	leased, err := other.GetNextMessages(ctx, "orders", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(leased) != 1 || leased[0].MessageID != messageID {
		t.Errorf("want the message sent by the other engine, got %+v", leased)
	}
}

func TestCheckShardAllocations_PreAllocatesEveryKey(t *testing.T) {
	env := newTestEnv(t, func(cfg *configs.AppConfigs) {
		cfg.Shards.MaxSize = 2
	})
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "events", Regions: []string{"us-east", "eu-west"}})

	// first pass creates a shard for every (queue, region, type): events and events_DLQ, 2 regions, 2 types
	allocated, err := env.dqs.CheckShardAllocations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if allocated != 8 {
		t.Errorf("first pass: want 8 shards, got %d", allocated)
	}

	allocated, err = env.dqs.CheckShardAllocations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if allocated != 0 {
		t.Errorf("nothing to do on an idle engine, got %d", allocated)
	}

	env.send(t, "events", `1`)
	env.send(t, "events", `2`)
	allocated, err = env.dqs.CheckShardAllocations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if allocated != 1 {
		t.Errorf("the full local DEFAULT shard gets a successor, got %d", allocated)
	}
}

func TestQueueDepths(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createQueue(t, common.Queue{Name: "orders"})
	env.send(t, "orders", `1`)
	env.send(t, "orders", `2`)
	env.get(t, "orders", 1)

	depths, err := env.dqs.QueueDepths(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	byName := make(map[string]common.QueueDepth)
	for _, d := range depths {
		byName[d.QueueName] = d
	}
	if got := byName["orders"]; got.Available != 1 || got.Inflight != 1 {
		t.Errorf("orders depth: want 1 available and 1 inflight, got %+v", got)
	}
	if got, ok := byName["orders_DLQ"]; !ok || got.Available != 0 {
		t.Errorf("orders_DLQ depth: want reported and empty, got %+v", got)
	}
}
