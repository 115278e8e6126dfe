package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/metrics"
)

func TestCreateQueue_Defaults(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	queue := env.createQueue(t, common.Queue{Name: "orders", RetryCount: 2})
	if queue.Type != common.RegularQueueType {
		t.Errorf("Type: want %s, got %s", common.RegularQueueType, queue.Type)
	}
	if !equalStrings(queue.Regions, []string{"us-east"}) || !equalStrings(queue.DefaultDestinations, []string{"us-east"}) {
		t.Errorf("regions default to the local one, got %v / %v", queue.Regions, queue.DefaultDestinations)
	}
	if queue.HandlingTimeoutMs != env.cfg.QueueDefaults.HandlingTimeoutMs {
		t.Errorf("HandlingTimeoutMs: want default, got %d", queue.HandlingTimeoutMs)
	}
	if queue.DeadLetterQueue != "orders_DLQ" {
		t.Errorf("DeadLetterQueue: want orders_DLQ, got %s", queue.DeadLetterQueue)
	}

	dlq, err := env.dqs.GetQueue(ctx, "orders_DLQ")
	if err != nil {
		t.Fatalf("dead-letter queue should be created along: %v", err)
	}
	if !dlq.IsDeadLetterQueue() || dlq.DeadLetterQueue != "" || dlq.RetryCount != 0 {
		t.Errorf("dead-letter queue is terminal, got %+v", dlq)
	}

	if _, err := env.dqs.CreateQueue(ctx, common.Queue{Name: "orders"}); !errors.Is(err, common.ErrQueueExists) {
		t.Errorf("duplicate: want ErrQueueExists, got %v", err)
	}
}

func TestCreateQueue_Rejects(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		queue common.Queue
		want  error
	}{
		{"empty name", common.Queue{}, common.ErrBadRequestQueueName},
		{"bad characters", common.Queue{Name: "a b"}, common.ErrBadRequestQueueName},
		{"unknown region", common.Queue{Name: "q1", Regions: []string{"mars"}}, common.ErrBadRequestRegion},
		{"destination outside regions", common.Queue{Name: "q2", Regions: []string{"us-east"}, DefaultDestinations: []string{"eu-west"}}, common.ErrBadRequestRegion},
		{"negative retries", common.Queue{Name: "q3", RetryCount: -1}, common.ErrBadRequestInvalidBody},
		{"unknown type", common.Queue{Name: "q4", Type: "priority"}, common.ErrBadRequestInvalidBody},
		{"self dead-letter", common.Queue{Name: "q5", DeadLetterQueue: "q5"}, common.ErrBadRequestQueueName},
		{"name too long for its dead-letter queue", common.Queue{Name: strings.Repeat("a", 117)}, common.ErrBadRequestQueueName},
		{"dead-letter queue name too long", common.Queue{Name: strings.Repeat("d", 121), Type: common.DeadLetterQueueType}, common.ErrBadRequestQueueName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.dqs.CreateQueue(ctx, tt.queue); !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateQueue_RemoteOnlyDefaultsToItsRegions(t *testing.T) {
	env := newTestEnv(t, nil)

	queue := env.createQueue(t, common.Queue{Name: "eu_only", Regions: []string{"eu-west"}})
	if !equalStrings(queue.DefaultDestinations, []string{"eu-west"}) {
		t.Errorf("DefaultDestinations: want [eu-west], got %v", queue.DefaultDestinations)
	}
}

func TestUpdateQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	created := env.createQueue(t, common.Queue{Name: "orders"})

	updated, err := env.dqs.UpdateQueue(ctx, common.Queue{
		Name:              "orders",
		Type:              common.DeadLetterQueueType, // immutable, ignored
		Regions:           []string{"us-east", "eu-west"},
		HandlingTimeoutMs: 5000,
		RetryCount:        7,
	})
	if err != nil {
		t.Fatalf("UpdateQueue: %v", err)
	}
	if updated.Type != common.RegularQueueType {
		t.Errorf("Type must not change, got %s", updated.Type)
	}
	if updated.DeadLetterQueue != created.DeadLetterQueue {
		t.Errorf("DeadLetterQueue: want %s kept, got %s", created.DeadLetterQueue, updated.DeadLetterQueue)
	}

	got, err := env.repo.SelectQueue(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if got.HandlingTimeoutMs != 5000 || got.RetryCount != 7 || len(got.Regions) != 2 {
		t.Errorf("stored queue not updated: %+v", got)
	}

	if _, err := env.dqs.UpdateQueue(ctx, common.Queue{Name: "nope"}); !errors.Is(err, common.ErrUnknownQueue) {
		t.Errorf("unknown queue: want ErrUnknownQueue, got %v", err)
	}
}

func TestDeleteQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders"})
	env.send(t, "orders", `{}`)

	if err := env.dqs.DeleteQueue(ctx, "orders"); !errors.Is(err, common.ErrQueueNotEmpty) {
		t.Fatalf("want ErrQueueNotEmpty, got %v", err)
	}

	if err := env.dqs.ClearMessages(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	if err := env.dqs.DeleteQueue(ctx, "orders"); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if _, err := env.dqs.GetQueue(ctx, "orders"); !errors.Is(err, common.ErrUnknownQueue) {
		t.Errorf("deleted queue: want ErrUnknownQueue, got %v", err)
	}
	if err := env.dqs.DeleteQueue(ctx, "orders"); !errors.Is(err, common.ErrUnknownQueue) {
		t.Errorf("second delete: want ErrUnknownQueue, got %v", err)
	}

	// the dead-letter queue has its own lifecycle
	if _, err := env.dqs.GetQueue(ctx, "orders_DLQ"); err != nil {
		t.Errorf("dead-letter queue should survive: %v", err)
	}
}

func TestCreateQueue_LongestNames(t *testing.T) {
	env := newTestEnv(t, nil)

	name := strings.Repeat("a", 116)
	queue := env.createQueue(t, common.Queue{Name: name})
	if len(queue.DeadLetterQueue) != 120 {
		t.Errorf("default dead-letter queue name: want 120 characters, got %d", len(queue.DeadLetterQueue))
	}
	if _, err := env.dqs.GetQueue(context.Background(), queue.DeadLetterQueue); err != nil {
		t.Errorf("dead-letter queue should be created: %v", err)
	}

	env.createQueue(t, common.Queue{Name: strings.Repeat("d", 120), Type: common.DeadLetterQueueType})
}

func TestDeleteQueue_DropsShardsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	store := &recordingStore{Store: env.repo}
	dqs := NewDistributedQueueService(store, env.payloads, metrics.NewMetricsService(false, nil), env.cfg, env.clock)
	t.Cleanup(func() { dqs.Shutdown(context.Background()) })

	if _, err := dqs.CreateQueue(ctx, common.Queue{Name: "orders"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dqs.SendMessages(ctx, common.SendMessagesRequest{QueueName: "orders", Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	leased, err := dqs.GetNextMessages(ctx, "orders", 1)
	if err != nil || len(leased) != 1 {
		t.Fatalf("GetNextMessages: %v (%d)", err, len(leased))
	}
	if err := dqs.AckMessage(ctx, "orders", leased[0].QueueMessageID); err != nil {
		t.Fatal(err)
	}

	if err := dqs.DeleteQueue(ctx, "orders"); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if store.deleteShardsCalls != 1 || store.deleteCounterCalls != 1 {
		t.Errorf("shards and counters are dropped once: got %d and %d calls", store.deleteShardsCalls, store.deleteCounterCalls)
	}
	for _, msgType := range common.MessageTypes {
		shards, err := env.repo.SelectShards(ctx, "orders", env.cfg.LocalRegion, msgType)
		if err != nil {
			t.Fatal(err)
		}
		if len(shards) != 0 {
			t.Errorf("%s shards left after delete: %d", msgType, len(shards))
		}
	}
}
