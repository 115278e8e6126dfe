package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/n0rdy/qakka/common"
)

func TestProcessTimeouts_RetriesThenDeadLetters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders", RetryCount: 3, HandlingTimeoutMs: 1000})
	messageID := env.send(t, "orders", `{}`)

	var seenRetries []int
	for attempt := 0; attempt < 3; attempt++ {
		leased := env.get(t, "orders", 1)
		if len(leased) != 1 {
			t.Fatalf("attempt %d: want the message back in its queue, got %d", attempt, len(leased))
		}
		seenRetries = append(seenRetries, leased[0].Retries)

		env.clock.Advance(1001 * time.Millisecond)
		reclaimed, err := env.dqs.ProcessTimeouts(ctx)
		if err != nil {
			t.Fatalf("ProcessTimeouts: %v", err)
		}
		if reclaimed != 1 {
			t.Fatalf("attempt %d: want 1 reclaimed lease, got %d", attempt, reclaimed)
		}
	}

	for i := 1; i < len(seenRetries); i++ {
		if seenRetries[i] != seenRetries[i-1]+1 {
			t.Errorf("retries must grow by one per timeout, got %v", seenRetries)
		}
	}

	if got := env.get(t, "orders", 1); len(got) != 0 {
		t.Errorf("the message ran out of retries and must leave its queue, got %d", len(got))
	}
	dead := env.get(t, "orders_DLQ", 1)
	if len(dead) != 1 || dead[0].MessageID != messageID {
		t.Fatalf("want the message in the dead-letter queue, got %+v", dead)
	}
	if dead[0].Retries != 3 {
		t.Errorf("dead-lettered message retries: want 3, got %d", dead[0].Retries)
	}

	actions := env.auditActions(t, messageID)
	want := []string{
		common.SentAuditAction,
		common.LeasedAuditAction, common.TimedOutAuditAction,
		common.LeasedAuditAction, common.TimedOutAuditAction,
		common.LeasedAuditAction, common.DeadLetteredAuditAction,
		common.LeasedAuditAction,
	}
	if !equalStrings(actions, want) {
		t.Errorf("audit log:\nwant %v\ngot  %v", want, actions)
	}
}

func TestProcessTimeouts_ZeroRetryCountNeverDeadLetters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders", HandlingTimeoutMs: 1000})
	if _, err := env.dqs.UpdateQueue(ctx, common.Queue{Name: "orders", HandlingTimeoutMs: 1000, RetryCount: 0}); err != nil {
		t.Fatal(err)
	}

	env.send(t, "orders", `{}`)
	for attempt := 0; attempt < 8; attempt++ {
		if len(env.get(t, "orders", 1)) != 1 {
			t.Fatalf("attempt %d: message should stay in its queue", attempt)
		}
		env.clock.Advance(1001 * time.Millisecond)
		if _, err := env.dqs.ProcessTimeouts(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := env.depth(t, "orders_DLQ", common.MessageTypeDefault); got != 0 {
		t.Errorf("dead-letter queue should be empty, got %d", got)
	}
}

func TestProcessTimeouts_LeavesLiveLeasesAlone(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders", HandlingTimeoutMs: 1000})
	env.send(t, "orders", `{}`)
	leased := env.get(t, "orders", 1)[0]

	// exactly at the deadline the lease is still valid
	env.clock.Advance(1000 * time.Millisecond)
	reclaimed, err := env.dqs.ProcessTimeouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 0 {
		t.Errorf("want no reclaimed leases, got %d", reclaimed)
	}
	if err := env.dqs.AckMessage(ctx, "orders", leased.QueueMessageID); err != nil {
		t.Errorf("ack at the deadline: %v", err)
	}
}

func TestAckAndTimeout_ExactlyOneWins(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders", HandlingTimeoutMs: 1000})

	const total = 30
	for i := 0; i < total; i++ {
		env.send(t, "orders", `{}`)
	}
	leased := env.get(t, "orders", total)
	if len(leased) != total {
		t.Fatalf("want %d leases, got %d", total, len(leased))
	}

	// the lease is checked first, then the clock moves past the deadline while acks are in flight
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		acked     int
		reclaimed int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, m := range leased {
			err := env.dqs.AckMessage(ctx, "orders", m.QueueMessageID)
			switch {
			case err == nil:
				mu.Lock()
				acked++
				mu.Unlock()
			case errors.Is(err, common.ErrStaleLease):
			default:
				t.Errorf("AckMessage: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		env.clock.Advance(1001 * time.Millisecond)
		n, err := env.dqs.ProcessTimeouts(ctx)
		if err != nil {
			t.Errorf("ProcessTimeouts: %v", err)
		}
		mu.Lock()
		reclaimed = n
		mu.Unlock()
	}()
	wg.Wait()

	if acked+reclaimed != total {
		t.Errorf("every lease ends exactly once: acked %d + reclaimed %d != %d", acked, reclaimed, total)
	}
	back := env.get(t, "orders", total)
	if len(back) != reclaimed {
		t.Errorf("reclaimed messages are available again: want %d, got %d", reclaimed, len(back))
	}
}

func TestProcessTimeouts_UnackedLeasesGoStale(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createQueue(t, common.Queue{Name: "orders", RetryCount: 5, HandlingTimeoutMs: 10_000})

	for i := 0; i < 40; i++ {
		env.send(t, "orders", `{}`)
	}
	leased := env.get(t, "orders", 40)
	if len(leased) != 40 {
		t.Fatalf("want 40 leases, got %d", len(leased))
	}
	for _, m := range leased[:20] {
		if err := env.dqs.AckMessage(ctx, "orders", m.QueueMessageID); err != nil {
			t.Fatalf("AckMessage: %v", err)
		}
	}

	env.clock.Advance(20 * time.Second)
	reclaimed, err := env.dqs.ProcessTimeouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 20 {
		t.Errorf("want 20 reclaimed leases, got %d", reclaimed)
	}

	for _, m := range leased[20:] {
		if err := env.dqs.AckMessage(ctx, "orders", m.QueueMessageID); !errors.Is(err, common.ErrStaleLease) {
			t.Errorf("ack after timeout: want ErrStaleLease, got %v", err)
		}
	}
	if got := env.depth(t, "orders", common.MessageTypeDefault); got != 20 {
		t.Errorf("available depth: want 20, got %d", got)
	}
}
