package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/metrics"
	"github.com/n0rdy/qakka/payloads"
	"github.com/n0rdy/qakka/utils"
)

var (
	testStart = time.UnixMilli(1_700_000_000_000)

	errPayloadWrite    = errors.New("payload write refused")
	errSelectAllQueues = errors.New("queues unreadable")
)

type testEnv struct {
	dqs      *DistributedQueueService
	repo     *db.SQLiteRepo
	payloads *flakyPayloads
	clock    *utils.ManualClock
	cfg      *configs.AppConfigs
}

func newTestEnv(t *testing.T, mutate func(cfg *configs.AppConfigs)) *testEnv {
	t.Helper()

	cfg := configs.NewAppConfig()
	cfg.Regions = []string{"us-east", "eu-west"}
	cfg.QueueDefaults.LongPollTickMs = 10
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	dir := t.TempDir()
	repo, err := db.NewSQLiteRepo(filepath.Join(dir, "qakka.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepo: %v", err)
	}
	boltStore, err := payloads.OpenBoltStore(filepath.Join(dir, "payloads.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	fp := &flakyPayloads{Store: boltStore}

	clock := utils.NewManualClock(testStart)
	dqs := NewDistributedQueueService(repo, fp, metrics.NewMetricsService(false, nil), cfg, clock)

	t.Cleanup(func() {
		dqs.Shutdown(context.Background())
		boltStore.Close()
		repo.Close()
	})

	return &testEnv{
		dqs:      dqs,
		repo:     repo,
		payloads: fp,
		clock:    clock,
		cfg:      cfg,
	}
}

func (env *testEnv) createQueue(t *testing.T, queue common.Queue) *common.Queue {
	t.Helper()
	created, err := env.dqs.CreateQueue(context.Background(), queue)
	if err != nil {
		t.Fatalf("CreateQueue(%s): %v", queue.Name, err)
	}
	return created
}

func (env *testEnv) send(t *testing.T, queue string, data string) string {
	t.Helper()
	messageID, err := env.dqs.SendMessages(context.Background(), common.SendMessagesRequest{
		QueueName: queue,
		Data:      []byte(data),
	})
	if err != nil {
		t.Fatalf("SendMessages(%s): %v", queue, err)
	}
	return messageID
}

func (env *testEnv) get(t *testing.T, queue string, count int) []common.QueueMessage {
	t.Helper()
	messages, err := env.dqs.GetNextMessages(context.Background(), queue, count)
	if err != nil {
		t.Fatalf("GetNextMessages(%s): %v", queue, err)
	}
	return messages
}

func (env *testEnv) depth(t *testing.T, queue string, msgType common.MessageType) int64 {
	t.Helper()
	depth, err := env.dqs.GetQueueDepth(context.Background(), queue, msgType)
	if err != nil {
		t.Fatalf("GetQueueDepth(%s, %s): %v", queue, msgType, err)
	}
	return depth
}

func (env *testEnv) auditActions(t *testing.T, messageID string) []string {
	t.Helper()
	entries, err := env.dqs.GetAuditLog(context.Background(), messageID)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// flakyPayloads refuses every second Put while failOddPuts is set, and every Put while failAllPuts is set.
type flakyPayloads struct {
	payloads.Store

	mu          sync.Mutex
	failOddPuts bool
	failAllPuts bool
	puts        int
}

func (fp *flakyPayloads) Put(messageID string, data []byte) error {
	fp.mu.Lock()
	idx := fp.puts
	fp.puts++
	fail := fp.failAllPuts || (fp.failOddPuts && idx%2 == 1)
	fp.mu.Unlock()

	if fail {
		return errPayloadWrite
	}
	return fp.Store.Put(messageID, data)
}

func (fp *flakyPayloads) setFailOddPuts(fail bool) {
	fp.mu.Lock()
	fp.failOddPuts = fail
	fp.puts = 0
	fp.mu.Unlock()
}

func (fp *flakyPayloads) setFailOnAllPuts(fail bool) {
	fp.mu.Lock()
	fp.failAllPuts = fail
	fp.mu.Unlock()
}

// recordingStore counts shard cleanups and can fail the queue registry load.
type recordingStore struct {
	db.Store

	mu                  sync.Mutex
	failSelectAllQueues bool
	deleteShardsCalls   int
	deleteCounterCalls  int
}

func (rs *recordingStore) SelectAllQueues(ctx context.Context) ([]common.Queue, error) {
	rs.mu.Lock()
	fail := rs.failSelectAllQueues
	rs.mu.Unlock()
	if fail {
		return nil, errSelectAllQueues
	}
	return rs.Store.SelectAllQueues(ctx)
}

func (rs *recordingStore) DeleteShards(ctx context.Context, queue string) error {
	rs.mu.Lock()
	rs.deleteShardsCalls++
	rs.mu.Unlock()
	return rs.Store.DeleteShards(ctx, queue)
}

func (rs *recordingStore) DeleteShardCounters(ctx context.Context, queue string) error {
	rs.mu.Lock()
	rs.deleteCounterCalls++
	rs.mu.Unlock()
	return rs.Store.DeleteShardCounters(ctx, queue)
}

func (rs *recordingStore) setFailSelectAllQueues(fail bool) {
	rs.mu.Lock()
	rs.failSelectAllQueues = fail
	rs.mu.Unlock()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
