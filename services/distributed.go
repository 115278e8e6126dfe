package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/counters"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/jobs/cleanup"
	"github.com/n0rdy/qakka/jobs/maintenance"
	jobsmetrics "github.com/n0rdy/qakka/jobs/metrics"
	"github.com/n0rdy/qakka/metrics"
	"github.com/n0rdy/qakka/payloads"
	"github.com/n0rdy/qakka/shards"
	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

const (
	defaultTransfersLimit = 100
	maxTransfersLimit     = 1000
)

// DistributedQueueService is the entry point of the engine: it wires the queue registry,
// the message manager, the shard allocator, the counters and the background jobs together.
type DistributedQueueService struct {
	store      db.Store
	payloads   payloads.Store
	queues     *QueuesService
	strategy   *shards.Strategy
	allocator  *shards.Allocator
	counter    *counters.Counter[db.ShardKey]
	manager    *QueueMessageManager
	timeouts   *TimeoutProcessor
	metrics    metrics.Service
	appConfigs *configs.AppConfigs
	clock      utils.Clock

	mu          sync.Mutex
	jobs        []io.Closer
	initialized bool
	shutDown    bool
}

func NewDistributedQueueService(
	store db.Store,
	payloadStore payloads.Store,
	metricsService metrics.Service,
	appConfigs *configs.AppConfigs,
	clock utils.Clock,
) *DistributedQueueService {
	if clock == nil {
		clock = utils.SystemClock
	}

	counter := counters.NewCounter[db.ShardKey](store, counters.Config{
		FlushInterval:  time.Duration(appConfigs.Counters.FlushIntervalMs) * time.Millisecond,
		MaxInvocations: appConfigs.Counters.MaxInMemory,
		WriteTimeout:   time.Duration(appConfigs.Counters.WriteTimeoutMs) * time.Millisecond,
		OnFlush:        metricsService.ObserveCounterFlush,
	}, clock)

	strategy := shards.NewStrategy(store, clock)
	allocator := shards.NewAllocator(strategy, counter, clock, shards.AllocatorConfig{
		MaxShardSize: appConfigs.Shards.MaxSize,
		MaxShardAge:  time.Duration(appConfigs.Shards.MaxAgeMs) * time.Millisecond,
		AdvanceTime:  time.Duration(appConfigs.Shards.AllocationAdvanceTimeMs) * time.Millisecond,
	})

	queues := NewQueuesService(store, appConfigs, clock)
	manager := NewQueueMessageManager(store, payloadStore, queues, strategy, counter, metricsService, appConfigs, clock)

	return &DistributedQueueService{
		store:      store,
		payloads:   payloadStore,
		queues:     queues,
		strategy:   strategy,
		allocator:  allocator,
		counter:    counter,
		manager:    manager,
		timeouts:   NewTimeoutProcessor(manager),
		metrics:    metricsService,
		appConfigs: appConfigs,
		clock:      clock,
	}
}

// Init loads the queue registry and starts the background jobs.
// Once it succeeded further calls are no-ops. A failed Init can be retried; an Init after Shutdown fails.
func (dqs *DistributedQueueService) Init(ctx context.Context) error {
	dqs.mu.Lock()
	defer dqs.mu.Unlock()

	if dqs.shutDown {
		return common.ErrServiceShutDown
	}
	if dqs.initialized {
		return nil
	}
	if err := dqs.queues.Refresh(ctx); err != nil {
		return err
	}

	jobsIntervals := dqs.appConfigs.JobsIntervals
	dqs.jobs = append(dqs.jobs,
		cleanup.NewStaleLeasesCleanupJob(dqs, jobsIntervals.TimeoutsMs),
		maintenance.NewShardAllocationJob(dqs, dqs.appConfigs.Shards.AllocationCheckIntervalMs),
		maintenance.NewCountersFlushJob(dqs, dqs.appConfigs.Counters.FlushIntervalMs, dqs.appConfigs.Counters.WriteTimeoutMs),
		// shard metadata is always cached, so the refresh runs even with the read buffers disabled
		maintenance.NewRefreshJob(dqs, dqs.appConfigs.Cache.RefreshIntervalMs),
	)
	if dqs.appConfigs.Metrics.Enabled {
		dqs.jobs = append(dqs.jobs, jobsmetrics.NewQueuesDepthMetricsJob(dqs.metrics, dqs, jobsIntervals.QueueDepthMetricsMs))
	}
	dqs.initialized = true
	log.Info().Str("region", dqs.appConfigs.LocalRegion).Int("jobs", len(dqs.jobs)).Msg("queue service initialized")
	return nil
}

// Shutdown stops the background jobs, waits for runs in progress and flushes the counters.
// Calling it more than once is fine.
func (dqs *DistributedQueueService) Shutdown(ctx context.Context) error {
	dqs.mu.Lock()
	if dqs.shutDown {
		dqs.mu.Unlock()
		return nil
	}
	dqs.shutDown = true
	jobs := dqs.jobs
	dqs.jobs = nil
	dqs.mu.Unlock()

	for _, job := range jobs {
		job.Close()
	}
	err := dqs.counter.Close(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to flush counters on shutdown")
	}
	log.Info().Msg("queue service shut down")
	return err
}

// Refresh reloads queue configurations and shard metadata and drops the read buffers.
func (dqs *DistributedQueueService) Refresh(ctx context.Context) error {
	dqs.manager.refresh()
	return errors.Join(
		dqs.queues.Refresh(ctx),
		dqs.strategy.Refresh(ctx),
	)
}

func (dqs *DistributedQueueService) ProcessTimeouts(ctx context.Context) (int, error) {
	return dqs.timeouts.ProcessTimeouts(ctx)
}

// CheckShardAllocations runs the allocator for every (queue, region, type) the engine writes to
// and returns the number of shards created.
func (dqs *DistributedQueueService) CheckShardAllocations(ctx context.Context) (int, error) {
	queues, err := dqs.queues.ListQueues(ctx)
	if err != nil {
		return 0, err
	}

	allocated := 0
	var errs []error
	for _, queue := range queues {
		for _, region := range queue.Regions {
			for _, msgType := range common.MessageTypes {
				key := shards.Key{Queue: queue.Name, Region: region, Type: msgType}
				created, err := dqs.allocator.CheckShardAllocation(ctx, key)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if created {
					allocated++
					dqs.metrics.IncShardsAllocatedTotal(queue.Name, msgType.String())
				}
			}
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return allocated, errors.Join(errs...)
}

func (dqs *DistributedQueueService) FlushCounters(ctx context.Context) error {
	return dqs.counter.Flush(ctx)
}

// QueueDepths reports the approximate depth of every queue in the local region.
func (dqs *DistributedQueueService) QueueDepths(ctx context.Context) ([]common.QueueDepth, error) {
	queues, err := dqs.queues.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	depths := make([]common.QueueDepth, 0, len(queues))
	for _, queue := range queues {
		available, err := dqs.manager.GetQueueDepth(ctx, queue.Name, common.MessageTypeDefault)
		if err != nil {
			return depths, err
		}
		inflight, err := dqs.manager.GetQueueDepth(ctx, queue.Name, common.MessageTypeInflight)
		if err != nil {
			return depths, err
		}
		depths = append(depths, common.QueueDepth{
			QueueName: queue.Name,
			Available: available,
			Inflight:  inflight,
		})
	}
	return depths, nil
}

func (dqs *DistributedQueueService) CreateQueue(ctx context.Context, queue common.Queue) (*common.Queue, error) {
	return dqs.queues.CreateQueue(ctx, queue)
}

func (dqs *DistributedQueueService) UpdateQueue(ctx context.Context, queue common.Queue) (*common.Queue, error) {
	return dqs.queues.UpdateQueue(ctx, queue)
}

func (dqs *DistributedQueueService) GetQueue(ctx context.Context, name string) (*common.Queue, error) {
	return dqs.queues.GetQueue(ctx, name)
}

func (dqs *DistributedQueueService) ListQueues(ctx context.Context) ([]common.Queue, error) {
	return dqs.queues.ListQueues(ctx)
}

// DeleteQueue removes a queue that holds no messages, clearing its in-memory state too.
func (dqs *DistributedQueueService) DeleteQueue(ctx context.Context, name string) error {
	if _, err := dqs.queues.GetQueue(ctx, name); err != nil {
		return err
	}
	count, err := dqs.store.CountQueueMessages(ctx, name)
	if err != nil {
		return err
	}
	if count > 0 {
		return common.ErrQueueNotEmpty
	}

	if err := dqs.manager.forgetQueue(ctx, name); err != nil {
		return err
	}
	return dqs.queues.DeleteQueue(ctx, name)
}

func (dqs *DistributedQueueService) SendMessages(ctx context.Context, req common.SendMessagesRequest) (string, error) {
	return dqs.manager.SendMessages(ctx, req)
}

func (dqs *DistributedQueueService) GetNextMessages(ctx context.Context, queueName string, count int) ([]common.QueueMessage, error) {
	return dqs.manager.GetNextMessages(ctx, queueName, count)
}

func (dqs *DistributedQueueService) FetchMessages(ctx context.Context, queueName string, count int, wait time.Duration) ([]common.QueueMessage, error) {
	return dqs.manager.FetchMessages(ctx, queueName, count, wait)
}

func (dqs *DistributedQueueService) AckMessage(ctx context.Context, queueName string, queueMessageID string) error {
	return dqs.manager.AckMessage(ctx, queueName, queueMessageID)
}

func (dqs *DistributedQueueService) RequeueMessage(ctx context.Context, queueName string, queueMessageID string, delayMs int64) error {
	return dqs.manager.RequeueMessage(ctx, queueName, queueMessageID, delayMs)
}

func (dqs *DistributedQueueService) ClearMessages(ctx context.Context, queueName string) error {
	return dqs.manager.ClearMessages(ctx, queueName)
}

func (dqs *DistributedQueueService) GetQueueDepth(ctx context.Context, queueName string, msgType common.MessageType) (int64, error) {
	return dqs.manager.GetQueueDepth(ctx, queueName, msgType)
}

func (dqs *DistributedQueueService) GetMessageData(ctx context.Context, queueName string, messageID string) ([]byte, string, error) {
	return dqs.manager.GetMessageData(ctx, queueName, messageID)
}

func (dqs *DistributedQueueService) PutMessageData(ctx context.Context, queueName string, messageID string, data []byte) error {
	return dqs.manager.PutMessageData(ctx, queueName, messageID, data)
}

// GetAuditLog returns the lifecycle of a message in the order it happened.
func (dqs *DistributedQueueService) GetAuditLog(ctx context.Context, messageID string) ([]common.AuditLogEntry, error) {
	rows, err := dqs.store.SelectAuditLog(ctx, messageID)
	if err != nil {
		return nil, err
	}

	entries := make([]common.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, common.AuditLogEntry{
			ID:             row.ID,
			QueueName:      row.Queue,
			Region:         row.Region,
			MessageID:      row.MessageID,
			QueueMessageID: row.QueueMessageID,
			Action:         row.Action,
			CreatedAt:      row.CreatedAt,
		})
	}
	return entries, nil
}

// ListTransfers returns the newest cross-region sends, of one queue or of all queues if queueName is empty.
func (dqs *DistributedQueueService) ListTransfers(ctx context.Context, queueName string, limit int) ([]common.Transfer, error) {
	if limit <= 0 {
		limit = defaultTransfersLimit
	}
	if limit > maxTransfersLimit {
		limit = maxTransfersLimit
	}

	rows, err := dqs.store.SelectTransferLog(ctx, queueName, limit)
	if err != nil {
		return nil, err
	}

	transfers := make([]common.Transfer, 0, len(rows))
	for _, row := range rows {
		transfers = append(transfers, common.Transfer{
			QueueName:    row.Queue,
			SourceRegion: row.SourceRegion,
			DestRegion:   row.DestRegion,
			MessageID:    row.MessageID,
			CreatedAt:    row.CreatedAt,
		})
	}
	return transfers, nil
}
