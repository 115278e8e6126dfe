package services

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

const maxQueueNameLen = 120

var queueNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validQueueName(name string, maxLen int) bool {
	return len(name) <= maxLen && queueNameRegex.MatchString(name)
}

type QueuesService struct {
	store      db.Store
	appConfigs *configs.AppConfigs
	clock      utils.Clock

	mu    sync.RWMutex
	cache map[string]common.Queue
}

func NewQueuesService(store db.Store, appConfigs *configs.AppConfigs, clock utils.Clock) *QueuesService {
	return &QueuesService{
		store:      store,
		appConfigs: appConfigs,
		clock:      clock,
		cache:      make(map[string]common.Queue),
	}
}

// CreateQueue registers a queue. A regular queue also gets its dead-letter queue
// (named <name>_DLQ unless set) registered, if it doesn't exist yet.
func (qs *QueuesService) CreateQueue(ctx context.Context, queue common.Queue) (*common.Queue, error) {
	if err := qs.applyDefaults(&queue); err != nil {
		return nil, err
	}

	nowMs := qs.clock.Now().UnixMilli()
	queue.CreatedAt = nowMs
	queue.UpdatedAt = nowMs

	if err := qs.store.InsertQueue(ctx, &queue); err != nil {
		return nil, err
	}
	qs.put(queue)
	log.Info().Str("queue", queue.Name).Str("type", queue.Type).Strs("regions", queue.Regions).Msg("queue created")

	if queue.IsDeadLetterQueue() || queue.DeadLetterQueue == "" {
		return &queue, nil
	}

	dlq := common.Queue{
		Name:                queue.DeadLetterQueue,
		Type:                common.DeadLetterQueueType,
		Regions:             queue.Regions,
		DefaultDestinations: queue.DefaultDestinations,
		RetryCount:          0,
		HandlingTimeoutMs:   queue.HandlingTimeoutMs,
		CreatedAt:           nowMs,
		UpdatedAt:           nowMs,
	}
	err := qs.store.InsertQueue(ctx, &dlq)
	switch {
	case err == nil:
		qs.put(dlq)
		log.Info().Str("queue", dlq.Name).Str("source_queue", queue.Name).Msg("dead-letter queue created")
	case errors.Is(err, common.ErrQueueExists):
		// shared or pre-created DLQ
	default:
		return nil, err
	}
	return &queue, nil
}

func (qs *QueuesService) applyDefaults(queue *common.Queue) error {
	if queue.Type == "" {
		queue.Type = common.RegularQueueType
	}
	if queue.Type != common.RegularQueueType && queue.Type != common.DeadLetterQueueType {
		return common.ErrBadRequestInvalidBody
	}
	// a regular queue leaves room for the suffix of its default DLQ
	maxNameLen := maxQueueNameLen
	if !queue.IsDeadLetterQueue() {
		maxNameLen -= len(common.DlqSuffix)
	}
	if !validQueueName(queue.Name, maxNameLen) {
		return common.ErrBadRequestQueueName
	}

	if len(queue.Regions) == 0 {
		queue.Regions = []string{qs.appConfigs.LocalRegion}
	}
	for _, r := range queue.Regions {
		if !qs.appConfigs.IsKnownRegion(r) {
			return common.ErrBadRequestRegion
		}
	}
	if len(queue.DefaultDestinations) == 0 {
		if queue.AllowsRegion(qs.appConfigs.LocalRegion) {
			queue.DefaultDestinations = []string{qs.appConfigs.LocalRegion}
		} else {
			queue.DefaultDestinations = queue.Regions
		}
	}
	for _, r := range queue.DefaultDestinations {
		if !queue.AllowsRegion(r) {
			return common.ErrBadRequestRegion
		}
	}

	if queue.HandlingTimeoutMs <= 0 {
		queue.HandlingTimeoutMs = qs.appConfigs.QueueDefaults.HandlingTimeoutMs
	}
	if queue.RetryCount < 0 || queue.DefaultDelayMs < 0 {
		return common.ErrBadRequestInvalidBody
	}

	if queue.IsDeadLetterQueue() {
		// a DLQ is terminal
		queue.DeadLetterQueue = ""
		queue.RetryCount = 0
	} else if queue.DeadLetterQueue == "" {
		queue.DeadLetterQueue = common.DeadLetterQueueName(queue.Name)
	}
	if queue.DeadLetterQueue != "" {
		if queue.DeadLetterQueue == queue.Name || !validQueueName(queue.DeadLetterQueue, maxQueueNameLen) {
			return common.ErrBadRequestQueueName
		}
	}
	return nil
}

// UpdateQueue replaces the configuration fields of an existing queue. Name and type are immutable.
func (qs *QueuesService) UpdateQueue(ctx context.Context, queue common.Queue) (*common.Queue, error) {
	existing, err := qs.GetQueue(ctx, queue.Name)
	if err != nil {
		return nil, err
	}

	queue.Type = existing.Type
	if queue.DeadLetterQueue == "" {
		queue.DeadLetterQueue = existing.DeadLetterQueue
	}
	if err := qs.applyDefaults(&queue); err != nil {
		return nil, err
	}
	queue.CreatedAt = existing.CreatedAt
	queue.UpdatedAt = qs.clock.Now().UnixMilli()

	if err := qs.store.UpdateQueue(ctx, &queue); err != nil {
		return nil, err
	}
	qs.put(queue)
	return &queue, nil
}

// GetQueue returns the configuration of the queue, reading through the cache.
func (qs *QueuesService) GetQueue(ctx context.Context, name string) (*common.Queue, error) {
	qs.mu.RLock()
	cached, ok := qs.cache[name]
	qs.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	queue, err := qs.store.SelectQueue(ctx, name)
	if err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, common.ErrUnknownQueue
	}
	qs.put(*queue)
	return queue, nil
}

func (qs *QueuesService) ListQueues(ctx context.Context) ([]common.Queue, error) {
	return qs.store.SelectAllQueues(ctx)
}

// DeleteQueue removes a drained queue from the registry. Its shards and counters are dropped by the caller first.
func (qs *QueuesService) DeleteQueue(ctx context.Context, name string) error {
	if _, err := qs.GetQueue(ctx, name); err != nil {
		return err
	}

	count, err := qs.store.CountQueueMessages(ctx, name)
	if err != nil {
		return err
	}
	if count > 0 {
		return common.ErrQueueNotEmpty
	}

	if err := qs.store.DeleteQueue(ctx, name); err != nil {
		return err
	}

	qs.mu.Lock()
	delete(qs.cache, name)
	qs.mu.Unlock()
	log.Info().Str("queue", name).Msg("queue deleted")
	return nil
}

// Refresh reloads every queue configuration, picking up changes made by other processes.
func (qs *QueuesService) Refresh(ctx context.Context) error {
	queues, err := qs.store.SelectAllQueues(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]common.Queue, len(queues))
	for _, q := range queues {
		fresh[q.Name] = q
	}

	qs.mu.Lock()
	qs.cache = fresh
	qs.mu.Unlock()
	return nil
}

func (qs *QueuesService) put(queue common.Queue) {
	qs.mu.Lock()
	qs.cache[queue.Name] = queue
	qs.mu.Unlock()
}
