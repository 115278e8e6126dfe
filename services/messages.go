package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/configs"
	"github.com/n0rdy/qakka/counters"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/metrics"
	"github.com/n0rdy/qakka/payloads"
	"github.com/n0rdy/qakka/shards"
	"github.com/n0rdy/qakka/utils"

	"github.com/rs/zerolog/log"
)

const (
	// a drained shard is only compacted once its successor has been current for this long,
	// so writers with a stale shard cache have moved on
	shardCompactionGraceMs = 60 * 1000
)

type QueueMessageManager struct {
	store      db.Store
	payloads   payloads.Store
	queues     *QueuesService
	strategy   *shards.Strategy
	counter    *counters.Counter[db.ShardKey]
	buffer     *inMemoryBuffer // nil if the read-through cache is disabled
	metrics    metrics.Service
	appConfigs *configs.AppConfigs
	clock      utils.Clock
}

func NewQueueMessageManager(
	store db.Store,
	payloadStore payloads.Store,
	queues *QueuesService,
	strategy *shards.Strategy,
	counter *counters.Counter[db.ShardKey],
	metricsService metrics.Service,
	appConfigs *configs.AppConfigs,
	clock utils.Clock,
) *QueueMessageManager {
	qmm := &QueueMessageManager{
		store:      store,
		payloads:   payloadStore,
		queues:     queues,
		strategy:   strategy,
		counter:    counter,
		metrics:    metricsService,
		appConfigs: appConfigs,
		clock:      clock,
	}
	if appConfigs.Cache.Enabled {
		qmm.buffer = newInMemoryBuffer(
			appConfigs.Cache.Size,
			time.Duration(appConfigs.Cache.RefreshIntervalMs)*time.Millisecond,
			clock,
		)
	}
	return qmm
}

// SendMessages writes one row per destination region and stores the payload once.
// If the payload write fails the rows stay, waiting for the payload to arrive, and the error is returned.
func (qmm *QueueMessageManager) SendMessages(ctx context.Context, req common.SendMessagesRequest) (string, error) {
	if len(req.Data) > qmm.appConfigs.QueueDefaults.MessageContentMaxSizeBytes {
		log.Error().Int("size", len(req.Data)).Str("queue", req.QueueName).Msg("message content exceeds limit")
		return "", common.ErrBadRequestContentExceedsLimit
	}

	queue, err := qmm.queues.GetQueue(ctx, req.QueueName)
	if err != nil {
		return "", err
	}

	destinations, err := qmm.resolveDestinations(queue, req.DestinationRegions)
	if err != nil {
		return "", err
	}

	delayMs := req.DelayMs
	if delayMs == 0 {
		delayMs = queue.DefaultDelayMs
	}
	if delayMs < 0 {
		return "", common.ErrBadRequestInvalidBody
	}

	ttlMs := req.ExpirationSecs * 1000
	maxTtlMs := qmm.appConfigs.QueueDefaults.MaxMessageTtlMs
	if ttlMs <= 0 || ttlMs > maxTtlMs {
		ttlMs = maxTtlMs
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = common.JsonContentType
	}

	messageID, err := utils.NewTimeOrderedID()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate new message ID")
		return "", common.ErrInternal
	}

	now := qmm.clock.Now()
	nowMs := now.UnixMilli()
	localRegion := qmm.appConfigs.LocalRegion

	for _, region := range destinations {
		shard, err := qmm.strategy.SelectWriteShard(ctx, shards.Key{Queue: queue.Name, Region: region, Type: common.MessageTypeDefault})
		if err != nil {
			return "", err
		}

		queueMessageID, err := utils.NewTimeOrderedID()
		if err != nil {
			log.Error().Err(err).Msg("failed to generate new queue message ID")
			return "", common.ErrInternal
		}

		row := db.QueueMessageRow{
			QueueMessageID: queueMessageID,
			MessageID:      messageID,
			Queue:          queue.Name,
			Region:         region,
			Type:           common.MessageTypeDefault,
			ShardID:        shard.ShardID,
			SendingRegion:  localRegion,
			ContentType:    contentType,
			DelayUntil:     nowMs + delayMs,
			ExpiresAt:      nowMs + ttlMs,
			CreatedAt:      nowMs,
		}
		if err := qmm.store.InsertQueueMessage(ctx, &row); err != nil {
			return "", err
		}
		qmm.counter.Increment(row.ShardKey(), 1)
		qmm.audit(ctx, &row, common.SentAuditAction, now)

		if region != localRegion {
			err := qmm.store.InsertTransferLog(ctx, &db.TransferLogRow{
				Queue:        queue.Name,
				SourceRegion: localRegion,
				DestRegion:   region,
				MessageID:    messageID,
				CreatedAt:    nowMs,
			})
			if err != nil {
				log.Warn().Err(err).Str("queue", queue.Name).Str("dest_region", region).Msg("failed to record transfer")
			}
		}
	}
	qmm.metrics.IncMessagesSentTotalBy(int64(len(destinations)), queue.Name)

	if err := qmm.payloads.Put(messageID, req.Data); err != nil {
		log.Error().Err(err).Str("queue", queue.Name).Str("message_id", messageID).Msg("payload not stored, message rows wait for it")
		return messageID, err
	}
	return messageID, nil
}

func (qmm *QueueMessageManager) resolveDestinations(queue *common.Queue, requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = queue.DefaultDestinations
	}

	seen := make(map[string]bool, len(requested))
	destinations := make([]string, 0, len(requested))
	for _, r := range requested {
		if seen[r] {
			continue
		}
		if !queue.AllowsRegion(r) {
			log.Error().Str("queue", queue.Name).Str("region", r).Msg("queue can't be sent to region")
			return nil, common.ErrBadRequestRegion
		}
		seen[r] = true
		destinations = append(destinations, r)
	}
	if len(destinations) == 0 {
		return nil, common.ErrBadRequestRegion
	}
	return destinations, nil
}

// GetNextMessages leases up to count ready messages of the local region, oldest shard first.
// Messages whose payload hasn't arrived yet are skipped.
func (qmm *QueueMessageManager) GetNextMessages(ctx context.Context, queueName string, count int) ([]common.QueueMessage, error) {
	queue, err := qmm.queues.GetQueue(ctx, queueName)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	if count > qmm.appConfigs.QueueDefaults.MaxGetBatchSize {
		count = qmm.appConfigs.QueueDefaults.MaxGetBatchSize
	}

	lc := &leaseCall{
		queue:  queue,
		count:  count,
		now:    qmm.clock.Now(),
		result: make([]common.QueueMessage, 0, count),
	}

	if qmm.buffer != nil {
		err = qmm.leaseBuffered(ctx, lc)
	} else {
		err = qmm.scanCandidates(ctx, queue.Name, lc.now.UnixMilli(), func(row *db.QueueMessageRow) (bool, error) {
			if err := qmm.lease(ctx, lc, row); err != nil {
				return false, err
			}
			return len(lc.result) < lc.count, nil
		})
	}

	if lc.skippedNoData > 0 {
		qmm.metrics.IncMessagesSkippedMissingDataTotalBy(int64(lc.skippedNoData), queue.Name)
	}
	if len(lc.result) > 0 {
		qmm.metrics.IncMessagesLeasedTotalBy(int64(len(lc.result)), queue.Name)
	}
	if err != nil {
		if len(lc.result) > 0 {
			// the leases are already taken: hand them out, the next call will surface the error again
			log.Warn().Err(err).Str("queue", queue.Name).Int("leased", len(lc.result)).Msg("get stopped early")
			return lc.result, nil
		}
		return nil, err
	}
	return lc.result, nil
}

type leaseCall struct {
	queue         *common.Queue
	count         int
	now           time.Time
	inflightShard *db.Shard
	result        []common.QueueMessage
	skippedNoData int
}

// leaseBuffered serves candidates from the read-through buffer, refilling it from the shards once if needed.
func (qmm *QueueMessageManager) leaseBuffered(ctx context.Context, lc *leaseCall) error {
	rows, loadedAt := qmm.buffer.take(lc.queue.Name)
	rest, err := qmm.leaseRows(ctx, lc, rows)
	if err != nil {
		return err
	}
	if len(lc.result) >= lc.count {
		qmm.buffer.putBack(lc.queue.Name, rest, loadedAt)
		return nil
	}

	// rows still waiting for their payload are passed over, so they can't fill the buffer
	// and hide the ready rows behind them
	want := max(qmm.buffer.size, lc.count-len(lc.result))
	loadedAt = qmm.clock.Now()
	var fresh []db.QueueMessageRow
	err = qmm.scanCandidates(ctx, lc.queue.Name, lc.now.UnixMilli(), func(row *db.QueueMessageRow) (bool, error) {
		if row.ExpiresAt > lc.now.UnixMilli() {
			hasData, err := qmm.payloads.Has(row.MessageID)
			if err != nil {
				return false, err
			}
			if !hasData {
				lc.skippedNoData++
				return true, nil
			}
		}
		fresh = append(fresh, *row)
		return len(fresh) < want, nil
	})
	if err != nil {
		return err
	}

	rest, err = qmm.leaseRows(ctx, lc, fresh)
	if err != nil {
		return err
	}
	qmm.buffer.putBack(lc.queue.Name, rest, loadedAt)
	return nil
}

// leaseRows leases rows until the call is satisfied and returns the rows it didn't get to.
func (qmm *QueueMessageManager) leaseRows(ctx context.Context, lc *leaseCall, rows []db.QueueMessageRow) ([]db.QueueMessageRow, error) {
	nowMs := lc.now.UnixMilli()
	for i := range rows {
		if len(lc.result) >= lc.count {
			return rows[i:], nil
		}
		if rows[i].DelayUntil > nowMs {
			continue
		}
		if err := qmm.lease(ctx, lc, &rows[i]); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// scanCandidates walks the local DEFAULT shards of the queue oldest first and calls visit
// for every row that is due, until visit returns false. Drained old shards are compacted on the way.
func (qmm *QueueMessageManager) scanCandidates(ctx context.Context, queueName string, nowMs int64, visit func(row *db.QueueMessageRow) (bool, error)) error {
	key := shards.Key{Queue: queueName, Region: qmm.appConfigs.LocalRegion, Type: common.MessageTypeDefault}
	shardList, err := qmm.strategy.Shards(ctx, key)
	if err != nil {
		return err
	}
	pageSize := qmm.appConfigs.QueueDefaults.ScanPageSize

	for i, shard := range shardList {
		after := ""
		seenAny := false
		for {
			rows, err := qmm.store.ScanQueueMessages(ctx, db.ScanFilter{
				Queue:               key.Queue,
				Region:              key.Region,
				Type:                key.Type,
				ShardID:             shard.ShardID,
				DelayUntilBefore:    nowMs,
				AfterQueueMessageID: after,
				Limit:               pageSize,
			})
			if err != nil {
				return err
			}
			for j := range rows {
				seenAny = true
				after = rows[j].QueueMessageID
				more, err := visit(&rows[j])
				if err != nil {
					return err
				}
				if !more {
					return nil
				}
			}
			if len(rows) < pageSize {
				break
			}
		}

		if !seenAny && i < len(shardList)-1 && shardList[i+1].ShardID <= nowMs-shardCompactionGraceMs {
			qmm.compactShard(ctx, shard.Key())
		}
	}
	return nil
}

func (qmm *QueueMessageManager) compactShard(ctx context.Context, key db.ShardKey) {
	hasMessages, err := qmm.store.ShardHasMessages(ctx, key)
	if err != nil || hasMessages {
		return
	}
	if err := qmm.strategy.RemoveShard(ctx, key); err != nil {
		log.Warn().Err(err).Str("queue", key.Queue).Int64("shard_id", key.ShardID).Msg("failed to compact drained shard")
		return
	}
	log.Debug().Str("queue", key.Queue).Stringer("type", key.Type).Int64("shard_id", key.ShardID).Msg("drained shard compacted")
}

// lease claims one DEFAULT row by rewriting it as INFLIGHT. Losing the claim to a concurrent reader is not an error.
func (qmm *QueueMessageManager) lease(ctx context.Context, lc *leaseCall, row *db.QueueMessageRow) error {
	nowMs := lc.now.UnixMilli()

	if row.ExpiresAt <= nowMs {
		qmm.expire(ctx, row, lc.now)
		return nil
	}

	hasData, err := qmm.payloads.Has(row.MessageID)
	if err != nil {
		return err
	}
	if !hasData {
		lc.skippedNoData++
		return nil
	}

	if lc.inflightShard == nil {
		shard, err := qmm.strategy.SelectWriteShard(ctx, shards.Key{Queue: row.Queue, Region: row.Region, Type: common.MessageTypeInflight})
		if err != nil {
			return err
		}
		lc.inflightShard = &shard
	}

	leased := *row
	leased.Type = common.MessageTypeInflight
	leased.ShardID = lc.inflightShard.ShardID
	leased.InflightDeadline = nowMs + lc.queue.HandlingTimeoutMs

	ok, err := qmm.store.TransitionQueueMessage(ctx, row, &leased)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Str("queue", row.Queue).Str("queue_message_id", row.QueueMessageID).Msg("lost lease race, skipping")
		return nil
	}

	qmm.counter.Increment(row.ShardKey(), -1)
	qmm.counter.Increment(leased.ShardKey(), 1)
	qmm.audit(ctx, &leased, common.LeasedAuditAction, lc.now)

	lc.result = append(lc.result, qmm.toQueueMessage(&leased))
	return nil
}

func (qmm *QueueMessageManager) expire(ctx context.Context, row *db.QueueMessageRow, now time.Time) {
	deleted, err := qmm.store.DeleteQueueMessage(ctx, row.Queue, row.Region, row.Type, row.QueueMessageID)
	if err != nil || !deleted {
		return
	}
	qmm.counter.Increment(row.ShardKey(), -1)
	qmm.audit(ctx, row, common.ExpiredAuditAction, now)
	qmm.metrics.IncMessagesExpiredTotalBy(1, row.Queue)
	qmm.deletePayloadIfUnreferenced(ctx, row.MessageID)
}

func (qmm *QueueMessageManager) toQueueMessage(row *db.QueueMessageRow) common.QueueMessage {
	msg := common.QueueMessage{
		QueueMessageID:   row.QueueMessageID,
		MessageID:        row.MessageID,
		QueueName:        row.Queue,
		SendingRegion:    row.SendingRegion,
		ReceivingRegion:  row.Region,
		DelayUntil:       row.DelayUntil,
		ExpiresAt:        row.ExpiresAt,
		CreatedAt:        row.CreatedAt,
		InflightDeadline: row.InflightDeadline,
		Retries:          row.Retries,
		DataReceived:     true,
		ContentType:      row.ContentType,
	}

	if isInlineContentType(row.ContentType) {
		data, err := qmm.payloads.Get(row.MessageID)
		if err == nil {
			msg.Data = data
			return msg
		}
		log.Warn().Err(err).Str("message_id", row.MessageID).Msg("failed to inline payload, falling back to href")
	}
	msg.Href = fmt.Sprintf("/api/v1/queues/%s/data/%s", row.Queue, row.MessageID)
	return msg
}

func isInlineContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == common.JsonContentType || mediaType == common.TextContentType
}

// FetchMessages polls GetNextMessages until at least one message is leased,
// wait (capped by the long-poll duration) elapses, or ctx is done.
func (qmm *QueueMessageManager) FetchMessages(ctx context.Context, queueName string, count int, wait time.Duration) ([]common.QueueMessage, error) {
	maxWait := time.Duration(qmm.appConfigs.QueueDefaults.LongPollDurationMs) * time.Millisecond
	if wait > maxWait {
		wait = maxWait
	}

	deadline := qmm.clock.Now().Add(wait)
	ticker := time.NewTicker(time.Duration(qmm.appConfigs.QueueDefaults.LongPollTickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		messages, err := qmm.GetNextMessages(ctx, queueName, count)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}

		// nothing leased, check whether to keep polling
		if !qmm.clock.Now().Before(deadline) {
			return messages, nil
		}

		select {
		case <-ticker.C:
			// continue polling
		case <-ctx.Done():
			// client disconnected, stop polling
			log.Debug().Err(ctx.Err()).Str("queue", queueName).Msg("context cancelled while fetching messages")
			return nil, ctx.Err()
		}
	}
}

// AckMessage completes a lease. It fails with common.ErrStaleLease if the lease is gone or past its deadline.
func (qmm *QueueMessageManager) AckMessage(ctx context.Context, queueName string, queueMessageID string) error {
	row, err := qmm.activeLease(ctx, queueName, queueMessageID)
	if err != nil {
		return err
	}

	deleted, err := qmm.store.DeleteQueueMessage(ctx, row.Queue, row.Region, row.Type, row.QueueMessageID)
	if err != nil {
		return err
	}
	if !deleted {
		// the timeout processor got there first
		qmm.metrics.IncStaleLeasesTotal(queueName)
		return common.ErrStaleLease
	}

	now := qmm.clock.Now()
	qmm.counter.Increment(row.ShardKey(), -1)
	qmm.audit(ctx, row, common.AckedAuditAction, now)
	qmm.metrics.IncMessagesAckedTotalBy(1, queueName)
	qmm.deletePayloadIfUnreferenced(ctx, row.MessageID)
	return nil
}

// RequeueMessage gives a lease back: the message becomes available again after delayMs,
// under a new queue message id. Retries are not increased.
func (qmm *QueueMessageManager) RequeueMessage(ctx context.Context, queueName string, queueMessageID string, delayMs int64) error {
	if delayMs < 0 {
		return common.ErrBadRequestInvalidBody
	}

	row, err := qmm.activeLease(ctx, queueName, queueMessageID)
	if err != nil {
		return err
	}

	now := qmm.clock.Now()
	to, err := qmm.availableAgain(ctx, row, row.Queue, row.Retries, now.UnixMilli()+delayMs)
	if err != nil {
		return err
	}

	ok, err := qmm.store.TransitionQueueMessage(ctx, row, to)
	if err != nil {
		return err
	}
	if !ok {
		qmm.metrics.IncStaleLeasesTotal(queueName)
		return common.ErrStaleLease
	}

	qmm.counter.Increment(row.ShardKey(), -1)
	qmm.counter.Increment(to.ShardKey(), 1)
	qmm.audit(ctx, to, common.RequeuedAuditAction, now)
	qmm.metrics.IncMessagesRequeuedTotalBy(1, queueName)
	return nil
}

// activeLease returns the INFLIGHT row of a lease that is still within its deadline.
func (qmm *QueueMessageManager) activeLease(ctx context.Context, queueName string, queueMessageID string) (*db.QueueMessageRow, error) {
	if _, err := qmm.queues.GetQueue(ctx, queueName); err != nil {
		return nil, err
	}

	row, err := qmm.store.GetQueueMessage(ctx, queueName, qmm.appConfigs.LocalRegion, common.MessageTypeInflight, queueMessageID)
	if err != nil {
		return nil, err
	}
	if row == nil || qmm.clock.Now().UnixMilli() > row.InflightDeadline {
		qmm.metrics.IncStaleLeasesTotal(queueName)
		return nil, common.ErrStaleLease
	}
	return row, nil
}

// availableAgain builds the DEFAULT row that replaces an INFLIGHT one in targetQueue.
func (qmm *QueueMessageManager) availableAgain(ctx context.Context, row *db.QueueMessageRow, targetQueue string, retries int, delayUntil int64) (*db.QueueMessageRow, error) {
	shard, err := qmm.strategy.SelectWriteShard(ctx, shards.Key{Queue: targetQueue, Region: row.Region, Type: common.MessageTypeDefault})
	if err != nil {
		return nil, err
	}

	// a fresh id, so the previous lease holder can't ack the next delivery
	queueMessageID, err := utils.NewTimeOrderedID()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate new queue message ID")
		return nil, common.ErrInternal
	}

	to := *row
	to.QueueMessageID = queueMessageID
	to.Queue = targetQueue
	to.Type = common.MessageTypeDefault
	to.ShardID = shard.ShardID
	to.InflightDeadline = 0
	to.Retries = retries
	to.DelayUntil = delayUntil
	return &to, nil
}

// ClearMessages purges every message, shard and counter of the queue. Calling it again is a no-op.
func (qmm *QueueMessageManager) ClearMessages(ctx context.Context, queueName string) error {
	if _, err := qmm.queues.GetQueue(ctx, queueName); err != nil {
		return err
	}

	messageIDs, err := qmm.store.DeleteQueueMessages(ctx, queueName)
	if err != nil {
		return err
	}

	if err := qmm.forgetQueue(ctx, queueName); err != nil {
		return err
	}

	now := qmm.clock.Now()
	for _, messageID := range messageIDs {
		qmm.deletePayloadIfUnreferenced(ctx, messageID)
		qmm.audit(ctx, &db.QueueMessageRow{
			Queue:     queueName,
			Region:    qmm.appConfigs.LocalRegion,
			MessageID: messageID,
		}, common.ClearedAuditAction, now)
	}
	log.Info().Str("queue", queueName).Int("messages", len(messageIDs)).Msg("queue cleared")
	return nil
}

// forgetQueue drops the shards and counters of the queue, in memory and in the store.
func (qmm *QueueMessageManager) forgetQueue(ctx context.Context, queueName string) error {
	// in-memory deltas first: a flush still in progress must land before the durable counters go
	err := qmm.counter.Reset(ctx, func(k db.ShardKey) bool { return k.Queue == queueName })
	if err != nil {
		return err
	}
	if err := qmm.store.DeleteShards(ctx, queueName); err != nil {
		return err
	}
	if err := qmm.store.DeleteShardCounters(ctx, queueName); err != nil {
		return err
	}
	qmm.strategy.Forget(queueName)
	if qmm.buffer != nil {
		qmm.buffer.forget(queueName)
	}
	return nil
}

// GetQueueDepth sums the approximate counters of the live local shards of the given type.
func (qmm *QueueMessageManager) GetQueueDepth(ctx context.Context, queueName string, msgType common.MessageType) (int64, error) {
	if _, err := qmm.queues.GetQueue(ctx, queueName); err != nil {
		return 0, err
	}

	key := shards.Key{Queue: queueName, Region: qmm.appConfigs.LocalRegion, Type: msgType}
	shardList, err := qmm.strategy.Shards(ctx, key)
	if err != nil {
		return 0, err
	}

	var depth int64
	for _, shard := range shardList {
		count, err := qmm.counter.GetCount(ctx, shard.Key())
		if err != nil {
			return 0, err
		}
		depth += count
	}
	if depth < 0 {
		// approximate counters can dip below zero between flushes
		depth = 0
	}
	return depth, nil
}

// GetMessageData returns the payload of a message that is still referenced by the queue.
func (qmm *QueueMessageManager) GetMessageData(ctx context.Context, queueName string, messageID string) ([]byte, string, error) {
	row, err := qmm.messageRow(ctx, queueName, messageID)
	if err != nil {
		return nil, "", err
	}

	data, err := qmm.payloads.Get(messageID)
	if err != nil {
		return nil, "", err
	}
	return data, row.ContentType, nil
}

// PutMessageData stores a payload that arrived late, e.g. replicated from another region.
// Rows waiting for it become eligible on the next get.
func (qmm *QueueMessageManager) PutMessageData(ctx context.Context, queueName string, messageID string, data []byte) error {
	if len(data) > qmm.appConfigs.QueueDefaults.MessageContentMaxSizeBytes {
		return common.ErrBadRequestContentExceedsLimit
	}
	if _, err := qmm.messageRow(ctx, queueName, messageID); err != nil {
		return err
	}
	return qmm.payloads.Put(messageID, data)
}

func (qmm *QueueMessageManager) messageRow(ctx context.Context, queueName string, messageID string) (*db.QueueMessageRow, error) {
	if _, err := qmm.queues.GetQueue(ctx, queueName); err != nil {
		return nil, err
	}
	row, err := qmm.store.SelectQueueMessageByMessageID(ctx, queueName, messageID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, common.ErrNotFoundMessageData
	}
	return row, nil
}

func (qmm *QueueMessageManager) deletePayloadIfUnreferenced(ctx context.Context, messageID string) {
	refs, err := qmm.store.CountMessageReferences(ctx, messageID)
	if err != nil || refs > 0 {
		return
	}
	if err := qmm.payloads.Delete(messageID); err != nil && !errors.Is(err, payloads.ErrNotFound) {
		log.Warn().Err(err).Str("message_id", messageID).Msg("failed to delete unreferenced payload")
	}
}

// audit failures never fail the operation that is being audited
func (qmm *QueueMessageManager) audit(ctx context.Context, row *db.QueueMessageRow, action string, at time.Time) {
	id, err := utils.NewAuditID(at)
	if err != nil {
		log.Warn().Err(err).Msg("failed to generate audit log ID")
		return
	}
	err = qmm.store.InsertAuditLog(ctx, &db.AuditLogRow{
		ID:             id,
		Queue:          row.Queue,
		Region:         row.Region,
		MessageID:      row.MessageID,
		QueueMessageID: row.QueueMessageID,
		Action:         action,
		CreatedAt:      at.UnixMilli(),
	})
	if err != nil {
		log.Warn().Err(err).Str("queue", row.Queue).Str("action", action).Msg("failed to write audit log entry")
	}
}

func (qmm *QueueMessageManager) refresh() {
	if qmm.buffer != nil {
		qmm.buffer.clear()
	}
}
