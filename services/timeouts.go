package services

import (
	"context"
	"errors"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/db"
	"github.com/n0rdy/qakka/shards"

	"github.com/rs/zerolog/log"
)

// TimeoutProcessor reclaims leases whose handling deadline has passed.
// A reclaimed message goes back to its queue, or to the dead-letter queue once it ran out of retries.
type TimeoutProcessor struct {
	qmm *QueueMessageManager
}

func NewTimeoutProcessor(qmm *QueueMessageManager) *TimeoutProcessor {
	return &TimeoutProcessor{
		qmm: qmm,
	}
}

// ProcessTimeouts runs one pass over the INFLIGHT shards of every queue of the local region
// and returns the number of leases it reclaimed. It is safe to run concurrently with itself
// and with acks: every reclaim is a conditional rewrite, so each lease ends exactly once.
func (tp *TimeoutProcessor) ProcessTimeouts(ctx context.Context) (int, error) {
	queues, err := tp.qmm.queues.ListQueues(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for i := range queues {
		n, err := tp.processQueue(ctx, &queues[i])
		total += n
		if err != nil {
			log.Error().Err(err).Str("queue", queues[i].Name).Msg("failed to process timed out messages")
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return total, errors.Join(errs...)
}

func (tp *TimeoutProcessor) processQueue(ctx context.Context, queue *common.Queue) (int, error) {
	qmm := tp.qmm
	key := shards.Key{Queue: queue.Name, Region: qmm.appConfigs.LocalRegion, Type: common.MessageTypeInflight}
	shardList, err := qmm.strategy.Shards(ctx, key)
	if err != nil {
		return 0, err
	}

	now := qmm.clock.Now()
	nowMs := now.UnixMilli()
	pageSize := qmm.appConfigs.QueueDefaults.ScanPageSize
	reclaimed, timedOut, deadLettered := 0, 0, 0

	for i, shard := range shardList {
		after := ""
		for {
			rows, err := qmm.store.ScanQueueMessages(ctx, db.ScanFilter{
				Queue:               key.Queue,
				Region:              key.Region,
				Type:                key.Type,
				ShardID:             shard.ShardID,
				InflightBefore:      nowMs,
				AfterQueueMessageID: after,
				Limit:               pageSize,
			})
			if err != nil {
				return reclaimed, err
			}

			for j := range rows {
				after = rows[j].QueueMessageID
				outcome, err := tp.reclaim(ctx, queue, &rows[j], nowMs)
				if err != nil {
					return reclaimed, err
				}
				switch outcome {
				case reclaimTimedOut:
					reclaimed++
					timedOut++
				case reclaimDeadLettered:
					reclaimed++
					deadLettered++
				}
			}
			if len(rows) < pageSize {
				break
			}
		}

		if i < len(shardList)-1 && shardList[i+1].ShardID <= nowMs-shardCompactionGraceMs {
			qmm.compactShard(ctx, shard.Key())
		}
	}

	if timedOut > 0 {
		qmm.metrics.IncMessagesTimedOutTotalBy(int64(timedOut), queue.Name)
	}
	if deadLettered > 0 {
		qmm.metrics.IncMessagesDeadLetteredTotalBy(int64(deadLettered), queue.Name)
	}
	if reclaimed > 0 {
		log.Debug().Str("queue", queue.Name).Int("timed_out", timedOut).Int("dead_lettered", deadLettered).Msg("timed out messages reclaimed")
	}
	return reclaimed, nil
}

type reclaimOutcome int

const (
	reclaimSkipped reclaimOutcome = iota
	reclaimTimedOut
	reclaimDeadLettered
)

func (tp *TimeoutProcessor) reclaim(ctx context.Context, queue *common.Queue, row *db.QueueMessageRow, nowMs int64) (reclaimOutcome, error) {
	qmm := tp.qmm
	now := qmm.clock.Now()

	if row.ExpiresAt <= nowMs {
		qmm.expire(ctx, row, now)
		return reclaimSkipped, nil
	}

	nextRetries := row.Retries + 1
	targetQueue := queue.Name
	action := common.TimedOutAuditAction
	outcome := reclaimTimedOut

	if queue.RetryCount > 0 && nextRetries >= queue.RetryCount && queue.DeadLetterQueue != "" {
		if _, err := qmm.queues.GetQueue(ctx, queue.DeadLetterQueue); err == nil {
			targetQueue = queue.DeadLetterQueue
			action = common.DeadLetteredAuditAction
			outcome = reclaimDeadLettered
		} else if errors.Is(err, common.ErrUnknownQueue) {
			log.Warn().Str("queue", queue.Name).Str("dlq", queue.DeadLetterQueue).Msg("dead-letter queue is missing, message stays in its queue")
		} else {
			return reclaimSkipped, err
		}
	}

	to, err := qmm.availableAgain(ctx, row, targetQueue, nextRetries, nowMs)
	if err != nil {
		return reclaimSkipped, err
	}

	ok, err := qmm.store.TransitionQueueMessage(ctx, row, to)
	if err != nil {
		return reclaimSkipped, err
	}
	if !ok {
		// acked, or reclaimed by another processor, in the meantime
		return reclaimSkipped, nil
	}

	qmm.counter.Increment(row.ShardKey(), -1)
	qmm.counter.Increment(to.ShardKey(), 1)
	qmm.audit(ctx, to, action, now)
	return outcome, nil
}
