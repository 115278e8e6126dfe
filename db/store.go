package db

import (
	"context"

	"github.com/n0rdy/qakka/common"
)

// Store is the durable side of the engine. Every method is atomic per call.
type Store interface {
	InsertQueueMessage(ctx context.Context, row *QueueMessageRow) error
	// GetQueueMessage returns nil, nil if the row doesn't exist.
	GetQueueMessage(ctx context.Context, queue string, region string, msgType common.MessageType, queueMessageID string) (*QueueMessageRow, error)
	// SelectQueueMessageByMessageID returns any row of the queue carrying messageID, or nil, nil.
	SelectQueueMessageByMessageID(ctx context.Context, queue string, messageID string) (*QueueMessageRow, error)
	ScanQueueMessages(ctx context.Context, filter ScanFilter) ([]QueueMessageRow, error)
	// TransitionQueueMessage removes the row identified by from and writes to in its place.
	// It reports false without writing anything if from no longer exists.
	TransitionQueueMessage(ctx context.Context, from *QueueMessageRow, to *QueueMessageRow) (bool, error)
	DeleteQueueMessage(ctx context.Context, queue string, region string, msgType common.MessageType, queueMessageID string) (bool, error)
	CountMessageReferences(ctx context.Context, messageID string) (int64, error)
	// CountQueueMessages is exact, unlike the shard counters.
	CountQueueMessages(ctx context.Context, queue string) (int64, error)
	ShardHasMessages(ctx context.Context, key ShardKey) (bool, error)
	// DeleteQueueMessages removes every row of the queue and returns the distinct message ids removed.
	DeleteQueueMessages(ctx context.Context, queue string) ([]string, error)

	UpsertShard(ctx context.Context, shard *Shard) error
	SelectShards(ctx context.Context, queue string, region string, msgType common.MessageType) ([]Shard, error)
	MarkShardDeleted(ctx context.Context, key ShardKey) error
	DeleteShards(ctx context.Context, queue string) error

	WriteCounts(ctx context.Context, deltas map[ShardKey]int64) error
	ReadCount(ctx context.Context, key ShardKey) (int64, error)
	DeleteShardCounters(ctx context.Context, queue string) error

	InsertQueue(ctx context.Context, queue *common.Queue) error
	UpdateQueue(ctx context.Context, queue *common.Queue) error
	// SelectQueue returns nil, nil if the queue doesn't exist.
	SelectQueue(ctx context.Context, name string) (*common.Queue, error)
	SelectAllQueues(ctx context.Context) ([]common.Queue, error)
	DeleteQueue(ctx context.Context, name string) error

	InsertAuditLog(ctx context.Context, row *AuditLogRow) error
	SelectAuditLog(ctx context.Context, messageID string) ([]AuditLogRow, error)
	InsertTransferLog(ctx context.Context, row *TransferLogRow) error
	SelectTransferLog(ctx context.Context, queue string, limit int) ([]TransferLogRow, error)

	Ping(ctx context.Context) error
	Close() error
}
