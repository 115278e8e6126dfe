package db

import "github.com/n0rdy/qakka/common"

// ShardKey identifies one shard of one (queue, region, type) triple.
type ShardKey struct {
	Queue   string
	Region  string
	Type    common.MessageType
	ShardID int64
}

// QueueMessageRow is the storage projection of a queue message.
// Its primary key is (Queue, Region, Type, QueueMessageID).
type QueueMessageRow struct {
	QueueMessageID   string
	MessageID        string
	Queue            string
	Region           string
	Type             common.MessageType
	ShardID          int64
	SendingRegion    string
	ContentType      string
	DelayUntil       int64
	ExpiresAt        int64
	CreatedAt        int64
	InflightDeadline int64
	Retries          int
}

func (r *QueueMessageRow) ShardKey() ShardKey {
	return ShardKey{
		Queue:   r.Queue,
		Region:  r.Region,
		Type:    r.Type,
		ShardID: r.ShardID,
	}
}

type Shard struct {
	Queue     string
	Region    string
	Type      common.MessageType
	ShardID   int64
	CreatedAt int64
	Deleted   bool
}

func (s *Shard) Key() ShardKey {
	return ShardKey{
		Queue:   s.Queue,
		Region:  s.Region,
		Type:    s.Type,
		ShardID: s.ShardID,
	}
}

// ScanFilter selects message rows of one shard, ordered by queue message id.
// Zero-valued optional fields are ignored.
type ScanFilter struct {
	Queue               string
	Region              string
	Type                common.MessageType
	ShardID             int64
	DelayUntilBefore    int64 // delay_until <= value
	InflightBefore      int64 // inflight_deadline < value
	AfterQueueMessageID string
	Limit               int
}

type AuditLogRow struct {
	ID             string
	Queue          string
	Region         string
	MessageID      string
	QueueMessageID string
	Action         string
	CreatedAt      int64
}

type TransferLogRow struct {
	Queue        string
	SourceRegion string
	DestRegion   string
	MessageID    string
	CreatedAt    int64
}
