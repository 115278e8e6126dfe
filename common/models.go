package common

// Queue is the configuration of a named logical channel.
type Queue struct {
	Name                string   `json:"name" yaml:"name"`
	Type                string   `json:"type" yaml:"type"`
	Regions             []string `json:"regions" yaml:"regions"`
	DefaultDestinations []string `json:"defaultDestinations" yaml:"default_destinations"`
	DefaultDelayMs      int64    `json:"defaultDelayMs" yaml:"default_delay_ms"`
	RetryCount          int      `json:"retryCount" yaml:"retry_count"` // 0 means messages are never dead-lettered
	HandlingTimeoutMs   int64    `json:"handlingTimeoutMs" yaml:"handling_timeout_ms"`
	DeadLetterQueue     string   `json:"deadLetterQueue" yaml:"dead_letter_queue"`
	CreatedAt           int64    `json:"createdAt" yaml:"-"`
	UpdatedAt           int64    `json:"updatedAt" yaml:"-"`
}

func (q *Queue) IsDeadLetterQueue() bool {
	return q.Type == DeadLetterQueueType
}

func (q *Queue) AllowsRegion(region string) bool {
	for _, r := range q.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// QueueMessage is the envelope handed to consumers.
// Data is set for JSON and text payloads, Href for everything else.
type QueueMessage struct {
	QueueMessageID   string `json:"queueMessageId"`
	MessageID        string `json:"messageId"`
	QueueName        string `json:"queueName"`
	SendingRegion    string `json:"sendingRegion"`
	ReceivingRegion  string `json:"receivingRegion"`
	DelayUntil       int64  `json:"delayUntil"`
	ExpiresAt        int64  `json:"expiresAt"`
	CreatedAt        int64  `json:"createdAt"`
	InflightDeadline int64  `json:"inflightDeadline,omitempty"`
	Retries          int    `json:"retries"`
	DataReceived     bool   `json:"dataReceived"`
	ContentType      string `json:"contentType"`
	Data             []byte `json:"data,omitempty"`
	Href             string `json:"href,omitempty"`
}

type SendMessagesRequest struct {
	QueueName          string
	DestinationRegions []string
	DelayMs            int64
	ExpirationSecs     int64
	ContentType        string
	Data               []byte
}

type AuditLogEntry struct {
	ID             string `json:"id"`
	QueueName      string `json:"queueName"`
	Region         string `json:"region"`
	MessageID      string `json:"messageId"`
	QueueMessageID string `json:"queueMessageId"`
	Action         string `json:"action"`
	CreatedAt      int64  `json:"createdAt"`
}

type Transfer struct {
	QueueName    string `json:"queueName"`
	SourceRegion string `json:"sourceRegion"`
	DestRegion   string `json:"destRegion"`
	MessageID    string `json:"messageId"`
	CreatedAt    int64  `json:"createdAt"`
}

type QueueDepth struct {
	QueueName string `json:"queueName"`
	Available int64  `json:"available"`
	Inflight  int64  `json:"inflight"`
}
