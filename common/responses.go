package common

type NewMessagesRequest struct {
	Regions        []string `json:"regions,omitempty"`
	DelayMs        int64    `json:"delayMs,omitempty"`
	ExpirationSecs int64    `json:"expirationSecs,omitempty"`
	ContentType    string   `json:"contentType,omitempty"`
	Data           []byte   `json:"data"`
}

type NewMessagesResponse struct {
	MessageID string `json:"messageId"`
}

type MessagesResponse struct {
	Messages []QueueMessage `json:"messages"`
}

type ErrorResponse struct {
	Code string `json:"code,omitempty"`
}

type NewQueueRequest struct {
	Name                string   `json:"name"`
	Type                string   `json:"type,omitempty"`
	Regions             []string `json:"regions,omitempty"`
	DefaultDestinations []string `json:"defaultDestinations,omitempty"`
	DefaultDelayMs      int64    `json:"defaultDelayMs,omitempty"`
	RetryCount          *int     `json:"retryCount,omitempty"` // nil means the configured default
	HandlingTimeoutMs   int64    `json:"handlingTimeoutMs,omitempty"`
	DeadLetterQueue     string   `json:"deadLetterQueue,omitempty"`
}

type QueuesResponse struct {
	Queues []Queue `json:"queues"`
}

type RequeueMessageRequest struct {
	DelayMs int64 `json:"delayMs,omitempty"`
}

type AuditLogResponse struct {
	Entries []AuditLogEntry `json:"entries"`
}

type TransfersResponse struct {
	Transfers []Transfer `json:"transfers"`
}
