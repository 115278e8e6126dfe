package common

const (
	// envs:
	LocalEnv = "local"
	ProEnv   = "pro"

	// OS:
	WindowsOS = "windows"
	LinuxOS   = "linux"
	MacOS     = "darwin"

	// queue types:
	RegularQueueType    = "regular"
	DeadLetterQueueType = "dead_letter"

	// the default dead-letter queue of queue "foo" is "foo_DLQ"
	DlqSuffix = "_DLQ"

	// content types that are returned inline, everything else is served via href
	JsonContentType = "application/json"
	TextContentType = "text/plain"

	// audit actions:
	SentAuditAction         = "sent"
	LeasedAuditAction       = "leased"
	AckedAuditAction        = "acked"
	RequeuedAuditAction     = "requeued"
	TimedOutAuditAction     = "timed_out"
	DeadLetteredAuditAction = "dead_lettered"
	ExpiredAuditAction      = "expired"
	ClearedAuditAction      = "cleared"
)

var (
	SupportedEnvs = map[string]bool{
		LocalEnv: true,
		ProEnv:   true,
	}
)

// MessageType is the row-type discriminator of a stored queue message.
// A message changes type by being rewritten as a new row, never in place.
type MessageType int

const (
	MessageTypeDefault  MessageType = 0 // available for leasing
	MessageTypeInflight MessageType = 1 // leased, waiting for ack or timeout
)

func (mt MessageType) String() string {
	switch mt {
	case MessageTypeDefault:
		return "default"
	case MessageTypeInflight:
		return "inflight"
	default:
		return "unknown"
	}
}

func ParseMessageType(s string) (MessageType, bool) {
	switch s {
	case "", "default", "available":
		return MessageTypeDefault, true
	case "inflight":
		return MessageTypeInflight, true
	default:
		return 0, false
	}
}

var MessageTypes = []MessageType{MessageTypeDefault, MessageTypeInflight}

func DeadLetterQueueName(queueName string) string {
	return queueName + DlqSuffix
}
