package common

const (
	ErrCodeBadRequestContentExceedsLimit = "bad_request.body.content.exceeds_limit"
	ErrCodeBadRequestInvalidBody         = "bad_request.body.invalid"
	ErrCodeBadRequestQueueName           = "bad_request.queue.name"
	ErrCodeBadRequestRegion              = "bad_request.region"
	ErrCodeBadRequestMessageType         = "bad_request.message.type"
	ErrCodeUnauthorized                  = "unauthorized"
	ErrCodeNotFoundQueue                 = "not_found.queue"
	ErrCodeNotFoundMessageData           = "not_found.message.data"
	ErrCodeConflictQueueExists           = "conflict.queue.exists"
	ErrCodeConflictQueueNotEmpty         = "conflict.queue.not_empty"
	ErrCodeConflictStaleLease            = "conflict.message.stale_lease"
	ErrCodeTooManyRequests               = "too_many_requests"
	ErrCodeUnavailableStore              = "unavailable.store"
	ErrCodeUnavailableShutDown           = "unavailable.shut_down"
	ErrCodeInternal                      = "internal"
)

var (
	ErrBadRequestContentExceedsLimit = QakkaError{Code: ErrCodeBadRequestContentExceedsLimit}
	ErrBadRequestInvalidBody         = QakkaError{Code: ErrCodeBadRequestInvalidBody}
	ErrBadRequestQueueName           = QakkaError{Code: ErrCodeBadRequestQueueName}
	ErrBadRequestRegion              = QakkaError{Code: ErrCodeBadRequestRegion}
	ErrBadRequestMessageType         = QakkaError{Code: ErrCodeBadRequestMessageType}
	ErrUnknownQueue                  = QakkaError{Code: ErrCodeNotFoundQueue}
	ErrNotFoundMessageData           = QakkaError{Code: ErrCodeNotFoundMessageData}
	ErrQueueExists                   = QakkaError{Code: ErrCodeConflictQueueExists}
	ErrQueueNotEmpty                 = QakkaError{Code: ErrCodeConflictQueueNotEmpty}
	// ErrStaleLease means the INFLIGHT row is gone or its deadline has passed:
	// the message was acked, reclaimed by the timeout processor, or never leased.
	ErrStaleLease       = QakkaError{Code: ErrCodeConflictStaleLease}
	ErrStoreUnavailable = QakkaError{Code: ErrCodeUnavailableStore}
	ErrServiceShutDown  = QakkaError{Code: ErrCodeUnavailableShutDown}
	ErrInternal         = QakkaError{Code: ErrCodeInternal}
)

type QakkaError struct {
	Code string
}

func (qe QakkaError) Error() string {
	return qe.Code
}
