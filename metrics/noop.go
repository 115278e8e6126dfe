package metrics

type NoopMetricsService struct {
}

func newNoopMetricsService() *NoopMetricsService {
	return &NoopMetricsService{}
}

func (nms *NoopMetricsService) IncMessagesSentTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesLeasedTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesAckedTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesRequeuedTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesTimedOutTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesDeadLetteredTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesExpiredTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesSkippedMissingDataTotalBy(count int64, queueName string) {
	// no-op
}

func (nms *NoopMetricsService) IncStaleLeasesTotal(queueName string) {
	// no-op
}

func (nms *NoopMetricsService) SetQueueDepth(queueName string, msgType string, depth int64) {
	// no-op
}

func (nms *NoopMetricsService) IncShardsAllocatedTotal(queueName string, msgType string) {
	// no-op
}

func (nms *NoopMetricsService) ObserveCounterFlush(keys int, err error) {
	// no-op
}
