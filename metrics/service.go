package metrics

import "github.com/prometheus/client_golang/prometheus"

type Service interface {
	IncMessagesSentTotalBy(count int64, queueName string)
	IncMessagesLeasedTotalBy(count int64, queueName string)
	IncMessagesAckedTotalBy(count int64, queueName string)
	IncMessagesRequeuedTotalBy(count int64, queueName string)
	IncMessagesTimedOutTotalBy(count int64, queueName string)
	IncMessagesDeadLetteredTotalBy(count int64, queueName string)
	IncMessagesExpiredTotalBy(count int64, queueName string)
	IncMessagesSkippedMissingDataTotalBy(count int64, queueName string)
	IncStaleLeasesTotal(queueName string)
	SetQueueDepth(queueName string, msgType string, depth int64)
	IncShardsAllocatedTotal(queueName string, msgType string)
	ObserveCounterFlush(keys int, err error)
}

// NewMetricsService returns the Prometheus implementation registered with reg
// (the default registerer if nil) when metrics are enabled, and a no-op otherwise.
func NewMetricsService(metricsEnabled bool, reg prometheus.Registerer) Service {
	if metricsEnabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return newPrometheusMetricsService(reg)
	}
	return newNoopMetricsService()
}
