package metrics

import (
	"strings"

	"github.com/n0rdy/qakka/common"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusMetricsService struct {
	messagesSentTotal               *prometheus.CounterVec
	messagesLeasedTotal             *prometheus.CounterVec
	messagesAckedTotal              *prometheus.CounterVec
	messagesRequeuedTotal           *prometheus.CounterVec
	messagesTimedOutTotal           *prometheus.CounterVec
	messagesDeadLetteredTotal       *prometheus.CounterVec
	messagesExpiredTotal            *prometheus.CounterVec
	messagesSkippedMissingDataTotal *prometheus.CounterVec
	staleLeasesTotal                *prometheus.CounterVec
	queueDepth                      *prometheus.GaugeVec
	shardsAllocatedTotal            *prometheus.CounterVec
	counterFlushesTotal             *prometheus.CounterVec
	counterFlushedKeys              prometheus.Histogram
}

func newPrometheusMetricsService(reg prometheus.Registerer) *PrometheusMetricsService {
	srv := &PrometheusMetricsService{
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_sent_total",
				Help: "Total number of queue message rows written by producers, one per destination region",
			},
			[]string{"queue_name", "queue_type"},
		),

		messagesLeasedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_leased_total",
				Help: "Total number of messages handed out to consumers. Note, this doesn't mean ack-ed, just leased for processing",
			},
			[]string{"queue_name", "queue_type"},
		),

		messagesAckedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_acked_total",
				Help: "Total number of messages acknowledged by consumers",
			},
			[]string{"queue_name", "queue_type"},
		),

		messagesRequeuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_requeued_total",
				Help: "Total number of leased messages returned to the queue by consumers",
			},
			[]string{"queue_name", "queue_type"},
		),

		messagesTimedOutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_timed_out_total",
				Help: "Total number of leases reclaimed by the timeout processor",
			},
			[]string{"queue_name", "queue_type"},
		),

		// queue_name is the source queue, not the DLQ
		messagesDeadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_dead_lettered_total",
				Help: "Total number of messages moved to a dead-letter queue after exhausting retries",
			},
			[]string{"queue_name"},
		),

		messagesExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_expired_total",
				Help: "Total number of messages removed because their expiration passed",
			},
			[]string{"queue_name", "queue_type"},
		),

		messagesSkippedMissingDataTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_messages_skipped_missing_data_total",
				Help: "Total number of messages skipped on get because their payload has not arrived yet",
			},
			[]string{"queue_name"},
		),

		staleLeasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_stale_leases_total",
				Help: "Total number of ack/requeue calls rejected because the lease was already gone",
			},
			[]string{"queue_name"},
		),

		// approximate, read from the shard counters
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qakka_queue_depth",
				Help: "Approximate number of messages in the queue in the local region",
			},
			[]string{"queue_name", "queue_type", "message_type"},
		),

		shardsAllocatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_shards_allocated_total",
				Help: "Total number of shards created by the shard allocator",
			},
			[]string{"queue_name", "message_type"},
		),

		counterFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qakka_counter_flushes_total",
				Help: "Total number of shard counter flushes",
			},
			[]string{"result"},
		),

		counterFlushedKeys: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qakka_counter_flushed_keys",
				Help:    "Number of shard counters written per flush",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	reg.MustRegister(
		srv.messagesSentTotal,
		srv.messagesLeasedTotal,
		srv.messagesAckedTotal,
		srv.messagesRequeuedTotal,
		srv.messagesTimedOutTotal,
		srv.messagesDeadLetteredTotal,
		srv.messagesExpiredTotal,
		srv.messagesSkippedMissingDataTotal,
		srv.staleLeasesTotal,
		srv.queueDepth,
		srv.shardsAllocatedTotal,
		srv.counterFlushesTotal,
		srv.counterFlushedKeys,
	)

	return srv
}

func (pms *PrometheusMetricsService) IncMessagesSentTotalBy(count int64, queueName string) {
	pms.messagesSentTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesLeasedTotalBy(count int64, queueName string) {
	pms.messagesLeasedTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesAckedTotalBy(count int64, queueName string) {
	pms.messagesAckedTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesRequeuedTotalBy(count int64, queueName string) {
	pms.messagesRequeuedTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesTimedOutTotalBy(count int64, queueName string) {
	pms.messagesTimedOutTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesDeadLetteredTotalBy(count int64, queueName string) {
	pms.messagesDeadLetteredTotal.WithLabelValues(queueName).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesExpiredTotalBy(count int64, queueName string) {
	pms.messagesExpiredTotal.WithLabelValues(queueName, pms.queueType(queueName)).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesSkippedMissingDataTotalBy(count int64, queueName string) {
	pms.messagesSkippedMissingDataTotal.WithLabelValues(queueName).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncStaleLeasesTotal(queueName string) {
	pms.staleLeasesTotal.WithLabelValues(queueName).Inc()
}

func (pms *PrometheusMetricsService) SetQueueDepth(queueName string, msgType string, depth int64) {
	pms.queueDepth.WithLabelValues(queueName, pms.queueType(queueName), msgType).Set(float64(depth))
}

func (pms *PrometheusMetricsService) IncShardsAllocatedTotal(queueName string, msgType string) {
	pms.shardsAllocatedTotal.WithLabelValues(queueName, msgType).Inc()
}

func (pms *PrometheusMetricsService) ObserveCounterFlush(keys int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pms.counterFlushesTotal.WithLabelValues(result).Inc()
	if err == nil {
		pms.counterFlushedKeys.Observe(float64(keys))
	}
}

func (pms *PrometheusMetricsService) queueType(queueName string) string {
	if strings.HasSuffix(queueName, common.DlqSuffix) {
		return common.DeadLetterQueueType
	}
	return common.RegularQueueType
}
