package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 采集管线的监控指标
type Metrics struct {
	// 采集阶段指标
	MessagesFetched  prometheus.Counter
	MessagesIngested prometheus.Counter
	MessagesSkipped  *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	MailboxErrors    prometheus.Counter

	// 对账阶段指标
	MessagesReconciled *prometheus.CounterVec
	ReferralsCreated   prometheus.Counter
	TasksCreated       prometheus.Counter
	RecordsCreated     prometheus.Counter
	ReconcileDuration  prometheus.Histogram
	ReconcileErrors    prometheus.Counter

	// 外部依赖指标
	SlipQueries       *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_messages_fetched_total",
				Help: "Total number of messages fetched from the mailbox",
			},
		),

		MessagesIngested: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_messages_ingested_total",
				Help: "Total number of messages newly persisted",
			},
		),

		MessagesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prs_harvest_messages_skipped_total",
				Help: "Total number of messages skipped during ingestion",
			},
			[]string{"reason"},
		),

		IngestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prs_harvest_ingest_duration_seconds",
				Help:    "Duration of a full ingest pass in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		MailboxErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_mailbox_errors_total",
				Help: "Total number of IMAP connection or fetch errors",
			},
		),

		MessagesReconciled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prs_harvest_messages_reconciled_total",
				Help: "Total number of messages reconciled, by outcome scenario",
			},
			[]string{"scenario"},
		),

		ReferralsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_referrals_created_total",
				Help: "Total number of referrals created from harvested email",
			},
		),

		TasksCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_tasks_created_total",
				Help: "Total number of assessment tasks created",
			},
		),

		RecordsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_records_created_total",
				Help: "Total number of records filed against referrals",
			},
		),

		ReconcileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prs_harvest_reconcile_duration_seconds",
				Help:    "Duration of a full reconcile pass in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ReconcileErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prs_harvest_reconcile_errors_total",
				Help: "Total number of messages that failed reconciliation",
			},
		),

		SlipQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prs_harvest_slip_queries_total",
				Help: "Total number of cadastre queries, by result",
			},
			[]string{"result"},
		),

		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prs_harvest_notifications_sent_total",
				Help: "Total number of notification emails sent, by result",
			},
			[]string{"result"},
		),
	}
}

// Handler 返回 Prometheus 指标的 HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
