package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesAppended prometheus.Counter
	SyncSkipped      prometheus.Counter
	QuotaRejections  prometheus.Counter
	JobsPublished    prometheus.Counter
	JobsProcessed    prometheus.Counter
	JobsFailed       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "chat_messages_appended_total",
				Help:      "Total messages appended to chats",
			}),
			SyncSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "chat_sync_skipped_total",
				Help:      "Total direct-chat mirror writes skipped for a missing counterpart",
			}),
			QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "quota_rejections_total",
				Help:      "Total operations rejected by a role ceiling",
			}),
			JobsPublished: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "reply_jobs_published_total",
				Help:      "Total assistant reply jobs published",
			}),
			JobsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "reply_jobs_processed_total",
				Help:      "Total assistant reply jobs successfully processed",
			}),
			JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stratochat",
				Name:      "reply_jobs_failed_total",
				Help:      "Total assistant reply jobs failed during processing",
			}),
		}
		prometheus.MustRegister(
			global.MessagesAppended,
			global.SyncSkipped,
			global.QuotaRejections,
			global.JobsPublished,
			global.JobsProcessed,
			global.JobsFailed,
		)
	})
	return global
}
