package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 业务指标。全部在包初始化时注册，InitMetrics 可以被重复调用。
var (
	RegisterCodeIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secretchek_register_code_issued_total",
		Help: "Verification codes issued.",
	})

	LoginTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretchek_login_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	TaskClaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretchek_task_claim_total",
		Help: "Task claim attempts by result (ok / idempotent / conflict / not_found).",
	}, []string{"result"})

	ReportSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secretchek_report_submitted_total",
		Help: "Reports accepted.",
	})

	MediaUploadFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secretchek_media_upload_failed_total",
		Help: "Media files skipped because the object store write failed.",
	})

	NotifyFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secretchek_notify_failed_total",
		Help: "Notification relay failures by channel.",
	}, []string{"channel"})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "secretchek_ratelimit_wait_seconds",
		Help:    "Time spent waiting on the code-issue rate limiter.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secretchek_ratelimit_timeout_total",
		Help: "Rate limiter waits aborted by context cancellation.",
	})

	serviceUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "secretchek_up",
		Help: "Set to 1 once the server is initialized.",
	})
)

// InitMetrics 标记服务就绪。幂等，测试中可重复调用。
func InitMetrics() {
	serviceUp.Set(1)
}
