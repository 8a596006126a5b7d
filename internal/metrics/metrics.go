package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP 入口
var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	IngressThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aigateway_ingress_throttled_total",
			Help: "Requests rejected by the per-IP ingress limiter",
		},
	)
)

// 网关调用链
var (
	// GatewayOutcomes 每次对话调用的最终结果，kind 为错误类别或 ok
	GatewayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_gateway_requests_total",
			Help: "Chat completion calls by resolved model and outcome kind",
		},
		[]string{"model", "kind"},
	)

	AdmissionDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_admission_denied_total",
			Help: "Calls refused before forwarding, by reason",
		},
		[]string{"reason"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_upstream_duration_seconds",
			Help:    "Upstream call latency by provider and outcome",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_upstream_retries_total",
			Help: "Upstream retry attempts by provider",
		},
		[]string{"provider"},
	)

	LedgerDebits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_ledger_debits_total",
			Help: "Ledger commit results (committed, rejected, skipped, failed)",
		},
		[]string{"result"},
	)

	DebitedMicros = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aigateway_ledger_debited_micros_total",
			Help: "Total amount debited from budgets in micro-currency units",
		},
	)
)

// 后台任务
var (
	QuotaAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_quota_alerts_total",
			Help: "Quota alert evaluations by result (created, duplicate, dropped, failed)",
		},
		[]string{"result"},
	)

	CatalogSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_catalog_syncs_total",
			Help: "Provider catalog sync runs by provider and result",
		},
		[]string{"provider", "result"},
	)
)

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
}

func RecordGatewayOutcome(model, kind string) {
	GatewayOutcomes.WithLabelValues(model, kind).Inc()
}

func RecordAdmissionDenied(reason string) {
	AdmissionDenied.WithLabelValues(reason).Inc()
}

func RecordUpstream(provider, outcome string, d time.Duration) {
	UpstreamDuration.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

func RecordUpstreamRetry(provider string) {
	UpstreamRetries.WithLabelValues(provider).Inc()
}

func RecordLedger(result string, micros int64) {
	LedgerDebits.WithLabelValues(result).Inc()
	if result == "committed" && micros > 0 {
		DebitedMicros.Add(float64(micros))
	}
}

func RecordAlert(result string) {
	QuotaAlerts.WithLabelValues(result).Inc()
}

func RecordCatalogSync(provider string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	CatalogSyncs.WithLabelValues(provider, result).Inc()
}

// Handler /metrics 导出
func Handler() http.Handler {
	return promhttp.Handler()
}
