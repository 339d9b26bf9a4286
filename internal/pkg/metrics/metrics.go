// Package metrics 集中声明 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal 按方法、路由与状态码计数 HTTP 请求。
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_http_requests_total",
		Help: "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration 记录请求耗时分布。
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_http_request_duration_seconds",
		Help:    "HTTP request latency distribution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// LoginThrottledTotal 计数被限流拒绝的登录尝试。
	LoginThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrar_login_throttled_total",
		Help: "Login attempts rejected by the rate limiter.",
	})

	// TokensRevokedTotal 计数被吊销的访问令牌。
	TokensRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registrar_tokens_revoked_total",
		Help: "Access tokens added to the revocation denylist.",
	})
)
