package metrics

import "github.com/prometheus/client_golang/prometheus"

// 入口限流、handler panic、网关熔断
var (
	HTTPThrottled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "API requests rejected before reaching a handler, by route and limiter (bucket/sentinel).",
		},
		[]string{"route", "limiter"},
	)

	HTTPPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "http",
			Name:      "panics_total",
			Help:      "Handler panics recovered and answered with 500, by route.",
		},
		[]string{"route"},
	)

	GatewayBreakerRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recon",
			Subsystem: "gateway",
			Name:      "breaker_rejects_total",
			Help:      "Gateway calls short-circuited by the breaker without reaching the provider.",
		},
		[]string{"gateway", "op", "reason"},
	)

	// 0 closed / 1 half-open / 2 open
	GatewayBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recon",
			Subsystem: "gateway",
			Name:      "breaker_state",
			Help:      "Breaker state per gateway operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"gateway", "op"},
	)
)

// MustRegister 注册到默认 registry，进程里只能调用一次
func MustRegister() {
	prometheus.MustRegister(HTTPThrottled, HTTPPanics, GatewayBreakerRejects, GatewayBreakerState)
}
