package ratelimit

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32 `yaml:"max_requests" mapstructure:"max_requests"`
	// Closed 状态计数窗口
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// >0 启用 rolling window
	BucketPeriod time.Duration `yaml:"bucket_period" mapstructure:"bucket_period"`
	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32  `yaml:"trip_consecutive_failures" mapstructure:"trip_consecutive_failures"`
	TripFailureRate         float64 `yaml:"trip_failure_rate" mapstructure:"trip_failure_rate"`
	TripMinRequests         uint32  `yaml:"trip_min_requests" mapstructure:"trip_min_requests"`
}

// Manager 一个支付网关一个，按操作名（如 "paypal.create_payment"）懒创建熔断器
type Manager struct {
	gateway string

	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[any]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(gateway string, defaultRule Rule, perOp map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}
	return &Manager{
		gateway:     gateway,
		m:           make(map[string]*gobreaker.CircuitBreaker[any], 8),
		defaultRule: defaultRule,
		rules:       perOp,
	}
}

func (m *Manager) Get(op string) *gobreaker.CircuitBreaker[any] {
	m.mu.RLock()
	cb := m.m[op]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[op]; cb != nil {
		return cb
	}

	rule, ok := m.rules[op]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         op,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.GatewayBreakerState.WithLabelValues(m.gateway, name).Set(float64(to))
		},
	}
	cb = gobreaker.NewCircuitBreaker[any](st)
	m.m[op] = cb
	return cb
}

// Execute 经熔断器执行 fn；熔断打开时返回 GatewayUnavailable
func Execute[T any](m *Manager, op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := m.Get(op).Execute(func() (any, error) { return fn() })
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.GatewayBreakerRejects.WithLabelValues(m.gateway, op, err.Error()).Inc()
		return zero, xerr.Wrap(err, xerr.GatewayUnavailable, "circuit open: "+op)
	}
	if err != nil {
		return zero, err
	}
	out, _ := res.(T)
	return out, nil
}

// isSuccessfulForBreaker 业务可预期的错误（参数、状态、拒付）不代表下游不健康
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	ce, ok := xerr.As(err)
	if !ok {
		return false
	}
	switch ce.Code {
	case xerr.RequestParamsError, xerr.InvalidAmount, xerr.InvalidTransition, xerr.RecordNotFound:
		return true
	default:
		return false
	}
}
