package bootstrap

import (
	"fmt"
	"log"
	"strings"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
)

// SentinelCfg HTTP 路由级治理规则，资源名形如 "POST:/api/deposits"
type SentinelCfg struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Flow    []FlowRule    `yaml:"flow" mapstructure:"flow"`
	Breaker []BreakerRule `yaml:"breaker" mapstructure:"breaker"`
}

type FlowRule struct {
	Resource       string  `yaml:"resource" mapstructure:"resource"`
	Threshold      float64 `yaml:"threshold" mapstructure:"threshold"`
	StatIntervalMs uint32  `yaml:"stat_interval_ms" mapstructure:"stat_interval_ms"`
	Control        string  `yaml:"control" mapstructure:"control"` // reject | throttling
	MaxQueueWaitMs uint32  `yaml:"max_queue_wait_ms" mapstructure:"max_queue_wait_ms"`
}

type BreakerRule struct {
	Resource         string  `yaml:"resource" mapstructure:"resource"`
	Strategy         string  `yaml:"strategy" mapstructure:"strategy"` // error_ratio | error_count | slow_request_ratio
	Threshold        float64 `yaml:"threshold" mapstructure:"threshold"`
	StatIntervalMs   uint32  `yaml:"stat_interval_ms" mapstructure:"stat_interval_ms"`
	MinRequestAmount uint64  `yaml:"min_request_amount" mapstructure:"min_request_amount"`
	RetryTimeoutMs   uint32  `yaml:"retry_timeout_ms" mapstructure:"retry_timeout_ms"`
}

// InitSentinel 加载规则；未启用直接返回
func InitSentinel(sc *SentinelCfg) error {
	if sc == nil || !sc.Enabled {
		return nil
	}
	if err := sentinels.InitDefault(); err != nil {
		return fmt.Errorf("init sentinel: %w", err)
	}

	var flowRules []*flow.Rule
	for _, rule := range sc.Flow {
		if rule.Resource == "" {
			continue
		}
		r := &flow.Rule{
			Resource:               rule.Resource,
			Threshold:              rule.Threshold,
			StatIntervalInMs:       rule.StatIntervalMs,
			TokenCalculateStrategy: flow.Direct,
			ControlBehavior:        flow.Reject,
		}
		if strings.EqualFold(rule.Control, "throttling") {
			r.ControlBehavior = flow.Throttling
			r.MaxQueueingTimeMs = rule.MaxQueueWaitMs
		}
		flowRules = append(flowRules, r)
	}
	if len(flowRules) > 0 {
		if _, err := flow.LoadRules(flowRules); err != nil {
			return fmt.Errorf("load flow rules: %w", err)
		}
	}

	var breakerRules []*circuitbreaker.Rule
	for _, rule := range sc.Breaker {
		if rule.Resource == "" {
			continue
		}
		r := &circuitbreaker.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalMs:   rule.StatIntervalMs,
			MinRequestAmount: rule.MinRequestAmount,
			RetryTimeoutMs:   rule.RetryTimeoutMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "error_count":
			r.Strategy = circuitbreaker.ErrorCount
		case "slow_request_ratio":
			r.Strategy = circuitbreaker.SlowRequestRatio
		default:
			r.Strategy = circuitbreaker.ErrorRatio
		}
		breakerRules = append(breakerRules, r)
	}
	if len(breakerRules) > 0 {
		if _, err := circuitbreaker.LoadRules(breakerRules); err != nil {
			return fmt.Errorf("load circuit breaker rules: %w", err)
		}
	}

	log.Printf("sentinel ready: %d flow rules, %d breaker rules", len(flowRules), len(breakerRules))
	return nil
}
