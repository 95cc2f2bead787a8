package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"payrecon.com/internal/recon/domain"
)

// MatchConfig 对应配置 matching 段
type MatchConfig struct {
	// Window 流水时间与充值单创建时间的最大间隔，0 表示不限
	Window        time.Duration    `yaml:"window" mapstructure:"window"`
	StaleAfter    time.Duration    `yaml:"stale_after" mapstructure:"stale_after"`
	SweepInterval time.Duration    `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	SweepBatch    int              `yaml:"sweep_batch" mapstructure:"sweep_batch"`
	Tolerance     ToleranceConfig  `yaml:"tolerance" mapstructure:"tolerance"`
	Reference     NormalizerConfig `yaml:"reference" mapstructure:"reference"`
}

type ToleranceConfig struct {
	Default string            `yaml:"default" mapstructure:"default"`
	Methods map[string]string `yaml:"methods" mapstructure:"methods"`
}

// Tolerance 金额容差，按支付方式覆盖
type Tolerance struct {
	def     decimal.Decimal
	methods map[domain.Method]decimal.Decimal
}

func NewTolerance(c ToleranceConfig) (Tolerance, error) {
	t := Tolerance{def: decimal.Zero, methods: make(map[domain.Method]decimal.Decimal)}
	if strings.TrimSpace(c.Default) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(c.Default))
		if err != nil || d.IsNegative() {
			return t, fmt.Errorf("matching.tolerance.default %q invalid", c.Default)
		}
		t.def = d
	}
	for k, v := range c.Methods {
		m, ok := domain.ParseMethod(k)
		if !ok {
			return t, fmt.Errorf("matching.tolerance.methods: unknown method %q", k)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || d.IsNegative() {
			return t, fmt.Errorf("matching.tolerance.methods.%s %q invalid", k, v)
		}
		t.methods[m] = d
	}
	return t, nil
}

func (t Tolerance) For(m domain.Method) decimal.Decimal {
	if d, ok := t.methods[m]; ok {
		return d
	}
	return t.def
}

// Within |a-b| <= tolerance(m)
func (t Tolerance) Within(m domain.Method, a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(t.For(m))
}

// GatewayConfig 对应配置 gateway 段中与会话相关的部分
type GatewayConfig struct {
	Currency string `yaml:"currency" mapstructure:"currency"`
	// MaxAmount 单笔上限，空表示 1000000
	MaxAmount      string        `yaml:"max_amount" mapstructure:"max_amount"`
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`
}

var defaultMaxAmount = decimal.NewFromInt(1_000_000)

func (c GatewayConfig) maxAmount() (decimal.Decimal, error) {
	if strings.TrimSpace(c.MaxAmount) == "" {
		return defaultMaxAmount, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(c.MaxAmount))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("gateway.max_amount %q invalid", c.MaxAmount)
	}
	return d, nil
}
