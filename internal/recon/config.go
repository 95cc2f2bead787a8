package recon

import (
	"time"

	"payrecon.com/internal/recon/feed"
	"payrecon.com/internal/recon/gateway/paypal"
	"payrecon.com/internal/recon/service"
	"payrecon.com/pkg/bootstrap"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/ratelimit"
	"payrecon.com/pkg/trace"
	"payrecon.com/pkg/xredis"
)

// Cfg 对应 config/recon-service.yaml
type Cfg struct {
	Name     string                `yaml:"name" mapstructure:"name"`
	LogLevel string                `yaml:"log_level" mapstructure:"log_level"`
	HTTP     HTTP                  `yaml:"http" mapstructure:"http"`
	Storage  Storage               `yaml:"storage" mapstructure:"storage"`
	Db       orm.Config            `yaml:"db" mapstructure:"db"`
	Redis    xredis.Config         `yaml:"redis" mapstructure:"redis"`
	Lock     Lock                  `yaml:"lock" mapstructure:"lock"`
	Matching service.MatchConfig   `yaml:"matching" mapstructure:"matching"`
	Gateway  Gateway               `yaml:"gateway" mapstructure:"gateway"`
	Feed     Feed                  `yaml:"feed" mapstructure:"feed"`
	OTel     trace.Config          `yaml:"otel" mapstructure:"otel"`
	Sentinel bootstrap.SentinelCfg `yaml:"sentinel" mapstructure:"sentinel"`

	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr" mapstructure:"pprof_addr"`
}

type HTTP struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	Rate         float64       `yaml:"rate" mapstructure:"rate"`
	Burst        int           `yaml:"burst" mapstructure:"burst"`
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type Storage struct {
	// mysql | memory
	Driver      string `yaml:"driver" mapstructure:"driver"`
	AutoMigrate bool   `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Lock struct {
	// local | redis，多副本部署必须用 redis
	Backend        string `yaml:"backend" mapstructure:"backend"`
	locker.Options `yaml:",inline" mapstructure:",squash"`
}

type Gateway struct {
	Enabled               bool `yaml:"enabled" mapstructure:"enabled"`
	paypal.Config         `yaml:",inline" mapstructure:",squash"`
	service.GatewayConfig `yaml:",inline" mapstructure:",squash"`
	Breaker               ratelimit.Rule `yaml:"breaker" mapstructure:"breaker"`
}

type Feed struct {
	Redis feed.StreamConfig `yaml:"redis" mapstructure:"redis"`
	Nats  feed.NatsConfig   `yaml:"nats" mapstructure:"nats"`
}
