package feed

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
)

type NatsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
	// Queue 多副本共享同一个队列组，每条消息只投给一个副本
	Queue string `yaml:"queue" mapstructure:"queue"`
	// Spool 落库失败时的本地暂存文件，空表示不暂存
	Spool string `yaml:"spool" mapstructure:"spool"`
}

func DialNats(cfg NatsConfig) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url,
		nats.Name("recon-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NatsConsumer at-most-once：NATS core 不重投，存储失败的记录只能靠源头重放
type NatsConsumer struct {
	nc      *nats.Conn
	subject string
	queue   string
	rec     Recorder
	spool   *Spool
}

func NewNatsConsumer(nc *nats.Conn, cfg NatsConfig, rec Recorder) *NatsConsumer {
	subject := cfg.Subject
	if subject == "" {
		subject = "recon.ledger"
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "recon-ingest"
	}
	return &NatsConsumer{nc: nc, subject: subject, queue: queue, rec: rec}
}

// WithSpool 落库失败的消息写入 s
func (c *NatsConsumer) WithSpool(s *Spool) *NatsConsumer {
	c.spool = s
	return c
}

func (c *NatsConsumer) Run(ctx context.Context) error {
	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, func(m *nats.Msg) {
		c.handle(ctx, m.Data)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "ledger nats consumer started", zap.String("subject", c.subject))
	<-ctx.Done()
	_ = sub.Unsubscribe()
	logger.Info(ctx, "ledger nats consumer stopped")
	return ctx.Err()
}

func (c *NatsConsumer) handle(ctx context.Context, data []byte) {
	rec, err := Decode(data)
	if err != nil {
		metrics.LedgerIngest.WithLabelValues("dropped").Inc()
		logger.Warn(ctx, "nats message is not a ledger record, dropped", zap.Error(err))
		return
	}
	if _, err := c.rec.Record(ctx, rec); err != nil {
		logger.Error(ctx, "record from nats failed", zap.String("source", rec.Source), zap.String("reference", rec.Reference), zap.Error(err))
		if c.spool != nil {
			c.spool.Put(ctx, "nats", data, err)
		}
	}
}

type NatsPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNatsPublisher(nc *nats.Conn, subject string) *NatsPublisher {
	if subject == "" {
		subject = "recon.ledger"
	}
	return &NatsPublisher{nc: nc, subject: subject}
}

func (p *NatsPublisher) Publish(ctx context.Context, rec domain.LedgerRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}
