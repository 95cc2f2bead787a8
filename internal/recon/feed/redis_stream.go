package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/safe"
)

const dataField = "data"

type StreamConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Stream    string `yaml:"stream" mapstructure:"stream"`
	Group     string `yaml:"group" mapstructure:"group"`
	Consumers int    `yaml:"consumers" mapstructure:"consumers"`
	// Block XReadGroup 阻塞时长，0 用默认 2s，负数不阻塞
	Block time.Duration `yaml:"block" mapstructure:"block"`
	Batch int64         `yaml:"batch" mapstructure:"batch"`
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Stream == "" {
		c.Stream = "recon:ledger"
	}
	if c.Group == "" {
		c.Group = "recon-ingest"
	}
	if c.Consumers <= 0 {
		c.Consumers = 2
	}
	if c.Block == 0 {
		c.Block = 2 * time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 10
	}
	return c
}

// StreamConsumer 消费组读流水，Record 成功（含丢弃畸形记录）后 ACK；
// 存储失败不 ACK，消息留在 PEL 里，worker 重启时先重放自己名下的 pending
type StreamConsumer struct {
	rdb  *redis.Client
	cfg  StreamConfig
	rec  Recorder
	name string
}

func NewStreamConsumer(rdb *redis.Client, cfg StreamConfig, rec Recorder, name string) *StreamConsumer {
	if name == "" {
		name = "recon"
	}
	return &StreamConsumer{rdb: rdb, cfg: cfg.withDefaults(), rec: rec, name: name}
}

// Run 阻塞直到 ctx 取消
func (c *StreamConsumer) Run(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Consumers; i++ {
		wg.Add(1)
		consumer := fmt.Sprintf("%s-%d", c.name, i)
		safe.GoCtx(ctx, func(ctx context.Context) {
			defer wg.Done()
			c.worker(ctx, consumer)
		})
	}
	logger.Info(ctx, "ledger stream consumer started", zap.String("stream", c.cfg.Stream), zap.Int("consumers", c.cfg.Consumers))
	<-ctx.Done()
	wg.Wait()
	logger.Info(ctx, "ledger stream consumer stopped")
	return ctx.Err()
}

func (c *StreamConsumer) worker(ctx context.Context, consumer string) {
	// 先处理上次没 ACK 的
	for ctx.Err() == nil {
		n, err := c.poll(ctx, consumer, "0")
		if err != nil || n == 0 {
			break
		}
	}
	for ctx.Err() == nil {
		if _, err := c.poll(ctx, consumer, ">"); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "XReadGroup failed", zap.String("consumer", consumer), zap.Error(err))
			// 出错休眠一下，防止日志刷屏
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// poll 读一批并处理，返回读到的条数
func (c *StreamConsumer) poll(ctx context.Context, consumer, id string) (int, error) {
	block := c.cfg.Block
	if id != ">" {
		block = -1
	}
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.Batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			n++
			if c.handleMessage(ctx, msg) {
				if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
					logger.Warn(ctx, "XAck failed", zap.String("msg_id", msg.ID), zap.Error(err))
				}
			}
		}
	}
	return n, nil
}

// handleMessage 返回是否可以 ACK
func (c *StreamConsumer) handleMessage(ctx context.Context, msg redis.XMessage) bool {
	raw, ok := msg.Values[dataField].(string)
	if !ok {
		metrics.LedgerIngest.WithLabelValues("dropped").Inc()
		logger.Warn(ctx, "stream message without data field, dropped", zap.String("msg_id", msg.ID))
		return true
	}
	rec, err := Decode([]byte(raw))
	if err != nil {
		metrics.LedgerIngest.WithLabelValues("dropped").Inc()
		logger.Warn(ctx, "stream message is not a ledger record, dropped", zap.String("msg_id", msg.ID), zap.Error(err))
		return true
	}
	if _, err := c.rec.Record(ctx, rec); err != nil {
		logger.Error(ctx, "record from stream failed, left pending", zap.String("msg_id", msg.ID), zap.Error(err))
		return false
	}
	return true
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// StreamPublisher 往流里推流水，给对接方和测试用
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
}

func NewStreamPublisher(rdb *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: StreamConfig{Stream: stream}.withDefaults().Stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, rec domain.LedgerRecord) (string, error) {
	data, err := Encode(rec)
	if err != nil {
		return "", err
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{dataField: string(data)},
	}).Result()
}
