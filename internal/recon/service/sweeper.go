package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
)

const sweeperMasterKey = "recon:sweeper:master"

// MasterElector 多副本部署时保证同一时刻只有一个 sweeper 在跑
type MasterElector interface {
	TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Resign(ctx context.Context, key string) error
}

type SweepReport struct {
	Match   SweepStats `json:"match"`
	Flagged int        `json:"flagged"`
	Expired int        `json:"expired"`
}

// Sweeper 定时兜底：补匹配、标记超时凭证、取消过期网关会话
type Sweeper struct {
	matcher   *Matcher
	lifecycle *Lifecycle
	gateway   *GatewaySession // 未启用网关时为 nil
	interval  time.Duration
	master    MasterElector // 单机部署为 nil
	now       func() time.Time
}

func NewSweeper(m *Matcher, lc *Lifecycle, gw *GatewaySession, interval time.Duration, master MasterElector) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		matcher:   m,
		lifecycle: lc,
		gateway:   gw,
		interval:  interval,
		master:    master,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run 阻塞直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	logger.Info(ctx, "sweeper started", zap.Duration("interval", s.interval))
	defer func() {
		if s.master != nil {
			_ = s.master.Resign(context.WithoutCancel(ctx), sweeperMasterKey)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if s.master != nil {
				// ttl 留出一个周期的余量，master 挂掉后下一轮就能被接管
				ok, err := s.master.TryAcquireMaster(ctx, sweeperMasterKey, 2*s.interval)
				if err != nil {
					logger.Error(ctx, "sweeper master election failed", zap.Error(err))
					continue
				}
				if !ok {
					continue
				}
			}
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 跑一轮；各步骤互不影响，返回第一个错误
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var err error
	rep.Match, err = s.matcher.Sweep(ctx)
	keep(err)

	now := s.now()
	start := time.Now()
	rep.Flagged, err = s.lifecycle.FlagStale(ctx, now)
	metrics.SweepDuration.WithLabelValues("flag_stale").Observe(time.Since(start).Seconds())
	keep(err)

	if s.gateway != nil {
		start = time.Now()
		rep.Expired, err = s.gateway.ExpireStale(ctx, now)
		metrics.SweepDuration.WithLabelValues("expire_gateway").Observe(time.Since(start).Seconds())
		keep(err)
	}

	logger.Info(ctx, "sweep done",
		zap.Int("scanned", rep.Match.Scanned),
		zap.Int("verdicts", rep.Match.Verdicts),
		zap.Int("errors", rep.Match.Errors),
		zap.Int("flagged", rep.Flagged),
		zap.Int("expired", rep.Expired))
	return rep, firstErr
}
