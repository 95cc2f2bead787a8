package service

import (
	"context"

	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/safe"
)

type Config struct {
	Matching MatchConfig
	Gateway  GatewayConfig
}

// Recon 组装好的对账服务
type Recon struct {
	Registry  *Registry
	Ingest    *Ingest
	Lifecycle *Lifecycle
	Matcher   *Matcher
	Gateway   *GatewaySession // gw 为 nil 时不启用
	Sweeper   *Sweeper
}

// New 组装各组件，并把新流水/新凭证挂到异步匹配上
func New(store domain.Store, lk locker.Locker, gw domain.PaymentGateway, master MasterElector, cfg Config) (*Recon, error) {
	norm := NewNormalizer(cfg.Matching.Reference)
	lc := NewLifecycle(store, lk, norm, cfg.Matching.StaleAfter)
	m, err := NewMatcher(store, lk, lc, cfg.Matching)
	if err != nil {
		return nil, err
	}
	ing := NewIngest(store, norm)

	r := &Recon{
		Registry:  NewRegistry(store, lk),
		Ingest:    ing,
		Lifecycle: lc,
		Matcher:   m,
	}
	if gw != nil {
		r.Gateway, err = NewGatewaySession(store, lk, lc, gw, cfg.Gateway)
		if err != nil {
			return nil, err
		}
	}
	r.Sweeper = NewSweeper(m, lc, r.Gateway, cfg.Matching.SweepInterval, master)

	// 请求返回后匹配仍要继续，脱离请求的取消
	ing.OnStored(func(ctx context.Context, entryID uint64) {
		safe.GoCtx(context.WithoutCancel(ctx), func(ctx context.Context) {
			if _, err := m.MatchEntry(ctx, entryID); err != nil {
				logger.Warn(ctx, "reactive match failed, left to sweep", zap.Uint64("entry_id", entryID), zap.Error(err))
			}
		})
	})
	lc.OnProof(func(ctx context.Context, depositID uint64) {
		safe.GoCtx(context.WithoutCancel(ctx), func(ctx context.Context) {
			if _, err := m.MatchDeposit(ctx, depositID); err != nil {
				logger.Warn(ctx, "reactive match failed, left to sweep", zap.Uint64("deposit_id", depositID), zap.Error(err))
			}
		})
	})
	return r, nil
}
