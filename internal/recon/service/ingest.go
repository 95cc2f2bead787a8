package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
)

// Ingest 接收外部流水。输入不可信且可能重放
type Ingest struct {
	store domain.LedgerRepo
	norm  Normalizer
	now   func() time.Time

	// onStored 新流水落库后触发匹配，由组装层注入
	onStored func(ctx context.Context, entryID uint64)
}

func NewIngest(store domain.LedgerRepo, norm Normalizer) *Ingest {
	return &Ingest{
		store: store,
		norm:  norm,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (i *Ingest) OnStored(fn func(ctx context.Context, entryID uint64)) { i.onStored = fn }

// Record 畸形记录打日志后丢弃，返回 (nil, nil)；只有存储失败才返回错误
func (i *Ingest) Record(ctx context.Context, rec domain.LedgerRecord) (*domain.LedgerEntry, error) {
	e, reason := i.validate(rec)
	if reason != "" {
		metrics.LedgerIngest.WithLabelValues("dropped").Inc()
		logger.Warn(ctx, "ledger record dropped",
			zap.String("reason", reason),
			zap.String("source", rec.Source),
			zap.String("reference", rec.Reference))
		return nil, nil
	}

	created, err := i.store.InsertLedgerEntry(ctx, e)
	if err != nil {
		metrics.LedgerIngest.WithLabelValues("error").Inc()
		logger.Error(ctx, "ledger insert failed", zap.String("source", e.Source), zap.String("reference", e.Reference), zap.Error(err))
		return nil, err
	}
	if !created {
		metrics.LedgerIngest.WithLabelValues("duplicate").Inc()
		logger.Debug(ctx, "ledger record replayed", zap.Uint64("entry_id", e.ID))
		return e, nil
	}
	metrics.LedgerIngest.WithLabelValues("stored").Inc()
	logger.Info(ctx, "ledger entry stored", zap.Uint64("entry_id", e.ID), zap.String("method", string(e.Method)), zap.String("amount", e.Amount.String()))
	if i.onStored != nil {
		i.onStored(ctx, e.ID)
	}
	return e, nil
}

func (i *Ingest) validate(rec domain.LedgerRecord) (*domain.LedgerEntry, string) {
	source := strings.TrimSpace(rec.Source)
	ref := strings.TrimSpace(rec.Reference)
	switch {
	case source == "":
		return nil, "empty source"
	case ref == "":
		return nil, "empty reference"
	case strings.EqualFold(source, domain.GatewaySource):
		return nil, "reserved source"
	}
	m, ok := domain.ParseMethod(rec.Method)
	if !ok {
		return nil, "unknown method"
	}
	if !m.LedgerMatched() {
		return nil, "gateway-settled method"
	}
	if !rec.Amount.IsPositive() {
		return nil, "non-positive amount"
	}
	observed := rec.ObservedAt
	if observed.IsZero() {
		observed = i.now()
	}
	return &domain.LedgerEntry{
		Source:       source,
		Method:       m,
		Reference:    ref,
		ReferenceKey: i.norm.Key(ref),
		Amount:       rec.Amount,
		Sender:       strings.TrimSpace(rec.Sender),
		ObservedAt:   observed.UTC(),
	}, ""
}

func (i *Ingest) List(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, int64, error) {
	return i.store.ListLedgerEntries(ctx, f)
}
