package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

// Lifecycle 充值单状态机。所有状态迁移都在单据锁 + 事务内完成
type Lifecycle struct {
	store      domain.Store
	locker     locker.Locker
	norm       Normalizer
	staleAfter time.Duration
	now        func() time.Time

	// onProof 凭证提交后触发匹配，由组装层注入
	onProof func(ctx context.Context, depositID uint64)
}

func NewLifecycle(store domain.Store, lk locker.Locker, norm Normalizer, staleAfter time.Duration) *Lifecycle {
	return &Lifecycle{
		store:      store,
		locker:     lk,
		norm:       norm,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OnProof 设置凭证提交后的回调
func (l *Lifecycle) OnProof(fn func(ctx context.Context, depositID uint64)) { l.onProof = fn }

func (l *Lifecycle) Create(ctx context.Context, principalID string, method domain.Method, amount decimal.Decimal) (*domain.Deposit, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "principal_id required")
	}
	if !method.Valid() {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown method %q", method)
	}
	if !amount.IsPositive() {
		return nil, xerr.Newf(xerr.InvalidAmount, "amount must be positive, got %s", amount)
	}
	d := &domain.Deposit{
		PrincipalID: principalID,
		Method:      method,
		Amount:      amount,
		Status:      domain.DepositPending,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateDeposit(ctx, d); err != nil {
		return nil, err
	}
	logger.Info(ctx, "deposit created", zap.Uint64("deposit_id", d.ID), zap.String("method", string(method)), zap.String("amount", amount.String()))
	return d, nil
}

func (l *Lifecycle) Get(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return l.store.GetDeposit(ctx, id)
}

func (l *Lifecycle) List(ctx context.Context, f domain.DepositFilter) ([]*domain.Deposit, int64, error) {
	return l.store.ListDeposits(ctx, f)
}

func (l *Lifecycle) SubmitProof(ctx context.Context, id uint64, reference string) (*domain.Deposit, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, xerr.New(xerr.RequestParamsError, "reference required")
	}
	key := l.norm.Key(ref)

	var out *domain.Deposit
	err := l.locker.WithLock(ctx, depositLockKey(id), func(ctx context.Context) error {
		d, err := l.store.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		if !d.Method.LedgerMatched() {
			return xerr.Newf(xerr.InvalidTransition, "%s deposits are settled by the gateway", d.Method)
		}
		if d.Status != domain.DepositPending || d.HasProof() {
			return xerr.Newf(xerr.InvalidTransition, "deposit %d: proof not accepted in status %s", id, d.Status)
		}
		ok, err := l.store.SetProof(ctx, id, ref, key)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Newf(xerr.InvalidTransition, "deposit %d: proof already submitted", id)
		}
		out, err = l.store.GetDeposit(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "proof submitted", zap.Uint64("deposit_id", id))
	if l.onProof != nil {
		l.onProof(ctx, id)
	}
	return out, nil
}

// transition 一次状态迁移的结果。外层事务提交后再打点
type transition struct {
	to       domain.DepositStatus
	credited bool
	decision domain.Decision
	operator string
}

// ApplyMatchVerdict 只由匹配器和网关会话调用；终态单据直接返回当前状态
func (l *Lifecycle) ApplyMatchVerdict(ctx context.Context, id uint64, v domain.Verdict) (*domain.Deposit, error) {
	var (
		out *domain.Deposit
		tr  transition
	)
	err := l.locker.WithLock(ctx, depositLockKey(id), func(ctx context.Context) error {
		var err error
		out, tr, err = l.applyVerdictTx(ctx, id, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.observe(ctx, out, tr)
	return out, nil
}

// applyVerdictTx 调用方已持有单据锁；可在外层事务内调用，打点交给最外层
func (l *Lifecycle) applyVerdictTx(ctx context.Context, id uint64, v domain.Verdict) (*domain.Deposit, transition, error) {
	var (
		out *domain.Deposit
		tr  transition
	)
	err := l.store.Transaction(ctx, func(txCtx context.Context) error {
		d, err := l.store.GetDeposit(txCtx, id)
		if err != nil {
			return err
		}
		if d.Status.Terminal() {
			out = d
			return nil
		}
		now := l.now()
		switch v.Kind {
		case domain.VerdictMatched:
			if v.LedgerEntryID == 0 {
				return xerr.New(xerr.RequestParamsError, "matched verdict without ledger entry")
			}
			claimed, err := l.store.ClaimLedgerEntry(txCtx, v.LedgerEntryID, id)
			if err != nil {
				return err
			}
			if !claimed {
				return xerr.Newf(xerr.InvalidTransition, "ledger entry %d already matched or held", v.LedgerEntryID)
			}
			entryID := v.LedgerEntryID
			ok, err := l.store.TransitionDeposit(txCtx, id, []domain.DepositStatus{domain.DepositPending}, domain.DepositUpdate{
				Status:               domain.DepositSuccess,
				MatchedLedgerEntryID: &entryID,
				ResolvedAt:           now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return xerr.Newf(xerr.InvalidTransition, "deposit %d left PENDING concurrently", id)
			}
			tr.credited, err = l.store.CreditPrincipal(txCtx, &domain.Credit{DepositID: id, PrincipalID: d.PrincipalID, Amount: d.Amount})
			if err != nil {
				return err
			}
			tr.to = domain.DepositSuccess
		case domain.VerdictAmbiguous, domain.VerdictAmountMismatch:
			ok, err := l.store.TransitionDeposit(txCtx, id, []domain.DepositStatus{domain.DepositPending}, domain.DepositUpdate{
				Status:     domain.DepositFlagged,
				FlagReason: domain.FlagReason(v.Kind),
				ResolvedAt: now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return xerr.Newf(xerr.InvalidTransition, "deposit %d left PENDING concurrently", id)
			}
			tr.to = domain.DepositFlagged
		default:
			return xerr.Newf(xerr.RequestParamsError, "unknown verdict %q", v.Kind)
		}
		out, err = l.store.GetDeposit(txCtx, id)
		return err
	})
	if err != nil {
		return nil, transition{}, err
	}
	return out, tr, nil
}

// ManualResolve 人工审核。同结论重复提交返回当前终态，不报错
func (l *Lifecycle) ManualResolve(ctx context.Context, id uint64, decision domain.Decision, operatorID string) (*domain.Deposit, error) {
	if !decision.Valid() {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown decision %q", decision)
	}
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "operator_id required")
	}
	var (
		out *domain.Deposit
		tr  transition
	)
	err := l.locker.WithLock(ctx, depositLockKey(id), func(ctx context.Context) error {
		var err error
		out, tr, err = l.resolveTx(ctx, id, decision, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.observe(ctx, out, tr)
	return out, nil
}

// resolveTx 调用方已持有单据锁；可在外层事务内调用
func (l *Lifecycle) resolveTx(ctx context.Context, id uint64, decision domain.Decision, operatorID string) (*domain.Deposit, transition, error) {
	var (
		out *domain.Deposit
		tr  transition
	)
	err := l.store.Transaction(ctx, func(txCtx context.Context) error {
		d, err := l.store.GetDeposit(txCtx, id)
		if err != nil {
			return err
		}
		switch {
		case d.Status == domain.DepositSuccess && decision == domain.DecisionApprove,
			d.Status == domain.DepositFailed && decision == domain.DecisionReject:
			out = d
			return nil
		case d.Status == domain.DepositSuccess || d.Status == domain.DepositFailed:
			return xerr.Newf(xerr.InvalidTransition, "deposit %d is already %s", id, d.Status)
		}

		now := l.now()
		to := domain.DepositFailed
		if decision == domain.DecisionApprove {
			to = domain.DepositSuccess
		}
		ok, err := l.store.TransitionDeposit(txCtx, id, []domain.DepositStatus{domain.DepositPending, domain.DepositFlagged}, domain.DepositUpdate{
			Status:     to,
			ResolvedAt: now,
			ReviewedBy: operatorID,
			ReviewedAt: &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Newf(xerr.InvalidTransition, "deposit %d changed concurrently", id)
		}
		if to == domain.DepositSuccess {
			tr.credited, err = l.store.CreditPrincipal(txCtx, &domain.Credit{DepositID: id, PrincipalID: d.PrincipalID, Amount: d.Amount})
			if err != nil {
				return err
			}
		}
		tr.to, tr.decision, tr.operator = to, decision, operatorID
		out, err = l.store.GetDeposit(txCtx, id)
		return err
	})
	if err != nil {
		return nil, transition{}, err
	}
	return out, tr, nil
}

// FlagStale 有凭证但迟迟等不到流水的单据转人工
func (l *Lifecycle) FlagStale(ctx context.Context, now time.Time) (int, error) {
	if l.staleAfter <= 0 {
		return 0, nil
	}
	list, err := l.store.ListStaleDeposits(ctx, now.Add(-l.staleAfter), 0)
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, d := range list {
		if ctx.Err() != nil {
			return flagged, ctx.Err()
		}
		// 流水已经到了只是还没匹配，交给 sweep
		entries, err := l.store.FindUnmatchedByReference(ctx, d.Method, d.ProofKey)
		if err != nil {
			return flagged, err
		}
		if len(entries) > 0 {
			continue
		}
		var changed bool
		err = l.locker.WithLock(ctx, depositLockKey(d.ID), func(ctx context.Context) error {
			var err error
			changed, err = l.store.TransitionDeposit(ctx, d.ID, []domain.DepositStatus{domain.DepositPending}, domain.DepositUpdate{
				Status:     domain.DepositFlagged,
				FlagReason: domain.FlagStale,
				ResolvedAt: now,
			})
			return err
		})
		if errors.Is(err, xerr.ErrConcurrencyConflict) {
			continue
		}
		if err != nil {
			return flagged, err
		}
		if changed {
			flagged++
			metrics.DepositTransitions.WithLabelValues(string(domain.DepositFlagged)).Inc()
			logger.Warn(ctx, "deposit flagged stale", zap.Uint64("deposit_id", d.ID), zap.Time("created_at", d.CreatedAt))
		}
	}
	return flagged, nil
}

// observe 只在最外层事务提交后调用
func (l *Lifecycle) observe(ctx context.Context, d *domain.Deposit, tr transition) {
	if tr.to == "" || d == nil {
		return
	}
	if tr.decision != "" {
		logger.Info(ctx, "deposit resolved manually", zap.Uint64("deposit_id", d.ID), zap.String("decision", string(tr.decision)), zap.String("operator", tr.operator))
	}
	metrics.DepositTransitions.WithLabelValues(string(tr.to)).Inc()
	fields := []zap.Field{zap.Uint64("deposit_id", d.ID), zap.String("status", string(d.Status))}
	if d.FlagReason != "" {
		fields = append(fields, zap.String("flag_reason", string(d.FlagReason)))
	}
	logger.Info(ctx, "deposit transitioned", fields...)
	if tr.credited {
		metrics.Credits.Inc()
		logger.Info(ctx, "principal credited", zap.Uint64("deposit_id", d.ID), zap.String("principal_id", d.PrincipalID), zap.String("amount", d.Amount.String()))
	}
}
