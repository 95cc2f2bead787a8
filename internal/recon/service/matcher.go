package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

const defaultSweepBatch = 200

// MatchResult 一次 MatchEntry 的结果；Verdict 为 nil 表示没有候选
type MatchResult struct {
	EntryID    uint64
	Verdict    *domain.Verdict
	DepositIDs []uint64
}

type SweepStats struct {
	Scanned  int
	Verdicts int
	Errors   int
}

// Matcher 把流水和带凭证的充值单配对，结论交给 Lifecycle
type Matcher struct {
	store     domain.Store
	locker    locker.Locker
	lifecycle *Lifecycle
	tolerance Tolerance
	window    time.Duration
	batch     int
	now       func() time.Time

	sf singleflight.Group
}

func NewMatcher(store domain.Store, lk locker.Locker, lc *Lifecycle, cfg MatchConfig) (*Matcher, error) {
	tol, err := NewTolerance(cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	batch := cfg.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Matcher{
		store:     store,
		locker:    lk,
		lifecycle: lc,
		tolerance: tol,
		window:    cfg.Window,
		batch:     batch,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// MatchEntry 并发触发同一条流水时合并成一次执行
func (m *Matcher) MatchEntry(ctx context.Context, entryID uint64) (*MatchResult, error) {
	v, err, _ := m.sf.Do(strconv.FormatUint(entryID, 10), func() (any, error) {
		var res *MatchResult
		err := m.locker.WithLock(ctx, ledgerLockKey(entryID), func(ctx context.Context) error {
			var err error
			res, err = m.matchEntryLocked(ctx, entryID)
			return err
		})
		return res, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*MatchResult), nil
}

func (m *Matcher) matchEntryLocked(ctx context.Context, entryID uint64) (*MatchResult, error) {
	res := &MatchResult{EntryID: entryID}
	e, err := m.store.GetLedgerEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Matched || e.Held() || !e.Method.LedgerMatched() {
		return res, nil
	}
	cands, err := m.store.FindMatchCandidates(ctx, e.Method, e.ReferenceKey)
	if err != nil {
		return nil, err
	}
	cands = m.inWindow(e, cands)
	if len(cands) == 0 {
		return res, nil
	}

	var v domain.Verdict
	switch {
	case len(cands) > 1:
		v = domain.Ambiguous()
	case m.tolerance.Within(e.Method, cands[0].Amount, e.Amount):
		v = domain.Matched(e.ID)
	default:
		v = domain.AmountMismatch()
	}
	res.Verdict = &v
	for _, d := range cands {
		res.DepositIDs = append(res.DepositIDs, d.ID)
	}
	metrics.MatchVerdicts.WithLabelValues(string(v.Kind)).Inc()
	logger.Info(ctx, "match verdict",
		zap.Uint64("entry_id", e.ID),
		zap.String("verdict", string(v.Kind)),
		zap.Uint64s("deposit_ids", res.DepositIDs))

	if v.Kind == domain.VerdictMatched {
		_, err = m.lifecycle.ApplyMatchVerdict(ctx, cands[0].ID, v)
		return res, err
	}
	return res, m.holdAndFlag(ctx, e, cands, v)
}

// holdAndFlag 冻结流水并把所有候选转 FLAGGED，同一事务。
// 冻结后晚到的同号凭证抢不到这条流水，只能等人工
func (m *Matcher) holdAndFlag(ctx context.Context, e *domain.LedgerEntry, cands []*domain.Deposit, v domain.Verdict) error {
	var (
		outs []*domain.Deposit
		trs  []transition
	)
	// 候选按 id 升序加锁，和其他路径不会互相等待
	var lockAll func(ctx context.Context, i int) error
	lockAll = func(ctx context.Context, i int) error {
		if i < len(cands) {
			return m.locker.WithLock(ctx, depositLockKey(cands[i].ID), func(ctx context.Context) error {
				return lockAll(ctx, i+1)
			})
		}
		return m.store.Transaction(ctx, func(txCtx context.Context) error {
			outs, trs = outs[:0], trs[:0]
			if _, err := m.store.HoldLedgerEntry(txCtx, e.ID, string(v.Kind), m.now()); err != nil {
				return err
			}
			for _, d := range cands {
				out, tr, err := m.lifecycle.applyVerdictTx(txCtx, d.ID, v)
				if err != nil {
					return err
				}
				outs, trs = append(outs, out), append(trs, tr)
			}
			return nil
		})
	}
	if err := lockAll(ctx, 0); err != nil {
		logger.Warn(ctx, "hold ledger entry failed, left to sweep", zap.Uint64("entry_id", e.ID), zap.Error(err))
		return err
	}
	logger.Warn(ctx, "ledger entry held for review", zap.Uint64("entry_id", e.ID), zap.String("reason", string(v.Kind)))
	for i := range outs {
		m.lifecycle.observe(ctx, outs[i], trs[i])
	}
	return nil
}

// ReleaseEntry 人工处理完冻结流水后解冻，并重新跑一次匹配
func (m *Matcher) ReleaseEntry(ctx context.Context, entryID uint64) (*domain.LedgerEntry, error) {
	err := m.locker.WithLock(ctx, ledgerLockKey(entryID), func(ctx context.Context) error {
		e, err := m.store.GetLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		ok, err := m.store.ReleaseLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !ok {
			return xerr.Newf(xerr.InvalidTransition, "ledger entry %d is not held (matched=%t)", entryID, e.Matched)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "ledger entry released", zap.Uint64("entry_id", entryID))
	if _, err := m.MatchEntry(ctx, entryID); err != nil {
		logger.Warn(ctx, "match after release failed, left to sweep", zap.Uint64("entry_id", entryID), zap.Error(err))
	}
	return m.store.GetLedgerEntry(ctx, entryID)
}

func (m *Matcher) inWindow(e *domain.LedgerEntry, cands []*domain.Deposit) []*domain.Deposit {
	if m.window <= 0 || e.ObservedAt.IsZero() {
		return cands
	}
	out := cands[:0]
	for _, d := range cands {
		gap := e.ObservedAt.Sub(d.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= m.window {
			out = append(out, d)
		}
	}
	return out
}

// MatchDeposit 凭证提交后反向查找已到账的流水
func (m *Matcher) MatchDeposit(ctx context.Context, depositID uint64) ([]*MatchResult, error) {
	d, err := m.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DepositPending || !d.HasProof() || !d.Method.LedgerMatched() {
		return nil, nil
	}
	entries, err := m.store.FindUnmatchedByReference(ctx, d.Method, d.ProofKey)
	if err != nil {
		return nil, err
	}
	var results []*MatchResult
	for _, e := range entries {
		r, err := m.MatchEntry(ctx, e.ID)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		cur, err := m.store.GetDeposit(ctx, depositID)
		if err != nil {
			return results, err
		}
		if cur.Status.Terminal() {
			break
		}
	}
	return results, nil
}

// Sweep 按 id 游标扫一遍未匹配流水，单条失败不影响后续
func (m *Matcher) Sweep(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues("match").Observe(time.Since(start).Seconds()) }()

	var stats SweepStats
	unmatched, held := false, false
	var after uint64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		list, _, err := m.store.ListLedgerEntries(ctx, domain.LedgerFilter{Matched: &unmatched, Held: &held, AfterID: after, Limit: m.batch})
		if err != nil {
			return stats, err
		}
		for _, e := range list {
			after = e.ID
			if !e.Method.LedgerMatched() {
				continue
			}
			stats.Scanned++
			r, err := m.MatchEntry(ctx, e.ID)
			if err != nil {
				stats.Errors++
				logger.Warn(ctx, "sweep match failed", zap.Uint64("entry_id", e.ID), zap.Error(err))
				continue
			}
			if r.Verdict != nil {
				stats.Verdicts++
			}
		}
		if len(list) < m.batch {
			return stats, nil
		}
	}
}
