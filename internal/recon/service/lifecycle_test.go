package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/xerr"
)

func TestLifecycle_CreateValidation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.Lifecycle.Create(f.ctx, "u1", domain.MethodUPI, decimal.Zero)
	assert.True(t, errors.Is(err, xerr.ErrInvalidAmount))
	_, err = f.Lifecycle.Create(f.ctx, "u1", domain.MethodUPI, decimal.NewFromInt(-5))
	assert.True(t, errors.Is(err, xerr.ErrInvalidAmount))
	_, err = f.Lifecycle.Create(f.ctx, "u1", domain.Method("CHEQUE"), decimal.NewFromInt(5))
	assert.True(t, errors.Is(err, xerr.ErrParams))
	_, err = f.Lifecycle.Create(f.ctx, "  ", domain.MethodUPI, decimal.NewFromInt(5))
	assert.True(t, errors.Is(err, xerr.ErrParams))

	d, err := f.Lifecycle.Create(f.ctx, "u1", domain.MethodUPI, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, d.Status)
	assert.Nil(t, d.ResolvedAt)
}

func TestLifecycle_SubmitProof(t *testing.T) {
	f := newFixture(t, false)
	d := f.deposit(domain.MethodUPI, "500", "")

	_, err := f.Lifecycle.SubmitProof(f.ctx, d.ID, "   ")
	assert.True(t, errors.Is(err, xerr.ErrParams))

	got, err := f.Lifecycle.SubmitProof(f.ctx, d.ID, "  REF123 ")
	require.NoError(t, err)
	assert.Equal(t, "REF123", *got.ProofReference)
	assert.Equal(t, "REF123", got.ProofKey)

	_, err = f.Lifecycle.SubmitProof(f.ctx, d.ID, "REF456")
	assert.True(t, errors.Is(err, xerr.ErrInvalidTransition), "凭证只能提交一次")

	gw := f.deposit(domain.MethodGateway, "10", "")
	_, err = f.Lifecycle.SubmitProof(f.ctx, gw.ID, "X")
	assert.True(t, errors.Is(err, xerr.ErrInvalidTransition))

	_, err = f.Lifecycle.SubmitProof(f.ctx, 9999, "X")
	assert.True(t, errors.Is(err, xerr.ErrNotFound))
}

func TestLifecycle_ApplyMatchedCreditsOnce(t *testing.T) {
	f := newFixture(t, false)
	d := f.deposit(domain.MethodBank, "250.50", "UTR1")
	e := f.ledger("hdfc", domain.MethodBank, "UTR1", "250.50")

	got, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, d.ID, domain.Matched(e.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.DepositSuccess, got.Status)
	require.NotNil(t, got.MatchedLedgerEntryID)
	assert.Equal(t, e.ID, *got.MatchedLedgerEntryID)
	assert.True(t, resolvedAtConsistent(got))
	resolvedAt := *got.ResolvedAt

	// 终态再收到结论：不变
	again, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, d.ID, domain.Ambiguous())
	require.NoError(t, err)
	assert.Equal(t, domain.DepositSuccess, again.Status)
	assert.Equal(t, resolvedAt, *again.ResolvedAt)

	assert.Equal(t, "250.5", f.balance("user-1").String())
	assert.Equal(t, 1, f.store.CreditCount())
	assert.True(t, f.entry(e.ID).Matched)
}

func TestLifecycle_LostClaimRollsBack(t *testing.T) {
	f := newFixture(t, false)
	a := f.deposit(domain.MethodUPI, "100", "R1")
	b := f.deposit(domain.MethodUPI, "100", "R2")
	e := f.ledger("npci", domain.MethodUPI, "R1", "100")

	_, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, a.ID, domain.Matched(e.ID))
	require.NoError(t, err)

	_, err = f.Lifecycle.ApplyMatchVerdict(f.ctx, b.ID, domain.Matched(e.ID))
	assert.True(t, errors.Is(err, xerr.ErrInvalidTransition))

	got := f.get(b.ID)
	assert.Equal(t, domain.DepositPending, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, 1, f.store.CreditCount())
	assert.Equal(t, a.ID, *f.entry(e.ID).MatchedDepositID)
}

func TestLifecycle_FlagVerdicts(t *testing.T) {
	f := newFixture(t, false)
	a := f.deposit(domain.MethodUPI, "100", "R1")
	b := f.deposit(domain.MethodUPI, "100", "R2")

	got, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, a.ID, domain.AmountMismatch())
	require.NoError(t, err)
	assert.Equal(t, domain.DepositFlagged, got.Status)
	assert.Equal(t, domain.FlagAmountMismatch, got.FlagReason)
	assert.True(t, resolvedAtConsistent(got))

	got, err = f.Lifecycle.ApplyMatchVerdict(f.ctx, b.ID, domain.Ambiguous())
	require.NoError(t, err)
	assert.Equal(t, domain.FlagAmbiguous, got.FlagReason)
	assert.True(t, f.balance("user-1").IsZero())
}

func TestLifecycle_ManualResolve(t *testing.T) {
	f := newFixture(t, false)

	t.Run("approve pending credits", func(t *testing.T) {
		d := f.deposit(domain.MethodCard, "40", "")
		got, err := f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionApprove, "ops-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositSuccess, got.Status)
		assert.Equal(t, "ops-1", got.ReviewedBy)
		assert.NotNil(t, got.ReviewedAt)
		assert.True(t, resolvedAtConsistent(got))
		c, err := f.store.GetCredit(f.ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, c.Amount.Equal(decimal.NewFromInt(40)))
	})

	t.Run("flagged keeps resolved_at", func(t *testing.T) {
		d := f.deposit(domain.MethodUPI, "10", "F1")
		flagged, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, d.ID, domain.AmountMismatch())
		require.NoError(t, err)
		flaggedAt := *flagged.ResolvedAt
		time.Sleep(2 * time.Millisecond)

		got, err := f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionReject, "ops-2")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositFailed, got.Status)
		assert.Equal(t, flaggedAt, *got.ResolvedAt)
		assert.Equal(t, "ops-2", got.ReviewedBy)
	})

	t.Run("same outcome is idempotent, opposite is rejected", func(t *testing.T) {
		d := f.deposit(domain.MethodUPI, "10", "M1")
		e := f.ledger("npci", domain.MethodUPI, "M1", "10")
		_, err := f.Lifecycle.ApplyMatchVerdict(f.ctx, d.ID, domain.Matched(e.ID))
		require.NoError(t, err)
		credits := f.store.CreditCount()

		got, err := f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionApprove, "ops-3")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositSuccess, got.Status)
		assert.Equal(t, credits, f.store.CreditCount(), "自动匹配后人工通过不再入账")

		_, err = f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionReject, "ops-3")
		assert.True(t, errors.Is(err, xerr.ErrInvalidTransition))
	})

	t.Run("bad input", func(t *testing.T) {
		d := f.deposit(domain.MethodUPI, "10", "")
		_, err := f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.Decision("MAYBE"), "ops")
		assert.True(t, errors.Is(err, xerr.ErrParams))
		_, err = f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionApprove, "")
		assert.True(t, errors.Is(err, xerr.ErrParams))
	})
}

// 自动匹配和人工审核并发打同一笔单，最多入账一次
func TestLifecycle_CreditAtMostOnceUnderRace(t *testing.T) {
	f := newFixture(t, false)
	const rounds = 20
	for i := 0; i < rounds; i++ {
		ref := "RACE" + decimal.NewFromInt(int64(i)).String()
		d := f.deposit(domain.MethodUPI, "7", ref)
		e := f.ledger("npci", domain.MethodUPI, ref, "7")

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = f.Lifecycle.ApplyMatchVerdict(f.ctx, d.ID, domain.Matched(e.ID))
			}()
			go func() {
				defer wg.Done()
				_, _ = f.Lifecycle.ManualResolve(f.ctx, d.ID, domain.DecisionApprove, "ops")
			}()
		}
		wg.Wait()

		got := f.get(d.ID)
		assert.Equal(t, domain.DepositSuccess, got.Status)
		assert.True(t, resolvedAtConsistent(got))
	}
	assert.Equal(t, rounds, f.store.CreditCount())
	assert.Equal(t, decimal.NewFromInt(7*rounds).String(), f.balance("user-1").String())
}

func TestLifecycle_FlagStale(t *testing.T) {
	f := newFixture(t, false)
	waiting := f.deposit(domain.MethodUPI, "10", "S1")
	arrived := f.deposit(domain.MethodUPI, "10", "S2")
	f.ledger("npci", domain.MethodUPI, "S2", "99") // 流水已到但金额不对，交给 sweep
	noProof := f.deposit(domain.MethodUPI, "10", "")

	n, err := f.Lifecycle.FlagStale(f.ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n, "未超时不标记")

	n, err = f.Lifecycle.FlagStale(f.ctx, time.Now().UTC().Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.get(waiting.ID)
	assert.Equal(t, domain.DepositFlagged, got.Status)
	assert.Equal(t, domain.FlagStale, got.FlagReason)
	assert.True(t, resolvedAtConsistent(got))
	assert.Equal(t, domain.DepositPending, f.get(arrived.ID).Status)
	assert.Equal(t, domain.DepositPending, f.get(noProof.ID).Status)

	off := newFixture(t, false, func(c *Config) { c.Matching.StaleAfter = 0 })
	off.deposit(domain.MethodUPI, "1", "Z")
	n, err = off.Lifecycle.FlagStale(off.ctx, time.Now().Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
