package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/xerr"
)

func pendingDeposit(principal string, m domain.Method, amount string) *domain.Deposit {
	return &domain.Deposit{
		PrincipalID: principal,
		Method:      m,
		Amount:      decimal.RequireFromString(amount),
		Status:      domain.DepositPending,
	}
}

func TestTransaction_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := pendingDeposit("u1", domain.MethodUPI, "100")
	require.NoError(t, s.CreateDeposit(ctx, d))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(txCtx context.Context) error {
		ok, err := s.TransitionDeposit(txCtx, d.ID, []domain.DepositStatus{domain.DepositPending},
			domain.DepositUpdate{Status: domain.DepositSuccess, ResolvedAt: time.Now()})
		require.NoError(t, err)
		require.True(t, ok)
		_, err = s.CreditPrincipal(txCtx, &domain.Credit{DepositID: d.ID, PrincipalID: "u1", Amount: d.Amount})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetDeposit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, got.Status)
	bal, _ := s.GetBalance(ctx, "u1")
	assert.True(t, bal.IsZero())
	assert.Equal(t, 0, s.CreditCount())
}

func TestTransaction_RollbackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.Panics(t, func() {
		_ = s.Transaction(ctx, func(txCtx context.Context) error {
			_ = s.CreateDeposit(txCtx, pendingDeposit("u1", domain.MethodUPI, "1"))
			panic("x")
		})
	})
	_, total, err := s.ListDeposits(ctx, domain.DepositFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeposit_ConditionalUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := pendingDeposit("u1", domain.MethodBank, "50")
	require.NoError(t, s.CreateDeposit(ctx, d))

	ok, err := s.SetProof(ctx, d.ID, "UTR 1", "utr 1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.SetProof(ctx, d.ID, "UTR 2", "utr 2")
	assert.False(t, ok, "凭证只能写一次")

	flagAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ok, _ = s.TransitionDeposit(ctx, d.ID, []domain.DepositStatus{domain.DepositPending},
		domain.DepositUpdate{Status: domain.DepositFlagged, FlagReason: domain.FlagStale, ResolvedAt: flagAt})
	require.True(t, ok)

	// 人工处理不覆盖 resolved_at
	reviewedAt := flagAt.Add(time.Hour)
	ok, _ = s.TransitionDeposit(ctx, d.ID, []domain.DepositStatus{domain.DepositPending, domain.DepositFlagged},
		domain.DepositUpdate{Status: domain.DepositSuccess, ResolvedAt: reviewedAt, ReviewedBy: "ops", ReviewedAt: &reviewedAt})
	require.True(t, ok)

	got, _ := s.GetDeposit(ctx, d.ID)
	assert.Equal(t, domain.DepositSuccess, got.Status)
	assert.Equal(t, flagAt, *got.ResolvedAt)
	assert.Equal(t, "ops", got.ReviewedBy)
	assert.Equal(t, int64(3), got.Version)

	ok, _ = s.TransitionDeposit(ctx, d.ID, []domain.DepositStatus{domain.DepositPending},
		domain.DepositUpdate{Status: domain.DepositFailed})
	assert.False(t, ok)

	_, err = s.GetDeposit(ctx, 999)
	assert.True(t, errors.Is(err, xerr.ErrNotFound))
}

func TestLedger_IdempotentInsertAndClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &domain.LedgerEntry{Source: "hdfc", Method: domain.MethodBank, Reference: "R1", ReferenceKey: "r1", Amount: decimal.NewFromInt(10)}
	created, err := s.InsertLedgerEntry(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.LedgerEntry{Source: "hdfc", Method: domain.MethodBank, Reference: "R1", Amount: decimal.NewFromInt(99)}
	created, err = s.InsertLedgerEntry(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.ID, dup.ID)
	assert.True(t, dup.Amount.Equal(decimal.NewFromInt(10)), "重放不覆盖原记录")

	// 不同 source 相同 reference 是两条
	other := &domain.LedgerEntry{Source: "icici", Method: domain.MethodBank, Reference: "R1", ReferenceKey: "r1"}
	created, _ = s.InsertLedgerEntry(ctx, other)
	assert.True(t, created)

	got, _ := s.FindUnmatchedByReference(ctx, domain.MethodBank, "r1")
	require.Len(t, got, 2)
	assert.Less(t, got[0].ID, got[1].ID)

	ok, _ := s.ClaimLedgerEntry(ctx, e.ID, 7)
	assert.True(t, ok)
	ok, _ = s.ClaimLedgerEntry(ctx, e.ID, 8)
	assert.False(t, ok)

	matched := false
	list, total, _ := s.ListLedgerEntries(ctx, domain.LedgerFilter{Matched: &matched})
	assert.Equal(t, int64(1), total)
	assert.Equal(t, other.ID, list[0].ID)

	list, _, _ = s.ListLedgerEntries(ctx, domain.LedgerFilter{AfterID: e.ID, Limit: 10})
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)
}

func TestLedger_HoldAndRelease(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &domain.LedgerEntry{Source: "npci", Method: domain.MethodUPI, Reference: "H1", ReferenceKey: "H1", Amount: decimal.NewFromInt(5)}
	_, err := s.InsertLedgerEntry(ctx, e)
	require.NoError(t, err)

	ok, err := s.HoldLedgerEntry(ctx, e.ID, "AMBIGUOUS", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.HoldLedgerEntry(ctx, e.ID, "AMBIGUOUS", time.Now().UTC())
	assert.False(t, ok, "重复冻结")

	got, _ := s.FindUnmatchedByReference(ctx, domain.MethodUPI, "H1")
	assert.Empty(t, got)
	ok, _ = s.ClaimLedgerEntry(ctx, e.ID, 1)
	assert.False(t, ok, "冻结的流水不能被认领")
	held := true
	list, _, _ := s.ListLedgerEntries(ctx, domain.LedgerFilter{Held: &held})
	require.Len(t, list, 1)
	assert.Equal(t, "AMBIGUOUS", list[0].HoldReason)

	ok, err = s.ReleaseLedgerEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.ReleaseLedgerEntry(ctx, e.ID)
	assert.False(t, ok)
	ok, _ = s.ClaimLedgerEntry(ctx, e.ID, 1)
	assert.True(t, ok)
	ok, _ = s.HoldLedgerEntry(ctx, e.ID, "AMBIGUOUS", time.Now().UTC())
	assert.False(t, ok, "已匹配的流水不冻结")
}

func TestAccounts_ActiveSlot(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := &domain.PaymentAccount{AccountType: domain.AccountUPI, IdentifierName: "main", Status: domain.AccountPending}
	b := &domain.PaymentAccount{AccountType: domain.AccountUPI, IdentifierName: "backup", Status: domain.AccountPending}
	require.NoError(t, s.CreateAccount(ctx, a))
	require.NoError(t, s.CreateAccount(ctx, b))
	err := s.CreateAccount(ctx, &domain.PaymentAccount{AccountType: domain.AccountUPI, IdentifierName: "main"})
	assert.True(t, errors.Is(err, xerr.ErrDuplicateIdentifier))

	ok, _ := s.ActivateAccount(ctx, a.ID)
	assert.False(t, ok, "未审核不能启用")

	now := time.Now()
	for _, id := range []uint64{a.ID, b.ID} {
		ok, err := s.ReviewAccount(ctx, id, domain.AccountActive, "admin", now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ = s.ActivateAccount(ctx, a.ID)
	require.True(t, ok)
	_, err = s.ActivateAccount(ctx, b.ID)
	assert.True(t, errors.Is(err, xerr.ErrConcurrencyConflict))

	ok, _ = s.DeleteAccount(ctx, a.ID)
	assert.False(t, ok, "启用中的账户不能删")

	require.NoError(t, s.DeactivateType(ctx, domain.AccountUPI))
	ok, _ = s.ActivateAccount(ctx, b.ID)
	require.True(t, ok)
	active, _ := s.GetActiveAccount(ctx, domain.AccountUPI)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)

	none, err := s.GetActiveAccount(ctx, domain.AccountBank)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCredit_OncePerDeposit(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := s.CreditPrincipal(ctx, &domain.Credit{DepositID: 1, PrincipalID: "u1", Amount: decimal.NewFromInt(5)})
		require.NoError(t, err)
		assert.Equal(t, i == 0, ok)
	}
	_, _ = s.CreditPrincipal(ctx, &domain.Credit{DepositID: 2, PrincipalID: "u1", Amount: decimal.RequireFromString("0.5")})
	bal, _ := s.GetBalance(ctx, "u1")
	assert.Equal(t, "5.5", bal.String())
}

func TestGatewayTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &domain.GatewayTransaction{DepositID: 3, GatewayOrderID: "PAY-1", Phase: domain.PhaseCreated}
	require.NoError(t, s.CreateGatewayTx(ctx, tx))
	assert.True(t, errors.Is(s.CreateGatewayTx(ctx, &domain.GatewayTransaction{DepositID: 3}), xerr.ErrDuplicateIdentifier))

	stale, _ := s.ListGatewayTx(ctx, domain.PhaseCreated, time.Now().Add(time.Minute), 10)
	require.Len(t, stale, 1)

	ok, _ := s.TransitionGatewayTx(ctx, 3, domain.PhaseCreated, domain.GatewayUpdate{Phase: domain.PhaseExecuted, Outcome: domain.OutcomeSucceeded, CaptureID: "CAP"})
	assert.True(t, ok)
	ok, _ = s.TransitionGatewayTx(ctx, 3, domain.PhaseCreated, domain.GatewayUpdate{Phase: domain.PhaseCancelled})
	assert.False(t, ok)
	got, _ := s.GetGatewayTx(ctx, 3)
	assert.Equal(t, "CAP", got.CaptureID)
}
