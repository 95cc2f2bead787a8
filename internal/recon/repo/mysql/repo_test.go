package mysql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

// 需要真实 MySQL：RECON_TEST_MYSQL_DSN="root:pass@tcp(127.0.0.1:3306)/recon_test?parseTime=true&loc=UTC"
func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dsn := os.Getenv("RECON_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("RECON_TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	sqlDB, err := orm.NewSQLDB(ctx, &orm.Config{SourceName: dsn, MaxOpenConns: 10, MaxIdleConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := orm.NewGorm(sqlDB, false)
	require.NoError(t, err)
	r := New(db)
	require.NoError(t, r.Migrate(ctx))
	return r
}

func uniq(prefix string) string { return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()) }

func TestRepo_LedgerIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	ref := uniq("UTR")
	e := &domain.LedgerEntry{Source: "hdfc", Method: domain.MethodBank, Reference: ref, ReferenceKey: ref, Amount: decimal.NewFromInt(10), ObservedAt: time.Now().UTC()}
	created, err := r.InsertLedgerEntry(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.LedgerEntry{Source: "hdfc", Method: domain.MethodBank, Reference: ref, ReferenceKey: ref, Amount: decimal.NewFromInt(1), ObservedAt: time.Now().UTC()}
	created, err = r.InsertLedgerEntry(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e.ID, dup.ID)
}

func TestRepo_LedgerHold(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	ref := uniq("UTR")
	e := &domain.LedgerEntry{Source: "hdfc", Method: domain.MethodBank, Reference: ref, ReferenceKey: ref, Amount: decimal.NewFromInt(10), ObservedAt: time.Now().UTC()}
	_, err := r.InsertLedgerEntry(ctx, e)
	require.NoError(t, err)

	ok, err := r.HoldLedgerEntry(ctx, e.ID, "AMOUNT_MISMATCH", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := r.FindUnmatchedByReference(ctx, domain.MethodBank, ref)
	require.NoError(t, err)
	assert.Empty(t, got)
	ok, err = r.ClaimLedgerEntry(ctx, e.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.ReleaseLedgerEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	back, err := r.GetLedgerEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, back.HeldAt)
	assert.Empty(t, back.HoldReason)
}

func TestRepo_CreditExactlyOnceConcurrent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	principal := uniq("u")
	d := &domain.Deposit{PrincipalID: principal, Method: domain.MethodUPI, Amount: decimal.NewFromInt(100), Status: domain.DepositPending}
	require.NoError(t, r.CreateDeposit(ctx, d))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Transaction(ctx, func(txCtx context.Context) error {
				ok, err := r.TransitionDeposit(txCtx, d.ID, []domain.DepositStatus{domain.DepositPending},
					domain.DepositUpdate{Status: domain.DepositSuccess, ResolvedAt: time.Now().UTC()})
				if err != nil || !ok {
					return err
				}
				_, err = r.CreditPrincipal(txCtx, &domain.Credit{DepositID: d.ID, PrincipalID: principal, Amount: d.Amount})
				return err
			})
		}()
	}
	wg.Wait()

	bal, err := r.GetBalance(ctx, principal)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)), bal.String())
}

func TestRepo_AccountsUnique(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	name := uniq("acct")
	a := &domain.PaymentAccount{AccountType: domain.AccountBank, IdentifierName: name, Status: domain.AccountPending, Details: []byte(`{}`)}
	require.NoError(t, r.CreateAccount(ctx, a))
	err := r.CreateAccount(ctx, &domain.PaymentAccount{AccountType: domain.AccountBank, IdentifierName: name, Status: domain.AccountPending, Details: []byte(`{}`)})
	assert.True(t, errors.Is(err, xerr.ErrDuplicateIdentifier))
}
