package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
)

func TestSweeper_RunOnce(t *testing.T) {
	f := newFixture(t, false)
	matched := f.deposit(domain.MethodUPI, "10", "SW1")
	f.ledger("npci", domain.MethodUPI, "SW1", "10")
	stale := f.deposit(domain.MethodUPI, "10", "SW2")
	gw, _ := f.initiated("10")

	f.Sweeper.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	rep, err := f.Sweeper.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Match.Verdicts)
	assert.Equal(t, 1, rep.Flagged)
	assert.Equal(t, 1, rep.Expired)

	assert.Equal(t, domain.DepositSuccess, f.get(matched.ID).Status)
	assert.Equal(t, domain.DepositFlagged, f.get(stale.ID).Status)
	assert.Equal(t, domain.DepositFailed, f.get(gw.ID).Status)
}

type stubElector struct {
	master bool
	calls  atomic.Int32
}

func (s *stubElector) TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.calls.Add(1)
	return s.master, nil
}

func (s *stubElector) Resign(ctx context.Context, key string) error { return nil }

func TestSweeper_OnlyMasterSweeps(t *testing.T) {
	f := newFixture(t, false)
	d := f.deposit(domain.MethodUPI, "10", "M1")
	f.ledger("npci", domain.MethodUPI, "M1", "10")

	follower := &stubElector{}
	s := NewSweeper(f.Matcher, f.Lifecycle, nil, 5*time.Millisecond, follower)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.Positive(t, follower.calls.Load())
	assert.Equal(t, domain.DepositPending, f.get(d.ID).Status)

	leader := &stubElector{master: true}
	s = NewSweeper(f.Matcher, f.Lifecycle, nil, 5*time.Millisecond, leader)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go func() { _ = s.Run(ctx2) }()
	assert.Eventually(t, func() bool {
		return f.get(d.ID).Status == domain.DepositSuccess
	}, 2*time.Second, 5*time.Millisecond)
}
