package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/internal/recon/repo/memory"
	"payrecon.com/pkg/locker"
)

type fakeGateway struct {
	mu         sync.Mutex
	createErr  error
	captureErr error
	decline    bool
	creates    int
	captures   int
	lastReq    domain.OrderRequest
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.creates++
	g.lastReq = req
	id := fmt.Sprintf("PAY-%d", g.creates)
	return &domain.Order{ID: id, ApprovalURL: "https://gw.example/approve?token=" + id}, nil
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, orderID, payerID string) (*domain.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	if g.decline {
		return &domain.Capture{Success: false, State: "failed"}, nil
	}
	return &domain.Capture{Success: true, CaptureID: "CAP-" + orderID, State: "approved"}, nil
}

func (g *fakeGateway) captureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures
}

var errTransport = errors.New("dial tcp: connection refused")

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	gw    *fakeGateway
	*Recon
}

func testConfig() Config {
	return Config{
		Matching: MatchConfig{
			StaleAfter: 24 * time.Hour,
			SweepBatch: 2,
			Tolerance: ToleranceConfig{
				Default: "0",
				Methods: map[string]string{"CRYPTO": "0.000001"},
			},
		},
		Gateway: GatewayConfig{Currency: "usd", SessionTimeout: 30 * time.Minute},
	}
}

func lockOpts() locker.Options {
	return locker.Options{RetryTimes: 200, RetryInterval: time.Millisecond}
}

// newFixture reactive=true 时和线上一样异步触发匹配
func newFixture(t *testing.T, reactive bool, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	store := memory.New()
	gw := &fakeGateway{}
	lk := locker.NewLocal(lockOpts())

	var r *Recon
	var err error
	if reactive {
		r, err = New(store, lk, gw, nil, cfg)
		require.NoError(t, err)
	} else {
		norm := NewNormalizer(cfg.Matching.Reference)
		lc := NewLifecycle(store, lk, norm, cfg.Matching.StaleAfter)
		m, err := NewMatcher(store, lk, lc, cfg.Matching)
		require.NoError(t, err)
		gs, err := NewGatewaySession(store, lk, lc, gw, cfg.Gateway)
		require.NoError(t, err)
		r = &Recon{
			Registry:  NewRegistry(store, lk),
			Ingest:    NewIngest(store, norm),
			Lifecycle: lc,
			Matcher:   m,
			Gateway:   gs,
			Sweeper:   NewSweeper(m, lc, gs, time.Minute, nil),
		}
	}
	return &fixture{t: t, ctx: context.Background(), store: store, gw: gw, Recon: r}
}

func (f *fixture) deposit(method domain.Method, amount, proof string) *domain.Deposit {
	f.t.Helper()
	d, err := f.Lifecycle.Create(f.ctx, "user-1", method, decimal.RequireFromString(amount))
	require.NoError(f.t, err)
	if proof != "" {
		d, err = f.Lifecycle.SubmitProof(f.ctx, d.ID, proof)
		require.NoError(f.t, err)
	}
	return d
}

func (f *fixture) ledger(source string, method domain.Method, ref, amount string) *domain.LedgerEntry {
	f.t.Helper()
	e, err := f.Ingest.Record(f.ctx, domain.LedgerRecord{
		Source:     source,
		Method:     string(method),
		Reference:  ref,
		Amount:     decimal.RequireFromString(amount),
		ObservedAt: time.Now().UTC(),
	})
	require.NoError(f.t, err)
	require.NotNil(f.t, e)
	return e
}

func (f *fixture) get(id uint64) *domain.Deposit {
	f.t.Helper()
	d, err := f.store.GetDeposit(f.ctx, id)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) entry(id uint64) *domain.LedgerEntry {
	f.t.Helper()
	e, err := f.store.GetLedgerEntry(f.ctx, id)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) balance(principal string) decimal.Decimal {
	f.t.Helper()
	b, err := f.store.GetBalance(f.ctx, principal)
	require.NoError(f.t, err)
	return b
}

// resolvedAtConsistent resolved_at 有值当且仅当终态
func resolvedAtConsistent(d *domain.Deposit) bool {
	return (d.ResolvedAt != nil) == d.Status.Terminal()
}
