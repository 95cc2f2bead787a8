package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/internal/recon/domain"
)

func TestIngest_DropsMalformed(t *testing.T) {
	f := newFixture(t, false)
	good := domain.LedgerRecord{Source: "npci", Method: "UPI", Reference: "R1", Amount: decimal.NewFromInt(1)}

	cases := map[string]func(r *domain.LedgerRecord){
		"empty source":    func(r *domain.LedgerRecord) { r.Source = " " },
		"empty reference": func(r *domain.LedgerRecord) { r.Reference = "" },
		"unknown method":  func(r *domain.LedgerRecord) { r.Method = "PIGEON" },
		"gateway method":  func(r *domain.LedgerRecord) { r.Method = "GATEWAY" },
		"reserved source": func(r *domain.LedgerRecord) { r.Source = "Gateway" },
		"zero amount":     func(r *domain.LedgerRecord) { r.Amount = decimal.Zero },
		"negative amount": func(r *domain.LedgerRecord) { r.Amount = decimal.NewFromInt(-3) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := good
			mutate(&rec)
			e, err := f.Ingest.Record(f.ctx, rec)
			assert.NoError(t, err)
			assert.Nil(t, e)
		})
	}
	_, total, err := f.store.ListLedgerEntries(f.ctx, domain.LedgerFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngest_IdempotentOnSourceReference(t *testing.T) {
	f := newFixture(t, false)
	rec := domain.LedgerRecord{Source: " npci ", Method: "upi", Reference: " R1 ", Amount: decimal.NewFromInt(5)}

	first, err := f.Ingest.Record(f.ctx, rec)
	require.NoError(t, err)
	second, err := f.Ingest.Record(f.ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "npci", first.Source)
	assert.Equal(t, "R1", first.Reference)
	assert.Equal(t, domain.MethodUPI, first.Method)
	assert.False(t, first.ObservedAt.IsZero(), "缺省观测时间用当前时间")

	_, total, _ := f.store.ListLedgerEntries(f.ctx, domain.LedgerFilter{})
	assert.Equal(t, int64(1), total)
}

func TestIngest_TriggersMatchOnlyForNewEntries(t *testing.T) {
	f := newFixture(t, false)
	var triggered []uint64
	f.Ingest.OnStored(func(_ context.Context, id uint64) { triggered = append(triggered, id) })

	rec := domain.LedgerRecord{Source: "npci", Method: "UPI", Reference: "T1", Amount: decimal.NewFromInt(5), ObservedAt: time.Now()}
	e, err := f.Ingest.Record(f.ctx, rec)
	require.NoError(t, err)
	_, err = f.Ingest.Record(f.ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, []uint64{e.ID}, triggered)
}
