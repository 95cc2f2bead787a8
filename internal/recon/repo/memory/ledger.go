package memory

import (
	"context"
	"sort"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func ledgerKey(source, reference string) string { return source + "|" + reference }

func (s *Store) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	defer s.lock(ctx)()
	if id, ok := s.ledgerUK[ledgerKey(e.Source, e.Reference)]; ok {
		*e = s.ledger[id]
		return false, nil
	}
	e.ID = s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.ledger[e.ID] = *e
	s.ledgerUK[ledgerKey(e.Source, e.Reference)] = e.ID
	return true, nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id uint64) (*domain.LedgerEntry, error) {
	defer s.lock(ctx)()
	e, ok := s.ledger[id]
	if !ok {
		return nil, xerr.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, int64, error) {
	defer s.lock(ctx)()
	out := make([]*domain.LedgerEntry, 0)
	for _, e := range s.ledger {
		if f.Matched != nil && e.Matched != *f.Matched {
			continue
		}
		if f.Held != nil && e.Held() != *f.Held {
			continue
		}
		if f.Method != "" && e.Method != f.Method {
			continue
		}
		if e.ID <= f.AfterID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if f.AfterID > 0 || f.Page <= 0 {
		// 游标模式只用 limit
		if f.Limit > 0 && len(out) > f.Limit {
			out = out[:f.Limit]
		}
		return out, total, nil
	}
	start, end := orm.Bounds(len(out), f.Page, f.Limit)
	return out[start:end], total, nil
}

func (s *Store) FindUnmatchedByReference(ctx context.Context, method domain.Method, key string) ([]*domain.LedgerEntry, error) {
	defer s.lock(ctx)()
	out := make([]*domain.LedgerEntry, 0, 1)
	for _, e := range s.ledger {
		if !e.Matched && !e.Held() && e.Method == method && e.ReferenceKey == key {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ClaimLedgerEntry(ctx context.Context, entryID, depositID uint64) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.ledger[entryID]
	if !ok || e.Matched || e.Held() {
		return false, nil
	}
	e.Matched = true
	e.MatchedDepositID = &depositID
	s.ledger[entryID] = e
	return true, nil
}

func (s *Store) HoldLedgerEntry(ctx context.Context, entryID uint64, reason string, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.ledger[entryID]
	if !ok || e.Matched || e.Held() {
		return false, nil
	}
	e.HeldAt, e.HoldReason = &at, reason
	s.ledger[entryID] = e
	return true, nil
}

func (s *Store) ReleaseLedgerEntry(ctx context.Context, entryID uint64) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.ledger[entryID]
	if !ok || e.Matched || !e.Held() {
		return false, nil
	}
	e.HeldAt, e.HoldReason = nil, ""
	s.ledger[entryID] = e
	return true, nil
}
