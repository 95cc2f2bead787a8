package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func (s *Store) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	defer s.lock(ctx)()
	d.ID = s.nextID()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.deposits[d.ID] = *d
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id uint64) (*domain.Deposit, error) {
	defer s.lock(ctx)()
	d, ok := s.deposits[id]
	if !ok {
		return nil, xerr.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListDeposits(ctx context.Context, f domain.DepositFilter) ([]*domain.Deposit, int64, error) {
	defer s.lock(ctx)()
	out := make([]*domain.Deposit, 0)
	for _, d := range s.deposits {
		if f.PrincipalID != "" && d.PrincipalID != f.PrincipalID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Method != "" && d.Method != f.Method {
			continue
		}
		d := d
		out = append(out, &d)
	}
	// 和 mysql 实现保持一致：新的在前
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	start, end := orm.Bounds(len(out), f.Page, f.Limit)
	return out[start:end], int64(len(out)), nil
}

func (s *Store) SetProof(ctx context.Context, id uint64, reference, key string) (bool, error) {
	defer s.lock(ctx)()
	d, ok := s.deposits[id]
	if !ok || d.Status != domain.DepositPending || d.ProofReference != nil {
		return false, nil
	}
	ref := reference
	d.ProofReference = &ref
	d.ProofKey = key
	d.Version++
	s.deposits[id] = d
	return true, nil
}

func (s *Store) TransitionDeposit(ctx context.Context, id uint64, from []domain.DepositStatus, upd domain.DepositUpdate) (bool, error) {
	defer s.lock(ctx)()
	d, ok := s.deposits[id]
	if !ok || !slices.Contains(from, d.Status) {
		return false, nil
	}
	d.Status = upd.Status
	if upd.FlagReason != "" {
		d.FlagReason = upd.FlagReason
	}
	if upd.MatchedLedgerEntryID != nil {
		v := *upd.MatchedLedgerEntryID
		d.MatchedLedgerEntryID = &v
	}
	if d.ResolvedAt == nil && !upd.ResolvedAt.IsZero() {
		at := upd.ResolvedAt
		d.ResolvedAt = &at
	}
	if upd.ReviewedBy != "" {
		d.ReviewedBy = upd.ReviewedBy
		d.ReviewedAt = upd.ReviewedAt
	}
	d.Version++
	s.deposits[id] = d
	return true, nil
}

func (s *Store) FindMatchCandidates(ctx context.Context, method domain.Method, proofKey string) ([]*domain.Deposit, error) {
	defer s.lock(ctx)()
	out := make([]*domain.Deposit, 0, 2)
	for _, d := range s.deposits {
		if d.Method == method && d.Status == domain.DepositPending && d.ProofReference != nil && d.ProofKey == proofKey {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListStaleDeposits(ctx context.Context, before time.Time, limit int) ([]*domain.Deposit, error) {
	defer s.lock(ctx)()
	out := make([]*domain.Deposit, 0)
	for _, d := range s.deposits {
		if d.Status == domain.DepositPending && d.ProofReference != nil &&
			d.Method != domain.MethodGateway && d.CreatedAt.Before(before) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
