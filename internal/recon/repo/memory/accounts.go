package memory

import (
	"context"
	"sort"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/xerr"
)

func (s *Store) CreateAccount(ctx context.Context, a *domain.PaymentAccount) error {
	defer s.lock(ctx)()
	for _, ex := range s.accounts {
		if ex.AccountType == a.AccountType && ex.IdentifierName == a.IdentifierName {
			return xerr.Newf(xerr.DuplicateIdentifier, "%s account %q already exists", a.AccountType, a.IdentifierName)
		}
	}
	a.ID = s.nextID()
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = *a
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uint64) (*domain.PaymentAccount, error) {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok {
		return nil, xerr.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context, f domain.AccountFilter) ([]*domain.PaymentAccount, error) {
	defer s.lock(ctx)()
	out := make([]*domain.PaymentAccount, 0)
	for _, a := range s.accounts {
		if f.Type != "" && a.AccountType != f.Type {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ReviewAccount(ctx context.Context, id uint64, to domain.AccountStatus, operatorID string, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok || a.Status != domain.AccountPending {
		return false, nil
	}
	a.Status = to
	if to == domain.AccountActive {
		a.ApprovedBy = operatorID
		a.ApprovedAt = &at
	}
	a.UpdatedAt = at
	s.accounts[id] = a
	return true, nil
}

func (s *Store) DeactivateType(ctx context.Context, t domain.AccountType) error {
	defer s.lock(ctx)()
	for id, a := range s.accounts {
		if a.AccountType == t && a.IsActive {
			a.IsActive = false
			a.ActiveSlot = nil
			a.UpdatedAt = s.now()
			s.accounts[id] = a
		}
	}
	return nil
}

func (s *Store) ActivateAccount(ctx context.Context, id uint64) (bool, error) {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok || a.Status != domain.AccountActive {
		return false, nil
	}
	// 模拟唯一索引 uk_active_slot
	for oid, o := range s.accounts {
		if oid != id && o.ActiveSlot != nil && *o.ActiveSlot == string(a.AccountType) {
			return false, xerr.Newf(xerr.ConcurrencyConflict, "another %s account is active", a.AccountType)
		}
	}
	slot := string(a.AccountType)
	a.IsActive = true
	a.ActiveSlot = &slot
	a.UpdatedAt = s.now()
	s.accounts[id] = a
	return true, nil
}

func (s *Store) DeactivateAccount(ctx context.Context, id uint64) error {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok {
		return xerr.ErrNotFound
	}
	a.IsActive = false
	a.ActiveSlot = nil
	a.UpdatedAt = s.now()
	s.accounts[id] = a
	return nil
}

func (s *Store) DeleteAccount(ctx context.Context, id uint64) (bool, error) {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok || a.IsActive {
		return false, nil
	}
	delete(s.accounts, id)
	return true, nil
}

func (s *Store) GetActiveAccount(ctx context.Context, t domain.AccountType) (*domain.PaymentAccount, error) {
	defer s.lock(ctx)()
	for _, a := range s.accounts {
		if a.AccountType == t && a.IsActive {
			return &a, nil
		}
	}
	return nil, nil
}
