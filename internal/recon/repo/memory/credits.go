package memory

import (
	"context"

	"github.com/shopspring/decimal"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/xerr"
)

func (s *Store) CreditPrincipal(ctx context.Context, c *domain.Credit) (bool, error) {
	defer s.lock(ctx)()
	if _, ok := s.credits[c.DepositID]; ok {
		return false, nil
	}
	c.ID = s.nextID()
	c.CreatedAt = s.now()
	s.credits[c.DepositID] = *c

	b := s.balances[c.PrincipalID]
	b.PrincipalID = c.PrincipalID
	b.Available = b.Available.Add(c.Amount)
	b.Version++
	b.UpdatedAt = c.CreatedAt
	s.balances[c.PrincipalID] = b
	return true, nil
}

func (s *Store) GetCredit(ctx context.Context, depositID uint64) (*domain.Credit, error) {
	defer s.lock(ctx)()
	c, ok := s.credits[depositID]
	if !ok {
		return nil, xerr.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetBalance(ctx context.Context, principalID string) (decimal.Decimal, error) {
	defer s.lock(ctx)()
	return s.balances[principalID].Available, nil
}

// CreditCount 单测用：总入账条数
func (s *Store) CreditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.credits)
}
