package memory

import (
	"context"
	"sort"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/xerr"
)

func (s *Store) CreateGatewayTx(ctx context.Context, tx *domain.GatewayTransaction) error {
	defer s.lock(ctx)()
	if _, ok := s.gateway[tx.DepositID]; ok {
		return xerr.Newf(xerr.DuplicateIdentifier, "gateway transaction for deposit %d exists", tx.DepositID)
	}
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	s.gateway[tx.DepositID] = *tx
	return nil
}

func (s *Store) GetGatewayTx(ctx context.Context, depositID uint64) (*domain.GatewayTransaction, error) {
	defer s.lock(ctx)()
	tx, ok := s.gateway[depositID]
	if !ok {
		return nil, xerr.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) TransitionGatewayTx(ctx context.Context, depositID uint64, from domain.GatewayPhase, upd domain.GatewayUpdate) (bool, error) {
	defer s.lock(ctx)()
	tx, ok := s.gateway[depositID]
	if !ok || tx.Phase != from {
		return false, nil
	}
	tx.Phase = upd.Phase
	tx.Outcome = upd.Outcome
	if upd.CaptureID != "" {
		tx.CaptureID = upd.CaptureID
	}
	tx.UpdatedAt = s.now()
	s.gateway[depositID] = tx
	return true, nil
}

func (s *Store) ListGatewayTx(ctx context.Context, phase domain.GatewayPhase, createdBefore time.Time, limit int) ([]*domain.GatewayTransaction, error) {
	defer s.lock(ctx)()
	out := make([]*domain.GatewayTransaction, 0)
	for _, tx := range s.gateway {
		if tx.Phase == phase && tx.CreatedAt.Before(createdBefore) {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepositID < out[j].DepositID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
