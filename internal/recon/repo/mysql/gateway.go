package mysql

import (
	"context"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func (r *Repo) CreateGatewayTx(ctx context.Context, tx *domain.GatewayTransaction) error {
	err := r.getDb(ctx).Create(tx).Error
	if orm.IsDuplicateKey(err) {
		return xerr.Wrap(err, xerr.DuplicateIdentifier, "gateway transaction exists")
	}
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "create gateway tx")
	}
	return nil
}

func (r *Repo) GetGatewayTx(ctx context.Context, depositID uint64) (*domain.GatewayTransaction, error) {
	var tx domain.GatewayTransaction
	if err := r.getDb(ctx).Where("deposit_id = ?", depositID).Take(&tx).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *Repo) TransitionGatewayTx(ctx context.Context, depositID uint64, from domain.GatewayPhase, upd domain.GatewayUpdate) (bool, error) {
	fields := map[string]any{"phase": upd.Phase, "outcome": upd.Outcome}
	if upd.CaptureID != "" {
		fields["capture_id"] = upd.CaptureID
	}
	res := r.getDb(ctx).Model(&domain.GatewayTransaction{}).
		Where("deposit_id = ? AND phase = ?", depositID, from).
		Updates(fields)
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "transition gateway tx")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) ListGatewayTx(ctx context.Context, phase domain.GatewayPhase, createdBefore time.Time, limit int) ([]*domain.GatewayTransaction, error) {
	var rows []*domain.GatewayTransaction
	q := r.getDb(ctx).
		Where("phase = ? AND created_at < ?", phase, createdBefore).
		Order("deposit_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list gateway tx")
	}
	return rows, nil
}
