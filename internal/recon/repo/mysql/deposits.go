package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func (r *Repo) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	if err := r.getDb(ctx).Create(d).Error; err != nil {
		return xerr.Wrap(err, xerr.DbError, "create deposit")
	}
	return nil
}

func (r *Repo) GetDeposit(ctx context.Context, id uint64) (*domain.Deposit, error) {
	var d domain.Deposit
	if err := r.getDb(ctx).Take(&d, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *Repo) ListDeposits(ctx context.Context, f domain.DepositFilter) ([]*domain.Deposit, int64, error) {
	q := r.getDb(ctx).Model(&domain.Deposit{})
	if f.PrincipalID != "" {
		q = q.Where("principal_id = ?", f.PrincipalID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "count deposits")
	}
	var rows []*domain.Deposit
	if err := orm.ApplyPagination(q.Order("id DESC"), f.Page, f.Limit).Find(&rows).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "list deposits")
	}
	return rows, total, nil
}

func (r *Repo) SetProof(ctx context.Context, id uint64, reference, key string) (bool, error) {
	// 条件更新：凭证只能写一次
	res := r.getDb(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status = ? AND proof_reference IS NULL", id, domain.DepositPending).
		Updates(map[string]any{
			"proof_reference": reference,
			"proof_key":       key,
			"version":         gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "set proof")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) TransitionDeposit(ctx context.Context, id uint64, from []domain.DepositStatus, upd domain.DepositUpdate) (bool, error) {
	fields := map[string]any{
		"status":  upd.Status,
		"version": gorm.Expr("version + 1"),
	}
	if upd.FlagReason != "" {
		fields["flag_reason"] = upd.FlagReason
	}
	if upd.MatchedLedgerEntryID != nil {
		fields["matched_ledger_entry_id"] = *upd.MatchedLedgerEntryID
	}
	if !upd.ResolvedAt.IsZero() {
		fields["resolved_at"] = gorm.Expr("COALESCE(resolved_at, ?)", upd.ResolvedAt)
	}
	if upd.ReviewedBy != "" {
		fields["reviewed_by"] = upd.ReviewedBy
		fields["reviewed_at"] = upd.ReviewedAt
	}
	res := r.getDb(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "transition deposit")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) FindMatchCandidates(ctx context.Context, method domain.Method, proofKey string) ([]*domain.Deposit, error) {
	var rows []*domain.Deposit
	err := r.getDb(ctx).
		Where("method = ? AND proof_key = ? AND status = ? AND proof_reference IS NOT NULL",
			method, proofKey, domain.DepositPending).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "find match candidates")
	}
	return rows, nil
}

func (r *Repo) ListStaleDeposits(ctx context.Context, before time.Time, limit int) ([]*domain.Deposit, error) {
	var rows []*domain.Deposit
	q := r.getDb(ctx).
		Where("status = ? AND proof_reference IS NOT NULL AND method <> ? AND created_at < ?",
			domain.DepositPending, domain.MethodGateway, before).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list stale deposits")
	}
	return rows, nil
}
