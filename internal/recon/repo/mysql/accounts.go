package mysql

import (
	"context"
	"time"

	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func (r *Repo) CreateAccount(ctx context.Context, a *domain.PaymentAccount) error {
	err := r.getDb(ctx).Create(a).Error
	if orm.IsDuplicateKey(err) {
		return xerr.Wrap(err, xerr.DuplicateIdentifier, "account identifier exists")
	}
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "create account")
	}
	return nil
}

func (r *Repo) GetAccount(ctx context.Context, id uint64) (*domain.PaymentAccount, error) {
	var a domain.PaymentAccount
	if err := r.getDb(ctx).Take(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *Repo) ListAccounts(ctx context.Context, f domain.AccountFilter) ([]*domain.PaymentAccount, error) {
	q := r.getDb(ctx).Model(&domain.PaymentAccount{})
	if f.Type != "" {
		q = q.Where("account_type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var rows []*domain.PaymentAccount
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list accounts")
	}
	return rows, nil
}

func (r *Repo) ReviewAccount(ctx context.Context, id uint64, to domain.AccountStatus, operatorID string, at time.Time) (bool, error) {
	fields := map[string]any{"status": to, "updated_at": at}
	if to == domain.AccountActive {
		fields["approved_by"] = operatorID
		fields["approved_at"] = at
	}
	res := r.getDb(ctx).Model(&domain.PaymentAccount{}).
		Where("id = ? AND status = ?", id, domain.AccountPending).
		Updates(fields)
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "review account")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) DeactivateType(ctx context.Context, t domain.AccountType) error {
	err := r.getDb(ctx).Model(&domain.PaymentAccount{}).
		Where("account_type = ? AND is_active = ?", t, true).
		Updates(map[string]any{"is_active": false, "active_slot": nil}).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "deactivate type")
	}
	return nil
}

func (r *Repo) ActivateAccount(ctx context.Context, id uint64) (bool, error) {
	var a domain.PaymentAccount
	if err := r.getDb(ctx).Select("account_type").Take(&a, id).Error; err != nil {
		return false, notFound(err)
	}
	res := r.getDb(ctx).Model(&domain.PaymentAccount{}).
		Where("id = ? AND status = ?", id, domain.AccountActive).
		Updates(map[string]any{"is_active": true, "active_slot": string(a.AccountType)})
	if orm.IsDuplicateKey(res.Error) {
		// uk_active_slot：并发启用了同类型另一个账户
		return false, xerr.Wrap(res.Error, xerr.ConcurrencyConflict, "another account of this type is active")
	}
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "activate account")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) DeactivateAccount(ctx context.Context, id uint64) error {
	res := r.getDb(ctx).Model(&domain.PaymentAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "active_slot": nil})
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.DbError, "deactivate account")
	}
	if res.RowsAffected == 0 {
		// 已经是未启用状态也算成功，只有不存在才报错
		if _, err := r.GetAccount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) DeleteAccount(ctx context.Context, id uint64) (bool, error) {
	res := r.getDb(ctx).Where("id = ? AND is_active = ?", id, false).Delete(&domain.PaymentAccount{})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "delete account")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) GetActiveAccount(ctx context.Context, t domain.AccountType) (*domain.PaymentAccount, error) {
	var rows []*domain.PaymentAccount
	err := r.getDb(ctx).
		Where("account_type = ? AND is_active = ?", t, true).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "get active account")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
