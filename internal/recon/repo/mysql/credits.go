package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

// CreditPrincipal 调用方需在事务内调用，入账记录和余额一起提交
func (r *Repo) CreditPrincipal(ctx context.Context, c *domain.Credit) (bool, error) {
	db := r.getDb(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		if orm.IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, xerr.Wrap(res.Error, xerr.DbError, "insert credit")
	}
	if res.RowsAffected == 0 {
		// deposit_id 已入账
		return false, nil
	}

	now := time.Now().UTC()
	bal := domain.PrincipalBalance{
		PrincipalID: c.PrincipalID,
		Available:   c.Amount,
		Version:     1,
		UpdatedAt:   now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "principal_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"available":  gorm.Expr("available + ?", c.Amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}),
	}).Create(&bal).Error
	if err != nil {
		return false, xerr.Wrap(err, xerr.DbError, "upsert balance")
	}
	return true, nil
}

func (r *Repo) GetCredit(ctx context.Context, depositID uint64) (*domain.Credit, error) {
	var c domain.Credit
	if err := r.getDb(ctx).Where("deposit_id = ?", depositID).Take(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repo) GetBalance(ctx context.Context, principalID string) (decimal.Decimal, error) {
	var rows []domain.PrincipalBalance
	err := r.getDb(ctx).Where("principal_id = ?", principalID).Limit(1).Find(&rows).Error
	if err != nil {
		return decimal.Zero, xerr.Wrap(err, xerr.DbError, "get balance")
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return rows[0].Available, nil
}
