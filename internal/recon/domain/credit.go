package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Credit 入账记录，deposit_id 唯一：数据库层面保证一笔充值最多入账一次
type Credit struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	DepositID   uint64          `gorm:"uniqueIndex" json:"deposit_id"`
	PrincipalID string          `gorm:"size:64;index" json:"principal_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (Credit) TableName() string { return "recon_credits" }

type PrincipalBalance struct {
	PrincipalID string          `gorm:"primaryKey;size:64" json:"principal_id"`
	Available   decimal.Decimal `gorm:"type:decimal(36,18);default:0" json:"available"`
	Version     int64           `gorm:"default:0" json:"-"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (PrincipalBalance) TableName() string { return "recon_principal_balances" }

type CreditRepo interface {
	// CreditPrincipal 写入账记录并加余额；已入账过返回 false 且不改余额
	CreditPrincipal(ctx context.Context, c *Credit) (bool, error)
	GetCredit(ctx context.Context, depositID uint64) (*Credit, error)
	GetBalance(ctx context.Context, principalID string) (decimal.Decimal, error)
}
