package domain

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AccountType 收款账户类型
type AccountType string

const (
	AccountUPI    AccountType = "UPI"
	AccountBank   AccountType = "BANK"
	AccountCrypto AccountType = "CRYPTO"
)

var AccountTypes = []AccountType{AccountUPI, AccountBank, AccountCrypto}

func (t AccountType) Valid() bool {
	switch t {
	case AccountUPI, AccountBank, AccountCrypto:
		return true
	}
	return false
}

func ParseAccountType(s string) (AccountType, bool) {
	t := AccountType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

type AccountStatus string

const (
	AccountPending  AccountStatus = "PENDING"
	AccountActive   AccountStatus = "ACTIVE" // 已审核通过，可以被启用
	AccountRejected AccountStatus = "REJECTED"
)

type PaymentAccount struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	AccountType    AccountType    `gorm:"size:16;uniqueIndex:uk_type_name,priority:1" json:"account_type"`
	IdentifierName string         `gorm:"size:128;uniqueIndex:uk_type_name,priority:2" json:"identifier_name"`
	Details        datatypes.JSON `json:"details"`
	Status         AccountStatus  `gorm:"size:16;index" json:"status"`
	IsActive       bool           `json:"is_active"`
	// ActiveSlot 启用时等于 AccountType，否则为 NULL；唯一索引保证每种类型最多一个启用账户
	ActiveSlot *string    `gorm:"size:16;uniqueIndex:uk_active_slot" json:"-"`
	ApprovedBy string     `gorm:"size:64" json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (PaymentAccount) TableName() string { return "recon_payment_accounts" }

type AccountFilter struct {
	Type   AccountType
	Status AccountStatus
}

type AccountRepo interface {
	// CreateAccount (type, name) 重复返回 xerr.ErrDuplicateIdentifier
	CreateAccount(ctx context.Context, a *PaymentAccount) error
	GetAccount(ctx context.Context, id uint64) (*PaymentAccount, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]*PaymentAccount, error)
	// ReviewAccount 条件更新 PENDING -> to
	ReviewAccount(ctx context.Context, id uint64, to AccountStatus, operatorID string, at time.Time) (bool, error)
	// DeactivateType 清掉该类型所有账户的启用标记
	DeactivateType(ctx context.Context, t AccountType) error
	// ActivateAccount 条件更新：status=ACTIVE 才能启用
	ActivateAccount(ctx context.Context, id uint64) (bool, error)
	DeactivateAccount(ctx context.Context, id uint64) error
	// DeleteAccount 条件删除：未启用才能删
	DeleteAccount(ctx context.Context, id uint64) (bool, error)
	// GetActiveAccount 没有返回 nil, nil
	GetActiveAccount(ctx context.Context, t AccountType) (*PaymentAccount, error)
}
