package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Deposit struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	PrincipalID string          `gorm:"size:64;index:idx_principal_status" json:"principal_id"`
	Method      Method          `gorm:"size:16;index:idx_match,priority:1" json:"method"`
	Amount      decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	// 用户提交的支付凭证（UTR / 交易哈希），只能设置一次
	ProofReference *string `gorm:"size:128" json:"proof_reference,omitempty"`
	// 归一化后的凭证，匹配器按它查候选
	ProofKey             string        `gorm:"size:128;index:idx_match,priority:2" json:"-"`
	Status               DepositStatus `gorm:"size:16;index:idx_principal_status;index:idx_match,priority:3" json:"status"`
	FlagReason           FlagReason    `gorm:"size:32" json:"flag_reason,omitempty"`
	MatchedLedgerEntryID *uint64       `json:"matched_ledger_entry_id,omitempty"`
	ReviewedBy           string        `gorm:"size:64" json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt            time.Time     `gorm:"index" json:"created_at"`
	ResolvedAt           *time.Time    `json:"resolved_at,omitempty"`
	Version              int64         `gorm:"default:0" json:"-"`
}

func (Deposit) TableName() string { return "recon_deposits" }

func (d *Deposit) HasProof() bool { return d.ProofReference != nil }

// DepositFilter 列表查询条件，零值字段不过滤
type DepositFilter struct {
	PrincipalID string
	Status      DepositStatus
	Method      Method
	Page        int
	Limit       int
}

// DepositUpdate 一次状态迁移要写的字段
type DepositUpdate struct {
	Status               DepositStatus
	FlagReason           FlagReason
	MatchedLedgerEntryID *uint64
	// ResolvedAt 只在原值为空时写入
	ResolvedAt time.Time
	ReviewedBy string
	ReviewedAt *time.Time
}

type DepositRepo interface {
	CreateDeposit(ctx context.Context, d *Deposit) error
	// GetDeposit 不存在返回 xerr.ErrNotFound
	GetDeposit(ctx context.Context, id uint64) (*Deposit, error)
	ListDeposits(ctx context.Context, f DepositFilter) ([]*Deposit, int64, error)
	// SetProof 条件更新：PENDING 且未设置过凭证，返回是否更新成功
	SetProof(ctx context.Context, id uint64, reference, key string) (bool, error)
	// TransitionDeposit 条件更新：当前状态在 from 中才更新，返回是否更新成功
	TransitionDeposit(ctx context.Context, id uint64, from []DepositStatus, upd DepositUpdate) (bool, error)
	// FindMatchCandidates 同方式、PENDING、ProofKey 相同，按 id 升序
	FindMatchCandidates(ctx context.Context, method Method, proofKey string) ([]*Deposit, error)
	// ListStaleDeposits 有凭证、PENDING、非网关、创建早于 before
	ListStaleDeposits(ctx context.Context, before time.Time, limit int) ([]*Deposit, error)
}
