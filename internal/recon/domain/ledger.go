package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GatewaySource 网关 capture 成功后写入的替身流水来源
const GatewaySource = "gateway"

// LedgerRecord 外部流水源推送的原始记录，不可信、可重放
type LedgerRecord struct {
	Source     string          `json:"source"`
	Method     string          `json:"method"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	Sender     string          `json:"sender,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
}

type LedgerEntry struct {
	ID     uint64 `gorm:"primaryKey" json:"id"`
	Source string `gorm:"size:64;uniqueIndex:uk_source_reference,priority:1" json:"source"`
	Method Method `gorm:"size:16;index:idx_ledger_match,priority:1" json:"method"`
	// Reference 银行/UPI/链上交易号，(source, reference) 唯一
	Reference        string          `gorm:"size:128;uniqueIndex:uk_source_reference,priority:2" json:"reference"`
	ReferenceKey     string          `gorm:"size:128;index:idx_ledger_match,priority:2" json:"-"`
	Amount           decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	Sender           string          `gorm:"size:128" json:"sender,omitempty"`
	ObservedAt       time.Time       `json:"observed_at"`
	Matched          bool            `gorm:"index:idx_ledger_match,priority:3" json:"matched"`
	MatchedDepositID *uint64         `json:"matched_deposit_id,omitempty"`
	// HeldAt 出过 AMBIGUOUS/AMOUNT_MISMATCH 的流水冻结待人工处理，释放前不参与匹配
	HeldAt     *time.Time `gorm:"index" json:"held_at,omitempty"`
	HoldReason string     `gorm:"size:32" json:"hold_reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (e *LedgerEntry) Held() bool { return e.HeldAt != nil }

func (LedgerEntry) TableName() string { return "recon_ledger_entries" }

type LedgerFilter struct {
	Matched *bool
	Held    *bool
	Method  Method
	// AfterID 游标分页（sweep 用），0 表示从头
	AfterID uint64
	Page    int
	Limit   int
}

type LedgerRepo interface {
	// InsertLedgerEntry 按 (source, reference) 幂等写入；已存在时把库里的记录回填到 e，created=false
	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) (created bool, err error)
	GetLedgerEntry(ctx context.Context, id uint64) (*LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]*LedgerEntry, int64, error)
	// FindUnmatchedByReference 同方式、未匹配、未冻结、ReferenceKey 相同，按 id 升序
	FindUnmatchedByReference(ctx context.Context, method Method, key string) ([]*LedgerEntry, error)
	// ClaimLedgerEntry 条件更新 matched=false 且未冻结 -> matched=true，返回是否抢到
	ClaimLedgerEntry(ctx context.Context, entryID, depositID uint64) (bool, error)
	// HoldLedgerEntry 未匹配且未冻结时冻结
	HoldLedgerEntry(ctx context.Context, entryID uint64, reason string, at time.Time) (bool, error)
	// ReleaseLedgerEntry 解除冻结，仅对未匹配的冻结流水生效
	ReleaseLedgerEntry(ctx context.Context, entryID uint64) (bool, error)
}
