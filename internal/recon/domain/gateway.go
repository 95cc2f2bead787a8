package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type GatewayPhase string

const (
	PhaseCreated   GatewayPhase = "CREATED"
	PhaseExecuted  GatewayPhase = "EXECUTED"
	PhaseCancelled GatewayPhase = "CANCELLED"
)

type GatewayOutcome string

const (
	OutcomeNone      GatewayOutcome = ""
	OutcomeSucceeded GatewayOutcome = "SUCCEEDED"
	OutcomeDeclined  GatewayOutcome = "DECLINED"
)

// GatewayTransaction 与 GATEWAY 充值单一对一
type GatewayTransaction struct {
	DepositID      uint64         `gorm:"primaryKey;autoIncrement:false" json:"deposit_id"`
	GatewayOrderID string         `gorm:"size:128;index" json:"gateway_order_id"`
	ApprovalURL    string         `gorm:"size:512" json:"approval_url"`
	Phase          GatewayPhase   `gorm:"size:16;index:idx_phase_created,priority:1" json:"phase"`
	Outcome        GatewayOutcome `gorm:"size:16" json:"outcome,omitempty"`
	CaptureID      string         `gorm:"size:128" json:"capture_id,omitempty"`
	CreatedAt      time.Time      `gorm:"index:idx_phase_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (GatewayTransaction) TableName() string { return "recon_gateway_transactions" }

type GatewayUpdate struct {
	Phase     GatewayPhase
	Outcome   GatewayOutcome
	CaptureID string
}

type GatewayRepo interface {
	// CreateGatewayTx 同一 deposit 重复创建返回 xerr.ErrDuplicateIdentifier
	CreateGatewayTx(ctx context.Context, tx *GatewayTransaction) error
	GetGatewayTx(ctx context.Context, depositID uint64) (*GatewayTransaction, error)
	// TransitionGatewayTx 条件更新 phase=from
	TransitionGatewayTx(ctx context.Context, depositID uint64, from GatewayPhase, upd GatewayUpdate) (bool, error)
	ListGatewayTx(ctx context.Context, phase GatewayPhase, createdBefore time.Time, limit int) ([]*GatewayTransaction, error)
}

// OrderRequest / Order / Capture 外部网关协议无关的抽象
type OrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
	Description string
	// InvoiceID 传 deposit id，网关侧也能对账
	InvoiceID string
}

type Order struct {
	ID          string
	ApprovalURL string
}

type Capture struct {
	Success   bool
	CaptureID string
	State     string
	Amount    decimal.Decimal
}

// PaymentGateway 外部支付网关。传输层错误需包装为 xerr.ErrGatewayUnavailable
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, orderID, payerID string) (*Capture, error)
}
