package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/xerr"
)

const gatewayOperator = "gateway"

// GatewaySession 第三方网关两阶段支付：Initiate 建单拿跳转链接，Execute 回来后 capture
type GatewaySession struct {
	store     domain.Store
	locker    locker.Locker
	lifecycle *Lifecycle
	gw        domain.PaymentGateway

	currency       string
	maxAmount      decimal.Decimal
	sessionTimeout time.Duration
	now            func() time.Time

	sf singleflight.Group
}

func NewGatewaySession(store domain.Store, lk locker.Locker, lc *Lifecycle, gw domain.PaymentGateway, cfg GatewayConfig) (*GatewaySession, error) {
	maxAmount, err := cfg.maxAmount()
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &GatewaySession{
		store:          store,
		locker:         lk,
		lifecycle:      lc,
		gw:             gw,
		currency:       currency,
		maxAmount:      maxAmount,
		sessionTimeout: cfg.SessionTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *GatewaySession) Initiate(ctx context.Context, depositID uint64, returnURL, cancelURL string) (*domain.GatewayTransaction, error) {
	if err := checkRedirectURL("return_url", returnURL); err != nil {
		return nil, err
	}
	if err := checkRedirectURL("cancel_url", cancelURL); err != nil {
		return nil, err
	}

	var d *domain.Deposit
	err := s.locker.WithLock(ctx, depositLockKey(depositID), func(ctx context.Context) error {
		var err error
		d, err = s.checkInitiate(ctx, depositID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// 外部调用不持锁
	order, err := s.gw.CreateOrder(ctx, domain.OrderRequest{
		Amount:      d.Amount,
		Currency:    s.currency,
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
		Description: "deposit " + strconv.FormatUint(depositID, 10),
		InvoiceID:   strconv.FormatUint(depositID, 10),
	})
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("create", "error").Inc()
		logger.Error(ctx, "gateway create order failed", zap.Uint64("deposit_id", depositID), zap.Error(err))
		return nil, gatewayErr(err)
	}
	metrics.GatewayCalls.WithLabelValues("create", "ok").Inc()

	var tx *domain.GatewayTransaction
	err = s.locker.WithLock(ctx, depositLockKey(depositID), func(ctx context.Context) error {
		if _, err := s.checkInitiate(ctx, depositID); err != nil {
			return err
		}
		tx = &domain.GatewayTransaction{
			DepositID:      depositID,
			GatewayOrderID: order.ID,
			ApprovalURL:    order.ApprovalURL,
			Phase:          domain.PhaseCreated,
			CreatedAt:      s.now(),
		}
		return s.store.CreateGatewayTx(ctx, tx)
	})
	if err != nil {
		logger.Warn(ctx, "gateway order created but session not stored", zap.Uint64("deposit_id", depositID), zap.String("order_id", order.ID), zap.Error(err))
		return nil, err
	}
	logger.Info(ctx, "gateway session created", zap.Uint64("deposit_id", depositID), zap.String("order_id", order.ID))
	return tx, nil
}

func (s *GatewaySession) checkInitiate(ctx context.Context, depositID uint64) (*domain.Deposit, error) {
	d, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Method != domain.MethodGateway {
		return nil, xerr.Newf(xerr.InvalidTransition, "deposit %d is %s, not GATEWAY", depositID, d.Method)
	}
	if d.Status != domain.DepositPending {
		return nil, xerr.Newf(xerr.InvalidTransition, "deposit %d is %s", depositID, d.Status)
	}
	if d.Amount.GreaterThan(s.maxAmount) {
		return nil, xerr.Newf(xerr.InvalidAmount, "amount %s exceeds gateway limit %s", d.Amount, s.maxAmount)
	}
	_, err = s.store.GetGatewayTx(ctx, depositID)
	switch {
	case err == nil:
		return nil, xerr.Newf(xerr.InvalidTransition, "deposit %d already has a gateway session", depositID)
	case !errors.Is(err, xerr.ErrNotFound):
		return nil, err
	}
	return d, nil
}

// Execute 幂等：已执行过的会话直接返回当时的结果
func (s *GatewaySession) Execute(ctx context.Context, depositID uint64, paymentID, payerID string) (*domain.Deposit, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "payment_id required")
	}
	v, err, _ := s.sf.Do(strconv.FormatUint(depositID, 10), func() (any, error) {
		return s.execute(ctx, depositID, paymentID, strings.TrimSpace(payerID))
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Deposit), nil
}

func (s *GatewaySession) execute(ctx context.Context, depositID uint64, paymentID, payerID string) (*domain.Deposit, error) {
	var done *domain.Deposit
	err := s.locker.WithLock(ctx, depositLockKey(depositID), func(ctx context.Context) error {
		tx, err := s.store.GetGatewayTx(ctx, depositID)
		if err != nil {
			return err
		}
		switch tx.Phase {
		case domain.PhaseExecuted:
			done, err = s.store.GetDeposit(ctx, depositID)
			return err
		case domain.PhaseCancelled:
			return xerr.Newf(xerr.InvalidTransition, "gateway session for deposit %d was cancelled", depositID)
		}
		if tx.GatewayOrderID != paymentID {
			return xerr.Newf(xerr.InvalidTransition, "payment id does not belong to deposit %d", depositID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}

	capture, err := s.gw.CaptureOrder(ctx, paymentID, payerID)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("capture", "error").Inc()
		logger.Error(ctx, "gateway capture failed", zap.Uint64("deposit_id", depositID), zap.Error(err))
		return nil, gatewayErr(err)
	}
	result := "declined"
	if capture.Success {
		result = "ok"
	}
	metrics.GatewayCalls.WithLabelValues("capture", result).Inc()

	var (
		out *domain.Deposit
		tr  transition
	)
	err = s.locker.WithLock(ctx, depositLockKey(depositID), func(ctx context.Context) error {
		return s.store.Transaction(ctx, func(txCtx context.Context) error {
			var err error
			if capture.Success {
				out, tr, err = s.settleLocked(txCtx, depositID, paymentID, payerID, capture)
			} else {
				out, tr, err = s.declineLocked(txCtx, depositID, capture)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.lifecycle.observe(ctx, out, tr)
	return out, nil
}

func (s *GatewaySession) settleLocked(ctx context.Context, depositID uint64, paymentID, payerID string, c *domain.Capture) (*domain.Deposit, transition, error) {
	ok, err := s.store.TransitionGatewayTx(ctx, depositID, domain.PhaseCreated, domain.GatewayUpdate{
		Phase:     domain.PhaseExecuted,
		Outcome:   domain.OutcomeSucceeded,
		CaptureID: c.CaptureID,
	})
	if err != nil {
		return nil, transition{}, err
	}
	if !ok {
		// 解锁期间已被执行或取消，以库里的结果为准
		d, err := s.store.GetDeposit(ctx, depositID)
		return d, transition{}, err
	}
	d, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, transition{}, err
	}
	if !c.Amount.IsZero() && !c.Amount.Equal(d.Amount) {
		logger.Warn(ctx, "captured amount differs from deposit", zap.Uint64("deposit_id", depositID), zap.String("captured", c.Amount.String()), zap.String("deposit", d.Amount.String()))
	}
	entry := &domain.LedgerEntry{
		Source:       domain.GatewaySource,
		Method:       domain.MethodGateway,
		Reference:    paymentID,
		ReferenceKey: paymentID,
		Amount:       d.Amount,
		Sender:       payerID,
		ObservedAt:   s.now(),
	}
	if _, err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, transition{}, err
	}
	if d.Status.Terminal() {
		logger.Warn(ctx, "gateway captured a resolved deposit", zap.Uint64("deposit_id", depositID), zap.String("status", string(d.Status)))
		return d, transition{}, nil
	}
	return s.lifecycle.applyVerdictTx(ctx, depositID, domain.Matched(entry.ID))
}

func (s *GatewaySession) declineLocked(ctx context.Context, depositID uint64, c *domain.Capture) (*domain.Deposit, transition, error) {
	ok, err := s.store.TransitionGatewayTx(ctx, depositID, domain.PhaseCreated, domain.GatewayUpdate{
		Phase:   domain.PhaseExecuted,
		Outcome: domain.OutcomeDeclined,
	})
	if err != nil {
		return nil, transition{}, err
	}
	d, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, transition{}, err
	}
	if !ok || d.Status.Terminal() {
		return d, transition{}, nil
	}
	logger.Warn(ctx, "gateway payment declined", zap.Uint64("deposit_id", depositID), zap.String("state", c.State))
	return s.lifecycle.resolveTx(ctx, depositID, domain.DecisionReject, gatewayOperator)
}

// Cancel 用户放弃支付或会话超时
func (s *GatewaySession) Cancel(ctx context.Context, depositID uint64) (*domain.Deposit, error) {
	var (
		out *domain.Deposit
		tr  transition
	)
	err := s.locker.WithLock(ctx, depositLockKey(depositID), func(ctx context.Context) error {
		return s.store.Transaction(ctx, func(txCtx context.Context) error {
			ok, err := s.store.TransitionGatewayTx(txCtx, depositID, domain.PhaseCreated, domain.GatewayUpdate{Phase: domain.PhaseCancelled})
			if err != nil {
				return err
			}
			if !ok {
				tx, err := s.store.GetGatewayTx(txCtx, depositID)
				if err != nil {
					return err
				}
				return xerr.Newf(xerr.InvalidTransition, "gateway session for deposit %d is %s", depositID, tx.Phase)
			}
			d, err := s.store.GetDeposit(txCtx, depositID)
			if err != nil {
				return err
			}
			if d.Status.Terminal() {
				out = d
				return nil
			}
			out, tr, err = s.lifecycle.resolveTx(txCtx, depositID, domain.DecisionReject, gatewayOperator)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "gateway session cancelled", zap.Uint64("deposit_id", depositID))
	s.lifecycle.observe(ctx, out, tr)
	return out, nil
}

// Status 查询充值单的网关会话
func (s *GatewaySession) Status(ctx context.Context, depositID uint64) (*domain.GatewayTransaction, error) {
	return s.store.GetGatewayTx(ctx, depositID)
}

// ExpireStale 取消超过 session_timeout 仍未执行的会话
func (s *GatewaySession) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.sessionTimeout <= 0 {
		return 0, nil
	}
	list, err := s.store.ListGatewayTx(ctx, domain.PhaseCreated, now.Add(-s.sessionTimeout), 500)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tx := range list {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := s.Cancel(ctx, tx.DepositID); err != nil {
			logger.Warn(ctx, "expire gateway session failed", zap.Uint64("deposit_id", tx.DepositID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func checkRedirectURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerr.Newf(xerr.RequestParamsError, "%s must be an absolute http(s) url", field)
	}
	return nil
}

// gatewayErr 网关客户端没打业务码的错误统一当作不可用
func gatewayErr(err error) error {
	if _, ok := xerr.As(err); ok {
		return err
	}
	return xerr.Wrap(err, xerr.GatewayUnavailable, "payment gateway unavailable")
}
