package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/locker"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/xerr"
)

// Registry 收款账户：提交、审核、启用。每种类型同一时刻最多一个启用账户
type Registry struct {
	store  domain.Store
	locker locker.Locker
	now    func() time.Time
}

func NewRegistry(store domain.Store, lk locker.Locker) *Registry {
	return &Registry{store: store, locker: lk, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Registry) Propose(ctx context.Context, t domain.AccountType, name string, details json.RawMessage) (*domain.PaymentAccount, error) {
	if !t.Valid() {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown account type %q", t)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerr.New(xerr.RequestParamsError, "identifier_name required")
	}
	if _, err := domain.ParseDetails(t, details); err != nil {
		return nil, err
	}
	a := &domain.PaymentAccount{
		AccountType:    t,
		IdentifierName: name,
		Details:        []byte(details),
		Status:         domain.AccountPending,
	}
	if err := r.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	logger.Info(ctx, "payment account proposed", zap.Uint64("account_id", a.ID), zap.String("type", string(t)))
	return a, nil
}

func (r *Registry) Approve(ctx context.Context, id uint64, operatorID string) (*domain.PaymentAccount, error) {
	return r.review(ctx, id, domain.AccountActive, operatorID)
}

func (r *Registry) Reject(ctx context.Context, id uint64, operatorID string) (*domain.PaymentAccount, error) {
	return r.review(ctx, id, domain.AccountRejected, operatorID)
}

func (r *Registry) review(ctx context.Context, id uint64, to domain.AccountStatus, operatorID string) (*domain.PaymentAccount, error) {
	ok, err := r.store.ReviewAccount(ctx, id, to, operatorID, r.now())
	if err != nil {
		return nil, err
	}
	a, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerr.Newf(xerr.InvalidTransition, "account %d is %s, not PENDING", id, a.Status)
	}
	logger.Info(ctx, "payment account reviewed", zap.Uint64("account_id", id), zap.String("status", string(to)), zap.String("operator", operatorID))
	return a, nil
}

// Activate 同类型其他账户在同一事务内被停用
func (r *Registry) Activate(ctx context.Context, id uint64) (*domain.PaymentAccount, error) {
	a, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.AccountActive {
		return nil, xerr.Newf(xerr.InvalidTransition, "account %d is %s, approve it first", id, a.Status)
	}
	err = r.locker.WithLock(ctx, accountTypeLockKey(a.AccountType), func(ctx context.Context) error {
		return r.store.Transaction(ctx, func(txCtx context.Context) error {
			if err := r.store.DeactivateType(txCtx, a.AccountType); err != nil {
				return err
			}
			ok, err := r.store.ActivateAccount(txCtx, id)
			if err != nil {
				return err
			}
			if !ok {
				return xerr.Newf(xerr.InvalidTransition, "account %d can not be activated", id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "payment account activated", zap.Uint64("account_id", id), zap.String("type", string(a.AccountType)))
	return r.store.GetAccount(ctx, id)
}

func (r *Registry) Deactivate(ctx context.Context, id uint64) (*domain.PaymentAccount, error) {
	if err := r.store.DeactivateAccount(ctx, id); err != nil {
		return nil, err
	}
	return r.store.GetAccount(ctx, id)
}

func (r *Registry) Delete(ctx context.Context, id uint64) error {
	a, err := r.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if a.IsActive {
		return xerr.Newf(xerr.AccountInUse, "account %d is active", id)
	}
	ok, err := r.store.DeleteAccount(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// 删除前被并发启用或已被删除
		if _, err := r.store.GetAccount(ctx, id); errors.Is(err, xerr.ErrNotFound) {
			return err
		}
		return xerr.Newf(xerr.AccountInUse, "account %d is active", id)
	}
	logger.Info(ctx, "payment account deleted", zap.Uint64("account_id", id))
	return nil
}

func (r *Registry) CurrentActive(ctx context.Context, t domain.AccountType) (*domain.PaymentAccount, error) {
	if !t.Valid() {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown account type %q", t)
	}
	return r.store.GetActiveAccount(ctx, t)
}

func (r *Registry) List(ctx context.Context, f domain.AccountFilter) ([]*domain.PaymentAccount, error) {
	return r.store.ListAccounts(ctx, f)
}

// PaymentInstructions 每种类型当前启用的收款账户，没有启用的类型不出现
func (r *Registry) PaymentInstructions(ctx context.Context) (map[domain.AccountType]*domain.PaymentAccount, error) {
	out := make(map[domain.AccountType]*domain.PaymentAccount, len(domain.AccountTypes))
	for _, t := range domain.AccountTypes {
		a, err := r.store.GetActiveAccount(ctx, t)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out[t] = a
		}
	}
	return out, nil
}
