// Package mysql 对账服务的 gorm/MySQL 存储实现
package mysql

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

type txKey struct{}

// 死锁/锁等待超时时整个事务重放的次数
const txRetries = 3

type Repo struct {
	db *gorm.DB
}

var _ domain.Store = (*Repo)(nil)

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// Migrate 建表
func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(domain.Models()...)
}

func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	// 已经在事务里，直接复用
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txCtx := context.WithValue(ctx, txKey{}, tx)
			return fn(txCtx)
		})
		if !orm.IsRetryable(err) {
			return err
		}
		logger.Warn(ctx, "tx retry", zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return xerr.Wrap(err, xerr.ConcurrencyConflict, "transaction retries exhausted")
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return xerr.ErrNotFound
	}
	return xerr.Wrap(err, xerr.DbError, "db")
}
