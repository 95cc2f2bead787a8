package mysql

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
	"payrecon.com/internal/recon/domain"
	"payrecon.com/pkg/orm"
	"payrecon.com/pkg/xerr"
)

func (r *Repo) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	// uk_source_reference 冲突时什么都不做，再按唯一键读回
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "insert ledger entry")
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var existing domain.LedgerEntry
	err := r.getDb(ctx).
		Where("source = ? AND reference = ?", e.Source, e.Reference).
		Take(&existing).Error
	if err != nil {
		return false, notFound(err)
	}
	*e = existing
	return false, nil
}

func (r *Repo) GetLedgerEntry(ctx context.Context, id uint64) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := r.getDb(ctx).Take(&e, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *Repo) ListLedgerEntries(ctx context.Context, f domain.LedgerFilter) ([]*domain.LedgerEntry, int64, error) {
	q := r.getDb(ctx).Model(&domain.LedgerEntry{})
	if f.Matched != nil {
		q = q.Where("matched = ?", *f.Matched)
	}
	if f.Held != nil {
		if *f.Held {
			q = q.Where("held_at IS NOT NULL")
		} else {
			q = q.Where("held_at IS NULL")
		}
	}
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	if f.AfterID > 0 {
		q = q.Where("id > ?", f.AfterID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "count ledger")
	}
	q = q.Order("id ASC")
	if f.AfterID > 0 || f.Page <= 0 {
		if f.Limit > 0 {
			q = q.Limit(f.Limit)
		}
	} else {
		q = orm.ApplyPagination(q, f.Page, f.Limit)
	}
	var rows []*domain.LedgerEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "list ledger")
	}
	return rows, total, nil
}

func (r *Repo) FindUnmatchedByReference(ctx context.Context, method domain.Method, key string) ([]*domain.LedgerEntry, error) {
	var rows []*domain.LedgerEntry
	err := r.getDb(ctx).
		Where("method = ? AND reference_key = ? AND matched = ? AND held_at IS NULL", method, key, false).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "find unmatched ledger")
	}
	return rows, nil
}

func (r *Repo) ClaimLedgerEntry(ctx context.Context, entryID, depositID uint64) (bool, error) {
	res := r.getDb(ctx).Model(&domain.LedgerEntry{}).
		Where("id = ? AND matched = ? AND held_at IS NULL", entryID, false).
		Updates(map[string]any{
			"matched":            true,
			"matched_deposit_id": depositID,
		})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "claim ledger entry")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) HoldLedgerEntry(ctx context.Context, entryID uint64, reason string, at time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.LedgerEntry{}).
		Where("id = ? AND matched = ? AND held_at IS NULL", entryID, false).
		Updates(map[string]any{
			"held_at":     at,
			"hold_reason": reason,
		})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "hold ledger entry")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) ReleaseLedgerEntry(ctx context.Context, entryID uint64) (bool, error) {
	res := r.getDb(ctx).Model(&domain.LedgerEntry{}).
		Where("id = ? AND matched = ? AND held_at IS NOT NULL", entryID, false).
		Updates(map[string]any{
			"held_at":     nil,
			"hold_reason": "",
		})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "release ledger entry")
	}
	return res.RowsAffected == 1, nil
}
