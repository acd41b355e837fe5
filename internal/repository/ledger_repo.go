package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/paygate_server/internal/model"
)

// ErrReferenceConflict 同一流水号已记录了不同的终态
var ErrReferenceConflict = errors.New("支付流水状态冲突")

// LedgerRepository 支付流水，按 reference 幂等写入
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

// Record 按 reference 插入或更新，返回库中的记录。
// pending 可以推进到任意终态；同一终态重复写入为空操作；
// 已是终态时写入其他状态返回 ErrReferenceConflict，不覆盖。
func (r *LedgerRepository) Record(attempt *model.PaymentAttempt) (*model.PaymentAttempt, error) {
	if attempt.Reference == "" {
		return nil, fmt.Errorf("empty reference")
	}
	if attempt.Status == "" {
		attempt.Status = model.PaymentStatusPending
	}

	existing, err := r.GetByReference(attempt.Reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.Create(attempt).Error; err != nil {
			return nil, err
		}
		return attempt, nil
	}
	if err != nil {
		return nil, err
	}

	if existing.Status == attempt.Status {
		return existing, nil
	}
	if existing.IsTerminal() {
		return existing, fmt.Errorf("%w: %s is %s, got %s", ErrReferenceConflict, existing.Reference, existing.Status, attempt.Status)
	}

	fields := map[string]interface{}{
		"status":  attempt.Status,
		"message": attempt.Message,
	}
	if attempt.VerifiedAt != nil {
		fields["verified_at"] = attempt.VerifiedAt
	}

	// status 条件防止并发写入覆盖已有终态
	result := r.db.Model(&model.PaymentAttempt{}).
		Where("reference = ? AND status = ?", attempt.Reference, model.PaymentStatusPending).
		Updates(fields)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return r.Record(attempt)
	}

	return r.GetByReference(attempt.Reference)
}

func (r *LedgerRepository) GetByReference(reference string) (*model.PaymentAttempt, error) {
	var attempt model.PaymentAttempt
	err := r.db.Where("reference = ?", reference).First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// HistoryForUser 按创建时间倒序
func (r *LedgerRepository) HistoryForUser(userID int64, limit int) ([]*model.PaymentAttempt, error) {
	var attempts []*model.PaymentAttempt
	query := r.db.Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&attempts).Error
	return attempts, err
}

// MarkApplied 标记权益已生效。返回 false 表示已经生效过，调用方不应再次延长
func (r *LedgerRepository) MarkApplied(reference string, at time.Time) (bool, error) {
	result := r.db.Model(&model.PaymentAttempt{}).
		Where("reference = ? AND status = ? AND applied_at IS NULL", reference, model.PaymentStatusSuccessful).
		Update("applied_at", at)
	return result.RowsAffected == 1, result.Error
}

func (r *LedgerRepository) MarkSynced(reference string, at time.Time) error {
	return r.db.Model(&model.PaymentAttempt{}).
		Where("reference = ?", reference).
		Update("synced_at", at).Error
}

// MarkChecked 记录对账查询失败，下一轮排到未查询过的流水之后
func (r *LedgerRepository) MarkChecked(reference string, at time.Time) error {
	return r.db.Model(&model.PaymentAttempt{}).
		Where("reference = ? AND status = ?", reference, model.PaymentStatusPending).
		Update("checked_at", at).Error
}

// ListOrphans 创建时间早于 before 仍为 pending 的流水，按最近一次查询（没有则按创建）时间排序
func (r *LedgerRepository) ListOrphans(before time.Time, limit int) ([]*model.PaymentAttempt, error) {
	var attempts []*model.PaymentAttempt
	err := r.db.Where("status = ? AND created_at < ?", model.PaymentStatusPending, before).
		Order("COALESCE(checked_at, created_at) ASC").
		Order("id ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

// ListUnsynced 已是终态但尚未同步到远端的流水
func (r *LedgerRepository) ListUnsynced(before time.Time, limit int) ([]*model.PaymentAttempt, error) {
	var attempts []*model.PaymentAttempt
	err := r.db.Where("status IN ? AND synced_at IS NULL AND updated_at < ?", []string{
		model.PaymentStatusSuccessful,
		model.PaymentStatusFailed,
		model.PaymentStatusCancelled,
		model.PaymentStatusError,
	}, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
