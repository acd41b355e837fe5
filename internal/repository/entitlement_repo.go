package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/paygate_server/internal/model"
)

// EntitlementRepository 每个用户一行订阅状态
type EntitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// WithTx 在事务内使用
func (r *EntitlementRepository) WithTx(tx *gorm.DB) *EntitlementRepository {
	return &EntitlementRepository{db: tx}
}

// Get 没有记录时返回 free 状态的空行
func (r *EntitlementRepository) Get(userID int64) (*model.UserEntitlement, error) {
	var ent model.UserEntitlement
	err := r.db.Where("user_id = ?", userID).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserEntitlement{UserID: userID, Tier: string(model.TierFree)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// GetState 读取引擎使用的状态快照
func (r *EntitlementRepository) GetState(userID int64) (model.EntitlementState, error) {
	ent, err := r.Get(userID)
	if err != nil {
		return model.FreeState(), err
	}
	return ent.State(), nil
}

// Save 按 user_id 覆盖写入
func (r *EntitlementRepository) Save(userID int64, state model.EntitlementState, reference string) error {
	ent := &model.UserEntitlement{
		UserID:        userID,
		Tier:          string(state.Tier),
		ExpiresAt:     state.ExpiresAt,
		PurchasedAt:   state.PurchasedAt,
		LastReference: reference,
		UpdatedAt:     time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "expires_at", "purchased_at", "last_reference", "updated_at"}),
	}).Create(ent).Error
}

// Clear 取消订阅：回到 free 并清空到期和购买时间
func (r *EntitlementRepository) Clear(userID int64) error {
	return r.Save(userID, model.FreeState(), "")
}
