package service

import (
	"time"

	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/repository"
)

// AccessService 读取本地订阅状态做访问判断，不依赖远端
type AccessService struct {
	entitlements *repository.EntitlementRepository
	engine       *entitlement.Engine
	now          func() time.Time
}

func NewAccessService(entitlements *repository.EntitlementRepository, engine *entitlement.Engine) *AccessService {
	return &AccessService{
		entitlements: entitlements,
		engine:       engine,
		now:          time.Now,
	}
}

// CheckAccess 判断用户当前能否使用某个功能
func (s *AccessService) CheckAccess(userID int64, featureID string) (bool, error) {
	state, err := s.entitlements.GetState(userID)
	if err != nil {
		return false, err
	}
	return s.engine.CanAccess(state, s.now(), featureID), nil
}

// Entitlement 当前的订阅汇总，到期后 tier 返回 free
func (s *AccessService) Entitlement(userID int64) (*entitlement.Snapshot, error) {
	state, err := s.entitlements.GetState(userID)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Evaluate(state, s.now())
	return &snap, nil
}
