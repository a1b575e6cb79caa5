package auth

import (
	"context"
	"time"

	"secretchek/internal/model"

	"gorm.io/gorm"
)

// gormStore 是 CredentialStore 的 MySQL 实现。
type gormStore struct {
	db *gorm.DB
}

// NewGormStore 创建基于 gorm 的 CredentialStore。
func NewGormStore(db *gorm.DB) CredentialStore {
	return gormStore{db: db}
}

func (s gormStore) FindAgentByPhone(ctx context.Context, phone string) (*model.Agent, error) {
	var agent model.Agent
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s gormStore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	return s.db.WithContext(ctx).Create(agent).Error
}

func (s gormStore) UpdateLastLogin(ctx context.Context, agentID uint, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Update("last_login_at", at).Error
}

func (s gormStore) LatestCode(ctx context.Context, phone, purpose string) (*model.VerificationCode, error) {
	var row model.VerificationCode
	err := s.db.WithContext(ctx).
		Where("phone = ? AND purpose = ? AND used = ?", phone, purpose, false).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s gormStore) SaveCode(ctx context.Context, code *model.VerificationCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

// ConsumeCode 把 used=0 的验证码置为已用。
// WHERE 条件里带 used=0，并发下只有一个请求能拿到 RowsAffected=1。
func (s gormStore) ConsumeCode(ctx context.Context, codeID uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.VerificationCode{}).
		Where("id = ? AND used = ?", codeID, false).
		Update("used", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
