package api

import (
	"context"
	"time"

	"secretchek/internal/model"

	"gorm.io/gorm"
)

// dbStore 是 AgentStore / TaskStore / ReportStore / AdminStore 的 MySQL 实现。
type dbStore struct {
	db *gorm.DB
}

func (s dbStore) GetAgent(ctx context.Context, agentID uint) (*model.Agent, error) {
	var agent model.Agent
	if err := s.db.WithContext(ctx).First(&agent, agentID).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s dbStore) GetTask(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimTask 以单条条件更新完成认领。
//
// WHERE 带上 agent_id IS NULL 和 status=new：并发认领同一任务时
// 只有一个请求能拿到 RowsAffected=1，不存在先查后改的窗口。
func (s dbStore) ClaimTask(ctx context.Context, taskID, agentID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND agent_id IS NULL AND status = ?", taskID, model.TaskStatusNew).
		Updates(map[string]interface{}{
			"agent_id":   agentID,
			"status":     model.TaskStatusInProgress,
			"claimed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s dbStore) ListAgentTasks(ctx context.Context, agentID uint, city string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("agent_id = ? OR (agent_id IS NULL AND status = ? AND (city = ? OR city = ''))",
			agentID, model.TaskStatusNew, city).
		Order("id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s dbStore) CreateTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// MarkReported 把探员自己认领的任务置为已报告。
func (s dbStore) MarkReported(ctx context.Context, taskID, agentID uint) error {
	return s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND agent_id = ? AND status = ?", taskID, agentID, model.TaskStatusInProgress).
		Update("status", model.TaskStatusReported).Error
}

func (s dbStore) CreateReport(ctx context.Context, report *model.Report) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s dbStore) AddMedia(ctx context.Context, media *model.ReportMedia) error {
	return s.db.WithContext(ctx).Create(media).Error
}

func (s dbStore) CreateCompany(ctx context.Context, company *model.Company) error {
	return s.db.WithContext(ctx).Create(company).Error
}

func (s dbStore) GetCompany(ctx context.Context, companyID uint) (*model.Company, error) {
	var company model.Company
	if err := s.db.WithContext(ctx).First(&company, companyID).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (s dbStore) CreateLocation(ctx context.Context, location *model.Location) error {
	return s.db.WithContext(ctx).Create(location).Error
}

func (s dbStore) GetLocation(ctx context.Context, locationID uint) (*model.Location, error) {
	var location model.Location
	if err := s.db.WithContext(ctx).First(&location, locationID).Error; err != nil {
		return nil, err
	}
	return &location, nil
}
