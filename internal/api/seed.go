package api

import (
	"context"
	"errors"

	"secretchek/internal/model"

	"gorm.io/gorm"
)

// SeedDemoData 初始化演示用的公司、门店和任务，便于本地联调。
func (s *Server) SeedDemoData(ctx context.Context) error {
	const demoCompany = "Demo Retail Group"

	var company model.Company
	err := s.db.WithContext(ctx).Where("name = ?", demoCompany).First(&company).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		company = model.Company{
			Name:    demoCompany,
			Contact: "demo@secretchek.local",
		}
		if err := s.db.WithContext(ctx).Create(&company).Error; err != nil {
			return err
		}
	}

	var location model.Location
	err = s.db.WithContext(ctx).
		Where("company_id = ? AND name = ?", company.ID, "Downtown Store").
		First(&location).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		location = model.Location{
			CompanyID: company.ID,
			Name:      "Downtown Store",
			Address:   "1 Main St",
			City:      "Almaty",
		}
		if err := s.db.WithContext(ctx).Create(&location).Error; err != nil {
			return err
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("company_id = ?", company.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		task := model.Task{
			CompanyID:   company.ID,
			LocationID:  location.ID,
			Title:       "Visit Downtown Store",
			Description: "Check service quality and cleanliness, take photos of the entrance.",
			City:        location.City,
			Reward:      50000,
			Status:      model.TaskStatusNew,
		}
		if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
			return err
		}
	}

	return nil
}
