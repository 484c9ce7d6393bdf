package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// AuditLogRepository 管理端操作记录仓储
type AuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建操作记录仓储
func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create 写入操作记录
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// AuditLogFilter 操作记录查询条件
type AuditLogFilter struct {
	AdminID  int64
	Module   string
	TargetID int64
	Start    *time.Time
	End      *time.Time
}

// List 获取操作记录列表，按时间倒序
func (r *AuditLogRepository) List(ctx context.Context, filter AuditLogFilter, offset, limit int) ([]*models.AuditLog, int64, error) {
	var logs []*models.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.AdminID > 0 {
		query = query.Where("admin_id = ?", filter.AdminID)
	}
	if filter.Module != "" {
		query = query.Where("module = ?", filter.Module)
	}
	if filter.TargetID > 0 {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if filter.Start != nil {
		query = query.Where("created_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("created_at < ?", *filter.End)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
