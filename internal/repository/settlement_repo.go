package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// SettlementRepository 订单结算仓储
type SettlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository 创建订单结算仓储
func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// CreateIfAbsentTx 在事务中写入结算记录，订单号已存在时不写入并返回 false
func (r *SettlementRepository) CreateIfAbsentTx(ctx context.Context, tx *gorm.DB, settlement *models.OrderSettlement) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(settlement)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetByOrderID 根据订单号获取结算记录
func (r *SettlementRepository) GetByOrderID(ctx context.Context, orderID string) (*models.OrderSettlement, error) {
	var settlement models.OrderSettlement
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&settlement).Error; err != nil {
		return nil, err
	}
	return &settlement, nil
}

// SettlementFilter 结算记录查询条件
type SettlementFilter struct {
	BrandID        int64
	AffiliateID    int64
	ReferrerUserID int64
	Status         string
	StartTime      *time.Time
	EndTime        *time.Time
}

// List 获取结算记录列表
func (r *SettlementRepository) List(ctx context.Context, offset, limit int, filter SettlementFilter) ([]*models.OrderSettlement, int64, error) {
	var settlements []*models.OrderSettlement
	var total int64

	query := r.db.WithContext(ctx).Model(&models.OrderSettlement{})
	if filter.BrandID > 0 {
		query = query.Where("brand_id = ?", filter.BrandID)
	}
	if filter.AffiliateID > 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.ReferrerUserID > 0 {
		query = query.Where("referrer_user_id = ?", filter.ReferrerUserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StartTime != nil {
		query = query.Where("settled_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("settled_at < ?", *filter.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&settlements).Error; err != nil {
		return nil, 0, err
	}
	return settlements, total, nil
}

// UpdateStatus 更新订单履约状态，仅当当前状态为 from 时生效
func (r *SettlementRepository) UpdateStatus(ctx context.Context, orderID, from, to string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.OrderSettlement{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}
