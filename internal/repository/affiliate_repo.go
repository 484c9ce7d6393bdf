package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// AffiliateRepository 推广员仓储
type AffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广员仓储
func NewAffiliateRepository(db *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

// Create 创建推广员
func (r *AffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(affiliate).Error
}

// GetByID 根据 ID 获取推广员
func (r *AffiliateRepository) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).First(&affiliate, id).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByCode 根据推广码获取推广员
func (r *AffiliateRepository) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&affiliate).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByUserID 获取用户作为推广员的全部记录
func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Affiliate, error) {
	var affiliates []*models.Affiliate
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&affiliates).Error
	return affiliates, err
}

// OwnedBy 推广员记录是否属于该用户
func (r *AffiliateRepository) OwnedBy(ctx context.Context, affiliateID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ? AND user_id = ?", affiliateID, userID).
		Count(&count).Error
	return count > 0, err
}

// Transit 状态流转，仅当当前状态在 from 中时生效，返回受影响行数
func (r *AffiliateRepository) Transit(ctx context.Context, id int64, from []string, updates map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// ExpireBans 将已到期的封禁恢复为已通过
func (r *AffiliateRepository) ExpireBans(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("status = ? AND ban_expires_at IS NOT NULL AND ban_expires_at <= ?", models.AffiliateStatusBanned, now).
		Updates(map[string]interface{}{
			"status":         models.AffiliateStatusApproved,
			"ban_expires_at": nil,
			"ban_reason":     "",
		})
	return result.RowsAffected, result.Error
}

// AddSalesTx 在事务中累加推广员销量与销售额
func (r *AffiliateRepository) AddSalesTx(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	return tx.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sales_count": gorm.Expr("sales_count + 1"),
			"total_sales": gorm.Expr("total_sales + ?", amount),
		}).Error
}

// List 获取推广员列表
func (r *AffiliateRepository) List(ctx context.Context, offset, limit int, brandID int64, status string) ([]*models.Affiliate, int64, error) {
	var affiliates []*models.Affiliate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Affiliate{})
	if brandID > 0 {
		query = query.Where("brand_id = ?", brandID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&affiliates).Error; err != nil {
		return nil, 0, err
	}
	return affiliates, total, nil
}
