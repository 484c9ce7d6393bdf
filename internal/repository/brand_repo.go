package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// BrandRepository 品牌仓储
type BrandRepository struct {
	db *gorm.DB
}

// NewBrandRepository 创建品牌仓储
func NewBrandRepository(db *gorm.DB) *BrandRepository {
	return &BrandRepository{db: db}
}

// Create 创建品牌
func (r *BrandRepository) Create(ctx context.Context, brand *models.Brand) error {
	return r.db.WithContext(ctx).Create(brand).Error
}

// GetByID 根据 ID 获取品牌
func (r *BrandRepository) GetByID(ctx context.Context, id int64) (*models.Brand, error) {
	var brand models.Brand
	if err := r.db.WithContext(ctx).First(&brand, id).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}

// GetByIDUnscoped 根据 ID 获取品牌（包含已删除）
func (r *BrandRepository) GetByIDUnscoped(ctx context.Context, id int64) (*models.Brand, error) {
	var brand models.Brand
	if err := r.db.WithContext(ctx).Unscoped().First(&brand, id).Error; err != nil {
		return nil, err
	}
	return &brand, nil
}

// GetByOwner 获取用户名下品牌
func (r *BrandRepository) GetByOwner(ctx context.Context, ownerUserID int64) ([]*models.Brand, error) {
	var brands []*models.Brand
	err := r.db.WithContext(ctx).Where("owner_user_id = ?", ownerUserID).Order("id ASC").Find(&brands).Error
	return brands, err
}

// OwnedBy 品牌是否属于该用户（包含已删除）
func (r *BrandRepository) OwnedBy(ctx context.Context, brandID, ownerUserID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Unscoped().Model(&models.Brand{}).
		Where("id = ? AND owner_user_id = ?", brandID, ownerUserID).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus 审核品牌，仅待审核状态可变更
func (r *BrandRepository) UpdateStatus(ctx context.Context, id int64, from, to string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Brand{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      to,
			"reviewed_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// UpdateCommissionRate 更新品牌分成比例
func (r *BrandRepository) UpdateCommissionRate(ctx context.Context, id int64, ratePPM int64) error {
	return r.db.WithContext(ctx).Model(&models.Brand{}).
		Where("id = ?", id).
		Update("commission_rate_ppm", ratePPM).Error
}

// Delete 软删除品牌，账本历史保留
func (r *BrandRepository) Delete(ctx context.Context, id int64) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&models.Brand{}, id)
	return result.RowsAffected, result.Error
}

// AddSalesTx 在事务中累加品牌销量与销售额
func (r *BrandRepository) AddSalesTx(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	return tx.WithContext(ctx).Unscoped().Model(&models.Brand{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sales_count": gorm.Expr("sales_count + 1"),
			"gross_sales": gorm.Expr("gross_sales + ?", amount),
		}).Error
}

// List 获取品牌列表
func (r *BrandRepository) List(ctx context.Context, offset, limit int, status string) ([]*models.Brand, int64, error) {
	var brands []*models.Brand
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Brand{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&brands).Error; err != nil {
		return nil, 0, err
	}
	return brands, total, nil
}
