package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// ReferralRepository 推荐关系仓储
type ReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推荐关系仓储
func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Create 创建推荐关系
func (r *ReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

// GetByID 根据 ID 获取推荐关系
func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*models.Referral, error) {
	var referral models.Referral
	if err := r.db.WithContext(ctx).First(&referral, id).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

// GetByReferred 获取被推荐用户的推荐关系
func (r *ReferralRepository) GetByReferred(ctx context.Context, referredUserID int64) (*models.Referral, error) {
	var referral models.Referral
	if err := r.db.WithContext(ctx).Where("referred_user_id = ?", referredUserID).First(&referral).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

// ListByReferrer 获取推荐人名下的推荐关系
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerUserID int64, offset, limit int) ([]*models.Referral, int64, error) {
	var referrals []*models.Referral
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Referral{}).Where("referrer_user_id = ?", referrerUserID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&referrals).Error; err != nil {
		return nil, 0, err
	}
	return referrals, total, nil
}

// Complete 将推荐关系标记为已完成
func (r *ReferralRepository) Complete(ctx context.Context, id int64, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ReferralStatusCompleted,
			"completed_at": at,
		})
	return result.RowsAffected, result.Error
}

// AddEarningsTx 在事务中累加推荐收益
func (r *ReferralRepository) AddEarningsTx(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	return tx.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ?", id).
		UpdateColumn("earnings", gorm.Expr("earnings + ?", amount)).Error
}
