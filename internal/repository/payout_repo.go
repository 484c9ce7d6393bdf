package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// PayoutRepository 提现仓储
type PayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建提现仓储
func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// CreateTx 在事务中创建提现申请
func (r *PayoutRepository) CreateTx(ctx context.Context, tx *gorm.DB, payout *models.PayoutRequest) error {
	return tx.WithContext(ctx).Create(payout).Error
}

// GetByID 根据 ID 获取提现申请
func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	if err := r.db.WithContext(ctx).First(&payout, id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetForUpdate 获取提现申请（加锁）
func (r *PayoutRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&payout, id).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetByTransferRefForUpdate 根据通道转账单号获取提现申请（加锁）
func (r *PayoutRepository) GetByTransferRefForUpdate(ctx context.Context, tx *gorm.DB, ref string) (*models.PayoutRequest, error) {
	var payout models.PayoutRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transfer_ref = ?", ref).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// Transit 状态条件更新，仅当当前状态为 from 时生效，返回受影响行数
func (r *PayoutRepository) Transit(ctx context.Context, tx *gorm.DB, id int64, from, to string, updates map[string]interface{}) (int64, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	result := tx.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// AcquireLease 抢占分发租约，租约为空或已过期才能成功
func (r *PayoutRepository) AcquireLease(ctx context.Context, id int64, now time.Time, until time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ? AND (lease_until IS NULL OR lease_until <= ?)", id, models.PayoutStatusRequested, now).
		Updates(map[string]interface{}{
			"lease_until": until,
			"attempts":    gorm.Expr("attempts + 1"),
		})
	return result.RowsAffected == 1, result.Error
}

// ReleaseLease 释放分发租约
func (r *PayoutRepository) ReleaseLease(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("id = ?", id).
		Update("lease_until", nil).Error
}

// ListByParty 分页获取主体提现记录
func (r *PayoutRepository) ListByParty(ctx context.Context, party models.Party, status string, offset, limit int) ([]*models.PayoutRequest, int64, error) {
	var payouts []*models.PayoutRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.PayoutRequest{}).
		Where("party_type = ? AND party_id = ?", party.Type, party.ID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&payouts).Error; err != nil {
		return nil, 0, err
	}
	return payouts, total, nil
}

// ListStaleRequested 获取租约已过期、仍停留在已申请状态的提现
//
// 从未抢占过租约的申请只有创建早于 createdBefore 才算滞留，刚提交的申请留给请求方分发。
func (r *PayoutRepository) ListStaleRequested(ctx context.Context, now, createdBefore time.Time, limit int) ([]*models.PayoutRequest, error) {
	var payouts []*models.PayoutRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PayoutStatusRequested).
		Where("((lease_until IS NULL AND created_at <= ?) OR lease_until <= ?)", createdBefore, now).
		Order("id ASC").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

// PayoutAccountRepository 收款账户仓储
type PayoutAccountRepository struct {
	db *gorm.DB
}

// NewPayoutAccountRepository 创建收款账户仓储
func NewPayoutAccountRepository(db *gorm.DB) *PayoutAccountRepository {
	return &PayoutAccountRepository{db: db}
}

// GetByParty 获取主体收款账户
func (r *PayoutAccountRepository) GetByParty(ctx context.Context, party models.Party) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	err := r.db.WithContext(ctx).
		Where("party_type = ? AND party_id = ?", party.Type, party.ID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Upsert 绑定或更新收款账户
func (r *PayoutAccountRepository) Upsert(ctx context.Context, account *models.PayoutAccount) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "party_type"}, {Name: "party_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "destination_ref", "notify_phone", "payouts_enabled", "updated_at"}),
	}).Create(account).Error
}
