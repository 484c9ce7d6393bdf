package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// TransferEventRepository 转账回调事件仓储
type TransferEventRepository struct {
	db *gorm.DB
}

// NewTransferEventRepository 创建转账回调事件仓储
func NewTransferEventRepository(db *gorm.DB) *TransferEventRepository {
	return &TransferEventRepository{db: db}
}

// Record 写入事件，事件 ID 已存在时返回 false
func (r *TransferEventRepository) Record(ctx context.Context, event *models.TransferEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetByEventID 根据事件 ID 获取事件
func (r *TransferEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.TransferEvent, error) {
	var event models.TransferEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkOutcome 在事务中记录事件处理结果
//
// 只更新尚未处理完（已接收或未匹配）的事件，返回 false 表示事件已被并发投递处理过。
func (r *TransferEventRepository) MarkOutcome(ctx context.Context, tx *gorm.DB, id int64, outcome string, payoutID *int64, note string) (bool, error) {
	result := tx.WithContext(ctx).Model(&models.TransferEvent{}).
		Where("id = ? AND outcome IN ?", id, []string{models.TransferOutcomeReceived, models.TransferOutcomeUnmatched}).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"payout_id":    payoutID,
			"note":         note,
			"processed_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListUnmatchedAfter 按 ID 游标获取未匹配事件
func (r *TransferEventRepository) ListUnmatchedAfter(ctx context.Context, transferRef string, afterID int64, limit int) ([]*models.TransferEvent, error) {
	var events []*models.TransferEvent
	query := r.db.WithContext(ctx).
		Where("outcome = ? AND id > ?", models.TransferOutcomeUnmatched, afterID)
	if transferRef != "" {
		query = query.Where("transfer_ref = ?", transferRef)
	}
	err := query.Order("id ASC").Limit(limit).Find(&events).Error
	return events, err
}

// ListByOutcome 按处理结果获取事件
func (r *TransferEventRepository) ListByOutcome(ctx context.Context, outcome, transferRef string, offset, limit int) ([]*models.TransferEvent, int64, error) {
	var events []*models.TransferEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.TransferEvent{}).Where("outcome = ?", outcome)
	if transferRef != "" {
		query = query.Where("transfer_ref = ?", transferRef)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id ASC").Offset(offset).Limit(limit).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
