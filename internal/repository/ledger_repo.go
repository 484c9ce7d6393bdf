// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/merch-settlement/internal/models"
)

// LedgerRepository 账本仓储
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建账本仓储
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// LockAccount 在事务中取得主体账户并加行锁，账户不存在时先创建
func (r *LedgerRepository) LockAccount(ctx context.Context, tx *gorm.DB, party models.Party, currency string) (*models.LedgerAccount, error) {
	account := &models.LedgerAccount{PartyType: party.Type, PartyID: party.ID, Currency: currency}
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(account).Error; err != nil {
		return nil, err
	}

	var locked models.LedgerAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("party_type = ? AND party_id = ? AND currency = ?", party.Type, party.ID, currency).
		First(&locked).Error
	if err != nil {
		return nil, err
	}
	return &locked, nil
}

// GetAccount 获取主体账户，不加锁
func (r *LedgerRepository) GetAccount(ctx context.Context, party models.Party, currency string) (*models.LedgerAccount, error) {
	var account models.LedgerAccount
	err := r.db.WithContext(ctx).
		Where("party_type = ? AND party_id = ? AND currency = ?", party.Type, party.ID, currency).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateEntries 追加分录
func (r *LedgerRepository) CreateEntries(ctx context.Context, tx *gorm.DB, entries []*models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&entries).Error
}

// SumEntries 账户分录合计
func (r *LedgerRepository) SumEntries(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error) {
	var sum int64
	err := tx.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return sum, err
}

// SumActiveReservations 账户冻结中金额合计
func (r *LedgerRepository) SumActiveReservations(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error) {
	var sum int64
	err := tx.WithContext(ctx).Model(&models.LedgerReservation{}).
		Where("account_id = ? AND status = ?", accountID, models.ReservationStatusActive).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// CreateReservation 创建冻结记录
func (r *LedgerRepository) CreateReservation(ctx context.Context, tx *gorm.DB, reservation *models.LedgerReservation) error {
	return tx.WithContext(ctx).Create(reservation).Error
}

// GetReservationForUpdate 获取冻结记录（加锁）
func (r *LedgerRepository) GetReservationForUpdate(ctx context.Context, tx *gorm.DB, token string) (*models.LedgerReservation, error) {
	var reservation models.LedgerReservation
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", token).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// GetReservation 根据令牌获取冻结记录，tx 为空时使用仓储连接
func (r *LedgerRepository) GetReservation(ctx context.Context, tx *gorm.DB, token string) (*models.LedgerReservation, error) {
	if tx == nil {
		tx = r.db
	}
	var reservation models.LedgerReservation
	if err := tx.WithContext(ctx).Where("token = ?", token).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// TransitReservation 冻结记录状态流转，仅当当前为冻结中时生效，返回受影响行数
func (r *LedgerRepository) TransitReservation(ctx context.Context, tx *gorm.DB, id int64, to string) (int64, error) {
	result := tx.WithContext(ctx).Model(&models.LedgerReservation{}).
		Where("id = ? AND status = ?", id, models.ReservationStatusActive).
		Update("status", to)
	return result.RowsAffected, result.Error
}

// BindReservation 将冻结记录关联到提现申请
func (r *LedgerRepository) BindReservation(ctx context.Context, tx *gorm.DB, token string, payoutID int64) error {
	return tx.WithContext(ctx).Model(&models.LedgerReservation{}).
		Where("token = ?", token).
		Update("payout_id", payoutID).Error
}

// EntryExists 是否已存在同一来源同一原因的分录
func (r *LedgerRepository) EntryExists(ctx context.Context, tx *gorm.DB, refType, refID string, party models.Party, reason string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("ref_type = ? AND ref_id = ? AND party_type = ? AND party_id = ? AND reason = ?",
			refType, refID, party.Type, party.ID, reason).
		Count(&count).Error
	return count > 0, err
}

// EntryFilter 分录查询条件
type EntryFilter struct {
	Currency  string
	RefType   string
	RefID     string
	Reason    string
	StartTime *time.Time
	EndTime   *time.Time
}

func (f EntryFilter) apply(query *gorm.DB) *gorm.DB {
	if f.Currency != "" {
		query = query.Where("currency = ?", f.Currency)
	}
	if f.RefType != "" {
		query = query.Where("ref_type = ?", f.RefType)
	}
	if f.RefID != "" {
		query = query.Where("ref_id = ?", f.RefID)
	}
	if f.Reason != "" {
		query = query.Where("reason = ?", f.Reason)
	}
	if f.StartTime != nil {
		query = query.Where("created_at >= ?", *f.StartTime)
	}
	if f.EndTime != nil {
		query = query.Where("created_at < ?", *f.EndTime)
	}
	return query
}

// ListEntries 分页获取主体分录
func (r *LedgerRepository) ListEntries(ctx context.Context, party models.Party, filter EntryFilter, offset, limit int) ([]*models.LedgerEntry, int64, error) {
	var entries []*models.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("party_type = ? AND party_id = ?", party.Type, party.ID)
	query = filter.apply(query)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// StreamEntries 按时间顺序批量遍历主体分录，用于对账单导出
func (r *LedgerRepository) StreamEntries(ctx context.Context, party models.Party, filter EntryFilter, batch int, fn func([]*models.LedgerEntry) error) error {
	var entries []*models.LedgerEntry
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("party_type = ? AND party_id = ?", party.Type, party.ID)
	query = filter.apply(query).Order("id ASC")

	return query.FindInBatches(&entries, batch, func(_ *gorm.DB, _ int) error {
		return fn(entries)
	}).Error
}

// ListByRef 获取同一来源的全部分录
func (r *LedgerRepository) ListByRef(ctx context.Context, refType, refID string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("ref_type = ? AND ref_id = ?", refType, refID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ListAccounts 获取主体所有币种账户
func (r *LedgerRepository) ListAccounts(ctx context.Context, party models.Party) ([]*models.LedgerAccount, error) {
	var accounts []*models.LedgerAccount
	err := r.db.WithContext(ctx).
		Where("party_type = ? AND party_id = ?", party.Type, party.ID).
		Order("currency ASC").
		Find(&accounts).Error
	return accounts, err
}

// SumByReason 按原因汇总主体分录，用于推导已付与待付金额
func (r *LedgerRepository) SumByReason(ctx context.Context, party models.Party, currency string) (map[string]int64, error) {
	var rows []struct {
		Reason string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("reason, COALESCE(SUM(delta), 0) AS total").
		Where("party_type = ? AND party_id = ? AND currency = ?", party.Type, party.ID, currency).
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Reason] = row.Total
	}
	return out, nil
}
