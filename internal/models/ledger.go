package models

import (
	"time"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// LedgerAccount 账本账户，每个 (主体, 币种) 一行，行锁用于串行化同一主体的记账与冻结
type LedgerAccount struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyType PartyType `gorm:"type:varchar(20);not null;uniqueIndex:uk_ledger_account,priority:1" json:"party_type"`
	PartyID   int64     `gorm:"not null;uniqueIndex:uk_ledger_account,priority:2" json:"party_id"`
	Currency  string    `gorm:"type:varchar(3);not null;uniqueIndex:uk_ledger_account,priority:3" json:"currency"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (LedgerAccount) TableName() string {
	return "ledger_accounts"
}

// Party 账户所属主体
func (a *LedgerAccount) Party() Party {
	return Party{Type: a.PartyType, ID: a.PartyID}
}

// LedgerEntry 账本分录，只追加不修改
//
// (ref_type, ref_id, party_type, party_id, reason) 唯一，重复投递的记账在数据库层被拒绝。
type LedgerEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"index;not null" json:"account_id"`
	PartyType PartyType `gorm:"type:varchar(20);not null;uniqueIndex:uk_ledger_posting,priority:3;index:idx_ledger_party,priority:1" json:"party_type"`
	PartyID   int64     `gorm:"not null;uniqueIndex:uk_ledger_posting,priority:4;index:idx_ledger_party,priority:2" json:"party_id"`
	Currency  string    `gorm:"type:varchar(3);not null" json:"currency"`
	RefType   string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_ledger_posting,priority:1" json:"ref_type"`
	RefID     string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_ledger_posting,priority:2" json:"ref_id"`
	Delta     int64     `gorm:"not null" json:"delta"`
	Reason    string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_ledger_posting,priority:5" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Amount 分录金额（带符号）
func (e *LedgerEntry) Amount() money.Money {
	return money.New(e.Delta, e.Currency)
}

// LedgerRefType 分录来源
const (
	LedgerRefOrder  = "order"  // 订单分佣
	LedgerRefPayout = "payout" // 提现
)

// LedgerReason 分录原因
const (
	ReasonCommissionPlatform  = "commission_platform"
	ReasonCommissionBrand     = "commission_brand"
	ReasonCommissionAffiliate = "commission_affiliate"
	ReasonCommissionReferral  = "commission_referral"
	ReasonPayoutDebit         = "payout_debit"
	ReasonPayoutReversal      = "payout_reversal"
)

// LedgerReservation 余额冻结，提现在途期间占用可用余额
type LedgerReservation struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Token     string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"token"`
	AccountID int64     `gorm:"index:idx_reservation_account,priority:1;not null" json:"account_id"`
	PartyType PartyType `gorm:"type:varchar(20);not null" json:"party_type"`
	PartyID   int64     `gorm:"not null" json:"party_id"`
	Currency  string    `gorm:"type:varchar(3);not null" json:"currency"`
	Amount    int64     `gorm:"not null" json:"amount"`
	PayoutID  *int64    `gorm:"index" json:"payout_id,omitempty"`
	Status    string    `gorm:"type:varchar(16);not null;default:'active';index:idx_reservation_account,priority:2" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (LedgerReservation) TableName() string {
	return "ledger_reservations"
}

// ReservationStatus 冻结状态
const (
	ReservationStatusActive   = "active"   // 冻结中
	ReservationStatusConsumed = "consumed" // 已扣款
	ReservationStatusReleased = "released" // 已释放
)

// Party 冻结所属主体
func (r *LedgerReservation) Party() Party {
	return Party{Type: r.PartyType, ID: r.PartyID}
}
