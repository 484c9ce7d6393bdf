package models

import (
	"fmt"
	"time"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// PayoutAccount 收款账户，对应外部转账通道的目标账户
type PayoutAccount struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyType      PartyType `gorm:"type:varchar(20);not null;uniqueIndex:uk_payout_account,priority:1" json:"party_type"`
	PartyID        int64     `gorm:"not null;uniqueIndex:uk_payout_account,priority:2" json:"party_id"`
	Provider       string    `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	DestinationRef string    `gorm:"type:varchar(64);not null" json:"destination_ref"`
	NotifyPhone    *string   `gorm:"type:varchar(20)" json:"notify_phone,omitempty"`
	PayoutsEnabled bool      `gorm:"not null" json:"payouts_enabled"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (PayoutAccount) TableName() string {
	return "payout_accounts"
}

// PayoutRequest 提现申请
type PayoutRequest struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyType        PartyType  `gorm:"type:varchar(20);not null;index:idx_payout_party,priority:1" json:"party_type"`
	PartyID          int64      `gorm:"not null;index:idx_payout_party,priority:2" json:"party_id"`
	Amount           int64      `gorm:"not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string     `gorm:"type:varchar(16);not null;default:'requested';index" json:"status"`
	ReservationToken string     `gorm:"type:varchar(36);not null" json:"-"`
	DestinationRef   string     `gorm:"type:varchar(64);not null" json:"destination_ref"`
	TransferRef      *string    `gorm:"type:varchar(64);uniqueIndex" json:"transfer_ref,omitempty"`
	FailureReason    string     `gorm:"type:varchar(255);not null;default:''" json:"failure_reason,omitempty"`
	Attempts         int        `gorm:"not null;default:0" json:"attempts"`
	LeaseUntil       *time.Time `json:"-"`
	TransferredAt    *time.Time `json:"transferred_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (PayoutRequest) TableName() string {
	return "payout_requests"
}

// PayoutStatus 提现状态
const (
	PayoutStatusRequested    = "requested"    // 已申请，余额冻结
	PayoutStatusTransferring = "transferring" // 通道已受理，已扣款
	PayoutStatusCompleted    = "completed"    // 到账
	PayoutStatusFailed       = "failed"       // 失败
	PayoutStatusCancelled    = "cancelled"    // 已取消
)

// Party 收款主体
func (p *PayoutRequest) Party() Party {
	return Party{Type: p.PartyType, ID: p.PartyID}
}

// Money 提现金额
func (p *PayoutRequest) Money() money.Money {
	return money.New(p.Amount, p.Currency)
}

// IdempotencyKey 转账幂等键，重试同一申请不会产生第二笔转账
func (p *PayoutRequest) IdempotencyKey() string {
	return fmt.Sprintf("payout-%d", p.ID)
}

// Terminal 是否处于终态
func (p *PayoutRequest) Terminal() bool {
	switch p.Status {
	case PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled:
		return true
	}
	return false
}

// LeaseHeld 分发租约是否仍有效
func (p *PayoutRequest) LeaseHeld(now time.Time) bool {
	return p.LeaseUntil != nil && now.Before(*p.LeaseUntil)
}
