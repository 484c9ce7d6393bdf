package models

import "time"

// TransferEvent 转账通道回调事件原文，EventID 唯一保证重复投递只处理一次
type TransferEvent struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider      string     `gorm:"type:varchar(20);not null" json:"provider"`
	EventID       string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"event_id"`
	EventType     string     `gorm:"type:varchar(64);not null;default:''" json:"event_type"`
	TransferRef   string     `gorm:"type:varchar(64);index;not null" json:"transfer_ref"`
	Status        string     `gorm:"type:varchar(16);not null" json:"status"`
	FailureReason string     `gorm:"type:varchar(255);not null;default:''" json:"failure_reason,omitempty"`
	Outcome       string     `gorm:"type:varchar(16);not null;default:'received';index" json:"outcome"`
	PayoutID      *int64     `gorm:"index" json:"payout_id,omitempty"`
	Note          string     `gorm:"type:varchar(255);not null;default:''" json:"note,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (TransferEvent) TableName() string {
	return "transfer_events"
}

// TransferStatus 回调中的转账终态
const (
	TransferStatusSucceeded = "succeeded"
	TransferStatusFailed    = "failed"
)

// TransferOutcome 回调处理结果
const (
	TransferOutcomeReceived  = "received"  // 已接收未处理
	TransferOutcomeApplied   = "applied"   // 已驱动状态流转
	TransferOutcomeDuplicate = "duplicate" // 重复事件，无变化
	TransferOutcomeAnomaly   = "anomaly"   // 乱序终态，需人工介入
	TransferOutcomeUnmatched = "unmatched" // 尚未匹配到提现申请
)
