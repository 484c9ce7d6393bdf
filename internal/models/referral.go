package models

import "time"

// Referral 平台推荐关系，被推荐用户唯一
type Referral struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerUserID int64      `gorm:"index;not null" json:"referrer_user_id"`
	ReferredUserID int64      `gorm:"uniqueIndex;not null" json:"referred_user_id"`
	Code           string     `gorm:"type:varchar(32);index;not null" json:"code"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Earnings       int64      `gorm:"not null;default:0" json:"earnings"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Referral) TableName() string {
	return "referrals"
}

// ReferralStatus 推荐关系状态
const (
	ReferralStatusPending   = "pending"   // 待完成
	ReferralStatusCompleted = "completed" // 已完成
)

// ActiveAt 推荐关系在给定时间点是否计佣，lifetime 为 0 表示永久有效
func (r *Referral) ActiveAt(now time.Time, requireCompleted bool, lifetime time.Duration) bool {
	if requireCompleted && r.Status != ReferralStatusCompleted {
		return false
	}
	if lifetime > 0 && now.Sub(r.CreatedAt) >= lifetime {
		return false
	}
	return true
}
