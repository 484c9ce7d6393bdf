package models

import (
	"time"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Affiliate 推广员，仅对所属品牌的订单生效
type Affiliate struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64      `gorm:"index;not null" json:"user_id"`
	BrandID           int64      `gorm:"index;not null" json:"brand_id"`
	Code              string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CommissionRatePPM int64      `gorm:"column:commission_rate_ppm;not null;default:0" json:"commission_rate_ppm"`
	BanExpiresAt      *time.Time `json:"ban_expires_at,omitempty"`
	BanReason         string     `gorm:"type:varchar(255);not null;default:''" json:"ban_reason,omitempty"`
	SalesCount        int64      `gorm:"not null;default:0" json:"sales_count"`
	TotalSales        int64      `gorm:"not null;default:0" json:"total_sales"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Affiliate) TableName() string {
	return "affiliates"
}

// AffiliateStatus 推广员状态
const (
	AffiliateStatusPending  = "pending"  // 待审核
	AffiliateStatusApproved = "approved" // 已通过
	AffiliateStatusRejected = "rejected" // 已拒绝
	AffiliateStatusBanned   = "banned"   // 已封禁
)

// CommissionRate 推广员分佣比例，基数为品牌分成
func (a *Affiliate) CommissionRate() money.Rate {
	return money.Rate(a.CommissionRatePPM)
}

// BanExpired 封禁是否已到期，无到期时间视为永久封禁
func (a *Affiliate) BanExpired(now time.Time) bool {
	return a.Status == AffiliateStatusBanned && a.BanExpiresAt != nil && !now.Before(*a.BanExpiresAt)
}

// EligibleAt 在给定时间点是否可以计佣
func (a *Affiliate) EligibleAt(now time.Time) bool {
	return a.Status == AffiliateStatusApproved || a.BanExpired(now)
}
