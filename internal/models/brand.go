package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Brand 品牌，CommissionRatePPM 为品牌分成比例（百万分比）
type Brand struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerUserID       int64          `gorm:"index;not null" json:"owner_user_id"`
	Name              string         `gorm:"type:varchar(100);not null" json:"name"`
	CommissionRatePPM int64          `gorm:"column:commission_rate_ppm;not null;default:500000" json:"commission_rate_ppm"`
	Status            string         `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	SalesCount        int64          `gorm:"not null;default:0" json:"sales_count"`
	GrossSales        int64          `gorm:"not null;default:0" json:"gross_sales"`
	ReviewedAt        *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 表名
func (Brand) TableName() string {
	return "brands"
}

// BrandStatus 品牌审核状态
const (
	BrandStatusPending  = "pending"  // 待审核
	BrandStatusApproved = "approved" // 已通过
	BrandStatusRejected = "rejected" // 已拒绝
)

// CommissionRate 品牌分成比例
func (b *Brand) CommissionRate() money.Rate {
	return money.Rate(b.CommissionRatePPM)
}

// Frozen 软删除后的品牌冻结，不可再提现
func (b *Brand) Frozen() bool {
	return b.DeletedAt.Valid
}
