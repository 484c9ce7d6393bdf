package models

import (
	"time"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// OrderSettlement 订单结算记录，金额列写入后不再修改
type OrderSettlement struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	BrandID            int64     `gorm:"index;not null" json:"brand_id"`
	AffiliateID        *int64    `gorm:"index" json:"affiliate_id,omitempty"`
	ReferralID         *int64    `json:"referral_id,omitempty"`
	ReferrerUserID     *int64    `gorm:"index" json:"referrer_user_id,omitempty"`
	BuyerID            string    `gorm:"type:varchar(64);not null;default:''" json:"buyer_id"`
	Currency           string    `gorm:"type:varchar(3);not null" json:"currency"`
	TotalAmount        int64     `gorm:"not null" json:"total_amount"`
	PlatformShare      int64     `gorm:"not null" json:"platform_share"`
	BrandShare         int64     `gorm:"not null" json:"brand_share"`
	BrandNet           int64     `gorm:"not null" json:"brand_net"`
	AffiliateDue       int64     `gorm:"not null;default:0" json:"affiliate_due"`
	ReferrerDue        int64     `gorm:"not null;default:0" json:"referrer_due"`
	BrandRatePPM       int64     `gorm:"column:brand_rate_ppm;not null" json:"brand_rate_ppm"`
	AffiliateRatePPM   int64     `gorm:"column:affiliate_rate_ppm;not null;default:0" json:"affiliate_rate_ppm"`
	ReferralRatePPM    int64     `gorm:"column:referral_rate_ppm;not null;default:0" json:"referral_rate_ppm"`
	ReferralSuppressed bool      `gorm:"not null;default:false" json:"referral_suppressed"`
	AttributionNote    string    `gorm:"type:varchar(255);not null;default:''" json:"attribution_note,omitempty"`
	Status             string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	SettledAt          time.Time `gorm:"not null" json:"settled_at"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (OrderSettlement) TableName() string {
	return "order_settlements"
}

// OrderStatus 订单履约状态
const (
	OrderStatusPending    = "pending"    // 待处理
	OrderStatusProcessing = "processing" // 处理中
	OrderStatusShipped    = "shipped"    // 已发货
	OrderStatusDelivered  = "delivered"  // 已送达
	OrderStatusCancelled  = "cancelled"  // 已取消
)

// orderTransitions 订单状态允许的下一状态
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransitOrder 订单状态能否从 from 流转到 to
func CanTransitOrder(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidOrderStatus 是否为已知订单状态
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Total 订单总额
func (s *OrderSettlement) Total() money.Money {
	return money.New(s.TotalAmount, s.Currency)
}
