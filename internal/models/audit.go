package models

import "time"

// AuditLog 管理端写操作记录，请求体经脱敏后落库
type AuditLog struct {
	ID        int64                  `gorm:"primaryKey;autoIncrement" json:"id"`
	AdminID   int64                  `gorm:"index;not null" json:"admin_id"`
	Module    string                 `gorm:"type:varchar(32);index;not null" json:"module"`
	Action    string                 `gorm:"type:varchar(32);not null" json:"action"`
	Route     string                 `gorm:"type:varchar(128);not null" json:"route"`
	TargetID  *int64                 `gorm:"index" json:"target_id,omitempty"`
	Status    int                    `gorm:"not null" json:"status"`
	RequestID string                 `gorm:"type:varchar(64);not null;default:''" json:"request_id"`
	IP        string                 `gorm:"type:varchar(45);not null;default:''" json:"ip"`
	UserAgent *string                `gorm:"type:varchar(255)" json:"user_agent,omitempty"`
	Payload   map[string]interface{} `gorm:"serializer:json;type:text" json:"payload,omitempty"`
	CreatedAt time.Time              `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}
