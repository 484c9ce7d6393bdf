// Package models 定义数据模型
package models

import "fmt"

// PartyType 参与分账的主体类型
type PartyType string

// 主体类型
const (
	PartyPlatform  PartyType = "platform"  // 平台
	PartyBrand     PartyType = "brand"     // 品牌
	PartyAffiliate PartyType = "affiliate" // 推广员
	PartyUser      PartyType = "user"      // 推荐人（平台用户）
)

// PlatformPartyID 平台主体固定 ID
const PlatformPartyID int64 = 0

// Valid 是否为已知主体类型
func (t PartyType) Valid() bool {
	switch t {
	case PartyPlatform, PartyBrand, PartyAffiliate, PartyUser:
		return true
	}
	return false
}

// Party 账本主体
type Party struct {
	Type PartyType `json:"party_type"`
	ID   int64     `json:"party_id"`
}

// PlatformParty 平台主体
func PlatformParty() Party {
	return Party{Type: PartyPlatform, ID: PlatformPartyID}
}

func (p Party) String() string {
	return fmt.Sprintf("%s:%d", p.Type, p.ID)
}
