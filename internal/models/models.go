package models

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&Brand{},
		&Affiliate{},
		&Referral{},
		&OrderSettlement{},
		&LedgerAccount{},
		&LedgerEntry{},
		&LedgerReservation{},
		&PayoutAccount{},
		&PayoutRequest{},
		&TransferEvent{},
		&AuditLog{},
	}
}
