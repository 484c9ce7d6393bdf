// Package testutil 提供测试辅助工具
package testutil

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// RandomString 生成随机字符串
func RandomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// RandomPhone 生成随机手机号
func RandomPhone() string {
	return fmt.Sprintf("138%08d", rand.Intn(100000000))
}

// NewDB 创建独立的内存 sqlite 并迁移全部模型
//
// 单连接保证事务串行，并发用例的结果确定。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", RandomString(16))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// USD 解析美元金额，失败时终止测试
func USD(t *testing.T, amount string) money.Money {
	t.Helper()
	m, err := money.Parse(amount, "USD")
	require.NoError(t, err)
	return m
}

// NewTestBrand 创建已通过审核的测试品牌
func NewTestBrand(t *testing.T, db *gorm.DB, ownerUserID int64, rate string) *models.Brand {
	t.Helper()
	brand := &models.Brand{
		OwnerUserID:       ownerUserID,
		Name:              "测试品牌" + RandomString(4),
		CommissionRatePPM: money.MustParseRate(rate).PPM(),
		Status:            models.BrandStatusApproved,
	}
	require.NoError(t, db.Create(brand).Error)
	return brand
}

// NewTestAffiliate 创建测试推广员
func NewTestAffiliate(t *testing.T, db *gorm.DB, brandID int64, status, rate string) *models.Affiliate {
	t.Helper()
	affiliate := &models.Affiliate{
		UserID:            rand.Int63n(1_000_000) + 1000,
		BrandID:           brandID,
		Code:              "AFF" + RandomString(8),
		Status:            status,
		CommissionRatePPM: money.MustParseRate(rate).PPM(),
	}
	require.NoError(t, db.Create(affiliate).Error)
	return affiliate
}

// NewTestReferral 创建测试推荐关系
func NewTestReferral(t *testing.T, db *gorm.DB, referrerUserID, referredUserID int64, status string) *models.Referral {
	t.Helper()
	referral := &models.Referral{
		ReferrerUserID: referrerUserID,
		ReferredUserID: referredUserID,
		Code:           "REF" + RandomString(8),
		Status:         status,
	}
	if status == models.ReferralStatusCompleted {
		now := time.Now()
		referral.CompletedAt = &now
	}
	require.NoError(t, db.Create(referral).Error)
	return referral
}

// NewTestPayoutAccount 绑定测试收款账户
func NewTestPayoutAccount(t *testing.T, db *gorm.DB, party models.Party) *models.PayoutAccount {
	t.Helper()
	phone := RandomPhone()
	account := &models.PayoutAccount{
		PartyType:      party.Type,
		PartyID:        party.ID,
		Provider:       "mock",
		DestinationRef: "acct_" + RandomString(12),
		NotifyPhone:    &phone,
		PayoutsEnabled: true,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}
