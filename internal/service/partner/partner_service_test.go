package partner

import (
	"bytes"
	"context"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/qrcode"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	"github.com/dumeirei/merch-settlement/internal/testutil"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

func setup(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	codes, err := crypto.NewCodeDeriver("test-referral-key")
	require.NoError(t, err)
	svc := NewService(repository.NewBrandRepository(db), repository.NewAffiliateRepository(db),
		repository.NewReferralRepository(db), commission.DefaultPolicy(), codes, nil)
	return svc, db
}

func TestBrandLifecycle(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	brand, err := svc.RegisterBrand(ctx, 100, "潮玩社", nil)
	require.NoError(t, err)
	assert.Equal(t, models.BrandStatusPending, brand.Status)
	assert.Equal(t, int64(500000), brand.CommissionRatePPM)

	brand, err = svc.ApproveBrand(ctx, brand.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BrandStatusApproved, brand.Status)

	// 重复审核通过幂等，已通过的不能再驳回
	_, err = svc.ApproveBrand(ctx, brand.ID)
	require.NoError(t, err)
	_, err = svc.RejectBrand(ctx, brand.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidStatusTransition))

	_, err = svc.SetBrandRate(ctx, brand.ID, money.MustParseRate("0.9"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRate))
	brand, err = svc.SetBrandRate(ctx, brand.ID, money.MustParseRate("0.6"))
	require.NoError(t, err)
	assert.Equal(t, int64(600000), brand.CommissionRatePPM)

	require.NoError(t, svc.DeleteBrand(ctx, brand.ID))
	assert.True(t, errors.Is(svc.DeleteBrand(ctx, brand.ID), errors.ErrBrandNotFound))
	_, err = svc.ApproveBrand(ctx, brand.ID)
	assert.True(t, errors.Is(err, errors.ErrBrandNotFound))

	// 删除后仍可识别归属，历史账本可查
	ok, err := svc.Owns(ctx, 100, models.Party{Type: models.PartyBrand, ID: brand.ID})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterBrand_RateOutOfBounds(t *testing.T) {
	svc, _ := setup(t)
	r := money.MustParseRate("0.1")
	_, err := svc.RegisterBrand(context.Background(), 100, "x", &r)
	assert.True(t, errors.Is(err, errors.ErrInvalidRate))
}

func TestAffiliateLifecycle(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	brand := testutil.NewTestBrand(t, db, 100, "0.5")

	_, err := svc.ApplyAffiliate(ctx, 200, brand.ID, money.MustParseRate("1.5"))
	assert.True(t, errors.Is(err, errors.ErrInvalidRate))

	aff, err := svc.ApplyAffiliate(ctx, 200, brand.ID, money.MustParseRate("0.2"))
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusPending, aff.Status)
	assert.Len(t, aff.Code, 9)

	_, err = svc.UnbanAffiliate(ctx, aff.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidStatusTransition))

	aff, err = svc.ApproveAffiliate(ctx, aff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusApproved, aff.Status)
	assert.NotNil(t, aff.ApprovedAt)

	until := now.Add(24 * time.Hour)
	aff, err = svc.BanAffiliate(ctx, aff.ID, &until, "刷单")
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusBanned, aff.Status)
	assert.False(t, aff.EligibleAt(now))
	assert.True(t, aff.EligibleAt(until))

	past := now.Add(-time.Hour)
	_, err = svc.BanAffiliate(ctx, aff.ID, &past, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidParams))

	n, err := svc.ExpireBans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.SetClock(func() time.Time { return until.Add(time.Minute) })
	n, err = svc.ExpireBans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var stored models.Affiliate
	require.NoError(t, db.First(&stored, aff.ID).Error)
	assert.Equal(t, models.AffiliateStatusApproved, stored.Status)
	assert.Nil(t, stored.BanExpiresAt)

	// 永久封禁不会自动恢复
	_, err = svc.BanAffiliate(ctx, aff.ID, nil, "违规")
	require.NoError(t, err)
	n, err = svc.ExpireBans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	aff, err = svc.UnbanAffiliate(ctx, aff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusApproved, aff.Status)

	_, err = svc.ApproveAffiliate(ctx, 9999)
	assert.True(t, errors.Is(err, errors.ErrAffiliateNotFound))
}

func TestApplyAffiliate_BrandNotApproved(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	brand, err := svc.RegisterBrand(ctx, 100, "待审核品牌", nil)
	require.NoError(t, err)

	_, err = svc.ApplyAffiliate(ctx, 200, brand.ID, money.MustParseRate("0.2"))
	assert.True(t, errors.Is(err, errors.ErrInvalidStatusTransition))
}

func TestReferrals(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.CreateReferral(ctx, 1, 1)
	assert.True(t, errors.Is(err, errors.ErrInvalidParams))

	r, err := svc.CreateReferral(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, svc.ReferralCode(1), r.Code)
	assert.Equal(t, models.ReferralStatusPending, r.Status)

	_, err = svc.CreateReferral(ctx, 3, 2)
	assert.True(t, errors.Is(err, errors.ErrReferralExists))

	second, err := svc.CreateReferral(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, r.Code, second.Code, "同一推荐人的推荐码一致")

	done, err := svc.CompleteReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	again, err := svc.CompleteReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt.Unix(), again.CompletedAt.Unix())

	_, err = svc.CompleteReferral(ctx, 9999)
	assert.True(t, errors.Is(err, errors.ErrReferralNotFound))

	list, total, err := svc.ListReferrals(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

func TestOwnsAndParties(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()
	brand := testutil.NewTestBrand(t, db, 100, "0.5")
	aff := testutil.NewTestAffiliate(t, db, brand.ID, models.AffiliateStatusApproved, "0.2")

	tests := []struct {
		name  string
		user  int64
		party models.Party
		want  bool
	}{
		{"本人", 100, models.Party{Type: models.PartyUser, ID: 100}, true},
		{"他人", 100, models.Party{Type: models.PartyUser, ID: 101}, false},
		{"品牌所有者", 100, models.Party{Type: models.PartyBrand, ID: brand.ID}, true},
		{"非品牌所有者", 101, models.Party{Type: models.PartyBrand, ID: brand.ID}, false},
		{"推广员本人", aff.UserID, models.Party{Type: models.PartyAffiliate, ID: aff.ID}, true},
		{"平台账户", 100, models.PlatformParty(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := svc.Owns(ctx, tt.user, tt.party)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	parties, err := svc.Parties(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []models.Party{
		{Type: models.PartyUser, ID: 100},
		{Type: models.PartyBrand, ID: brand.ID},
	}, parties)
}

func TestReferralInvite(t *testing.T) {
	svc, _ := setup(t)
	svc.SetInviteLinks("https://shop.example.com/", qrcode.NewGenerator(qrcode.WithSize(128)))

	invite, err := svc.ReferralInvite(7)
	require.NoError(t, err)
	assert.Equal(t, svc.ReferralCode(7), invite.Code)
	assert.Equal(t, "https://shop.example.com/invite/"+invite.Code, invite.Link)
	assert.True(t, strings.HasPrefix(invite.QRCode, "data:image/png;base64,"))

	data, err := svc.ReferralQRCode(7)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	// 不同用户的链接不同
	other, err := svc.ReferralInvite(8)
	require.NoError(t, err)
	assert.NotEqual(t, invite.Link, other.Link)
}
