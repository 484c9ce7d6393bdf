// Package attribution 根据订单上下文确定应计佣的推广员与推荐人
package attribution

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/config"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/models"
)

// BrandLookup 品牌查询，需包含已删除品牌
type BrandLookup interface {
	GetByIDUnscoped(ctx context.Context, id int64) (*models.Brand, error)
}

// AffiliateLookup 推广员查询
type AffiliateLookup interface {
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
}

// ReferralLookup 推荐关系查询
type ReferralLookup interface {
	GetByReferred(ctx context.Context, referredUserID int64) (*models.Referral, error)
}

// ReferralPolicy 推荐分佣生效策略
type ReferralPolicy struct {
	RequireCompleted bool
	// Lifetime 自推荐关系建立起的计佣期限，0 表示永久
	Lifetime time.Duration
}

// PolicyFromConfig 从配置构建推荐策略
func PolicyFromConfig(cfg *config.ReferralConfig) ReferralPolicy {
	return ReferralPolicy{RequireCompleted: cfg.RequireCompleted, Lifetime: cfg.Lifetime()}
}

// OrderContext 归因输入
type OrderContext struct {
	BrandID           int64
	AffiliateClickRef string
	BuyerID           string
}

// Attribution 归因结果，缺失或不符合条件的一方为 nil
type Attribution struct {
	Brand     *models.Brand
	Affiliate *models.Affiliate
	Referral  *models.Referral
	// Notes 降级原因，写入结算记录便于排查
	Notes []string
}

// Note 合并后的降级原因
func (a *Attribution) Note() string {
	return strings.Join(a.Notes, ",")
}

// 降级原因
const (
	NoteBrandNotFound       = "brand_not_found"
	NoteAffiliateNotFound   = "affiliate_not_found"
	NoteAffiliateOtherBrand = "affiliate_other_brand"
	NoteAffiliateIneligible = "affiliate_ineligible"
	NoteReferralInactive    = "referral_inactive"
)

// Resolver 归因解析器，只读不写
type Resolver struct {
	brands     BrandLookup
	affiliates AffiliateLookup
	referrals  ReferralLookup
	policy     ReferralPolicy
	log        *zap.Logger
	now        func() time.Time
}

// NewResolver 创建归因解析器
func NewResolver(brands BrandLookup, affiliates AffiliateLookup, referrals ReferralLookup, policy ReferralPolicy, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		brands:     brands,
		affiliates: affiliates,
		referrals:  referrals,
		policy:     policy,
		log:        log.Named("attribution"),
		now:        time.Now,
	}
}

// SetClock 替换时钟，用于测试封禁与推荐到期
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Resolve 解析归因
//
// 记录不存在或不符合条件时降级为无此方，不视为错误；
// 仅数据库故障返回错误，由上游重试整笔订单。
func (r *Resolver) Resolve(ctx context.Context, oc OrderContext) (*Attribution, error) {
	out := &Attribution{}
	now := r.now()

	brand, err := r.brands.GetByIDUnscoped(ctx, oc.BrandID)
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		out.Notes = append(out.Notes, NoteBrandNotFound)
	case err != nil:
		return nil, errors.ErrDatabaseError.WithError(err)
	default:
		out.Brand = brand
	}

	var affNote, refNote string
	g, gctx := errgroup.WithContext(ctx)
	if oc.AffiliateClickRef != "" {
		g.Go(func() error {
			var err error
			out.Affiliate, affNote, err = r.resolveAffiliate(gctx, oc, now)
			return err
		})
	}
	if brand != nil {
		g.Go(func() error {
			var err error
			out.Referral, refNote, err = r.resolveReferral(gctx, brand.OwnerUserID, now)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, n := range []string{affNote, refNote} {
		if n != "" {
			out.Notes = append(out.Notes, n)
		}
	}
	if len(out.Notes) > 0 {
		r.log.Info("归因降级",
			zap.Int64("brand_id", oc.BrandID),
			zap.String("click_ref", oc.AffiliateClickRef),
			zap.Strings("notes", out.Notes))
	}
	return out, nil
}

func (r *Resolver) resolveAffiliate(ctx context.Context, oc OrderContext, now time.Time) (*models.Affiliate, string, error) {
	affiliate, err := r.affiliates.GetByCode(ctx, oc.AffiliateClickRef)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NoteAffiliateNotFound, nil
	}
	if err != nil {
		return nil, "", errors.ErrDatabaseError.WithError(err)
	}
	if affiliate.BrandID != oc.BrandID {
		return nil, NoteAffiliateOtherBrand, nil
	}
	if !affiliate.EligibleAt(now) {
		r.log.Debug("推广员不可计佣", logger.Party(string(models.PartyAffiliate), affiliate.ID), zap.String("status", affiliate.Status))
		return nil, NoteAffiliateIneligible + ":" + affiliate.Status, nil
	}
	return affiliate, "", nil
}

func (r *Resolver) resolveReferral(ctx context.Context, ownerUserID int64, now time.Time) (*models.Referral, string, error) {
	referral, err := r.referrals.GetByReferred(ctx, ownerUserID)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		// 没有推荐人是常态，不记降级原因
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.ErrDatabaseError.WithError(err)
	}
	if !referral.ActiveAt(now, r.policy.RequireCompleted, r.policy.Lifetime) {
		return nil, NoteReferralInactive, nil
	}
	return referral, "", nil
}
