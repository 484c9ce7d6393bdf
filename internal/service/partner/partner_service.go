// Package partner 品牌、推广员与推荐关系的生命周期管理
package partner

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/crypto"
	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/qrcode"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// 推广码与推荐码前缀
const (
	affiliateCodePrefix = "A"
	referralCodePrefix  = "R"
	affiliateCodeLength = 8
)

// Service 合作方管理服务
type Service struct {
	brands     *repository.BrandRepository
	affiliates *repository.AffiliateRepository
	referrals  *repository.ReferralRepository
	policy     commission.Policy
	codes      *crypto.CodeDeriver
	linkBase   string
	qr         *qrcode.Generator
	log        *zap.Logger
	now        func() time.Time
}

// ReferralInvite 推荐邀请信息
type ReferralInvite struct {
	Code   string `json:"code"`
	Link   string `json:"link"`
	QRCode string `json:"qrcode"`
}

// NewService 创建合作方管理服务
func NewService(
	brands *repository.BrandRepository,
	affiliates *repository.AffiliateRepository,
	referrals *repository.ReferralRepository,
	policy commission.Policy,
	codes *crypto.CodeDeriver,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		brands:     brands,
		affiliates: affiliates,
		referrals:  referrals,
		policy:     policy,
		codes:      codes,
		qr:         qrcode.NewGenerator(),
		log:        log.Named("partner"),
		now:        time.Now,
	}
}

// SetInviteLinks 设置推荐链接前缀与二维码生成器
func (s *Service) SetInviteLinks(baseURL string, qr *qrcode.Generator) {
	s.linkBase = strings.TrimRight(baseURL, "/")
	if qr != nil {
		s.qr = qr
	}
}

// SetClock 替换时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterBrand 品牌入驻申请，未指定比例时使用默认品牌分成
func (s *Service) RegisterBrand(ctx context.Context, ownerUserID int64, name string, rate *money.Rate) (*models.Brand, error) {
	r := s.policy.DefaultBrandRate
	if rate != nil {
		r = *rate
	}
	if err := s.checkBrandRate(r); err != nil {
		return nil, err
	}
	brand := &models.Brand{
		OwnerUserID:       ownerUserID,
		Name:              name,
		CommissionRatePPM: r.PPM(),
		Status:            models.BrandStatusPending,
	}
	if err := s.brands.Create(ctx, brand); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return brand, nil
}

// ApproveBrand 审核通过品牌
func (s *Service) ApproveBrand(ctx context.Context, id int64) (*models.Brand, error) {
	return s.reviewBrand(ctx, id, models.BrandStatusApproved)
}

// RejectBrand 驳回品牌
func (s *Service) RejectBrand(ctx context.Context, id int64) (*models.Brand, error) {
	return s.reviewBrand(ctx, id, models.BrandStatusRejected)
}

func (s *Service) reviewBrand(ctx context.Context, id int64, to string) (*models.Brand, error) {
	n, err := s.brands.UpdateStatus(ctx, id, models.BrandStatusPending, to)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	brand, err := s.getBrand(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 && brand.Status != to {
		return nil, errors.ErrInvalidStatusTransition.Withf("品牌当前状态为 %s", brand.Status)
	}
	s.log.Info("品牌审核", logger.Party(string(models.PartyBrand), id), zap.String("status", to))
	return brand, nil
}

// SetBrandRate 调整品牌分成比例，仅影响之后入账的订单
func (s *Service) SetBrandRate(ctx context.Context, id int64, rate money.Rate) (*models.Brand, error) {
	if err := s.checkBrandRate(rate); err != nil {
		return nil, err
	}
	if _, err := s.getBrand(ctx, id); err != nil {
		return nil, err
	}
	if err := s.brands.UpdateCommissionRate(ctx, id, rate.PPM()); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return s.getBrand(ctx, id)
}

func (s *Service) checkBrandRate(r money.Rate) error {
	if !r.Between(s.policy.BrandRateMin, s.policy.BrandRateMax) {
		return errors.ErrInvalidRate.Withf("品牌分成比例 %s 不在 [%s, %s] 内", r, s.policy.BrandRateMin, s.policy.BrandRateMax)
	}
	return nil
}

// DeleteBrand 软删除品牌，账本保留，余额冻结不可提现
func (s *Service) DeleteBrand(ctx context.Context, id int64) error {
	n, err := s.brands.Delete(ctx, id)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if n == 0 {
		return errors.ErrBrandNotFound
	}
	s.log.Info("品牌已删除，余额冻结", logger.Party(string(models.PartyBrand), id))
	return nil
}

// ListBrands 分页获取品牌
func (s *Service) ListBrands(ctx context.Context, status string, offset, limit int) ([]*models.Brand, int64, error) {
	list, total, err := s.brands.List(ctx, offset, limit, status)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

func (s *Service) getBrand(ctx context.Context, id int64) (*models.Brand, error) {
	brand, err := s.brands.GetByID(ctx, id)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrBrandNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return brand, nil
}

// ApplyAffiliate 申请成为品牌推广员
func (s *Service) ApplyAffiliate(ctx context.Context, userID, brandID int64, rate money.Rate) (*models.Affiliate, error) {
	if !rate.IsFraction() {
		return nil, errors.ErrInvalidRate.Withf("推广员分佣比例 %s 超出 [0, 1]", rate)
	}
	brand, err := s.getBrand(ctx, brandID)
	if err != nil {
		return nil, err
	}
	if brand.Status != models.BrandStatusApproved {
		return nil, errors.ErrInvalidStatusTransition.WithMessage("品牌未通过审核")
	}

	code, err := crypto.RandomCode(affiliateCodePrefix, affiliateCodeLength)
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}
	affiliate := &models.Affiliate{
		UserID:            userID,
		BrandID:           brandID,
		Code:              code,
		Status:            models.AffiliateStatusPending,
		CommissionRatePPM: rate.PPM(),
	}
	if err := s.affiliates.Create(ctx, affiliate); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errors.ErrAlreadyExists.WithMessage("推广码冲突，请重试")
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return affiliate, nil
}

// ApproveAffiliate 审核通过推广员
func (s *Service) ApproveAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	return s.transitAffiliate(ctx, id, []string{models.AffiliateStatusPending}, map[string]interface{}{
		"status":      models.AffiliateStatusApproved,
		"approved_at": s.now(),
	})
}

// RejectAffiliate 驳回推广员
func (s *Service) RejectAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	return s.transitAffiliate(ctx, id, []string{models.AffiliateStatusPending}, map[string]interface{}{
		"status": models.AffiliateStatusRejected,
	})
}

// BanAffiliate 封禁推广员，until 为空表示永久封禁
func (s *Service) BanAffiliate(ctx context.Context, id int64, until *time.Time, reason string) (*models.Affiliate, error) {
	if until != nil && !until.After(s.now()) {
		return nil, errors.ErrInvalidParams.WithMessage("封禁到期时间必须晚于当前时间")
	}
	affiliate, err := s.transitAffiliate(ctx, id,
		[]string{models.AffiliateStatusApproved, models.AffiliateStatusBanned},
		map[string]interface{}{
			"status":         models.AffiliateStatusBanned,
			"ban_expires_at": until,
			"ban_reason":     reason,
		})
	if err != nil {
		return nil, err
	}
	s.log.Info("推广员已封禁", logger.Party(string(models.PartyAffiliate), id), zap.Timep("until", until), zap.String("reason", reason))
	return affiliate, nil
}

// UnbanAffiliate 解除封禁
func (s *Service) UnbanAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	return s.transitAffiliate(ctx, id, []string{models.AffiliateStatusBanned}, map[string]interface{}{
		"status":         models.AffiliateStatusApproved,
		"ban_expires_at": nil,
		"ban_reason":     "",
	})
}

// ExpireBans 恢复已到期的封禁
//
// 到期判断本身在归因时即时生效，这里只是让存储状态与之一致。
func (s *Service) ExpireBans(ctx context.Context) (int64, error) {
	n, err := s.affiliates.ExpireBans(ctx, s.now())
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}
	if n > 0 {
		s.log.Info("封禁到期恢复", zap.Int64("count", n))
	}
	return n, nil
}

// ListAffiliates 分页获取推广员
func (s *Service) ListAffiliates(ctx context.Context, brandID int64, status string, offset, limit int) ([]*models.Affiliate, int64, error) {
	list, total, err := s.affiliates.List(ctx, offset, limit, brandID, status)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

func (s *Service) transitAffiliate(ctx context.Context, id int64, from []string, updates map[string]interface{}) (*models.Affiliate, error) {
	n, err := s.affiliates.Transit(ctx, id, from, updates)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	affiliate, err := s.affiliates.GetByID(ctx, id)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrAffiliateNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if n == 0 {
		return nil, errors.ErrInvalidStatusTransition.Withf("推广员当前状态为 %s", affiliate.Status)
	}
	return affiliate, nil
}

// ReferralCode 用户的推荐码，由用户 ID 派生
func (s *Service) ReferralCode(referrerUserID int64) string {
	return s.codes.Derive(referralCodePrefix, referrerUserID)
}

// ReferralLink 推荐链接
func (s *Service) ReferralLink(referrerUserID int64) string {
	return fmt.Sprintf("%s/invite/%s", s.linkBase, s.ReferralCode(referrerUserID))
}

// ReferralInvite 推荐码、推荐链接及其二维码
func (s *Service) ReferralInvite(referrerUserID int64) (*ReferralInvite, error) {
	link := s.ReferralLink(referrerUserID)
	dataURL, err := s.qr.DataURL(link)
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}
	return &ReferralInvite{
		Code:   s.ReferralCode(referrerUserID),
		Link:   link,
		QRCode: dataURL,
	}, nil
}

// ReferralQRCode 推荐链接二维码 PNG
func (s *Service) ReferralQRCode(referrerUserID int64) ([]byte, error) {
	data, err := s.qr.PNG(s.ReferralLink(referrerUserID))
	if err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}
	return data, nil
}

// CreateReferral 记录推荐关系，每个被推荐用户只能有一个推荐人
func (s *Service) CreateReferral(ctx context.Context, referrerUserID, referredUserID int64) (*models.Referral, error) {
	if referrerUserID <= 0 || referredUserID <= 0 || referrerUserID == referredUserID {
		return nil, errors.ErrInvalidParams.WithMessage("推荐人与被推荐人无效")
	}
	if _, err := s.referrals.GetByReferred(ctx, referredUserID); err == nil {
		return nil, errors.ErrReferralExists
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	referral := &models.Referral{
		ReferrerUserID: referrerUserID,
		ReferredUserID: referredUserID,
		Code:           s.ReferralCode(referrerUserID),
		Status:         models.ReferralStatusPending,
	}
	if err := s.referrals.Create(ctx, referral); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errors.ErrReferralExists
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return referral, nil
}

// CompleteReferral 完成推荐关系，重复完成无副作用
func (s *Service) CompleteReferral(ctx context.Context, id int64) (*models.Referral, error) {
	if _, err := s.referrals.Complete(ctx, id, s.now()); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	referral, err := s.referrals.GetByID(ctx, id)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrReferralNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return referral, nil
}

// ListReferrals 分页获取用户推荐的关系
func (s *Service) ListReferrals(ctx context.Context, referrerUserID int64, offset, limit int) ([]*models.Referral, int64, error) {
	list, total, err := s.referrals.ListByReferrer(ctx, referrerUserID, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

// Owns 用户是否有权查看该主体的账本
func (s *Service) Owns(ctx context.Context, userID int64, party models.Party) (bool, error) {
	var (
		ok  bool
		err error
	)
	switch party.Type {
	case models.PartyUser:
		return party.ID == userID, nil
	case models.PartyBrand:
		ok, err = s.brands.OwnedBy(ctx, party.ID, userID)
	case models.PartyAffiliate:
		ok, err = s.affiliates.OwnedBy(ctx, party.ID, userID)
	default:
		return false, nil
	}
	if err != nil {
		return false, errors.ErrDatabaseError.WithError(err)
	}
	return ok, nil
}

// Parties 用户名下全部账本主体：本人、拥有的品牌与推广员身份
func (s *Service) Parties(ctx context.Context, userID int64) ([]models.Party, error) {
	parties := []models.Party{{Type: models.PartyUser, ID: userID}}

	brands, err := s.brands.GetByOwner(ctx, userID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	for _, b := range brands {
		parties = append(parties, models.Party{Type: models.PartyBrand, ID: b.ID})
	}

	affiliates, err := s.affiliates.GetByUserID(ctx, userID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	for _, a := range affiliates {
		parties = append(parties, models.Party{Type: models.PartyAffiliate, ID: a.ID})
	}
	return parties, nil
}
