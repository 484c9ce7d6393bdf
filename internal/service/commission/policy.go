// Package commission 计算单笔订单在平台、品牌、推广员与推荐人之间的分账
package commission

import (
	"fmt"

	"github.com/dumeirei/merch-settlement/internal/common/config"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Policy 分佣策略，比例边界来自配置
type Policy struct {
	DefaultBrandRate money.Rate
	BrandRateMin     money.Rate
	BrandRateMax     money.Rate
	ReferralRate     money.Rate
	// ExclusiveCarveOuts 推广员与推荐人分佣互斥，有推广员时不再计推荐分佣
	ExclusiveCarveOuts bool
}

// DefaultPolicy 品牌五五分成，推荐人取品牌分成的 5%
func DefaultPolicy() Policy {
	return Policy{
		DefaultBrandRate: money.MustParseRate("0.5"),
		BrandRateMin:     money.MustParseRate("0.2"),
		BrandRateMax:     money.MustParseRate("0.8"),
		ReferralRate:     money.MustParseRate("0.05"),
	}
}

// NewPolicy 从配置构建策略
func NewPolicy(cfg *config.CommissionConfig) (Policy, error) {
	var p Policy
	var err error
	parse := func(field, v string) money.Rate {
		if err != nil {
			return 0
		}
		var r money.Rate
		if r, err = money.ParseRate(v); err != nil {
			err = fmt.Errorf("business.commission.%s: %w", field, err)
		}
		return r
	}

	p.DefaultBrandRate = parse("default_brand_rate", cfg.DefaultBrandRate)
	p.BrandRateMin = parse("brand_rate_min", cfg.BrandRateMin)
	p.BrandRateMax = parse("brand_rate_max", cfg.BrandRateMax)
	p.ReferralRate = parse("referral_rate", cfg.ReferralRate)
	p.ExclusiveCarveOuts = cfg.ExclusiveCarveOuts
	if err != nil {
		return Policy{}, err
	}
	if verr := p.validate(); verr != nil {
		return Policy{}, verr
	}
	if !p.DefaultBrandRate.Between(p.BrandRateMin, p.BrandRateMax) {
		return Policy{}, errors.ErrInvalidRate.Withf("默认品牌分成比例 %s 不在 [%s, %s] 内",
			p.DefaultBrandRate, p.BrandRateMin, p.BrandRateMax)
	}
	return p, nil
}

func (p Policy) validate() error {
	if !p.BrandRateMin.IsFraction() || !p.BrandRateMax.IsFraction() || p.BrandRateMin > p.BrandRateMax {
		return errors.ErrInvalidRate.Withf("品牌分成比例区间 [%s, %s] 无效", p.BrandRateMin, p.BrandRateMax)
	}
	if !p.ReferralRate.IsFraction() {
		return errors.ErrInvalidRate.Withf("推荐分佣比例 %s 超出 [0, 1]", p.ReferralRate)
	}
	return nil
}

// Input 分账输入
type Input struct {
	Total     money.Money
	BrandRate money.Rate
	// AffiliateRate 为 nil 表示无推广员归因
	AffiliateRate *money.Rate
	HasReferral   bool
}

// Split 分账结果，BrandShare 为品牌毛分成，BrandNet 为扣除推广员与推荐人后的净额
type Split struct {
	Total         money.Money `json:"total"`
	PlatformShare money.Money `json:"platform_share"`
	BrandShare    money.Money `json:"brand_share"`
	BrandNet      money.Money `json:"brand_net"`
	AffiliateDue  money.Money `json:"affiliate_due"`
	ReferrerDue   money.Money `json:"referrer_due"`

	BrandRate     money.Rate `json:"brand_rate"`
	AffiliateRate money.Rate `json:"affiliate_rate"`
	ReferralRate  money.Rate `json:"referral_rate"`
	// ReferralSuppressed 互斥模式下因推广员归因而未计推荐分佣
	ReferralSuppressed bool `json:"referral_suppressed"`
}

// Split 计算分账
//
// 品牌分成与各项抽成均向下取整：平台份额是 total - brandShare，
// 品牌分成的取整余数归平台；推广员与推荐人取整余数留在品牌净额中。
func (p Policy) Split(in Input) (Split, error) {
	if in.Total.IsNegative() {
		return Split{}, errors.ErrInvalidAmount.Withf("订单金额 %s 为负", in.Total)
	}
	if err := p.validate(); err != nil {
		return Split{}, err
	}
	if !in.BrandRate.Between(p.BrandRateMin, p.BrandRateMax) {
		return Split{}, errors.ErrInvalidRate.Withf("品牌分成比例 %s 不在 [%s, %s] 内", in.BrandRate, p.BrandRateMin, p.BrandRateMax)
	}

	cur := in.Total.Currency
	out := Split{
		Total:        in.Total,
		BrandRate:    in.BrandRate,
		AffiliateDue: money.Zero(cur),
		ReferrerDue:  money.Zero(cur),
	}

	var affRate, refRate money.Rate
	if in.AffiliateRate != nil {
		affRate = *in.AffiliateRate
		if !affRate.IsFraction() {
			return Split{}, errors.ErrInvalidRate.Withf("推广员分佣比例 %s 超出 [0, 1]", affRate)
		}
		out.AffiliateRate = affRate
	}
	if in.HasReferral {
		if p.ExclusiveCarveOuts && in.AffiliateRate != nil {
			out.ReferralSuppressed = true
		} else {
			refRate = p.ReferralRate
			out.ReferralRate = refRate
		}
	}
	if affRate+refRate > money.RateOne {
		return Split{}, errors.ErrInvalidRate.Withf("推广员 %s 与推荐人 %s 抽成合计超过品牌分成", affRate, refRate)
	}

	var err error
	if out.BrandShare, err = in.Total.MulRateFloor(in.BrandRate); err != nil {
		return Split{}, errors.ErrInvalidAmount.WithError(err)
	}
	if out.PlatformShare, err = in.Total.Sub(out.BrandShare); err != nil {
		return Split{}, errors.ErrInvalidAmount.WithError(err)
	}
	if in.AffiliateRate != nil {
		if out.AffiliateDue, err = out.BrandShare.MulRateFloor(affRate); err != nil {
			return Split{}, errors.ErrInvalidAmount.WithError(err)
		}
	}
	if refRate > 0 {
		if out.ReferrerDue, err = out.BrandShare.MulRateFloor(refRate); err != nil {
			return Split{}, errors.ErrInvalidAmount.WithError(err)
		}
	}
	out.BrandNet = money.New(out.BrandShare.Amount-out.AffiliateDue.Amount-out.ReferrerDue.Amount, cur)

	if err := out.Verify(); err != nil {
		return Split{}, err
	}
	return out, nil
}

// Verify 校验分账守恒：平台 + 品牌净额 + 推广员 + 推荐人 == 订单金额，且各项非负
func (s Split) Verify() error {
	parts := []money.Money{s.PlatformShare, s.BrandNet, s.AffiliateDue, s.ReferrerDue}
	for _, part := range parts {
		if part.IsNegative() {
			return errors.ErrInvalidRate.Withf("分账出现负数份额 %s", part)
		}
	}
	sum, err := money.Sum(s.Total.Currency, parts...)
	if err != nil {
		return errors.ErrInvalidAmount.WithError(err)
	}
	if sum.Amount != s.Total.Amount {
		return errors.ErrInternalError.Withf("分账不守恒: %s != %s", sum, s.Total)
	}
	return nil
}
