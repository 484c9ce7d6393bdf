// Package settlement 订单入账流水线：归因、分账、写结算记录并记账
package settlement

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/metrics"
	"github.com/dumeirei/merch-settlement/internal/common/tracing"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/attribution"
	"github.com/dumeirei/merch-settlement/internal/service/commission"
	"github.com/dumeirei/merch-settlement/internal/service/ledger"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// OrderCompletedEvent 上游订单完成事件，按 OrderID 幂等
type OrderCompletedEvent struct {
	OrderID           string          `json:"order_id" validate:"required,max=64"`
	BrandID           int64           `json:"brand_id" validate:"required,gt=0"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency" validate:"required,len=3,alpha"`
	AffiliateClickRef string          `json:"affiliate_click_ref,omitempty" validate:"omitempty,max=32"`
	BuyerID           string          `json:"buyer_id" validate:"required,max=64"`
}

// Publisher 结算通知发布
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Posted 结算入账通知
type Posted struct {
	OrderID       string    `json:"order_id"`
	BrandID       int64     `json:"brand_id"`
	Currency      string    `json:"currency"`
	TotalAmount   int64     `json:"total_amount"`
	PlatformShare int64     `json:"platform_share"`
	BrandNet      int64     `json:"brand_net"`
	AffiliateDue  int64     `json:"affiliate_due"`
	ReferrerDue   int64     `json:"referrer_due"`
	SettledAt     time.Time `json:"settled_at"`
}

// Options 可选依赖
type Options struct {
	Publisher  Publisher
	Topic      string
	Metrics    *metrics.Metrics
	Tracer     *tracing.Tracer
	Logger     *zap.Logger
	MaxRetries int
}

// Service 订单结算服务
type Service struct {
	db          *gorm.DB
	settlements *repository.SettlementRepository
	brands      *repository.BrandRepository
	affiliates  *repository.AffiliateRepository
	referrals   *repository.ReferralRepository
	resolver    *attribution.Resolver
	policy      commission.Policy
	ledger      *ledger.Service
	validate    *validator.Validate

	publisher  Publisher
	topic      string
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
	log        *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewService 创建订单结算服务
func NewService(
	db *gorm.DB,
	settlements *repository.SettlementRepository,
	brands *repository.BrandRepository,
	affiliates *repository.AffiliateRepository,
	referrals *repository.ReferralRepository,
	resolver *attribution.Resolver,
	policy commission.Policy,
	ledgerSvc *ledger.Service,
	opts Options,
) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		db:          db,
		settlements: settlements,
		brands:      brands,
		affiliates:  affiliates,
		referrals:   referrals,
		resolver:    resolver,
		policy:      policy,
		ledger:      ledgerSvc,
		validate:    validator.New(),
		publisher:   opts.Publisher,
		topic:       opts.Topic,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		log:         opts.Logger.Named("settlement"),
		maxRetries:  opts.MaxRetries,
		now:         time.Now,
	}
}

// errAlreadySettled 事务内发现订单已入账，回滚后返回已有记录
var errAlreadySettled = stderrors.New("order already settled")

// Ingest 入账一笔已完成订单
//
// 同一订单重复投递返回首次写入的结算记录，且不会重复记账。created 表示本次是否新写入。
func (s *Service) Ingest(ctx context.Context, evt *OrderCompletedEvent) (record *models.OrderSettlement, created bool, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Ingest", tracing.AttrOrderID.String(evt.OrderID))
	defer func() { tracing.End(span, err) }()

	total, err := s.parseEvent(evt)
	if err != nil {
		s.metrics.RecordIngest("invalid")
		return nil, false, err
	}

	if existing, err := s.existing(ctx, evt, total); err != nil || existing != nil {
		return existing, false, err
	}

	attr, err := s.resolver.Resolve(ctx, attribution.OrderContext{
		BrandID:           evt.BrandID,
		AffiliateClickRef: evt.AffiliateClickRef,
		BuyerID:           evt.BuyerID,
	})
	if err != nil {
		s.metrics.RecordIngest("error")
		return nil, false, err
	}

	split, err := s.split(total, attr)
	if err != nil {
		s.metrics.RecordIngest("invalid_rate")
		s.log.Error("订单分账比例无效，未入账",
			logger.OrderID(evt.OrderID), zap.Int64("brand_id", evt.BrandID), zap.Error(err))
		return nil, false, err
	}

	record = s.buildRecord(evt, attr, split)
	postings := buildPostings(record, attr)

	err = database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		return s.persistTx(ctx, tx, record, attr, postings)
	})
	if stderrors.Is(err, errAlreadySettled) || errors.Is(err, errors.ErrDuplicatePosting) {
		existing, getErr := s.settlements.GetByOrderID(ctx, evt.OrderID)
		if getErr != nil {
			return nil, false, errors.ErrDatabaseError.WithError(getErr)
		}
		s.metrics.RecordIngest("duplicate")
		return existing, false, nil
	}
	if err != nil {
		s.metrics.RecordIngest("error")
		return nil, false, err
	}

	s.ledger.Committed(ctx, postings)
	s.metrics.RecordIngest("settled")
	s.log.Info("订单已入账",
		logger.OrderID(record.OrderID),
		logger.Amount(record.TotalAmount, record.Currency),
		zap.Int64("brand_net", record.BrandNet),
		zap.Int64("affiliate_due", record.AffiliateDue),
		zap.Int64("referrer_due", record.ReferrerDue))
	s.notify(ctx, record)
	return record, true, nil
}

func (s *Service) parseEvent(evt *OrderCompletedEvent) (money.Money, error) {
	if err := s.validate.Struct(evt); err != nil {
		return money.Money{}, errors.ErrInvalidOrderEvent.WithError(err)
	}
	total, err := money.FromDecimal(evt.TotalAmount, evt.Currency)
	if err != nil {
		return money.Money{}, errors.ErrInvalidOrderEvent.WithError(err)
	}
	if total.IsNegative() {
		return money.Money{}, errors.ErrInvalidOrderEvent.Withf("订单金额 %s 为负", total)
	}
	return total, nil
}

// existing 幂等预检，重复投递直接返回已有记录
func (s *Service) existing(ctx context.Context, evt *OrderCompletedEvent, total money.Money) (*models.OrderSettlement, error) {
	record, err := s.settlements.GetByOrderID(ctx, evt.OrderID)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if record.TotalAmount != total.Amount || record.Currency != total.Currency || record.BrandID != evt.BrandID {
		s.log.Warn("重复订单事件内容不一致，以首次入账为准",
			logger.OrderID(evt.OrderID),
			logger.Amount(total.Amount, total.Currency),
			zap.Int64("settled_amount", record.TotalAmount))
	}
	s.metrics.RecordIngest("duplicate")
	return record, nil
}

func (s *Service) split(total money.Money, attr *attribution.Attribution) (commission.Split, error) {
	in := commission.Input{
		Total:       total,
		BrandRate:   s.policy.DefaultBrandRate,
		HasReferral: attr.Referral != nil,
	}
	if attr.Brand != nil {
		in.BrandRate = attr.Brand.CommissionRate()
	}
	if attr.Affiliate != nil {
		r := attr.Affiliate.CommissionRate()
		in.AffiliateRate = &r
	}
	return s.policy.Split(in)
}

func (s *Service) buildRecord(evt *OrderCompletedEvent, attr *attribution.Attribution, split commission.Split) *models.OrderSettlement {
	record := &models.OrderSettlement{
		OrderID:            evt.OrderID,
		BrandID:            evt.BrandID,
		BuyerID:            evt.BuyerID,
		Currency:           split.Total.Currency,
		TotalAmount:        split.Total.Amount,
		PlatformShare:      split.PlatformShare.Amount,
		BrandShare:         split.BrandShare.Amount,
		BrandNet:           split.BrandNet.Amount,
		AffiliateDue:       split.AffiliateDue.Amount,
		ReferrerDue:        split.ReferrerDue.Amount,
		BrandRatePPM:       split.BrandRate.PPM(),
		AffiliateRatePPM:   split.AffiliateRate.PPM(),
		ReferralRatePPM:    split.ReferralRate.PPM(),
		ReferralSuppressed: split.ReferralSuppressed,
		AttributionNote:    truncate(attr.Note(), 255),
		Status:             models.OrderStatusPending,
		SettledAt:          s.now(),
	}
	if attr.Affiliate != nil {
		record.AffiliateID = &attr.Affiliate.ID
	}
	if attr.Referral != nil && !split.ReferralSuppressed {
		record.ReferralID = &attr.Referral.ID
		record.ReferrerUserID = &attr.Referral.ReferrerUserID
	}
	return record
}

// buildPostings 平台、品牌、推广员、推荐人四笔入账，零金额的由账本跳过
func buildPostings(record *models.OrderSettlement, attr *attribution.Attribution) []ledger.Posting {
	cur := record.Currency
	ref := func(party models.Party, amount int64, reason string) ledger.Posting {
		return ledger.Posting{
			Party:   party,
			Amount:  money.New(amount, cur),
			RefType: models.LedgerRefOrder,
			RefID:   record.OrderID,
			Reason:  reason,
		}
	}

	postings := []ledger.Posting{
		ref(models.PlatformParty(), record.PlatformShare, models.ReasonCommissionPlatform),
		ref(models.Party{Type: models.PartyBrand, ID: record.BrandID}, record.BrandNet, models.ReasonCommissionBrand),
	}
	if record.AffiliateID != nil {
		postings = append(postings, ref(models.Party{Type: models.PartyAffiliate, ID: *record.AffiliateID}, record.AffiliateDue, models.ReasonCommissionAffiliate))
	}
	if record.ReferrerUserID != nil {
		postings = append(postings, ref(models.Party{Type: models.PartyUser, ID: *record.ReferrerUserID}, record.ReferrerDue, models.ReasonCommissionReferral))
	}
	return postings
}

// persistTx 结算记录、分录与累计值在同一事务中写入
func (s *Service) persistTx(ctx context.Context, tx *gorm.DB, record *models.OrderSettlement, attr *attribution.Attribution, postings []ledger.Posting) error {
	record.ID = 0
	created, err := s.settlements.CreateIfAbsentTx(ctx, tx, record)
	if err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	if !created {
		return errAlreadySettled
	}

	if err := s.ledger.PostTx(ctx, tx, postings); err != nil {
		return err
	}

	if attr.Brand != nil {
		if err := s.brands.AddSalesTx(ctx, tx, attr.Brand.ID, record.TotalAmount); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
	}
	if attr.Affiliate != nil {
		if err := s.affiliates.AddSalesTx(ctx, tx, attr.Affiliate.ID, record.TotalAmount); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
	}
	if record.ReferralID != nil {
		if err := s.referrals.AddEarningsTx(ctx, tx, *record.ReferralID, record.ReferrerDue); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
	}
	return nil
}

// notify 尽力发布结算通知，失败只记日志
func (s *Service) notify(ctx context.Context, record *models.OrderSettlement) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := s.publisher.Publish(ctx, s.topic, &Posted{
		OrderID:       record.OrderID,
		BrandID:       record.BrandID,
		Currency:      record.Currency,
		TotalAmount:   record.TotalAmount,
		PlatformShare: record.PlatformShare,
		BrandNet:      record.BrandNet,
		AffiliateDue:  record.AffiliateDue,
		ReferrerDue:   record.ReferrerDue,
		SettledAt:     record.SettledAt,
	})
	if err != nil {
		s.log.Warn("发布结算通知失败", logger.OrderID(record.OrderID), zap.Error(err))
		return
	}
	s.metrics.RecordMQTTMessage(s.topic, "out")
}

// View 结算记录及其分录
type View struct {
	*models.OrderSettlement
	Entries []*models.LedgerEntry `json:"entries"`
}

// GetSettlement 获取订单结算记录
func (s *Service) GetSettlement(ctx context.Context, orderID string) (*View, error) {
	record, err := s.settlements.GetByOrderID(ctx, orderID)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrSettlementNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	entries, err := s.ledger.EntriesByRef(ctx, models.LedgerRefOrder, orderID)
	if err != nil {
		return nil, err
	}
	return &View{OrderSettlement: record, Entries: entries}, nil
}

// ListSettlements 分页获取结算记录
func (s *Service) ListSettlements(ctx context.Context, filter repository.SettlementFilter, offset, limit int) ([]*models.OrderSettlement, int64, error) {
	list, total, err := s.settlements.List(ctx, offset, limit, filter)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

// UpdateOrderStatus 推进订单履约状态，不涉及资金变动
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, status string) (*models.OrderSettlement, error) {
	if !models.ValidOrderStatus(status) {
		return nil, errors.ErrInvalidParams.Withf("未知订单状态 %q", status)
	}
	record, err := s.settlements.GetByOrderID(ctx, orderID)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrSettlementNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if record.Status == status {
		return record, nil
	}
	if !models.CanTransitOrder(record.Status, status) {
		return nil, errors.ErrInvalidStatusTransition.Withf("订单状态不能从 %s 变更为 %s", record.Status, status)
	}

	n, err := s.settlements.UpdateStatus(ctx, orderID, record.Status, status)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if n == 0 {
		return nil, errors.ErrInvalidStatusTransition.WithMessage("订单状态已被并发修改，请重试")
	}
	if status == models.OrderStatusCancelled {
		// 退单不冲正分佣
		s.log.Info("已入账订单被取消", logger.OrderID(orderID), zap.String("from", record.Status))
	}
	record.Status = status
	return record, nil
}

// Parties 订单涉及的账本主体
func Parties(record *models.OrderSettlement) []models.Party {
	parties := []models.Party{models.PlatformParty(), {Type: models.PartyBrand, ID: record.BrandID}}
	if record.AffiliateID != nil {
		parties = append(parties, models.Party{Type: models.PartyAffiliate, ID: *record.AffiliateID})
	}
	if record.ReferrerUserID != nil {
		parties = append(parties, models.Party{Type: models.PartyUser, ID: *record.ReferrerUserID})
	}
	return parties
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
