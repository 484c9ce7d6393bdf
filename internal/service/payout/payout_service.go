// Package payout 提现编排与转账回调对账
package payout

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/config"
	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/metrics"
	"github.com/dumeirei/merch-settlement/internal/common/tracing"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/internal/service/ledger"
	"github.com/dumeirei/merch-settlement/pkg/money"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
	"github.com/dumeirei/merch-settlement/pkg/sms"
)

// Config 提现参数
type Config struct {
	MinAmount      decimal.Decimal
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	Lease          time.Duration
	GatewayRPS     float64
	GatewayBurst   int
}

// DefaultConfig 默认提现参数
func DefaultConfig() Config {
	return Config{
		MinAmount:      decimal.NewFromInt(1),
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		CallTimeout:    10 * time.Second,
		Lease:          2 * time.Minute,
		GatewayRPS:     20,
		GatewayBurst:   5,
	}
}

// ConfigFrom 从配置文件构建提现参数
func ConfigFrom(cfg *config.PayoutConfig) (Config, error) {
	minAmount, err := decimal.NewFromString(cfg.MinAmount)
	if err != nil {
		return Config{}, errors.ErrInvalidParams.Withf("business.payout.min_amount: %v", err)
	}
	out := Config{
		MinAmount:      minAmount,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoff) * time.Millisecond,
		CallTimeout:    time.Duration(cfg.CallTimeout) * time.Second,
		Lease:          time.Duration(cfg.LeaseSeconds) * time.Second,
		GatewayRPS:     cfg.GatewayRPS,
		GatewayBurst:   cfg.GatewayBurst,
	}
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 1
	}
	return out, nil
}

// Options 可选依赖
type Options struct {
	// Verifier 不为空时申请前向通道确认收款账户可用
	Verifier    payrail.AccountLookup
	SMS         sms.Sender
	SMSTemplate string
	Metrics     *metrics.Metrics
	Tracer      *tracing.Tracer
	Logger      *zap.Logger
	MaxRetries  int
}

// Service 提现编排服务
type Service struct {
	db         *gorm.DB
	payouts    *repository.PayoutRepository
	accounts   *repository.PayoutAccountRepository
	brands     *repository.BrandRepository
	affiliates *repository.AffiliateRepository
	events     *repository.TransferEventRepository
	ledger     *ledger.Service
	gateway    payrail.Gateway
	cfg        Config
	limiter    *rate.Limiter

	verifier    payrail.AccountLookup
	sms         sms.Sender
	smsTemplate string
	metrics     *metrics.Metrics
	tracer      *tracing.Tracer
	log         *zap.Logger
	maxRetries  int
	now         func() time.Time
}

// NewService 创建提现编排服务
func NewService(
	db *gorm.DB,
	payouts *repository.PayoutRepository,
	accounts *repository.PayoutAccountRepository,
	brands *repository.BrandRepository,
	affiliates *repository.AffiliateRepository,
	events *repository.TransferEventRepository,
	ledgerSvc *ledger.Service,
	gateway payrail.Gateway,
	cfg Config,
	opts Options,
) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.GatewayRPS > 0 {
		limit = rate.Limit(cfg.GatewayRPS)
	}
	burst := cfg.GatewayBurst
	if burst < 1 {
		burst = 1
	}
	return &Service{
		db:          db,
		payouts:     payouts,
		accounts:    accounts,
		brands:      brands,
		affiliates:  affiliates,
		events:      events,
		ledger:      ledgerSvc,
		gateway:     gateway,
		cfg:         cfg,
		limiter:     rate.NewLimiter(limit, burst),
		verifier:    opts.Verifier,
		sms:         opts.SMS,
		smsTemplate: opts.SMSTemplate,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		log:         opts.Logger.Named("payout"),
		maxRetries:  opts.MaxRetries,
		now:         time.Now,
	}
}

// SetClock 替换时钟，用于测试租约
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Request 发起提现：校验收款账户后冻结余额并创建申请
func (s *Service) Request(ctx context.Context, payee models.Party, amount money.Money) (payout *models.PayoutRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "payout.Request",
		tracing.AttrPartyType.String(string(payee.Type)), tracing.AttrPartyID.Int64(payee.ID),
		tracing.AttrAmount.Int64(amount.Amount), tracing.AttrCurrency.String(amount.Currency))
	defer func() { tracing.End(span, err) }()

	if !payee.Type.Valid() || payee.Type == models.PartyPlatform {
		return nil, errors.ErrInvalidParams.Withf("主体 %s 不能提现", payee)
	}
	if err := s.checkAmount(amount); err != nil {
		return nil, err
	}
	if err := s.checkFrozen(ctx, payee); err != nil {
		return nil, err
	}
	account, err := s.payoutAccount(ctx, payee)
	if err != nil {
		return nil, err
	}

	err = database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		reservation, err := s.ledger.ReserveTx(ctx, tx, payee, amount)
		if err != nil {
			return err
		}
		payout = &models.PayoutRequest{
			PartyType:        payee.Type,
			PartyID:          payee.ID,
			Amount:           amount.Amount,
			Currency:         amount.Currency,
			Status:           models.PayoutStatusRequested,
			ReservationToken: reservation.Token,
			DestinationRef:   account.DestinationRef,
		}
		if err := s.payouts.CreateTx(ctx, tx, payout); err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		return s.ledger.BindTx(ctx, tx, reservation.Token, payout.ID)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Invalidate(ctx, payee)
	s.metrics.RecordPayout(models.PayoutStatusRequested)
	s.log.Info("提现申请已创建",
		logger.PayoutID(payout.ID), logger.Party(string(payee.Type), payee.ID),
		logger.Amount(amount.Amount, amount.Currency))
	return payout, nil
}

func (s *Service) checkAmount(amount money.Money) error {
	if !amount.IsPositive() {
		return errors.ErrInvalidAmount.WithMessage("提现金额必须大于0")
	}
	minimum, err := money.FromDecimal(s.cfg.MinAmount, amount.Currency)
	if err != nil {
		// 零小数币种无法表示配置的最低额时按整数取整
		minimum, err = money.FromDecimal(s.cfg.MinAmount.Ceil(), amount.Currency)
		if err != nil {
			return errors.ErrInternalError.WithError(err)
		}
	}
	if amount.Amount < minimum.Amount {
		return errors.ErrPayoutBelowMinimum.Withf("最低提现金额 %s", minimum)
	}
	return nil
}

// checkFrozen 已删除品牌与封禁中的推广员不可提现
func (s *Service) checkFrozen(ctx context.Context, payee models.Party) error {
	switch payee.Type {
	case models.PartyBrand:
		brand, err := s.brands.GetByIDUnscoped(ctx, payee.ID)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrBrandNotFound
		}
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if brand.Frozen() {
			return errors.ErrPartyFrozen.WithMessage("品牌已删除，余额冻结")
		}
	case models.PartyAffiliate:
		affiliate, err := s.affiliates.GetByID(ctx, payee.ID)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrAffiliateNotFound
		}
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if affiliate.Status == models.AffiliateStatusBanned && !affiliate.BanExpired(s.now()) {
			return errors.ErrPartyFrozen.WithMessage("推广员封禁中，暂不可提现")
		}
	}
	return nil
}

// payoutAccount 收款账户须已绑定且开通转账，否则不冻结任何余额
func (s *Service) payoutAccount(ctx context.Context, payee models.Party) (*models.PayoutAccount, error) {
	account, err := s.accounts.GetByParty(ctx, payee)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrNeedsAccountSetup
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if !account.PayoutsEnabled || account.DestinationRef == "" {
		return nil, errors.ErrNeedsAccountSetup.WithMessage("收款账户未开通转账")
	}
	if s.verifier != nil {
		enabled, err := s.verifier.PayoutsEnabled(ctx, account.DestinationRef)
		if err != nil {
			if payrail.IsPermanent(err) {
				return nil, errors.ErrNeedsAccountSetup.WithError(err)
			}
			return nil, errors.ErrGatewayUnavailable.WithError(err)
		}
		if !enabled {
			return nil, errors.ErrNeedsAccountSetup.WithMessage("收款账户未开通转账")
		}
	}
	return account, nil
}

// Dispatch 调用转账通道
//
// 先抢占租约，租约期内申请不可取消。通道成功后在同一事务中转为转账中并扣款；
// 重试耗尽或被拒绝则置为失败并释放冻结。
func (s *Service) Dispatch(ctx context.Context, payoutID int64) (payout *models.PayoutRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "payout.Dispatch", tracing.AttrPayoutID.Int64(payoutID))
	defer func() { tracing.End(span, err) }()

	now := s.now()
	acquired, err := s.payouts.AcquireLease(ctx, payoutID, now, now.Add(s.cfg.Lease))
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	payout, err = s.getByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if payout.Status != models.PayoutStatusRequested {
			return payout, nil
		}
		return nil, errors.ErrPayoutInFlight
	}

	ref, err := s.transfer(ctx, payout)
	if err != nil {
		if ctx.Err() != nil {
			// 调用方放弃，保持已申请状态，等待定时任务重新分发
			_ = s.payouts.ReleaseLease(context.WithoutCancel(ctx), payoutID)
			return nil, errors.ErrGatewayUnavailable.WithError(ctx.Err())
		}
		return s.failDispatch(ctx, payout, err)
	}
	return s.markTransferring(ctx, payout, ref)
}

// transfer 带退避重试、限流与单次超时的通道调用
func (s *Service) transfer(ctx context.Context, payout *models.PayoutRequest) (string, error) {
	in := payrail.TransferInput{
		Destination:    payout.DestinationRef,
		Amount:         payout.Money(),
		IdempotencyKey: payout.IdempotencyKey(),
		Metadata: map[string]string{
			"payout_id":  payout.IdempotencyKey(),
			"party_type": string(payout.PartyType),
		},
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialBackoff
	eb.MaxInterval = s.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.MaxAttempts-1)), ctx)

	var ref string
	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		r, err := s.gateway.CreateTransfer(callCtx, in)
		switch {
		case err == nil:
			s.metrics.RecordGatewayCall("ok", time.Since(start))
			ref = r
			return nil
		case payrail.IsPermanent(err):
			s.metrics.RecordGatewayCall("rejected", time.Since(start))
			return backoff.Permanent(err)
		default:
			s.metrics.RecordGatewayCall("error", time.Since(start))
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("转账通道调用失败，准备重试",
			logger.PayoutID(payout.ID), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Service) markTransferring(ctx context.Context, payout *models.PayoutRequest, ref string) (*models.PayoutRequest, error) {
	now := s.now()
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		n, err := s.payouts.Transit(ctx, tx, payout.ID, models.PayoutStatusRequested, models.PayoutStatusTransferring, map[string]interface{}{
			"transfer_ref":   ref,
			"transferred_at": now,
			"lease_until":    nil,
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if n == 0 {
			return errors.ErrInvalidStatusTransition.Withf("提现 %d 已不在申请状态", payout.ID)
		}
		_, err = s.ledger.ConsumeAndDebitTx(ctx, tx, payout.ReservationToken, payout.ID)
		return err
	})
	if err != nil {
		// 通道已受理但未落库，租约到期后由定时任务以同一幂等键重放
		s.log.Error("转账已受理但状态更新失败",
			logger.PayoutID(payout.ID), logger.TransferRef(ref), zap.Error(err))
		return nil, err
	}

	payout.Status = models.PayoutStatusTransferring
	payout.TransferRef = &ref
	payout.TransferredAt = &now
	payout.LeaseUntil = nil

	s.ledger.Invalidate(ctx, payout.Party())
	s.metrics.RecordPayout(models.PayoutStatusTransferring)
	s.log.Info("提现已提交通道",
		logger.PayoutID(payout.ID), logger.TransferRef(ref), logger.Amount(payout.Amount, payout.Currency))

	// 先于受理结果到达的回调在此补处理
	if _, err := s.ReplayUnmatched(ctx, ref); err != nil {
		s.log.Warn("补处理提前到达的回调失败", logger.TransferRef(ref), zap.Error(err))
	}
	return s.getByID(ctx, payout.ID)
}

func (s *Service) failDispatch(ctx context.Context, payout *models.PayoutRequest, cause error) (*models.PayoutRequest, error) {
	reason := truncate(cause.Error(), 255)
	now := s.now()
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		n, err := s.payouts.Transit(ctx, tx, payout.ID, models.PayoutStatusRequested, models.PayoutStatusFailed, map[string]interface{}{
			"failure_reason": reason,
			"failed_at":      now,
			"lease_until":    nil,
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if n == 0 {
			return errors.ErrInvalidStatusTransition.Withf("提现 %d 已不在申请状态", payout.ID)
		}
		_, err = s.ledger.ReleaseTx(ctx, tx, payout.ReservationToken)
		return err
	})
	if err != nil {
		return nil, err
	}

	payout.Status = models.PayoutStatusFailed
	payout.FailureReason = reason
	payout.FailedAt = &now

	s.ledger.Invalidate(ctx, payout.Party())
	s.metrics.RecordPayout(models.PayoutStatusFailed)
	s.log.Warn("提现失败，已释放冻结",
		logger.PayoutID(payout.ID), logger.Amount(payout.Amount, payout.Currency), zap.Error(cause))
	s.notifyFailure(ctx, payout)

	if payrail.IsPermanent(cause) {
		return payout, errors.ErrGatewayRejected.WithError(cause)
	}
	return payout, errors.ErrGatewayUnavailable.WithError(cause)
}

// Cancel 取消提现，仅已申请且无分发租约时允许
func (s *Service) Cancel(ctx context.Context, payoutID int64, payee models.Party) (*models.PayoutRequest, error) {
	var payout *models.PayoutRequest
	now := s.now()
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		p, err := s.payouts.GetForUpdate(ctx, tx, payoutID)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrPayoutNotFound
		}
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if p.Party() != payee {
			return errors.ErrPayoutNotFound
		}
		if p.Status != models.PayoutStatusRequested {
			return errors.ErrPayoutNotCancellable.Withf("当前状态为 %s", p.Status)
		}
		if p.LeaseHeld(now) {
			return errors.ErrPayoutInFlight
		}

		n, err := s.payouts.Transit(ctx, tx, p.ID, models.PayoutStatusRequested, models.PayoutStatusCancelled, map[string]interface{}{
			"cancelled_at": now,
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if n == 0 {
			return errors.ErrPayoutNotCancellable
		}
		if _, err := s.ledger.ReleaseTx(ctx, tx, p.ReservationToken); err != nil {
			return err
		}
		p.Status = models.PayoutStatusCancelled
		p.CancelledAt = &now
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Invalidate(ctx, payee)
	s.metrics.RecordPayout(models.PayoutStatusCancelled)
	s.log.Info("提现已取消", logger.PayoutID(payoutID), logger.Party(string(payee.Type), payee.ID))
	return payout, nil
}

// Get 获取主体自己的提现申请
func (s *Service) Get(ctx context.Context, payoutID int64, payee models.Party) (*models.PayoutRequest, error) {
	payout, err := s.getByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Party() != payee {
		return nil, errors.ErrPayoutNotFound
	}
	return payout, nil
}

// List 分页获取主体提现申请
func (s *Service) List(ctx context.Context, payee models.Party, status string, offset, limit int) ([]*models.PayoutRequest, int64, error) {
	list, total, err := s.payouts.ListByParty(ctx, payee, status, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

// BindAccount 绑定或更新收款账户，设置了 verifier 时先向通道确认账户可收款
func (s *Service) BindAccount(ctx context.Context, payee models.Party, provider, destination string, phone *string) (*models.PayoutAccount, error) {
	if !payee.Type.Valid() || payee.Type == models.PartyPlatform || payee.ID <= 0 {
		return nil, errors.ErrInvalidParams.WithMessage("收款主体无效")
	}
	if destination == "" {
		return nil, errors.ErrInvalidParams.WithMessage("收款账户不能为空")
	}
	if provider == "" {
		provider = payrail.ProviderStripe
	}

	enabled := true
	if s.verifier != nil {
		ok, err := s.verifier.PayoutsEnabled(ctx, destination)
		if err != nil {
			if payrail.IsPermanent(err) {
				return nil, errors.ErrNeedsAccountSetup.WithError(err)
			}
			return nil, errors.ErrGatewayUnavailable.WithError(err)
		}
		enabled = ok
	}

	account := &models.PayoutAccount{
		PartyType:      payee.Type,
		PartyID:        payee.ID,
		Provider:       provider,
		DestinationRef: destination,
		NotifyPhone:    phone,
		PayoutsEnabled: enabled,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	s.log.Info("收款账户已绑定", logger.Party(string(payee.Type), payee.ID), zap.Bool("payouts_enabled", enabled))
	bound, err := s.accounts.GetByParty(ctx, payee)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return bound, nil
}

// RedispatchStale 重新分发租约已过期仍停留在已申请状态的提现，返回处理条数
func (s *Service) RedispatchStale(ctx context.Context, limit int) (int, error) {
	now := s.now()
	stale, err := s.payouts.ListStaleRequested(ctx, now, now.Add(-s.cfg.Lease), limit)
	if err != nil {
		return 0, errors.ErrDatabaseError.WithError(err)
	}
	handled := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Dispatch(ctx, p.ID); err != nil {
			s.log.Warn("重新分发提现失败", logger.PayoutID(p.ID), zap.Error(err))
			continue
		}
		handled++
	}
	return handled, nil
}

func (s *Service) getByID(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	payout, err := s.payouts.GetByID(ctx, id)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrPayoutNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return payout, nil
}

// notifyFailure 短信通知收款方提现失败，失败只记日志
func (s *Service) notifyFailure(ctx context.Context, payout *models.PayoutRequest) {
	if s.sms == nil || s.smsTemplate == "" {
		return
	}
	account, err := s.accounts.GetByParty(ctx, payout.Party())
	if err != nil || account.NotifyPhone == nil || *account.NotifyPhone == "" {
		return
	}
	err = s.sms.Send(ctx, *account.NotifyPhone, s.smsTemplate, map[string]string{
		"amount":   payout.Money().Format(),
		"currency": payout.Currency,
		"payout":   payout.IdempotencyKey(),
	})
	if err != nil {
		s.log.Warn("提现失败短信发送失败", logger.PayoutID(payout.ID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
