// Package ledger 提供只追加账本：记账、余额查询与提现余额冻结
package ledger

import (
	"context"
	stderrors "errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/cache"
	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/metrics"
	"github.com/dumeirei/merch-settlement/internal/common/tracing"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	"github.com/dumeirei/merch-settlement/pkg/money"
)

// Posting 记账指令，Amount 为带符号金额
type Posting struct {
	Party   models.Party
	Amount  money.Money
	RefType string
	RefID   string
	Reason  string
}

// Options 可选依赖，均可为空
type Options struct {
	Cache      *cache.Store
	CacheTTL   time.Duration
	Metrics    *metrics.Metrics
	Tracer     *tracing.Tracer
	Logger     *zap.Logger
	MaxRetries int
}

// Service 账本服务
type Service struct {
	db         *gorm.DB
	repo       *repository.LedgerRepository
	cache      *cache.Store
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
	log        *zap.Logger
	maxRetries int
}

// NewService 创建账本服务
func NewService(db *gorm.DB, repo *repository.LedgerRepository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Service{
		db:         db,
		repo:       repo,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		log:        opts.Logger.Named("ledger"),
		maxRetries: opts.MaxRetries,
	}
}

// Post 原子追加一组分录，全部成功或全部回滚
func (s *Service) Post(ctx context.Context, postings []Posting) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Post")
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		return s.PostTx(ctx, tx, postings)
	})
	tracing.End(span, err)
	if err != nil {
		return err
	}
	s.afterPost(ctx, postings)
	return nil
}

// PostTx 在已有事务中追加分录
//
// 只接受非负金额：扣款必须经由 ConsumeAndDebitTx 消耗冻结后入账。金额为零的指令被跳过。
// 多个主体按固定顺序加锁，避免并发事务互相等待。
func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, postings []Posting) error {
	ordered := make([]Posting, 0, len(postings))
	for _, p := range postings {
		if err := validatePosting(p); err != nil {
			return err
		}
		if p.Amount.IsNegative() {
			return errors.ErrNegativeBalance.Withf("%s 的扣款必须先冻结余额", p.Party)
		}
		if p.Amount.IsZero() {
			continue
		}
		ordered = append(ordered, p)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return lockOrder(ordered[i]) < lockOrder(ordered[j])
	})

	accounts := make(map[string]*models.LedgerAccount, len(ordered))
	entries := make([]*models.LedgerEntry, 0, len(ordered))
	for _, p := range ordered {
		key := lockOrder(p)
		account, ok := accounts[key]
		if !ok {
			var err error
			if account, err = s.repo.LockAccount(ctx, tx, p.Party, p.Amount.Currency); err != nil {
				return errors.ErrDatabaseError.WithError(err)
			}
			accounts[key] = account
		}
		entries = append(entries, &models.LedgerEntry{
			AccountID: account.ID,
			PartyType: p.Party.Type,
			PartyID:   p.Party.ID,
			Currency:  p.Amount.Currency,
			RefType:   p.RefType,
			RefID:     p.RefID,
			Delta:     p.Amount.Amount,
			Reason:    p.Reason,
		})
	}

	if err := s.repo.CreateEntries(ctx, tx, entries); err != nil {
		if database.IsDuplicateKey(err) {
			return errors.ErrDuplicatePosting.WithError(err)
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// afterPost 提交后的指标与缓存失效
func (s *Service) afterPost(ctx context.Context, postings []Posting) {
	parties := make([]models.Party, 0, len(postings))
	for _, p := range postings {
		if p.Amount.IsZero() {
			continue
		}
		s.metrics.RecordPosting(p.Reason, p.Amount.Currency, p.Amount.Amount)
		parties = append(parties, p.Party)
	}
	s.Invalidate(ctx, parties...)
}

// Committed 供调用方在外层事务提交后上报指标并使缓存失效
func (s *Service) Committed(ctx context.Context, postings []Posting) {
	s.afterPost(ctx, postings)
}

func validatePosting(p Posting) error {
	if !p.Party.Type.Valid() {
		return errors.ErrInvalidParams.Withf("未知主体类型 %q", p.Party.Type)
	}
	if p.Amount.Currency == "" {
		return errors.ErrInvalidAmount.WithMessage("分录缺少币种")
	}
	if p.RefType == "" || p.RefID == "" || p.Reason == "" {
		return errors.ErrInvalidParams.WithMessage("分录缺少来源或原因")
	}
	return nil
}

func lockOrder(p Posting) string {
	return string(p.Party.Type) + ":" + strconv.FormatInt(p.Party.ID, 10) + ":" + p.Amount.Currency
}

// Balance 主体余额，即全部分录之和
func (s *Service) Balance(ctx context.Context, party models.Party, currency string) (money.Money, error) {
	account, err := s.repo.GetAccount(ctx, party, currency)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return money.Zero(currency), nil
	}
	if err != nil {
		return money.Money{}, errors.ErrDatabaseError.WithError(err)
	}
	sum, err := s.repo.SumEntries(ctx, s.db, account.ID)
	if err != nil {
		return money.Money{}, errors.ErrDatabaseError.WithError(err)
	}
	return money.New(sum, currency), nil
}

// Available 可用余额：余额减去冻结中金额
func (s *Service) Available(ctx context.Context, party models.Party, currency string) (money.Money, error) {
	view, err := s.view(ctx, party, currency)
	if err != nil {
		return money.Money{}, err
	}
	return view.Available, nil
}

// BalanceView 看板余额视图
type BalanceView struct {
	Party     models.Party `json:"party"`
	Currency  string       `json:"currency"`
	Balance   money.Money  `json:"balance"`
	Reserved  money.Money  `json:"reserved"`
	Available money.Money  `json:"available"`
}

func (s *Service) view(ctx context.Context, party models.Party, currency string) (*BalanceView, error) {
	v := &BalanceView{
		Party:     party,
		Currency:  currency,
		Balance:   money.Zero(currency),
		Reserved:  money.Zero(currency),
		Available: money.Zero(currency),
	}
	account, err := s.repo.GetAccount(ctx, party, currency)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return s.accountView(ctx, s.db, account)
}

func (s *Service) accountView(ctx context.Context, db *gorm.DB, account *models.LedgerAccount) (*BalanceView, error) {
	balance, err := s.repo.SumEntries(ctx, db, account.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	reserved, err := s.repo.SumActiveReservations(ctx, db, account.ID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return &BalanceView{
		Party:     account.Party(),
		Currency:  account.Currency,
		Balance:   money.New(balance, account.Currency),
		Reserved:  money.New(reserved, account.Currency),
		Available: money.New(balance-reserved, account.Currency),
	}, nil
}

// Balances 主体所有币种的余额视图
func (s *Service) Balances(ctx context.Context, party models.Party) ([]*BalanceView, error) {
	accounts, err := s.repo.ListAccounts(ctx, party)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	views := make([]*BalanceView, 0, len(accounts))
	for _, account := range accounts {
		v, err := s.accountView(ctx, s.db, account)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// CachedBalances 看板读取，允许短暂不一致；缓存不可用时直接查库
func (s *Service) CachedBalances(ctx context.Context, party models.Party) ([]*BalanceView, error) {
	if s.cache == nil {
		return s.Balances(ctx, party)
	}
	key := balanceKey(party)
	var views []*BalanceView
	err := s.cache.GetJSON(ctx, key, &views)
	if err == nil {
		s.metrics.RecordCacheLookup("balance", true)
		return views, nil
	}
	s.metrics.RecordCacheLookup("balance", false)
	if !stderrors.Is(err, cache.ErrMiss) {
		s.log.Warn("读取余额缓存失败", logger.Party(string(party.Type), party.ID), zap.Error(err))
	}

	views, err = s.Balances(ctx, party)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, views, s.cacheTTL); err != nil {
		s.log.Warn("写入余额缓存失败", logger.Party(string(party.Type), party.ID), zap.Error(err))
	}
	return views, nil
}

// Invalidate 删除主体余额缓存
func (s *Service) Invalidate(ctx context.Context, parties ...models.Party) {
	if s.cache == nil || len(parties) == 0 {
		return
	}
	keys := make([]string, 0, len(parties))
	for _, p := range parties {
		keys = append(keys, balanceKey(p))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("删除余额缓存失败", zap.Strings("keys", keys), zap.Error(err))
	}
}

func balanceKey(p models.Party) string {
	return cache.BuildKey(cache.KeyPrefixBalance, string(p.Type), strconv.FormatInt(p.ID, 10))
}

// Reserve 冻结可用余额，余额不足返回 ErrInsufficientBalance
func (s *Service) Reserve(ctx context.Context, party models.Party, amount money.Money) (*models.LedgerReservation, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Reserve",
		tracing.AttrPartyType.String(string(party.Type)), tracing.AttrPartyID.Int64(party.ID))
	var reservation *models.LedgerReservation
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		var txErr error
		reservation, txErr = s.ReserveTx(ctx, tx, party, amount)
		return txErr
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, party)
	return reservation, nil
}

// ReserveTx 在已有事务中冻结余额，余额检查与冻结写入在同一把账户行锁下完成
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, party models.Party, amount money.Money) (*models.LedgerReservation, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount.WithMessage("冻结金额必须大于0")
	}
	account, err := s.repo.LockAccount(ctx, tx, party, amount.Currency)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	view, err := s.accountView(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	if amount.Amount > view.Available.Amount {
		s.metrics.RecordReservation("insufficient")
		return nil, errors.ErrInsufficientBalance.Withf("可用余额 %s，申请 %s", view.Available, amount)
	}

	reservation := &models.LedgerReservation{
		Token:     uuid.NewString(),
		AccountID: account.ID,
		PartyType: party.Type,
		PartyID:   party.ID,
		Currency:  amount.Currency,
		Amount:    amount.Amount,
		Status:    models.ReservationStatusActive,
	}
	if err := s.repo.CreateReservation(ctx, tx, reservation); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	s.metrics.RecordReservation("ok")
	return reservation, nil
}

// BindTx 将冻结记录关联到提现申请
func (s *Service) BindTx(ctx context.Context, tx *gorm.DB, token string, payoutID int64) error {
	if err := s.repo.BindReservation(ctx, tx, token, payoutID); err != nil {
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// Release 释放冻结
func (s *Service) Release(ctx context.Context, token string) error {
	var party models.Party
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		r, txErr := s.ReleaseTx(ctx, tx, token)
		if r != nil {
			party = models.Party{Type: r.PartyType, ID: r.PartyID}
		}
		return txErr
	})
	if err != nil {
		return err
	}
	s.Invalidate(ctx, party)
	return nil
}

// ReleaseTx 在已有事务中释放冻结，冻结已失效返回 ErrReservationInactive
func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, token string) (*models.LedgerReservation, error) {
	reservation, err := s.lockReservation(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.TransitReservation(ctx, tx, reservation.ID, models.ReservationStatusReleased)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if n == 0 {
		return nil, errors.ErrReservationInactive.Withf("冻结 %s 状态为 %s", token, reservation.Status)
	}
	reservation.Status = models.ReservationStatusReleased
	s.metrics.RecordReservation("released")
	return reservation, nil
}

// ConsumeAndDebitTx 消耗冻结并写入提现扣款分录
//
// 提交前再次校验：扣款后余额不得低于其余冻结之和，余额永不为负。
func (s *Service) ConsumeAndDebitTx(ctx context.Context, tx *gorm.DB, token string, payoutID int64) (*models.LedgerEntry, error) {
	reservation, err := s.lockReservation(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.TransitReservation(ctx, tx, reservation.ID, models.ReservationStatusConsumed)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if n == 0 {
		return nil, errors.ErrReservationInactive.Withf("冻结 %s 状态为 %s", token, reservation.Status)
	}

	balance, err := s.repo.SumEntries(ctx, tx, reservation.AccountID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	others, err := s.repo.SumActiveReservations(ctx, tx, reservation.AccountID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if balance-reservation.Amount < others {
		return nil, errors.ErrNegativeBalance.Withf("余额 %d 扣款 %d 后低于其余冻结 %d", balance, reservation.Amount, others)
	}

	entry := &models.LedgerEntry{
		AccountID: reservation.AccountID,
		PartyType: reservation.PartyType,
		PartyID:   reservation.PartyID,
		Currency:  reservation.Currency,
		RefType:   models.LedgerRefPayout,
		RefID:     strconv.FormatInt(payoutID, 10),
		Delta:     -reservation.Amount,
		Reason:    models.ReasonPayoutDebit,
	}
	if err := s.repo.CreateEntries(ctx, tx, []*models.LedgerEntry{entry}); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errors.ErrDuplicatePosting.WithError(err)
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	s.metrics.RecordReservation("consumed")
	return entry, nil
}

// ReverseDebitTx 写入与提现扣款等额的冲正分录，提现失败时把钱退回余额
func (s *Service) ReverseDebitTx(ctx context.Context, tx *gorm.DB, payout *models.PayoutRequest) (Posting, error) {
	p := Posting{
		Party:   payout.Party(),
		Amount:  payout.Money(),
		RefType: models.LedgerRefPayout,
		RefID:   strconv.FormatInt(payout.ID, 10),
		Reason:  models.ReasonPayoutReversal,
	}
	return p, s.PostTx(ctx, tx, []Posting{p})
}

// lockReservation 先锁账户再锁冻结记录，与 ReserveTx 的加锁顺序一致
func (s *Service) lockReservation(ctx context.Context, tx *gorm.DB, token string) (*models.LedgerReservation, error) {
	reservation, err := s.repo.GetReservation(ctx, tx, token)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrReservationNotFound
	}
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if _, err := s.repo.LockAccount(ctx, tx, reservation.Party(), reservation.Currency); err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	locked, err := s.repo.GetReservationForUpdate(ctx, tx, token)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return locked, nil
}

// History 分页获取主体分录
func (s *Service) History(ctx context.Context, party models.Party, filter repository.EntryFilter, offset, limit int) ([]*models.LedgerEntry, int64, error) {
	entries, total, err := s.repo.ListEntries(ctx, party, filter, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return entries, total, nil
}

// Stream 按 ID 顺序分批遍历主体分录
func (s *Service) Stream(ctx context.Context, party models.Party, filter repository.EntryFilter, batch int, fn func([]*models.LedgerEntry) error) error {
	if err := s.repo.StreamEntries(ctx, party, filter, batch, fn); err != nil {
		if errors.IsAppError(err) {
			return err
		}
		return errors.ErrDatabaseError.WithError(err)
	}
	return nil
}

// EntriesByRef 获取同一订单或提现产生的分录
func (s *Service) EntriesByRef(ctx context.Context, refType, refID string) ([]*models.LedgerEntry, error) {
	entries, err := s.repo.ListByRef(ctx, refType, refID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return entries, nil
}

// Summary 主体收支汇总，已付与待付均由分录推导
type Summary struct {
	Party    models.Party `json:"party"`
	Currency string       `json:"currency"`
	Earned   money.Money  `json:"earned"`
	Paid     money.Money  `json:"paid"`
	Due      money.Money  `json:"due"`
}

// Summarize 汇总主体收支
func (s *Service) Summarize(ctx context.Context, party models.Party, currency string) (*Summary, error) {
	byReason, err := s.repo.SumByReason(ctx, party, currency)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	var earned int64
	for _, reason := range []string{
		models.ReasonCommissionPlatform, models.ReasonCommissionBrand,
		models.ReasonCommissionAffiliate, models.ReasonCommissionReferral,
	} {
		earned += byReason[reason]
	}
	paid := -(byReason[models.ReasonPayoutDebit] + byReason[models.ReasonPayoutReversal])
	return &Summary{
		Party:    party,
		Currency: currency,
		Earned:   money.New(earned, currency),
		Paid:     money.New(paid, currency),
		Due:      money.New(earned-paid, currency),
	}, nil
}
