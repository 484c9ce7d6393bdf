package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/config"
)

// staleBatch 每轮最多重新分发的提现数
const staleBatch = 50

// BanExpirer 到期解封推广员
type BanExpirer interface {
	ExpireBans(ctx context.Context) (int64, error)
}

// PayoutSweeper 重新分发滞留提现与重放未匹配回调
type PayoutSweeper interface {
	RedispatchStale(ctx context.Context, limit int) (int, error)
	ReplayUnmatched(ctx context.Context, transferRef string) (int, error)
}

// TaskHandler 任务处理器
type TaskHandler struct {
	partners BanExpirer
	payouts  PayoutSweeper
	log      *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(partners BanExpirer, payouts PayoutSweeper, log *zap.Logger) *TaskHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHandler{
		partners: partners,
		payouts:  payouts,
		log:      log.Named("task"),
	}
}

// ExpireAffiliateBans 解除到期的推广员封禁
func (h *TaskHandler) ExpireAffiliateBans(ctx context.Context) error {
	n, err := h.partners.ExpireBans(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.Info("推广员封禁已到期解除", zap.Int64("count", n))
	}
	return nil
}

// RedispatchStalePayouts 重新分发租约过期仍停留在已申请状态的提现
//
// 进程在通道成功与本地提交之间崩溃时会留下这类申请，幂等键保证不会二次出款。
func (h *TaskHandler) RedispatchStalePayouts(ctx context.Context) error {
	n, err := h.payouts.RedispatchStale(ctx, staleBatch)
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.Info("滞留提现已重新分发", zap.Int("count", n))
	}
	return nil
}

// ReplayUnmatchedEvents 重放先于提现提交到达的回调
func (h *TaskHandler) ReplayUnmatchedEvents(ctx context.Context) error {
	n, err := h.payouts.ReplayUnmatched(ctx, "")
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.Info("未匹配回调已重放", zap.Int("count", n))
	}
	return nil
}

// SetupTasks 设置所有任务
func SetupTasks(scheduler *Scheduler, handler *TaskHandler, cfg *config.SchedulerConfig) {
	scheduler.AddTask("ExpireAffiliateBans", seconds(cfg.BanExpiryInterval), handler.ExpireAffiliateBans)
	scheduler.AddTask("RedispatchStalePayouts", seconds(cfg.StalePayoutInterval), handler.RedispatchStalePayouts)
	scheduler.AddTask("ReplayUnmatchedEvents", seconds(cfg.UnmatchedEventInterval), handler.ReplayUnmatchedEvents)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
