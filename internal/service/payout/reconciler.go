package payout

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/merch-settlement/internal/common/database"
	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/logger"
	"github.com/dumeirei/merch-settlement/internal/common/tracing"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/service/ledger"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
)

// replayBatch 补处理未匹配回调时每页条数
const replayBatch = 100

// errEventProcessed 事件已被并发投递处理，回滚本次事务
var errEventProcessed = stderrors.New("transfer event already processed")

// Reconcile 处理一条转账回调
//
// 同一事件重复投递只处理一次；转账中的提现按回调转为到账或失败，失败时冲正扣款。
// 已到终态的提现收到相反结果记为异常，不做任何资金变动。
func (s *Service) Reconcile(ctx context.Context, evt *payrail.TransferStatusEvent) (outcome string, err error) {
	ctx, span := s.tracer.Start(ctx, "payout.Reconcile", tracing.AttrTransferRef.String(evt.TransferRef))
	defer func() { tracing.End(span, err) }()

	if evt.Status != models.TransferStatusSucceeded && evt.Status != models.TransferStatusFailed {
		return "", errors.ErrWebhookPayload.Withf("未知转账状态 %q", evt.Status)
	}

	row := &models.TransferEvent{
		Provider:      evt.Provider,
		EventID:       evt.EventID,
		EventType:     evt.Type,
		TransferRef:   evt.TransferRef,
		Status:        evt.Status,
		FailureReason: truncate(evt.FailureReason, 255),
		Outcome:       models.TransferOutcomeReceived,
	}
	created, err := s.events.Record(ctx, row)
	if err != nil {
		return "", errors.ErrDatabaseError.WithError(err)
	}
	if !created {
		existing, err := s.events.GetByEventID(ctx, evt.EventID)
		if err != nil {
			return "", errors.ErrDatabaseError.WithError(err)
		}
		// 已接收但未处理完的事件继续处理，其余直接返回
		if existing.Outcome != models.TransferOutcomeReceived {
			s.metrics.RecordTransferEvent(models.TransferOutcomeDuplicate)
			return models.TransferOutcomeDuplicate, nil
		}
		row = existing
	}
	return s.apply(ctx, row)
}

// effect 回调对提现造成的变化，事务提交后处理
type effect struct {
	outcome  string
	payout   *models.PayoutRequest
	reversal *ledger.Posting
	note     string
}

func (s *Service) apply(ctx context.Context, row *models.TransferEvent) (string, error) {
	var eff effect
	err := database.WithRetry(ctx, s.db, s.maxRetries, func(tx *gorm.DB) error {
		eff = effect{}
		payout, err := s.payouts.GetByTransferRefForUpdate(ctx, tx, row.TransferRef)
		var payoutID *int64
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			eff.outcome = models.TransferOutcomeUnmatched
		case err != nil:
			return errors.ErrDatabaseError.WithError(err)
		default:
			eff.payout = payout
			payoutID = &payout.ID
			if err := s.transit(ctx, tx, row, payout, &eff); err != nil {
				return err
			}
		}

		marked, err := s.events.MarkOutcome(ctx, tx, row.ID, eff.outcome, payoutID, eff.note)
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if !marked {
			return errEventProcessed
		}
		return nil
	})
	if stderrors.Is(err, errEventProcessed) {
		s.metrics.RecordTransferEvent(models.TransferOutcomeDuplicate)
		return models.TransferOutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}

	s.metrics.RecordTransferEvent(eff.outcome)
	switch eff.outcome {
	case models.TransferOutcomeApplied:
		s.metrics.RecordPayout(eff.payout.Status)
		s.log.Info("转账回调已处理",
			logger.PayoutID(eff.payout.ID), logger.TransferRef(row.TransferRef),
			zap.String("status", eff.payout.Status))
		if eff.reversal != nil {
			s.ledger.Committed(ctx, []ledger.Posting{*eff.reversal})
			s.notifyFailure(ctx, eff.payout)
		}
	case models.TransferOutcomeAnomaly:
		s.log.Error("转账回调与提现终态冲突，需人工处理",
			logger.PayoutID(eff.payout.ID), logger.TransferRef(row.TransferRef),
			zap.String("event_id", row.EventID), zap.String("note", eff.note))
	case models.TransferOutcomeUnmatched:
		s.log.Info("转账回调暂未匹配到提现", logger.TransferRef(row.TransferRef), zap.String("event_id", row.EventID))
	}
	return eff.outcome, nil
}

// transit 按提现当前状态与回调结果决定处理方式
func (s *Service) transit(ctx context.Context, tx *gorm.DB, row *models.TransferEvent, payout *models.PayoutRequest, eff *effect) error {
	now := s.now()
	switch {
	case payout.Status == models.PayoutStatusTransferring && row.Status == models.TransferStatusSucceeded:
		n, err := s.payouts.Transit(ctx, tx, payout.ID, models.PayoutStatusTransferring, models.PayoutStatusCompleted, map[string]interface{}{
			"completed_at": now,
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if n == 0 {
			return errors.ErrInvalidStatusTransition.Withf("提现 %d 已不在转账中", payout.ID)
		}
		payout.Status = models.PayoutStatusCompleted
		payout.CompletedAt = &now
		eff.outcome = models.TransferOutcomeApplied

	case payout.Status == models.PayoutStatusTransferring && row.Status == models.TransferStatusFailed:
		reason := row.FailureReason
		if reason == "" {
			reason = row.EventType
		}
		n, err := s.payouts.Transit(ctx, tx, payout.ID, models.PayoutStatusTransferring, models.PayoutStatusFailed, map[string]interface{}{
			"failure_reason": reason,
			"failed_at":      now,
		})
		if err != nil {
			return errors.ErrDatabaseError.WithError(err)
		}
		if n == 0 {
			return errors.ErrInvalidStatusTransition.Withf("提现 %d 已不在转账中", payout.ID)
		}
		p, err := s.ledger.ReverseDebitTx(ctx, tx, payout)
		if err != nil {
			return err
		}
		payout.Status = models.PayoutStatusFailed
		payout.FailureReason = reason
		payout.FailedAt = &now
		eff.reversal = &p
		eff.outcome = models.TransferOutcomeApplied

	case payout.Status == models.PayoutStatusCompleted && row.Status == models.TransferStatusSucceeded,
		payout.Status == models.PayoutStatusFailed && row.Status == models.TransferStatusFailed:
		eff.outcome = models.TransferOutcomeDuplicate

	default:
		eff.outcome = models.TransferOutcomeAnomaly
		eff.note = fmt.Sprintf("payout %s, event %s", payout.Status, row.Status)
	}
	return nil
}

// ReplayUnmatched 补处理未匹配的回调，transferRef 为空时处理全部，返回已匹配条数
//
// 按 ID 游标翻页直到扫完，始终匹配不上的事件不会挡住后到的事件。
func (s *Service) ReplayUnmatched(ctx context.Context, transferRef string) (int, error) {
	matched := 0
	var afterID int64
	for {
		rows, err := s.events.ListUnmatchedAfter(ctx, transferRef, afterID, replayBatch)
		if err != nil {
			return matched, errors.ErrDatabaseError.WithError(err)
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return matched, err
			}
			outcome, err := s.apply(ctx, row)
			if err != nil {
				return matched, err
			}
			if outcome != models.TransferOutcomeUnmatched {
				matched++
			}
			afterID = row.ID
		}
		if len(rows) < replayBatch {
			return matched, nil
		}
	}
}

// ListEvents 按处理结果分页获取回调，用于运营排查异常
func (s *Service) ListEvents(ctx context.Context, outcome string, offset, limit int) ([]*models.TransferEvent, int64, error) {
	rows, total, err := s.events.ListByOutcome(ctx, outcome, "", offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return rows, total, nil
}
