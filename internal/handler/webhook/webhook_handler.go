// Package webhook 提供转账通道回调的 HTTP Handler
package webhook

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/middleware"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/pkg/payrail"
)

// Reconciler 回调对账
type Reconciler interface {
	Reconcile(ctx context.Context, evt *payrail.TransferStatusEvent) (string, error)
}

// Handler 回调处理器
type Handler struct {
	parser     payrail.EventParser
	reconciler Reconciler
	log        *zap.Logger
}

// NewHandler 创建回调处理器
func NewHandler(parser payrail.EventParser, reconciler Reconciler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		parser:     parser,
		reconciler: reconciler,
		log:        log.Named("webhook"),
	}
}

// StripeWebhook Stripe 转账回调
// @Summary Stripe 转账回调
// @Description 签名校验通过后才会查询提现申请；无关事件直接应答 200
// @Tags 回调
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe 签名"
// @Success 200 {object} response.Response{data=map[string]string}
// @Router /api/v1/webhooks/stripe [post]
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "读取请求体失败")
		return
	}

	evt, err := h.parser.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	switch {
	case stderrors.Is(err, payrail.ErrIgnoredEvent):
		response.Success(c, gin.H{"outcome": "ignored"})
		return
	case stderrors.Is(err, payrail.ErrInvalidSignature):
		h.log.Warn("回调签名校验失败",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
		response.ErrorWithStatus(c, http.StatusBadRequest, errors.ErrWebhookSignature.Code, errors.ErrWebhookSignature.Message)
		return
	case err != nil:
		response.ErrorWithStatus(c, http.StatusBadRequest, errors.ErrWebhookPayload.Code, errors.ErrWebhookPayload.Message)
		return
	}

	outcome, err := h.reconciler.Reconcile(c.Request.Context(), evt)
	if err != nil {
		// 非 2xx 让通道稍后重投
		appErr := errors.GetAppError(err)
		status := http.StatusInternalServerError
		if appErr.Code == errors.ErrWebhookPayload.Code {
			status = http.StatusBadRequest
		}
		h.log.Error("回调处理失败", zap.String("event_id", evt.EventID), zap.Error(err))
		response.ErrorWithStatus(c, status, appErr.Code, appErr.Message)
		return
	}
	if outcome == models.TransferOutcomeAnomaly {
		h.log.Warn("回调状态与提现申请冲突", zap.String("event_id", evt.EventID), zap.String("transfer_ref", evt.TransferRef))
	}
	response.Success(c, gin.H{"outcome": outcome})
}

// RegisterRoutes 注册回调路由（无需认证）
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.StripeWebhook)
}
