// Package settlement 提供订单结算相关的 HTTP Handler
package settlement

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/errors"
	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/models"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
	settlementService "github.com/dumeirei/merch-settlement/internal/service/settlement"
)

// Handler 订单结算处理器
type Handler struct {
	settlementService *settlementService.Service
	partnerService    *partnerService.Service
}

// NewHandler 创建订单结算处理器
func NewHandler(settlementSvc *settlementService.Service, partnerSvc *partnerService.Service) *Handler {
	return &Handler{
		settlementService: settlementSvc,
		partnerService:    partnerSvc,
	}
}

// IngestResponse 订单完成事件处理结果
type IngestResponse struct {
	Created    bool                    `json:"created"`
	Settlement *models.OrderSettlement `json:"settlement"`
}

// OrderCompleted 接收订单完成事件
// @Summary 接收订单完成事件
// @Description 重复投递同一订单返回已有结算记录，不会重复记账
// @Tags 内部-订单结算
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body settlementService.OrderCompletedEvent true "订单完成事件"
// @Success 200 {object} response.Response{data=IngestResponse}
// @Router /api/v1/internal/orders/completed [post]
func (h *Handler) OrderCompleted(c *gin.Context) {
	var evt settlementService.OrderCompletedEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	record, created, err := h.settlementService.Ingest(c.Request.Context(), &evt)
	handler.MustSucceed(c, err, &IngestResponse{Created: created, Settlement: record})
}

// GetSettlement 获取订单结算明细
// @Summary 获取订单结算明细
// @Description 仅订单关联的品牌方、推广员与推荐人可见
// @Tags 订单结算
// @Produce json
// @Security Bearer
// @Param order_id path string true "订单号"
// @Success 200 {object} response.Response{data=settlementService.View}
// @Router /api/v1/orders/{order_id}/settlement [get]
func (h *Handler) GetSettlement(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}

	orderID := c.Param("order_id")
	if orderID == "" {
		response.BadRequest(c, "订单号不能为空")
		return
	}

	view, err := h.settlementService.GetSettlement(c.Request.Context(), orderID)
	if handler.HandleError(c, err) {
		return
	}

	// 无权查看时与不存在返回相同错误，不暴露订单是否存在
	for _, party := range settlementService.Parties(view.OrderSettlement) {
		if party.Type == models.PartyPlatform {
			continue
		}
		owned, err := h.partnerService.Owns(c.Request.Context(), userID, party)
		if handler.HandleError(c, err) {
			return
		}
		if owned {
			response.Success(c, view)
			return
		}
	}
	handler.HandleError(c, errors.ErrSettlementNotFound)
}

// RegisterInternalRoutes 注册内部服务路由
func (h *Handler) RegisterInternalRoutes(r *gin.RouterGroup) {
	r.POST("/orders/completed", h.OrderCompleted)
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orders/:order_id/settlement", h.GetSettlement)
}
