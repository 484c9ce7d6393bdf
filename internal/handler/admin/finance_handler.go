package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/models"
	"github.com/dumeirei/merch-settlement/internal/repository"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	payoutService "github.com/dumeirei/merch-settlement/internal/service/payout"
	settlementService "github.com/dumeirei/merch-settlement/internal/service/settlement"
	statementService "github.com/dumeirei/merch-settlement/internal/service/statement"
)

// FinanceHandler 财务管理处理器
type FinanceHandler struct {
	settlementService *settlementService.Service
	ledgerService     *ledgerService.Service
	payoutService     *payoutService.Service
	statementService  *statementService.Service
}

// NewFinanceHandler 创建财务管理处理器
func NewFinanceHandler(
	settlementSvc *settlementService.Service,
	ledgerSvc *ledgerService.Service,
	payoutSvc *payoutService.Service,
	statementSvc *statementService.Service,
) *FinanceHandler {
	return &FinanceHandler{
		settlementService: settlementSvc,
		ledgerService:     ledgerSvc,
		payoutService:     payoutSvc,
		statementService:  statementSvc,
	}
}

// UpdateOrderStatusRequest 更新订单履约状态请求
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ListSettlements 获取结算记录列表
// @Summary 获取结算记录列表
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param brand_id query int false "品牌ID"
// @Param affiliate_id query int false "推广员ID"
// @Param referrer_user_id query int false "推荐人ID"
// @Param status query string false "订单状态"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/settlements [get]
func (h *FinanceHandler) ListSettlements(c *gin.Context) {
	filter := repository.SettlementFilter{Status: c.Query("status")}
	filter.BrandID, _ = parseInt64(c.Query("brand_id"))
	filter.AffiliateID, _ = parseInt64(c.Query("affiliate_id"))
	filter.ReferrerUserID, _ = parseInt64(c.Query("referrer_user_id"))

	start, end, ok := handler.BindDateRange(c)
	if !ok {
		return
	}
	filter.StartTime, filter.EndTime = start, end

	p := handler.BindPagination(c)
	list, total, err := h.settlementService.ListSettlements(c.Request.Context(), filter, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// GetSettlement 获取订单结算明细
// @Summary 获取订单结算明细
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param order_id path string true "订单号"
// @Success 200 {object} response.Response{data=settlementService.View}
// @Router /api/admin/settlements/{order_id} [get]
func (h *FinanceHandler) GetSettlement(c *gin.Context) {
	view, err := h.settlementService.GetSettlement(c.Request.Context(), c.Param("order_id"))
	handler.MustSucceed(c, err, view)
}

// UpdateOrderStatus 更新订单履约状态
// @Summary 更新订单履约状态
// @Description 状态变更不影响已记账的分佣
// @Tags 管理-财务
// @Accept json
// @Produce json
// @Security Bearer
// @Param order_id path string true "订单号"
// @Param request body UpdateOrderStatusRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.OrderSettlement}
// @Router /api/admin/settlements/{order_id}/status [put]
func (h *FinanceHandler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	record, err := h.settlementService.UpdateOrderStatus(c.Request.Context(), c.Param("order_id"), req.Status)
	handler.MustSucceed(c, err, record)
}

// GetPartySummary 获取主体收支汇总
// @Summary 获取主体收支汇总
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param party_type query string true "主体类型"
// @Param party_id query int true "主体ID"
// @Param currency query string true "币种"
// @Success 200 {object} response.Response{data=ledgerService.Summary}
// @Router /api/admin/ledger/summary [get]
func (h *FinanceHandler) GetPartySummary(c *gin.Context) {
	party, ok := bindParty(c)
	if !ok {
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		response.BadRequest(c, "请指定币种")
		return
	}
	summary, err := h.ledgerService.Summarize(c.Request.Context(), party, currency)
	handler.MustSucceed(c, err, summary)
}

// ListTransferEvents 获取转账回调事件
// @Summary 获取转账回调事件
// @Description outcome=anomaly 列出需人工介入的乱序终态
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param outcome query string false "处理结果 applied/duplicate/anomaly/unmatched"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/admin/transfer-events [get]
func (h *FinanceHandler) ListTransferEvents(c *gin.Context) {
	p := handler.BindPagination(c)
	list, total, err := h.payoutService.ListEvents(c.Request.Context(), c.Query("outcome"), p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p)
}

// ExportStatement 导出主体月度账单
// @Summary 导出主体月度账单
// @Description 生成 CSV 上传至对象存储，返回带签名的下载地址
// @Tags 管理-财务
// @Produce json
// @Security Bearer
// @Param party_type query string true "主体类型"
// @Param party_id query int true "主体ID"
// @Param currency query string true "币种"
// @Param month query string true "月份 YYYY-MM"
// @Success 200 {object} response.Response{data=statementService.Statement}
// @Router /api/admin/statements [post]
func (h *FinanceHandler) ExportStatement(c *gin.Context) {
	party, ok := bindParty(c)
	if !ok {
		return
	}
	month, err := statementService.ParseMonth(c.Query("month"))
	if err != nil {
		response.BadRequest(c, "无效的月份格式")
		return
	}
	stmt, err := h.statementService.Export(c.Request.Context(), party, c.Query("currency"), month)
	handler.MustSucceed(c, err, stmt)
}

// RegisterRoutes 注册路由
func (h *FinanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	settlements := r.Group("/settlements")
	{
		settlements.GET("", h.ListSettlements)
		settlements.GET("/:order_id", h.GetSettlement)
		settlements.PUT("/:order_id/status", h.UpdateOrderStatus)
	}
	r.GET("/ledger/summary", h.GetPartySummary)
	r.GET("/transfer-events", h.ListTransferEvents)
	r.POST("/statements", h.ExportStatement)
}

// bindParty 管理端按任意主体查询，包括平台
func bindParty(c *gin.Context) (models.Party, bool) {
	partyID, err := parseInt64(c.Query("party_id"))
	party := models.Party{Type: models.PartyType(c.Query("party_type")), ID: partyID}
	if err != nil || !party.Type.Valid() || (party.Type != models.PartyPlatform && party.ID <= 0) {
		response.BadRequest(c, "无效的账户主体")
		return models.Party{}, false
	}
	return party, true
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
