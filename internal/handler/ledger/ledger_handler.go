// Package ledger 提供余额与账本流水查询的 HTTP Handler
package ledger

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/merch-settlement/internal/common/handler"
	"github.com/dumeirei/merch-settlement/internal/common/response"
	"github.com/dumeirei/merch-settlement/internal/repository"
	ledgerService "github.com/dumeirei/merch-settlement/internal/service/ledger"
	partnerService "github.com/dumeirei/merch-settlement/internal/service/partner"
)

// Handler 账本处理器
type Handler struct {
	ledgerService  *ledgerService.Service
	partnerService *partnerService.Service
}

// NewHandler 创建账本处理器
func NewHandler(ledgerSvc *ledgerService.Service, partnerSvc *partnerService.Service) *Handler {
	return &Handler{
		ledgerService:  ledgerSvc,
		partnerService: partnerSvc,
	}
}

// GetBalances 获取余额
// @Summary 获取余额
// @Description 不指定主体时返回用户本人及名下品牌、推广员身份的全部余额
// @Tags 账本
// @Produce json
// @Security Bearer
// @Param party_type query string false "主体类型 user/brand/affiliate"
// @Param party_id query int false "主体ID"
// @Success 200 {object} response.Response{data=[]ledgerService.BalanceView}
// @Router /api/v1/balances [get]
func (h *Handler) GetBalances(c *gin.Context) {
	userID, ok := handler.RequireUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if c.Query("party_type") != "" {
		party, ok := handler.QueryParty(c, h.partnerService)
		if !ok {
			return
		}
		views, err := h.ledgerService.CachedBalances(ctx, party)
		handler.MustSucceed(c, err, views)
		return
	}

	parties, err := h.partnerService.Parties(ctx, userID)
	if handler.HandleError(c, err) {
		return
	}
	views := make([]*ledgerService.BalanceView, 0, len(parties))
	for _, party := range parties {
		list, err := h.ledgerService.CachedBalances(ctx, party)
		if handler.HandleError(c, err) {
			return
		}
		views = append(views, list...)
	}
	response.Success(c, views)
}

// ListEntries 获取账本流水
// @Summary 获取账本流水
// @Tags 账本
// @Produce json
// @Security Bearer
// @Param party_type query string false "主体类型 user/brand/affiliate"
// @Param party_id query int false "主体ID"
// @Param currency query string false "币种"
// @Param ref_type query string false "来源类型 order/payout"
// @Param reason query string false "记账原因"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.Response{data=response.PageData}
// @Router /api/v1/ledger/entries [get]
func (h *Handler) ListEntries(c *gin.Context) {
	party, ok := handler.QueryParty(c, h.partnerService)
	if !ok {
		return
	}

	filter := repository.EntryFilter{
		Currency: c.Query("currency"),
		RefType:  c.Query("ref_type"),
		Reason:   c.Query("reason"),
	}
	start, end, ok := handler.BindDateRange(c)
	if !ok {
		return
	}
	filter.StartTime, filter.EndTime = start, end

	p := handler.BindPagination(c)
	entries, total, err := h.ledgerService.History(c.Request.Context(), party, filter, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, entries, total, p)
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/balances", h.GetBalances)
	r.GET("/ledger/entries", h.ListEntries)
}
