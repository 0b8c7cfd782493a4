package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fund_keeper/internal/advisor"
	"fund_keeper/internal/config"
	"fund_keeper/internal/domain"
	"fund_keeper/internal/store"
	"fund_keeper/internal/strategy"
	"fund_keeper/internal/trade"
	"fund_keeper/internal/valueavg"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo      store.Repository
	evaluator *strategy.Evaluator
	trades    *trade.Service
	advisor   advisor.Advisor
	timeout   time.Duration

	// 价值平均接口的缺省参数（请求里没给时生效）
	vaMonthlyAmount float64
	vaMonthlyRate   float64
}

func NewRouter(repo store.Repository, evaluator *strategy.Evaluator,
	trades *trade.Service, adv advisor.Advisor, cfg config.Config) *gin.Engine {

	router := gin.Default()

	h := &Handler{
		repo:            repo,
		evaluator:       evaluator,
		trades:          trades,
		advisor:         adv,
		timeout:         time.Duration(cfg.RequestTimeoutSec) * time.Second,
		vaMonthlyAmount: cfg.VAMonthlyAmount,
		vaMonthlyRate:   cfg.VAExpectedMonthlyRate,
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.health)

		v1.POST("/portfolios/:id/evaluate", h.evaluatePortfolio)
		v1.GET("/portfolios/:id/funds/:code/decision", h.fundDecision)
		v1.POST("/decisions/execute", h.executeDecision)

		v1.GET("/templates", h.listTemplates)
		v1.POST("/templates", h.createTemplate)
		v1.PUT("/templates/:id", h.updateTemplate)
		v1.DELETE("/templates/:id", h.deleteTemplate)
		v1.POST("/templates/:id/default", h.setDefaultTemplate)

		v1.GET("/portfolios/:id/configs", h.listFundConfigs)
		v1.GET("/portfolios/:id/funds/:code/config", h.getFundConfig)
		v1.PUT("/portfolios/:id/funds/:code/config", h.upsertFundConfig)
		v1.DELETE("/portfolios/:id/funds/:code/config", h.deleteFundConfig)

		v1.POST("/transactions", h.recordTransaction)
		v1.GET("/portfolios/:id/funds/:code/transactions", h.listTransactions)

		v1.GET("/portfolios/:id/holdings", h.listHoldings)
		v1.POST("/portfolios/:id/funds/:code/holdings/rebuild", h.rebuildHolding)

		v1.POST("/valueavg/recommend", h.valueAvgRecommend)
	}

	return router
}

func (h *Handler) reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// ---- 评估 ----

func (h *Handler) evaluatePortfolio(c *gin.Context) {
	portfolioID := strings.TrimSpace(c.Param("id"))
	if portfolioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少组合ID"})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	report, err := h.evaluator.EvaluatePortfolio(ctx, portfolioID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	report.Commentary = h.advisor.Comment(ctx, report)

	c.JSON(http.StatusOK, report)
}

func (h *Handler) fundDecision(c *gin.Context) {
	portfolioID := strings.TrimSpace(c.Param("id"))
	fundCode := strings.TrimSpace(c.Param("code"))
	if portfolioID == "" || fundCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少组合ID或基金代码"})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	c.JSON(http.StatusOK, h.evaluator.EvaluateFund(ctx, portfolioID, fundCode))
}

func (h *Handler) executeDecision(c *gin.Context) {
	var result domain.DecisionResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result.PortfolioID == "" || result.FundCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少组合ID或基金代码"})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	tx, err := h.trades.ExecuteDecision(ctx, result)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrAlreadyRecovered) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ---- 模板 ----

type templateRequest struct {
	Name   string                `json:"name"`
	Params domain.StrategyParams `json:"params"`
}

func (h *Handler) listTemplates(c *gin.Context) {
	ctx, cancel := h.reqCtx(c)
	defer cancel()

	templates, err := h.repo.ListTemplates(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *Handler) createTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "模板名称不能为空"})
		return
	}
	if err := req.Params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	id, err := h.repo.CreateTemplate(ctx, domain.Template{Name: req.Name, Params: req.Params})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) updateTemplate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	err := h.repo.UpdateTemplate(ctx, domain.Template{
		ID:     id,
		Name:   strings.TrimSpace(req.Name),
		Params: req.Params,
	})
	if err != nil {
		c.JSON(templateErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) deleteTemplate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	if err := h.repo.DeleteTemplate(ctx, id); err != nil {
		c.JSON(templateErrStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) setDefaultTemplate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	if err := h.repo.SetDefaultTemplate(ctx, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_default": true})
}

// ---- 基金配置 ----

type fundConfigRequest struct {
	TemplateID *int64               `json:"template_id,omitempty"`
	Custom     *domain.CustomParams `json:"custom,omitempty"`
}

func (h *Handler) listFundConfigs(c *gin.Context) {
	ctx, cancel := h.reqCtx(c)
	defer cancel()

	configs, err := h.repo.ListFundConfigs(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs})
}

func (h *Handler) getFundConfig(c *gin.Context) {
	portfolioID, fundCode := c.Param("id"), c.Param("code")

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	cfg, err := h.repo.GetFundConfig(ctx, portfolioID, fundCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "该基金无策略配置，使用默认模板"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) upsertFundConfig(c *gin.Context) {
	portfolioID, fundCode := c.Param("id"), c.Param("code")

	var req fundConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TemplateID == nil && req.Custom == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "必须给出模板引用或自定义参数"})
		return
	}
	// 整套自定义参数在入口就做合法性校验，残缺集合留给解析器回落
	if req.Custom != nil && req.Custom.Complete() {
		if err := req.Custom.ToParams().Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	if req.TemplateID != nil {
		tpl, err := h.repo.GetTemplate(ctx, *req.TemplateID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tpl == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "引用的模板不存在"})
			return
		}
	}

	err := h.repo.UpsertFundConfig(ctx, domain.FundConfig{
		PortfolioID: portfolioID,
		FundCode:    fundCode,
		TemplateID:  req.TemplateID,
		Custom:      req.Custom,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio_id": portfolioID, "fund_code": fundCode})
}

func (h *Handler) deleteFundConfig(c *gin.Context) {
	portfolioID, fundCode := c.Param("id"), c.Param("code")

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	if err := h.repo.DeleteFundConfig(ctx, portfolioID, fundCode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio_id": portfolioID, "fund_code": fundCode})
}

// ---- 流水 ----

func (h *Handler) recordTransaction(c *gin.Context) {
	var req trade.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	tx, err := h.trades.Record(ctx, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *Handler) listTransactions(c *gin.Context) {
	portfolioID, fundCode := c.Param("id"), c.Param("code")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	txs, err := h.repo.ListTransactions(ctx, portfolioID, fundCode, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalBuy, err := h.repo.SumTransactions(ctx, portfolioID, fundCode, domain.TradeBuy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	totalSell, err := h.repo.SumTransactions(ctx, portfolioID, fundCode, domain.TradeSell)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions":   txs,
		"total_buy":      totalBuy,
		"total_sell":     totalSell,
		"available_cash": totalSell - totalBuy,
	})
}

// ---- 持仓 ----

func (h *Handler) listHoldings(c *gin.Context) {
	portfolioID := c.Param("id")

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	holdings, err := h.repo.ListHoldings(ctx, portfolioID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

func (h *Handler) rebuildHolding(c *gin.Context) {
	portfolioID, fundCode := c.Param("id"), c.Param("code")

	ctx, cancel := h.reqCtx(c)
	defer cancel()

	holding, err := h.trades.RebuildHolding(ctx, portfolioID, fundCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holding": holding})
}

// ---- 价值平均 ----

type valueAvgRequest struct {
	Plan         valueavg.PlanConfig `json:"plan"`
	Month        int                 `json:"month"`
	CurrentValue float64             `json:"current_value"`
}

func (h *Handler) valueAvgRecommend(c *gin.Context) {
	var req valueAvgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Plan.MonthlyAmount == 0 {
		req.Plan.MonthlyAmount = h.vaMonthlyAmount
	}
	if req.Plan.MonthlyRate == 0 {
		req.Plan.MonthlyRate = h.vaMonthlyRate
	}

	rec, err := valueavg.Recommend(req.Plan, req.Month, req.CurrentValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ---- 辅助 ----

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的模板ID"})
		return 0, false
	}
	return id, true
}

func templateErrStatus(err error) int {
	if errors.Is(err, store.ErrSystemTemplate) {
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
