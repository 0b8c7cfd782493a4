package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fund_keeper/internal/advisor"
	"fund_keeper/internal/config"
	"fund_keeper/internal/domain"
	"fund_keeper/internal/store"
	"fund_keeper/internal/strategy"
	"fund_keeper/internal/trade"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedNav struct {
	quotes map[string]*domain.NavQuote
}

func (f *fixedNav) LatestNav(_ context.Context, fundCode string) (*domain.NavQuote, error) {
	if q, ok := f.quotes[fundCode]; ok {
		return q, nil
	}
	return nil, fmt.Errorf("基金 %s 净值不可用", fundCode)
}

func newTestRouter(t *testing.T, nav *fixedNav) (*gin.Engine, store.Repository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := store.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Init(context.Background()))

	resolver := strategy.NewResolver(repo)
	cash := strategy.NewCashCalculator(repo)
	engine := strategy.NewEngine(repo, nav)
	evaluator := strategy.NewEvaluator(repo, cash, resolver, engine)
	trades := trade.NewService(repo)

	cfg := config.Config{
		RequestTimeoutSec:     5,
		VAMonthlyAmount:       1000,
		VAExpectedMonthlyRate: 0.008,
	}
	return NewRouter(repo, evaluator, trades, advisor.NoopAdvisor{}, cfg), repo
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})
	w := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecordAndListTransactions(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions", trade.Request{
		PortfolioID: "p1", FundCode: "110022", Type: domain.TradeBuy,
		Shares: 1000, Amount: 1000, Nav: 1.00,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/api/v1/transactions", trade.Request{
		PortfolioID: "p1", FundCode: "110022", Type: domain.TradeSell,
		Shares: 300, Amount: 390, Nav: 1.30,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/v1/portfolios/p1/funds/110022/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Transactions  []domain.Transaction `json:"transactions"`
		TotalBuy      float64              `json:"total_buy"`
		TotalSell     float64              `json:"total_sell"`
		AvailableCash float64              `json:"available_cash"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Transactions, 2)
	assert.InDelta(t, 1000, resp.TotalBuy, 1e-9)
	assert.InDelta(t, 390, resp.TotalSell, 1e-9)
	assert.InDelta(t, -610, resp.AvailableCash, 1e-9)
}

func TestRecordTransactionRejectsOversell(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})
	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions", trade.Request{
		PortfolioID: "p1", FundCode: "110022", Type: domain.TradeSell,
		Shares: 100, Amount: 130, Nav: 1.30,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluatePortfolioEndpoint(t *testing.T) {
	nav := &fixedNav{quotes: map[string]*domain.NavQuote{
		"110022": {FundCode: "110022", Nav: 1.25, Date: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)},
	}}
	router, _ := newTestRouter(t, nav)

	w := doJSON(t, router, http.MethodPost, "/api/v1/transactions", trade.Request{
		PortfolioID: "p1", FundCode: "110022", Type: domain.TradeBuy,
		Shares: 1000, Amount: 1000, Nav: 1.00,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/portfolios/p1/evaluate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report domain.PortfolioReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Funds, 1)
	assert.Equal(t, domain.ActionSell, report.Funds[0].Action)
	assert.Equal(t, 1, report.Summary.SellCount)
}

func TestTemplateValidationAtBoundary(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/templates", gin.H{
		"name": "非法模板",
		"params": gin.H{
			"first_threshold":      0.2,
			"first_sell_ratio":     1.5, // 超出 (0,1]
			"step_size":            0.05,
			"follow_up_sell_ratio": 0.2,
			"buy_back_threshold":   0.2,
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemTemplateProtectedOverHTTP(t *testing.T) {
	router, repo := newTestRouter(t, &fixedNav{})

	system, err := repo.GetDefaultTemplate(context.Background())
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", system.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFundConfigEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})

	// 引用不存在的模板被拒绝
	w := doJSON(t, router, http.MethodPut, "/api/v1/portfolios/p1/funds/110022/config", gin.H{
		"template_id": 999,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 引用系统模板（模板 1 由初始化写入）
	w = doJSON(t, router, http.MethodPut, "/api/v1/portfolios/p1/funds/110022/config", gin.H{
		"template_id": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/v1/portfolios/p1/funds/110022/config", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/portfolios/p1/funds/110022/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/portfolios/p1/funds/110022/config", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValueAvgEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &fixedNav{})

	w := doJSON(t, router, http.MethodPost, "/api/v1/valueavg/recommend", gin.H{
		"plan": gin.H{
			"initial_amount":   1000,
			"monthly_amount":   1000,
			"monthly_rate":     0.01,
			"allow_withdrawal": true,
		},
		"month":         2,
		"current_value": 2800,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec struct {
		Action string  `json:"action"`
		Amount float64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "contribute", rec.Action)
	assert.InDelta(t, 230.10, rec.Amount, 1e-6)
}
