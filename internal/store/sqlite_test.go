package store

import (
	"context"
	"testing"
	"time"

	"fund_keeper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func tx(id, fundCode string, tradeType domain.TradeType, date time.Time, shares, amount, nav float64) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		PortfolioID: "p1",
		FundCode:    fundCode,
		Type:        tradeType,
		Date:        date,
		Shares:      shares,
		Amount:      amount,
		Nav:         nav,
		CreatedAt:   time.Now().UTC(),
	}
}

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func TestInitSeedsSystemDefaultTemplate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tpl, err := repo.GetDefaultTemplate(ctx)
	require.NoError(t, err)
	require.NotNil(t, tpl)
	assert.True(t, tpl.IsSystem)
	assert.True(t, tpl.IsDefault)
	assert.Equal(t, "均衡止盈", tpl.Name)
	assert.InDelta(t, 0.20, tpl.Params.FirstThreshold, 1e-9)
	assert.True(t, tpl.Params.EnableCostControl)
	assert.False(t, tpl.Params.EnableBuyBack)

	// Init 可重复执行，系统模板只写一次
	require.NoError(t, repo.Init(ctx))
	templates, err := repo.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	confirmed := 1.52
	sellTx := tx("s1", "110022", domain.TradeSell, day(10), 200, 300, 1.50)
	sellTx.ConfirmedNav = &confirmed
	require.NoError(t, repo.InsertTransaction(ctx, sellTx))

	got, err := repo.GetTransaction(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.TradeSell, got.Type)
	assert.InDelta(t, 200, got.Shares, 1e-9)
	require.NotNil(t, got.ConfirmedNav)
	assert.InDelta(t, 1.52, *got.ConfirmedNav, 1e-9)
	assert.False(t, got.Recovered)

	missing, err := repo.GetTransaction(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListSellTransactionsOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, tx("s-old", "110022", domain.TradeSell, day(1), 100, 150, 1.50)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("s-new", "110022", domain.TradeSell, day(20), 100, 160, 1.60)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("b1", "110022", domain.TradeBuy, day(5), 300, 300, 1.00)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("s-other", "510300", domain.TradeSell, day(25), 100, 120, 1.20)))

	sells, err := repo.ListSellTransactions(ctx, "p1", "110022")
	require.NoError(t, err)
	require.Len(t, sells, 2)
	assert.Equal(t, "s-new", sells[0].ID)
	assert.Equal(t, "s-old", sells[1].ID)
}

func TestSumTransactionsAndCashByFund(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, tx("b1", "110022", domain.TradeBuy, day(1), 1000, 1000, 1.00)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("s1", "110022", domain.TradeSell, day(10), 300, 390, 1.30)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("b2", "510300", domain.TradeBuy, day(2), 500, 500, 1.00)))

	totalBuy, err := repo.SumTransactions(ctx, "p1", "110022", domain.TradeBuy)
	require.NoError(t, err)
	assert.InDelta(t, 1000, totalBuy, 1e-9)

	totalSell, err := repo.SumTransactions(ctx, "p1", "110022", domain.TradeSell)
	require.NoError(t, err)
	assert.InDelta(t, 390, totalSell, 1e-9)

	byFund, err := repo.CashByFund(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, -610, byFund["110022"], 1e-9)
	assert.InDelta(t, -500, byFund["510300"], 1e-9)

	// 无流水的组合得到空表
	empty, err := repo.CashByFund(ctx, "p-empty")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMarkSellRecoveredCAS(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, tx("s1", "110022", domain.TradeSell, day(10), 200, 300, 1.50)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("b1", "110022", domain.TradeBuy, day(1), 200, 200, 1.00)))

	require.NoError(t, repo.MarkSellRecovered(ctx, "s1"))

	got, err := repo.GetTransaction(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Recovered)

	// 第二次置位必须失败：补仓至多执行一次
	err = repo.MarkSellRecovered(ctx, "s1")
	assert.ErrorIs(t, err, ErrAlreadyRecovered)

	// 买入流水不是合法目标
	err = repo.MarkSellRecovered(ctx, "b1")
	assert.ErrorIs(t, err, ErrAlreadyRecovered)

	// 不存在的流水同样拒绝
	err = repo.MarkSellRecovered(ctx, "nope")
	assert.ErrorIs(t, err, ErrAlreadyRecovered)
}

func TestUnmarkSellRecovered(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertTransaction(ctx, tx("s1", "110022", domain.TradeSell, day(10), 200, 300, 1.50)))
	require.NoError(t, repo.MarkSellRecovered(ctx, "s1"))

	// 归还标记后该卖出重新成为合法的补仓目标
	require.NoError(t, repo.UnmarkSellRecovered(ctx, "s1"))
	got, err := repo.GetTransaction(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.Recovered)
	require.NoError(t, repo.MarkSellRecovered(ctx, "s1"))

	// 未置位/不存在的流水归还是空操作
	require.NoError(t, repo.UnmarkSellRecovered(ctx, "nope"))
}

func TestHoldingUpsertAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	h := domain.Holding{
		PortfolioID: "p1", FundCode: "110022", FundName: "易方达消费",
		Shares: 1000, BuyNav: 1.25, UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertHolding(ctx, h))

	// 空基金名的更新不抹掉已有名称
	h.FundName = ""
	h.Shares = 700
	require.NoError(t, repo.UpsertHolding(ctx, h))

	got, err := repo.GetHolding(ctx, "p1", "110022")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "易方达消费", got.FundName)
	assert.InDelta(t, 700, got.Shares, 1e-9)

	// 清仓后的持仓不出现在列表里
	require.NoError(t, repo.UpsertHolding(ctx, domain.Holding{
		PortfolioID: "p1", FundCode: "510300", Shares: 0, BuyNav: 0, UpdatedAt: time.Now().UTC(),
	}))
	holdings, err := repo.ListHoldings(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "110022", holdings[0].FundCode)

	missing, err := repo.GetHolding(ctx, "p1", "999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAggregateHoldingFromLedger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// 买 1000 份 @1.00，再买 500 份 @1.30，卖出 300 份
	require.NoError(t, repo.InsertTransaction(ctx, tx("b1", "110022", domain.TradeBuy, day(1), 1000, 1000, 1.00)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("b2", "110022", domain.TradeBuy, day(5), 500, 650, 1.30)))
	require.NoError(t, repo.InsertTransaction(ctx, tx("s1", "110022", domain.TradeSell, day(10), 300, 420, 1.40)))

	h, err := repo.AggregateHoldingFromLedger(ctx, "p1", "110022")
	require.NoError(t, err)
	assert.InDelta(t, 1200, h.Shares, 1e-9)
	// 卖出按比例扣成本，摊薄成本不变：1650/1500 = 1.10
	assert.InDelta(t, 1.10, h.BuyNav, 1e-9)

	// 无流水 → 零持仓
	empty, err := repo.AggregateHoldingFromLedger(ctx, "p1", "999999")
	require.NoError(t, err)
	assert.Zero(t, empty.Shares)
	assert.Zero(t, empty.BuyNav)
}

func TestTemplateCRUDAndSystemProtection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTemplate(ctx, domain.Template{
		Name: "激进止盈",
		Params: domain.StrategyParams{
			FirstThreshold: 0.15, FirstSellRatio: 0.50,
			StepSize: 0.04, FollowUpSellRatio: 0.30,
			EnableCostControl: true, EnableBuyBack: true, BuyBackThreshold: 0.15,
		},
	})
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := repo.GetTemplate(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsSystem)
	assert.False(t, got.IsDefault)
	assert.InDelta(t, 0.15, got.Params.FirstThreshold, 1e-9)

	got.Params.FirstThreshold = 0.18
	require.NoError(t, repo.UpdateTemplate(ctx, *got))
	updated, err := repo.GetTemplate(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.18, updated.Params.FirstThreshold, 1e-9)

	// 系统模板不可改不可删
	system, err := repo.GetDefaultTemplate(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.UpdateTemplate(ctx, *system), ErrSystemTemplate)
	assert.ErrorIs(t, repo.DeleteTemplate(ctx, system.ID), ErrSystemTemplate)

	require.NoError(t, repo.DeleteTemplate(ctx, id))
	gone, err := repo.GetTemplate(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSetDefaultTemplateExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	system, err := repo.GetDefaultTemplate(ctx)
	require.NoError(t, err)

	id, err := repo.CreateTemplate(ctx, domain.Template{
		Name: "自定义默认",
		Params: domain.StrategyParams{
			FirstThreshold: 0.25, FirstSellRatio: 0.30,
			StepSize: 0.05, FollowUpSellRatio: 0.20, BuyBackThreshold: 0.20,
		},
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetDefaultTemplate(ctx, id))

	// 默认标记转移，全局仍只有一个默认模板
	current, err := repo.GetDefaultTemplate(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, current.ID)

	old, err := repo.GetTemplate(ctx, system.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)
}

func TestFundConfigRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	threshold := 0.15
	enable := true
	tplID := int64(1)

	require.NoError(t, repo.UpsertFundConfig(ctx, domain.FundConfig{
		PortfolioID: "p1",
		FundCode:    "110022",
		Custom: &domain.CustomParams{
			FirstThreshold: &threshold,
			EnableBuyBack:  &enable,
		},
	}))

	cfg, err := repo.GetFundConfig(ctx, "p1", "110022")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Nil(t, cfg.TemplateID)
	require.NotNil(t, cfg.Custom)
	require.NotNil(t, cfg.Custom.FirstThreshold)
	assert.InDelta(t, 0.15, *cfg.Custom.FirstThreshold, 1e-9)
	assert.False(t, cfg.Custom.Complete())

	// 同键更新：切换为模板引用
	require.NoError(t, repo.UpsertFundConfig(ctx, domain.FundConfig{
		PortfolioID: "p1",
		FundCode:    "110022",
		TemplateID:  &tplID,
	}))
	cfg, err = repo.GetFundConfig(ctx, "p1", "110022")
	require.NoError(t, err)
	require.NotNil(t, cfg.TemplateID)
	assert.Equal(t, tplID, *cfg.TemplateID)
	assert.Nil(t, cfg.Custom)

	require.NoError(t, repo.DeleteFundConfig(ctx, "p1", "110022"))
	cfg, err = repo.GetFundConfig(ctx, "p1", "110022")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
