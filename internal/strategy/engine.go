package strategy

import (
	"context"
	"fmt"
	"time"

	"fund_keeper/internal/domain"
	"fund_keeper/internal/market"
)

// Ledger 决策引擎需要的账本读取接口（由 store 实现）。
type Ledger interface {
	GetHolding(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error)
	ListSellTransactions(ctx context.Context, portfolioID, fundCode string) ([]domain.Transaction, error)
}

// Engine 阶梯止盈 / 补仓决策引擎。每次 Decide 全新计算，只读不写：
// 执行卖出/补仓（写流水、置 recovered）是 trade 包里单独的显式操作。
type Engine struct {
	ledger Ledger
	nav    market.Provider
}

// Input 单只基金的决策输入。参数和可用资金由调用方解析好传入，
// 引擎不再关心参数来自哪一档。
type Input struct {
	PortfolioID   string
	FundCode      string
	AvailableCash float64
	Params        domain.StrategyParams
}

func NewEngine(ledger Ledger, nav market.Provider) *Engine {
	return &Engine{ledger: ledger, nav: nav}
}

// Decide 产出一条带完整推演过程的决策。数据缺失或不可用一律降级为
// error 动作并写明原因，不向外抛异常；推演步骤是契约的一部分。
func (e *Engine) Decide(ctx context.Context, in Input) domain.DecisionResult {
	res := domain.DecisionResult{
		PortfolioID:   in.PortfolioID,
		FundCode:      in.FundCode,
		AvailableCash: in.AvailableCash,
		CreatedAt:     time.Now().UTC(),
	}
	step := func(format string, args ...any) {
		res.Steps = append(res.Steps, fmt.Sprintf(format, args...))
	}

	// ---- 输入收集：净值、持仓、卖出历史，缺一不可 ----
	quote, err := e.nav.LatestNav(ctx, in.FundCode)
	if err != nil || quote == nil || quote.Nav <= 0 {
		if err == nil {
			err = fmt.Errorf("净值为空")
		}
		step("获取最新净值失败: %v", err)
		return errorResult(res, fmt.Sprintf("无法获取基金 %s 的最新净值: %v", in.FundCode, err))
	}
	res.CurrentNav = quote.Nav
	res.NavDate = quote.Date
	res.FundName = quote.FundName
	step("最新净值 %.4f（%s）", quote.Nav, quote.Date.Format("2006-01-02"))

	holding, err := e.ledger.GetHolding(ctx, in.PortfolioID, in.FundCode)
	if err != nil {
		step("读取持仓失败: %v", err)
		return errorResult(res, fmt.Sprintf("读取持仓失败: %v", err))
	}
	if holding == nil || holding.Shares <= 0 {
		step("当前未持有该基金")
		return errorResult(res, fmt.Sprintf("基金 %s 当前无持仓，无法评估", in.FundCode))
	}
	if res.FundName == "" {
		res.FundName = holding.FundName
	}
	res.Shares = holding.Shares
	res.BuyNav = holding.BuyNav
	step("当前持仓 份额=%.2f 摊薄成本=%.4f", holding.Shares, holding.BuyNav)

	if holding.BuyNav <= 0 {
		step("摊薄成本 %.4f 无效，无法计算收益率", holding.BuyNav)
		return errorResult(res, fmt.Sprintf("基金 %s 成本净值无效（%.4f），无法评估", in.FundCode, holding.BuyNav))
	}

	sells, err := e.ledger.ListSellTransactions(ctx, in.PortfolioID, in.FundCode)
	if err != nil {
		step("读取卖出流水失败: %v", err)
		return errorResult(res, fmt.Sprintf("读取卖出流水失败: %v", err))
	}

	res.CurrentValue = holding.Shares * quote.Nav
	res.ProfitRate = (quote.Nav - holding.BuyNav) / holding.BuyNav
	step("当前市值 = %.2f × %.4f = %.2f", holding.Shares, quote.Nav, res.CurrentValue)
	step("当前收益率 = (%.4f - %.4f) / %.4f = %.2f%%",
		quote.Nav, holding.BuyNav, holding.BuyNav, res.ProfitRate*100)

	// ---- 规则 1：成本控制停卖 ----
	// 摊薄成本降到目标以下说明本金已通过前面的分批卖出收回，
	// 无论当前涨幅多少都不再继续卖。
	if in.Params.EnableCostControl {
		if holding.BuyNav <= in.Params.TargetDilutedCost {
			step("成本控制: 摊薄成本 %.4f ≤ 目标 %.4f，触发停卖",
				holding.BuyNav, in.Params.TargetDilutedCost)
			res.Action = domain.ActionStop
			res.Reason = fmt.Sprintf("摊薄成本 %.4f 已降至目标 %.4f 以下，本金已收回，停止阶梯卖出",
				holding.BuyNav, in.Params.TargetDilutedCost)
			return res
		}
		step("成本控制: 摊薄成本 %.4f > 目标 %.4f，不触发", holding.BuyNav, in.Params.TargetDilutedCost)
	} else {
		step("成本控制: 未启用")
	}

	// ---- 规则 2：补仓检查（最近一笔未补仓的卖出，后进先出）----
	// 跌幅不达标时不直接 hold，继续走阶梯止盈判断。
	if in.Params.EnableBuyBack {
		if target := latestUnrecoveredSell(sells); target != nil {
			if e.checkBuyBack(in, *target, quote.Nav, &res, step) {
				return res
			}
		} else {
			step("补仓检查: 无未补仓的卖出记录，跳过")
		}
	} else {
		step("补仓检查: 未启用")
	}

	// ---- 规则 3：从未卖出过，比较首次止盈阈值 ----
	if len(sells) == 0 {
		step("无历史卖出记录，按首次止盈规则判断")
		if res.ProfitRate >= in.Params.FirstThreshold {
			res.SellShares = holding.Shares * in.Params.FirstSellRatio
			res.SellAmount = res.SellShares * quote.Nav
			step("收益率 %.2f%% ≥ 首次止盈阈值 %.2f%%，卖出 %.0f%% 份额 = %.2f 份（约 %.2f 元）",
				res.ProfitRate*100, in.Params.FirstThreshold*100,
				in.Params.FirstSellRatio*100, res.SellShares, res.SellAmount)
			res.Action = domain.ActionSell
			res.Reason = fmt.Sprintf("收益率 %.2f%% 达到首次止盈阈值 %.2f%%，建议卖出 %.2f 份",
				res.ProfitRate*100, in.Params.FirstThreshold*100, res.SellShares)
			return res
		}
		step("收益率 %.2f%% < 首次止盈阈值 %.2f%%，继续持有",
			res.ProfitRate*100, in.Params.FirstThreshold*100)
		res.Action = domain.ActionHold
		res.Reason = fmt.Sprintf("收益率 %.2f%% 未达首次止盈阈值 %.2f%%，继续持有",
			res.ProfitRate*100, in.Params.FirstThreshold*100)
		return res
	}

	// ---- 规则 4：有卖出记录，相对上次卖出净值判断加档 ----
	lastRef := sells[0].ReferenceNav()
	if lastRef <= 0 {
		step("上次卖出净值不可用（确认净值/成交净值/金额反推均无效）")
		res.Action = domain.ActionHold
		res.Reason = "无法确定上次卖出净值，保守持有"
		return res
	}

	increaseRate := (quote.Nav - lastRef) / lastRef
	step("相对上次卖出净值涨幅 = (%.4f - %.4f) / %.4f = %.2f%%",
		quote.Nav, lastRef, lastRef, increaseRate*100)

	if increaseRate >= in.Params.StepSize {
		res.SellShares = holding.Shares * in.Params.FollowUpSellRatio
		res.SellAmount = res.SellShares * quote.Nav
		step("涨幅 %.2f%% ≥ 加档步长 %.2f%%，卖出 %.0f%% 份额 = %.2f 份（约 %.2f 元）",
			increaseRate*100, in.Params.StepSize*100,
			in.Params.FollowUpSellRatio*100, res.SellShares, res.SellAmount)
		res.Action = domain.ActionSell
		res.Reason = fmt.Sprintf("较上次卖出净值 %.4f 上涨 %.2f%%，达到加档步长 %.2f%%，建议卖出 %.2f 份",
			lastRef, increaseRate*100, in.Params.StepSize*100, res.SellShares)
		return res
	}

	step("涨幅 %.2f%% < 加档步长 %.2f%%，继续持有", increaseRate*100, in.Params.StepSize*100)
	res.Action = domain.ActionHold
	res.Reason = fmt.Sprintf("较上次卖出净值 %.4f 上涨 %.2f%%，未达加档步长 %.2f%%，继续持有",
		lastRef, increaseRate*100, in.Params.StepSize*100)
	return res
}

// checkBuyBack 对最近一笔未补仓的卖出做回撤判断。
// 返回 true 表示已得出终局决策（buy 或资金不足的 hold），
// false 表示跌幅未达标或参考净值不可用，继续走止盈规则。
func (e *Engine) checkBuyBack(in Input, target domain.Transaction, currentNav float64,
	res *domain.DecisionResult, step func(string, ...any)) bool {

	ref := target.ReferenceNav()
	if ref <= 0 {
		step("补仓检查: 卖出流水 %s 参考净值不可用，跳过补仓判断", target.ID)
		return false
	}

	declineRate := (ref - currentNav) / ref
	step("补仓检查: 参考卖出净值 %.4f（流水 %s），跌幅 = (%.4f - %.4f) / %.4f = %.2f%%",
		ref, target.ID, ref, currentNav, ref, declineRate*100)

	if declineRate < in.Params.BuyBackThreshold {
		step("跌幅 %.2f%% < 补仓阈值 %.2f%%，不补仓，继续止盈判断",
			declineRate*100, in.Params.BuyBackThreshold*100)
		return false
	}

	// 补仓目标是原卖出的份额数，买回同样的份额，保持一卖一买的对称
	buyBackAmount := target.Shares * currentNav
	step("跌幅 %.2f%% ≥ 补仓阈值 %.2f%%，目标买回 %.2f 份，需资金 %.2f（可用 %.2f）",
		declineRate*100, in.Params.BuyBackThreshold*100,
		target.Shares, buyBackAmount, in.AvailableCash)

	res.DeclineRate = declineRate
	if in.AvailableCash >= buyBackAmount {
		res.Action = domain.ActionBuy
		res.BuyBackShares = target.Shares
		res.BuyBackAmount = buyBackAmount
		res.TargetSellID = target.ID
		res.Reason = fmt.Sprintf("较卖出净值 %.4f 回撤 %.2f%%，达到补仓阈值 %.2f%%，建议买回 %.2f 份（约 %.2f 元）",
			ref, declineRate*100, in.Params.BuyBackThreshold*100, target.Shares, buyBackAmount)
		return true
	}

	res.Action = domain.ActionHold
	res.Reason = fmt.Sprintf("回撤 %.2f%% 已达补仓阈值，但可用资金 %.2f 不足以买回 %.2f 份（需 %.2f），暂不操作",
		declineRate*100, in.AvailableCash, target.Shares, buyBackAmount)
	return true
}

// latestUnrecoveredSell 返回最近一笔未补仓的卖出（列表已按日期倒序，
// 后卖出的先补回）。没有则返回 nil。
func latestUnrecoveredSell(sells []domain.Transaction) *domain.Transaction {
	for i := range sells {
		if !sells[i].Recovered {
			return &sells[i]
		}
	}
	return nil
}

func errorResult(res domain.DecisionResult, reason string) domain.DecisionResult {
	res.Action = domain.ActionError
	res.Reason = reason
	return res
}
