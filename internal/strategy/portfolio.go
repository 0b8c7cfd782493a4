package strategy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"fund_keeper/internal/domain"
)

// HoldingLister 组合评估需要的持仓列表接口（由 store 实现）。
type HoldingLister interface {
	ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error)
}

// Evaluator 组合级评估：对组合内每只持仓基金跑一遍
// 参数解析 → 决策引擎，并按动作汇总。
type Evaluator struct {
	holdings HoldingLister
	cash     *CashCalculator
	resolver *Resolver
	engine   *Engine
}

func NewEvaluator(holdings HoldingLister, cash *CashCalculator, resolver *Resolver, engine *Engine) *Evaluator {
	return &Evaluator{
		holdings: holdings,
		cash:     cash,
		resolver: resolver,
		engine:   engine,
	}
}

// EvaluateFund 评估单只基金：解析参数、取可用资金、跑引擎。
// 数据问题一律落在返回结果的 error 动作上，不返回 Go error。
func (ev *Evaluator) EvaluateFund(ctx context.Context, portfolioID, fundCode string) domain.DecisionResult {
	params, source, err := ev.resolver.Resolve(ctx, portfolioID, fundCode)
	if err != nil {
		return domain.DecisionResult{
			PortfolioID: portfolioID,
			FundCode:    fundCode,
			Action:      domain.ActionError,
			Reason:      fmt.Sprintf("解析策略参数失败: %v", err),
			CreatedAt:   time.Now().UTC(),
		}
	}

	cash, err := ev.cash.AvailableCash(ctx, portfolioID, fundCode)
	if err != nil {
		return domain.DecisionResult{
			PortfolioID: portfolioID,
			FundCode:    fundCode,
			ParamSource: source,
			Action:      domain.ActionError,
			Reason:      fmt.Sprintf("计算可用资金失败: %v", err),
			CreatedAt:   time.Now().UTC(),
		}
	}

	result := ev.engine.Decide(ctx, Input{
		PortfolioID:   portfolioID,
		FundCode:      fundCode,
		AvailableCash: cash,
		Params:        params,
	})
	result.ParamSource = source
	return result
}

// EvaluatePortfolio 评估组合内全部持仓基金。可用资金一次批量取出，
// 基金按代码升序排列保证结果稳定；单只基金失败只影响它自己，
// 以 error 动作出现在结果里，不会中断其余基金的评估。
func (ev *Evaluator) EvaluatePortfolio(ctx context.Context, portfolioID string) (domain.PortfolioReport, error) {
	report := domain.PortfolioReport{
		PortfolioID: portfolioID,
		Funds:       make([]domain.DecisionResult, 0),
		CreatedAt:   time.Now().UTC(),
	}

	holdings, err := ev.holdings.ListHoldings(ctx, portfolioID)
	if err != nil {
		return report, fmt.Errorf("查询组合持仓: %w", err)
	}
	if len(holdings) == 0 {
		return report, nil
	}

	cashByFund, err := ev.cash.AvailableCashBatch(ctx, portfolioID)
	if err != nil {
		return report, fmt.Errorf("批量计算可用资金: %w", err)
	}

	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].FundCode < holdings[j].FundCode
	})

	for _, h := range holdings {
		result := ev.evaluateHeld(ctx, portfolioID, h, cashByFund[h.FundCode])
		if result.FundName == "" {
			result.FundName = h.FundName
		}
		report.Funds = append(report.Funds, result)
		tally(&report.Summary, result)
	}

	log.Printf("[评估] 组合=%s 基金=%d 卖出=%d(%.2f元) 补仓=%d(%.2f元) 持有=%d 停卖=%d 异常=%d",
		portfolioID, len(report.Funds),
		report.Summary.SellCount, report.Summary.SellAmount,
		report.Summary.BuyCount, report.Summary.BuyAmount,
		report.Summary.HoldCount, report.Summary.StopCount, report.Summary.ErrorCount)

	return report, nil
}

// evaluateHeld 用已经批量取到的可用资金评估一只基金。
func (ev *Evaluator) evaluateHeld(ctx context.Context, portfolioID string, h domain.Holding, cash float64) domain.DecisionResult {
	params, source, err := ev.resolver.Resolve(ctx, portfolioID, h.FundCode)
	if err != nil {
		return domain.DecisionResult{
			PortfolioID: portfolioID,
			FundCode:    h.FundCode,
			FundName:    h.FundName,
			Action:      domain.ActionError,
			Reason:      fmt.Sprintf("解析策略参数失败: %v", err),
			CreatedAt:   time.Now().UTC(),
		}
	}

	result := ev.engine.Decide(ctx, Input{
		PortfolioID:   portfolioID,
		FundCode:      h.FundCode,
		AvailableCash: cash,
		Params:        params,
	})
	result.ParamSource = source
	return result
}

func tally(s *domain.PortfolioSummary, r domain.DecisionResult) {
	switch r.Action {
	case domain.ActionSell:
		s.SellCount++
		s.SellAmount += r.SellAmount
	case domain.ActionBuy:
		s.BuyCount++
		s.BuyAmount += r.BuyBackAmount
	case domain.ActionHold:
		s.HoldCount++
	case domain.ActionStop:
		s.StopCount++
	case domain.ActionError:
		s.ErrorCount++
	}
}
