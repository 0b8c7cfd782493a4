package strategy

import (
	"context"
	"fmt"
)

// CashSource 可用资金计算所需的账本读取接口（由 store 实现）。
type CashSource interface {
	CashByFund(ctx context.Context, portfolioID string) (map[string]float64, error)
}

// CashCalculator 计算基金维度的可用资金：该基金历史卖出回款减去
// 买入支出。这是基金自己的"资金池"，与组合层面的现金账户无关。
// 结果允许为负——表示投入还没有通过卖出收回，补仓可用性检查
// 需要这个信息，所以不做零截断。
type CashCalculator struct {
	src CashSource
}

func NewCashCalculator(src CashSource) *CashCalculator {
	return &CashCalculator{src: src}
}

// AvailableCash 单只基金的可用资金。
// 底层是一条分组查询，读到的是同一份账本快照。
func (c *CashCalculator) AvailableCash(ctx context.Context, portfolioID, fundCode string) (float64, error) {
	byFund, err := c.src.CashByFund(ctx, portfolioID)
	if err != nil {
		return 0, fmt.Errorf("计算可用资金: %w", err)
	}
	// 没有任何流水的基金可用资金为 0
	return byFund[fundCode], nil
}

// AvailableCashBatch 组合内全部基金的可用资金，一次分组扫描完成，
// 组合评估时避免逐只基金同步查询。
func (c *CashCalculator) AvailableCashBatch(ctx context.Context, portfolioID string) (map[string]float64, error) {
	byFund, err := c.src.CashByFund(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("批量计算可用资金: %w", err)
	}
	return byFund, nil
}
