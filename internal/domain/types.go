package domain

import "time"

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Transaction 一笔买入/卖出流水（只追加；唯一的例外是卖出记录的
// recovered 标记，对应补仓成交时置位一次）。
type Transaction struct {
	ID           string    `json:"id"`
	PortfolioID  string    `json:"portfolio_id"`
	FundCode     string    `json:"fund_code"`
	Type         TradeType `json:"type"`
	Date         time.Time `json:"date"`
	Shares       float64   `json:"shares"`                  // 份额，>0
	Amount       float64   `json:"amount"`                  // 成交金额（元），>0
	Nav          float64   `json:"nav"`                     // 成交时净值
	ConfirmedNav *float64  `json:"confirmed_nav,omitempty"` // 确认净值，优先于 nav
	Recovered    bool      `json:"recovered"`               // 仅 sell 有意义：是否已被补仓
	CreatedAt    time.Time `json:"created_at"`
}

// ReferenceNav 返回该笔交易用于跌幅/涨幅计算的参考净值。
// 优先级：确认净值 > 成交净值 > 金额/份额反推；都不可用时返回 0。
// 反推是显式的兜底步骤，不要在调用处内联重写。
func (t Transaction) ReferenceNav() float64 {
	if t.ConfirmedNav != nil && *t.ConfirmedNav > 0 {
		return *t.ConfirmedNav
	}
	if t.Nav > 0 {
		return t.Nav
	}
	if t.Shares > 0 && t.Amount > 0 {
		return t.Amount / t.Shares
	}
	return 0
}

// Holding 当前持仓快照（由流水重放可完全重建，本身不是权威数据）。
type Holding struct {
	ID          int64     `json:"id"`
	PortfolioID string    `json:"portfolio_id"`
	FundCode    string    `json:"fund_code"`
	FundName    string    `json:"fund_name,omitempty"`
	Shares      float64   `json:"shares"`  // 当前份额，>=0
	BuyNav      float64   `json:"buy_nav"` // 摊薄成本净值（加权平均）
	UpdatedAt   time.Time `json:"updated_at"`
}

// NavQuote 基金最新净值
type NavQuote struct {
	FundCode string    `json:"fund_code"`
	FundName string    `json:"fund_name,omitempty"`
	Nav      float64   `json:"nav"`
	Date     time.Time `json:"date"` // 净值日期
}
