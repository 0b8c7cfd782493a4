package domain

import "time"

// Action 决策动作
type Action string

const (
	ActionSell  Action = "sell"  // 触发止盈，卖出一部分
	ActionHold  Action = "hold"  // 继续持有
	ActionStop  Action = "stop"  // 成本控制生效，停止卖出
	ActionBuy   Action = "buy"   // 回撤达标，建议补仓
	ActionError Action = "error" // 数据缺失或不可用，无法决策
)

// DecisionResult 单只基金的决策结果。每次评估全新计算，
// 不携带任何隐藏状态；Steps 是完整的推演过程，属于契约的一部分。
type DecisionResult struct {
	PortfolioID string `json:"portfolio_id"`
	FundCode    string `json:"fund_code"`
	FundName    string `json:"fund_name,omitempty"`
	Action      Action `json:"action"`

	CurrentNav    float64   `json:"current_nav,omitempty"`
	NavDate       time.Time `json:"nav_date,omitempty"`
	Shares        float64   `json:"shares,omitempty"`
	BuyNav        float64   `json:"buy_nav,omitempty"`
	CurrentValue  float64   `json:"current_value,omitempty"`
	ProfitRate    float64   `json:"profit_rate,omitempty"`
	AvailableCash float64   `json:"available_cash"`
	ParamSource   string    `json:"param_source,omitempty"`

	// sell
	SellShares float64 `json:"sell_shares,omitempty"`
	SellAmount float64 `json:"sell_amount,omitempty"`

	// buy（补仓）
	BuyBackShares float64 `json:"buy_back_shares,omitempty"`
	BuyBackAmount float64 `json:"buy_back_amount,omitempty"`
	DeclineRate   float64 `json:"decline_rate,omitempty"`
	TargetSellID  string  `json:"target_sell_id,omitempty"` // 待置 recovered 的卖出流水

	Reason    string    `json:"reason"`
	Steps     []string  `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// PortfolioSummary 按动作汇总
type PortfolioSummary struct {
	SellCount  int     `json:"sell_count"`
	SellAmount float64 `json:"sell_amount"`
	BuyCount   int     `json:"buy_count"`
	BuyAmount  float64 `json:"buy_amount"`
	HoldCount  int     `json:"hold_count"`
	StopCount  int     `json:"stop_count"`
	ErrorCount int     `json:"error_count"`
}

// PortfolioReport 组合整体评估结果
type PortfolioReport struct {
	PortfolioID string           `json:"portfolio_id"`
	Funds       []DecisionResult `json:"funds"`
	Summary     PortfolioSummary `json:"summary"`
	Commentary  string           `json:"commentary,omitempty"` // AI 点评（可选）
	CreatedAt   time.Time        `json:"created_at"`
}
