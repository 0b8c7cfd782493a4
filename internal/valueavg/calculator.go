package valueavg

import (
	"fmt"
	"math"
	"time"
)

// PlanConfig 价值平均定投计划。所有参数显式传入，每次计算
// 无共享状态，同一份配置算多少次结果都一样。
type PlanConfig struct {
	InitialAmount   float64 `json:"initial_amount"`              // 期初投入
	MonthlyAmount   float64 `json:"monthly_amount"`              // 每月基准定投额 C
	MonthlyRate     float64 `json:"monthly_rate"`                // 期望月收益率 r（外部输入，如指数基准）
	GrowthRate      float64 `json:"growth_rate,omitempty"`       // 定投额逐月增长率，可为 0
	MaxActionAmount float64 `json:"max_action_amount,omitempty"` // 单月操作上限，0 表示不限
	AllowWithdrawal bool    `json:"allow_withdrawal"`            // 超出目标时是否建议赎回
}

func (c PlanConfig) Validate() error {
	if c.MonthlyAmount < 0 || c.InitialAmount < 0 {
		return fmt.Errorf("定投金额不能为负")
	}
	if c.MonthlyRate <= -1 {
		return fmt.Errorf("月收益率 %v 无效", c.MonthlyRate)
	}
	if c.MaxActionAmount < 0 {
		return fmt.Errorf("单月操作上限不能为负")
	}
	return nil
}

// contribution 第 month 期（从 1 起）的基准定投额，按增长率逐月放大。
func (c PlanConfig) contribution(month int) float64 {
	if c.GrowthRate == 0 {
		return c.MonthlyAmount
	}
	return c.MonthlyAmount * math.Pow(1+c.GrowthRate, float64(month-1))
}

// TargetValue 第 month 期（从 0 起，0 为期初）的目标市值。
// 递推：target_t = target_{t-1} × (1 + r) + C_t。
func (c PlanConfig) TargetValue(month int) float64 {
	target := c.InitialAmount
	for t := 1; t <= month; t++ {
		target = target*(1+c.MonthlyRate) + c.contribution(t)
	}
	return target
}

// Action 建议动作
type Action string

const (
	ActionContribute Action = "contribute" // 补足到目标市值
	ActionWithdraw   Action = "withdraw"   // 赎回超出部分
	ActionHold       Action = "hold"       // 偏差为零或不允许赎回
)

// Recommendation 某一期的价值平均操作建议
type Recommendation struct {
	Month        int       `json:"month"`
	TargetValue  float64   `json:"target_value"`
	CurrentValue float64   `json:"current_value"`
	Gap          float64   `json:"gap"` // target - current
	Action       Action    `json:"action"`
	Amount       float64   `json:"amount"` // 本期应操作金额（已截断到上限）
	Capped       bool      `json:"capped"` // 金额是否被上限截断
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recommend 对比第 month 期目标市值与当前市值，给出补足/赎回建议。
// 正偏差补足，负偏差在允许赎回时赎回、否则持有。
func Recommend(cfg PlanConfig, month int, currentValue float64) (Recommendation, error) {
	if err := cfg.Validate(); err != nil {
		return Recommendation{}, err
	}
	if month < 0 {
		return Recommendation{}, fmt.Errorf("期数不能为负: %d", month)
	}
	if currentValue < 0 {
		return Recommendation{}, fmt.Errorf("当前市值不能为负: %v", currentValue)
	}

	target := cfg.TargetValue(month)
	gap := target - currentValue

	rec := Recommendation{
		Month:        month,
		TargetValue:  target,
		CurrentValue: currentValue,
		Gap:          gap,
		CreatedAt:    time.Now().UTC(),
	}

	clamp := func(amount float64) float64 {
		if cfg.MaxActionAmount > 0 && amount > cfg.MaxActionAmount {
			rec.Capped = true
			return cfg.MaxActionAmount
		}
		return amount
	}

	switch {
	case gap > 0:
		rec.Action = ActionContribute
		rec.Amount = clamp(gap)
		rec.Reason = fmt.Sprintf("当前市值 %.2f 低于第 %d 期目标 %.2f，建议买入 %.2f 元",
			currentValue, month, target, rec.Amount)
	case gap < 0 && cfg.AllowWithdrawal:
		rec.Action = ActionWithdraw
		rec.Amount = clamp(-gap)
		rec.Reason = fmt.Sprintf("当前市值 %.2f 高于第 %d 期目标 %.2f，建议赎回 %.2f 元",
			currentValue, month, target, rec.Amount)
	case gap < 0:
		rec.Action = ActionHold
		rec.Reason = fmt.Sprintf("当前市值 %.2f 已超过第 %d 期目标 %.2f，计划不赎回，继续持有",
			currentValue, month, target)
	default:
		rec.Action = ActionHold
		rec.Reason = fmt.Sprintf("当前市值恰好等于第 %d 期目标 %.2f，无需操作", month, target)
	}

	return rec, nil
}

// Schedule 生成前 months 期的目标市值序列（含第 0 期期初），
// 用于展示定投计划全貌。
func Schedule(cfg PlanConfig, months int) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if months < 0 {
		return nil, fmt.Errorf("期数不能为负: %d", months)
	}
	targets := make([]float64, months+1)
	target := cfg.InitialAmount
	targets[0] = target
	for t := 1; t <= months; t++ {
		target = target*(1+cfg.MonthlyRate) + cfg.contribution(t)
		targets[t] = target
	}
	return targets, nil
}
