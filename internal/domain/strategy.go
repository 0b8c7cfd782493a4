package domain

import (
	"fmt"
	"time"
)

// StrategyParams 阶梯止盈策略参数
type StrategyParams struct {
	FirstThreshold    float64 `json:"first_threshold"`      // 首次止盈触发涨幅
	FirstSellRatio    float64 `json:"first_sell_ratio"`     // 首次卖出份额比例 (0,1]
	StepSize          float64 `json:"step_size"`            // 后续每档所需涨幅
	FollowUpSellRatio float64 `json:"follow_up_sell_ratio"` // 后续每档卖出比例 (0,1]
	EnableCostControl bool    `json:"enable_cost_control"`  // 成本控制开关
	TargetDilutedCost float64 `json:"target_diluted_cost"`  // 摊薄成本目标，达到后停止卖出
	EnableBuyBack     bool    `json:"enable_buy_back"`      // 补仓开关
	BuyBackThreshold  float64 `json:"buy_back_threshold"`   // 相对卖出净值的回撤触发阈值
}

// Validate 校验参数合法性。非法参数属于程序/输入错误，
// 在构造和接口入口就报错，不进入决策流程。
func (p StrategyParams) Validate() error {
	if p.FirstThreshold < 0 {
		return fmt.Errorf("first_threshold 不能为负: %v", p.FirstThreshold)
	}
	if p.FirstSellRatio <= 0 || p.FirstSellRatio > 1 {
		return fmt.Errorf("first_sell_ratio 必须在 (0,1]: %v", p.FirstSellRatio)
	}
	if p.StepSize < 0 {
		return fmt.Errorf("step_size 不能为负: %v", p.StepSize)
	}
	if p.FollowUpSellRatio <= 0 || p.FollowUpSellRatio > 1 {
		return fmt.Errorf("follow_up_sell_ratio 必须在 (0,1]: %v", p.FollowUpSellRatio)
	}
	if p.TargetDilutedCost < 0 {
		return fmt.Errorf("target_diluted_cost 不能为负: %v", p.TargetDilutedCost)
	}
	if p.BuyBackThreshold < 0 {
		return fmt.Errorf("buy_back_threshold 不能为负: %v", p.BuyBackThreshold)
	}
	return nil
}

// Template 可复用的策略参数模板。is_system 模板不可修改不可删除；
// 全局至多一个 is_default 模板（由 store 的 SetDefaultTemplate 保证）。
type Template struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	IsSystem  bool           `json:"is_system"`
	IsDefault bool           `json:"is_default"`
	Params    StrategyParams `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CustomParams 基金级自定义参数，字段允许缺省。
// 只有全部字段齐备才构成最高优先级的 custom 档位，
// 部分覆盖不支持（避免默认值和自定义值悄悄混用）。
type CustomParams struct {
	FirstThreshold    *float64 `json:"first_threshold,omitempty"`
	FirstSellRatio    *float64 `json:"first_sell_ratio,omitempty"`
	StepSize          *float64 `json:"step_size,omitempty"`
	FollowUpSellRatio *float64 `json:"follow_up_sell_ratio,omitempty"`
	EnableCostControl *bool    `json:"enable_cost_control,omitempty"`
	TargetDilutedCost *float64 `json:"target_diluted_cost,omitempty"`
	EnableBuyBack     *bool    `json:"enable_buy_back,omitempty"`
	BuyBackThreshold  *float64 `json:"buy_back_threshold,omitempty"`
}

// Complete 判断自定义参数是否全部给出。
func (c CustomParams) Complete() bool {
	return c.FirstThreshold != nil &&
		c.FirstSellRatio != nil &&
		c.StepSize != nil &&
		c.FollowUpSellRatio != nil &&
		c.EnableCostControl != nil &&
		c.TargetDilutedCost != nil &&
		c.EnableBuyBack != nil &&
		c.BuyBackThreshold != nil
}

// ToParams 转为完整参数。调用前必须保证 Complete() 为真。
func (c CustomParams) ToParams() StrategyParams {
	return StrategyParams{
		FirstThreshold:    *c.FirstThreshold,
		FirstSellRatio:    *c.FirstSellRatio,
		StepSize:          *c.StepSize,
		FollowUpSellRatio: *c.FollowUpSellRatio,
		EnableCostControl: *c.EnableCostControl,
		TargetDilutedCost: *c.TargetDilutedCost,
		EnableBuyBack:     *c.EnableBuyBack,
		BuyBackThreshold:  *c.BuyBackThreshold,
	}
}

// FundConfig 基金级策略配置：要么整套自定义参数，要么引用模板，
// 两者都没有时走默认模板。删除配置即恢复默认行为，从不自动创建。
type FundConfig struct {
	ID          int64         `json:"id"`
	PortfolioID string        `json:"portfolio_id"`
	FundCode    string        `json:"fund_code"`
	TemplateID  *int64        `json:"template_id,omitempty"`
	Custom      *CustomParams `json:"custom,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// 参数来源档位
const (
	ParamSourceCustom   = "custom"
	ParamSourceTemplate = "template"
	ParamSourceDefault  = "default"
)
