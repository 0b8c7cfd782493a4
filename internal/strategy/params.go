package strategy

import (
	"context"
	"fmt"

	"fund_keeper/internal/domain"
)

// ConfigSource 参数解析所需的配置读取接口（由 store 实现）。
type ConfigSource interface {
	GetFundConfig(ctx context.Context, portfolioID, fundCode string) (*domain.FundConfig, error)
	GetTemplate(ctx context.Context, id int64) (*domain.Template, error)
	GetDefaultTemplate(ctx context.Context) (*domain.Template, error)
}

// BaselineParams 硬编码基线参数：库里连默认模板都没有时的最终兜底。
func BaselineParams() domain.StrategyParams {
	return domain.StrategyParams{
		FirstThreshold:    0.20,
		FirstSellRatio:    0.30,
		StepSize:          0.05,
		FollowUpSellRatio: 0.20,
		EnableCostControl: true,
		TargetDilutedCost: 0,
		EnableBuyBack:     false,
		BuyBackThreshold:  0.20,
	}
}

// Resolver 按三级覆盖关系解析基金实际生效的策略参数：
//  1. 基金配置携带整套自定义参数 → custom
//  2. 基金配置引用模板 → template
//  3. 无配置 → 默认模板 → default（无默认模板时退回基线）
//
// 部分自定义（只给了几个字段）不构成独立档位，直接落到 2/3 档，
// 避免默认数值和自定义数值混出一套不一致的策略。
type Resolver struct {
	src ConfigSource
}

func NewResolver(src ConfigSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve 返回生效参数及其来源档位。引擎只关心解析后的数值，
// 不需要再分支判断"这是自定义还是模板"。
func (r *Resolver) Resolve(ctx context.Context, portfolioID, fundCode string) (domain.StrategyParams, string, error) {
	cfg, err := r.src.GetFundConfig(ctx, portfolioID, fundCode)
	if err != nil {
		return domain.StrategyParams{}, "", fmt.Errorf("读取基金配置: %w", err)
	}

	if cfg != nil {
		if cfg.Custom != nil && cfg.Custom.Complete() {
			return cfg.Custom.ToParams(), domain.ParamSourceCustom, nil
		}
		if cfg.TemplateID != nil {
			tpl, err := r.src.GetTemplate(ctx, *cfg.TemplateID)
			if err != nil {
				return domain.StrategyParams{}, "", fmt.Errorf("读取模板 %d: %w", *cfg.TemplateID, err)
			}
			if tpl != nil {
				return tpl.Params, domain.ParamSourceTemplate, nil
			}
			// 引用的模板已不存在（比如被删除），按无配置处理
		}
	}

	tpl, err := r.src.GetDefaultTemplate(ctx)
	if err != nil {
		return domain.StrategyParams{}, "", fmt.Errorf("读取默认模板: %w", err)
	}
	if tpl != nil {
		return tpl.Params, domain.ParamSourceDefault, nil
	}
	return BaselineParams(), domain.ParamSourceDefault, nil
}
