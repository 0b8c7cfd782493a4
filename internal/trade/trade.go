package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fund_keeper/internal/domain"
	"fund_keeper/internal/store"

	"github.com/google/uuid"
)

// Service 负责账本的全部写入：记录买卖流水、维护摊薄成本持仓、
// 执行决策引擎给出的卖出/补仓建议。引擎本身只读，写入集中在这里。
type Service struct {
	repo store.Repository
}

func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// Request 一笔待记录的交易
type Request struct {
	PortfolioID  string           `json:"portfolio_id"`
	FundCode     string           `json:"fund_code"`
	FundName     string           `json:"fund_name,omitempty"`
	Type         domain.TradeType `json:"type"`
	Date         time.Time        `json:"date"`
	Shares       float64          `json:"shares"`
	Amount       float64          `json:"amount"`
	Nav          float64          `json:"nav"`
	ConfirmedNav *float64         `json:"confirmed_nav,omitempty"`
}

func (r Request) validate() error {
	if r.PortfolioID == "" || r.FundCode == "" {
		return fmt.Errorf("组合ID和基金代码不能为空")
	}
	if r.Type != domain.TradeBuy && r.Type != domain.TradeSell {
		return fmt.Errorf("交易类型必须是 buy 或 sell: %q", r.Type)
	}
	if r.Shares <= 0 {
		return fmt.Errorf("份额必须大于0: %v", r.Shares)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("金额必须大于0: %v", r.Amount)
	}
	return nil
}

// Record 追加一笔流水并同步更新摊薄成本持仓。
// 买入：份额和成本同时增加；卖出：份额减少，成本按卖出比例扣减。
func (s *Service) Record(ctx context.Context, req Request) (domain.Transaction, error) {
	if err := req.validate(); err != nil {
		return domain.Transaction{}, err
	}

	holding, err := s.repo.GetHolding(ctx, req.PortfolioID, req.FundCode)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("读取持仓: %w", err)
	}
	if req.Type == domain.TradeSell {
		if holding == nil || holding.Shares < req.Shares {
			held := 0.0
			if holding != nil {
				held = holding.Shares
			}
			return domain.Transaction{}, fmt.Errorf("卖出份额 %.2f 超过当前持仓 %.2f", req.Shares, held)
		}
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	tx := domain.Transaction{
		ID:           uuid.NewString(),
		PortfolioID:  req.PortfolioID,
		FundCode:     req.FundCode,
		Type:         req.Type,
		Date:         date,
		Shares:       req.Shares,
		Amount:       req.Amount,
		Nav:          req.Nav,
		ConfirmedNav: req.ConfirmedNav,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, err
	}

	if err := s.applyToHolding(ctx, holding, req); err != nil {
		// 流水已落库，持仓可随时从流水重建，这里只告警不回滚
		log.Printf("[交易] ⚠ 更新持仓失败（可通过持仓重建修复）: %v", err)
	}

	log.Printf("[交易] %s %s %s 份额=%.2f 金额=%.2f 净值=%.4f",
		req.PortfolioID, req.FundCode, req.Type, req.Shares, req.Amount, req.Nav)
	return tx, nil
}

func (s *Service) applyToHolding(ctx context.Context, existing *domain.Holding, req Request) error {
	now := time.Now().UTC()

	var shares, totalCost float64
	fundName := req.FundName
	if existing != nil {
		shares = existing.Shares
		totalCost = existing.Shares * existing.BuyNav
		if fundName == "" {
			fundName = existing.FundName
		}
	}

	switch req.Type {
	case domain.TradeBuy:
		totalCost += req.Amount
		shares += req.Shares
	case domain.TradeSell:
		if shares > 0 {
			ratio := req.Shares / shares
			if ratio > 1 {
				ratio = 1
			}
			totalCost -= totalCost * ratio
		}
		shares -= req.Shares
		if shares < 0 {
			shares = 0
			totalCost = 0
		}
	}

	buyNav := 0.0
	if shares > 0 {
		buyNav = totalCost / shares
	}

	return s.repo.UpsertHolding(ctx, domain.Holding{
		PortfolioID: req.PortfolioID,
		FundCode:    req.FundCode,
		FundName:    fundName,
		Shares:      shares,
		BuyNav:      buyNav,
		UpdatedAt:   now,
	})
}

// ExecuteDecision 执行一条决策：sell 追加卖出流水，buy 先以
// compare-and-set 占住目标卖出流水的补仓标记再追加买入流水，
// 两个评估-执行周期竞争同一笔卖出时只有一个会成功。
func (s *Service) ExecuteDecision(ctx context.Context, result domain.DecisionResult) (domain.Transaction, error) {
	switch result.Action {
	case domain.ActionSell:
		if result.SellShares <= 0 || result.CurrentNav <= 0 {
			return domain.Transaction{}, fmt.Errorf("卖出决策缺少份额或净值")
		}
		return s.Record(ctx, Request{
			PortfolioID: result.PortfolioID,
			FundCode:    result.FundCode,
			FundName:    result.FundName,
			Type:        domain.TradeSell,
			Shares:      result.SellShares,
			Amount:      result.SellShares * result.CurrentNav,
			Nav:         result.CurrentNav,
		})

	case domain.ActionBuy:
		if result.TargetSellID == "" || result.BuyBackShares <= 0 || result.CurrentNav <= 0 {
			return domain.Transaction{}, fmt.Errorf("补仓决策缺少目标流水或份额")
		}
		if err := s.repo.MarkSellRecovered(ctx, result.TargetSellID); err != nil {
			if errors.Is(err, store.ErrAlreadyRecovered) {
				return domain.Transaction{}, fmt.Errorf("卖出流水 %s 已被补仓，本次不再执行: %w", result.TargetSellID, err)
			}
			return domain.Transaction{}, err
		}
		tx, err := s.Record(ctx, Request{
			PortfolioID: result.PortfolioID,
			FundCode:    result.FundCode,
			FundName:    result.FundName,
			Type:        domain.TradeBuy,
			Shares:      result.BuyBackShares,
			Amount:      result.BuyBackShares * result.CurrentNav,
			Nav:         result.CurrentNav,
		})
		if err != nil {
			// 买入未落库，补仓没有真正发生：归还补仓标记，
			// 这笔卖出之后仍可作为补仓目标重试
			if uerr := s.repo.UnmarkSellRecovered(ctx, result.TargetSellID); uerr != nil {
				log.Printf("[交易] ⚠ 归还补仓标记失败 流水=%s: %v", result.TargetSellID, uerr)
			}
			return domain.Transaction{}, fmt.Errorf("补仓买入失败: %w", err)
		}
		return tx, nil

	default:
		return domain.Transaction{}, fmt.Errorf("动作 %q 不可执行", result.Action)
	}
}

// RebuildHolding 从流水重放持仓（对账/修复入口）。
func (s *Service) RebuildHolding(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error) {
	h, err := s.repo.AggregateHoldingFromLedger(ctx, portfolioID, fundCode)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetHolding(ctx, portfolioID, fundCode)
	if err == nil && existing != nil {
		h.FundName = existing.FundName
	}
	if err := s.repo.UpsertHolding(ctx, *h); err != nil {
		return nil, fmt.Errorf("写回重建持仓: %w", err)
	}
	log.Printf("[持仓] %s %s 已从流水重建 份额=%.2f 摊薄成本=%.4f",
		portfolioID, fundCode, h.Shares, h.BuyNav)
	return h, nil
}
