package main

import (
	"context"
	"log"

	"fund_keeper/internal/advisor"
	"fund_keeper/internal/config"
	httpapi "fund_keeper/internal/http"
	"fund_keeper/internal/market"
	"fund_keeper/internal/scheduler"
	"fund_keeper/internal/store"
	"fund_keeper/internal/strategy"
	"fund_keeper/internal/trade"
)

func main() {
	cfg := config.Load()

	repo, err := store.NewSQLiteRepository(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer repo.Close()

	if err := repo.Init(context.Background()); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	navClient := market.NewClient(cfg.NavBaseURL, cfg.NavTimeoutSec, cfg.NavCacheTTLSec)

	resolver := strategy.NewResolver(repo)
	cash := strategy.NewCashCalculator(repo)
	engine := strategy.NewEngine(repo, navClient)
	evaluator := strategy.NewEvaluator(repo, cash, resolver, engine)

	trades := trade.NewService(repo)
	adv := advisor.New(cfg)

	// 启动时报告当前持仓概况
	holdings, err := repo.ListHoldings(context.Background(), cfg.DefaultPortfolioID)
	if err != nil {
		log.Printf("[持仓] ⚠ 读取持仓失败: %v", err)
	} else {
		log.Printf("[持仓] 组合 %s 当前持有 %d 只基金", cfg.DefaultPortfolioID, len(holdings))
	}

	if cfg.AutoEvalEnabled {
		sched := scheduler.New(evaluator, adv, cfg.DefaultPortfolioID, cfg.AutoEvalCron, cfg.RequestTimeoutSec)
		if err := sched.Start(); err != nil {
			log.Fatalf("启动定时评估失败: %v", err)
		}
		defer sched.Stop()
	} else {
		log.Println("[定时] 未启用，设置 AUTO_EVAL_ENABLED=true 开启自动评估")
	}

	router := httpapi.NewRouter(repo, evaluator, trades, adv, cfg)

	log.Printf("Fund Keeper 服务启动 地址=%s 组合=%s", cfg.HTTPAddr, cfg.DefaultPortfolioID)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("启动服务失败: %v", err)
	}
}
