package scheduler

import (
	"context"
	"log"
	"time"

	"fund_keeper/internal/advisor"
	"fund_keeper/internal/domain"
	"fund_keeper/internal/strategy"

	"github.com/robfig/cron/v3"
)

// Scheduler 在工作日净值发布后自动评估组合。
// 评估结果只落日志，卖出/补仓仍需用户通过接口显式执行。
type Scheduler struct {
	cron        *cron.Cron
	evaluator   *strategy.Evaluator
	advisor     advisor.Advisor
	portfolioID string
	spec        string
	timeout     time.Duration
}

func New(evaluator *strategy.Evaluator, adv advisor.Advisor, portfolioID, spec string, timeoutSec int) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		evaluator:   evaluator,
		advisor:     adv,
		portfolioID: portfolioID,
		spec:        spec,
		timeout:     time.Duration(timeoutSec) * time.Second,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[定时] 自动评估已启动 组合=%s 计划=%q", s.portfolioID, s.spec)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[定时] 自动评估已停止")
}

// RunOnce 立即执行一轮组合评估（定时触发和手动触发共用）。
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	t0 := time.Now()
	report, err := s.evaluator.EvaluatePortfolio(ctx, s.portfolioID)
	if err != nil {
		log.Printf("[定时] ✘ 组合评估失败 (耗时%s): %v", time.Since(t0), err)
		return
	}

	if commentary := s.advisor.Comment(ctx, report); commentary != "" {
		log.Printf("[定时] 点评: %s", commentary)
	}

	// 待执行动作逐条提示，等用户确认
	for _, f := range report.Funds {
		switch f.Action {
		case domain.ActionSell, domain.ActionBuy:
			log.Printf("[定时] 待确认: %s(%s) 动作=%s 理由=%s", f.FundName, f.FundCode, f.Action, f.Reason)
		case domain.ActionError:
			log.Printf("[定时] ⚠ 评估异常: %s 原因=%s", f.FundCode, f.Reason)
		}
	}
	log.Printf("[定时] ✔ 组合评估完成 (耗时%s)", time.Since(t0))
}
