package advisor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"fund_keeper/internal/config"
	"fund_keeper/internal/domain"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Advisor 对组合评估报告生成一段中文点评。点评是纯附加信息：
// 模型不可用或调用失败时返回空字符串，绝不影响报告本身。
type Advisor interface {
	Comment(ctx context.Context, report domain.PortfolioReport) string
}

// NoopAdvisor 未配置 API Key 时的空实现。
type NoopAdvisor struct{}

func (NoopAdvisor) Comment(context.Context, domain.PortfolioReport) string { return "" }

type LLMAdvisor struct {
	model     llms.Model
	modelName string
}

const systemPrompt = `你是一位谨慎的基金投资助手。用户执行阶梯止盈策略：` +
	`收益率达到阈值分批卖出，摊薄成本降到目标后停止卖出，净值较卖出价回撤到阈值时买回。` +
	`请针对给出的评估结果写一段不超过200字的中文点评：指出需要用户确认执行的卖出/补仓动作、` +
	`异常项需要关注的原因，不要复述所有数字，不要给出评估结果之外的投资建议。`

// New 按配置构建点评器。无 API Key 或客户端初始化失败都降级为空实现。
func New(cfg config.Config) Advisor {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("[点评] 未配置 OPENAI_API_KEY，评估报告不生成点评")
		return NoopAdvisor{}
	}

	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.OpenAIModel),
	}
	if strings.TrimSpace(cfg.OpenAIBaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		log.Printf("[点评] 初始化大模型客户端失败: %v，评估报告不生成点评", err)
		return NoopAdvisor{}
	}

	log.Printf("[点评] 大模型已就绪 模型=%s", cfg.OpenAIModel)
	return &LLMAdvisor{model: llm, modelName: cfg.OpenAIModel}
}

func (a *LLMAdvisor) Comment(ctx context.Context, report domain.PortfolioReport) string {
	if len(report.Funds) == 0 {
		return ""
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: buildPrompt(report)}},
		},
	}

	t0 := time.Now()
	resp, err := a.model.GenerateContent(ctx, messages)
	if err != nil {
		log.Printf("[点评] ✘ 大模型调用失败 (耗时%s): %v，本次报告无点评", time.Since(t0), err)
		return ""
	}
	if len(resp.Choices) == 0 {
		log.Printf("[点评] ✘ 大模型返回空结果 (耗时%s)，本次报告无点评", time.Since(t0))
		return ""
	}

	commentary := strings.TrimSpace(resp.Choices[0].Content)
	log.Printf("[点评] ✔ 点评已生成 (耗时%s) 长度=%d字符", time.Since(t0), len(commentary))
	return commentary
}

// buildPrompt 把评估报告压成模型易读的纯文本摘要。
func buildPrompt(report domain.PortfolioReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "组合 %s 评估结果（%s）：\n", report.PortfolioID,
		report.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "汇总：卖出%d只(%.2f元) 补仓%d只(%.2f元) 持有%d只 停卖%d只 异常%d只\n\n",
		report.Summary.SellCount, report.Summary.SellAmount,
		report.Summary.BuyCount, report.Summary.BuyAmount,
		report.Summary.HoldCount, report.Summary.StopCount, report.Summary.ErrorCount)

	for _, f := range report.Funds {
		name := f.FundName
		if name == "" {
			name = f.FundCode
		}
		fmt.Fprintf(&b, "- %s(%s) 动作=%s 收益率=%.2f%% 理由=%s\n",
			name, f.FundCode, f.Action, f.ProfitRate*100, f.Reason)
	}
	return b.String()
}
