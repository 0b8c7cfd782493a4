package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the fund keeper service.
type Config struct {
	HTTPAddr          string
	SQLiteDSN         string
	RequestTimeoutSec int

	// 默认组合（个人使用场景下通常只有一个组合）
	DefaultPortfolioID string

	// 净值数据源
	NavBaseURL     string
	NavTimeoutSec  int
	NavCacheTTLSec int

	// 定时评估（开盘日净值公布后跑一轮组合评估）
	AutoEvalEnabled bool
	AutoEvalCron    string

	// AI 点评（可选，不配置 key 则关闭）
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// 价值平均定投默认参数
	VAMonthlyAmount       float64 // 每月目标投入（元）
	VAExpectedMonthlyRate float64 // 预期月收益率（外部基准缓存的输出）
}

func Load() Config {
	// Auto-load .env file if present (won't override existing env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		SQLiteDSN:         getEnv("SQLITE_DSN", "file:./fund_keeper.db?_pragma=busy_timeout(5000)"),
		RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", 15),

		DefaultPortfolioID: getEnv("DEFAULT_PORTFOLIO_ID", "default"),

		NavBaseURL:     getEnv("NAV_BASE_URL", "https://fundgz.1234567.com.cn"),
		NavTimeoutSec:  getEnvInt("NAV_TIMEOUT_SEC", 5),
		NavCacheTTLSec: getEnvInt("NAV_CACHE_TTL_SEC", 600),

		AutoEvalEnabled: getEnvBool("AUTO_EVAL_ENABLED", false),
		// 工作日 21:30，开放式基金当日净值一般已经公布
		AutoEvalCron: getEnv("AUTO_EVAL_CRON", "0 30 21 * * 1-5"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		VAMonthlyAmount:       getEnvFloat("VA_MONTHLY_AMOUNT", 1000),
		VAExpectedMonthlyRate: getEnvFloat("VA_EXPECTED_MONTHLY_RATE", 0.008),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
