package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"fund_keeper/internal/domain"
)

// Provider 提供基金最新净值。
type Provider interface {
	LatestNav(ctx context.Context, fundCode string) (*domain.NavQuote, error)
}

// Client 从天天基金 fundgz 接口获取净值估值数据。
// 返回体是 JSONP：jsonpgz({"fundcode":"110022","name":"...","jzrq":"2026-08-27","dwjz":"1.1660",...});
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.Mutex
	cache    map[string]cachedQuote
	cacheTTL time.Duration
}

type cachedQuote struct {
	quote     domain.NavQuote
	fetchedAt time.Time
}

type fundgzPayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	NavDate  string `json:"jzrq"` // 净值日期
	UnitNav  string `json:"dwjz"` // 单位净值
	Estimate string `json:"gsz"`  // 盘中估值（未确认，不作为决策输入）
}

var jsonpRe = regexp.MustCompile(`(?s)\{.*\}`)

func NewClient(baseURL string, timeoutSec, cacheTTLSec int) *Client {
	if baseURL == "" {
		baseURL = "https://fundgz.1234567.com.cn"
	}
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	if cacheTTLSec <= 0 {
		cacheTTLSec = 600
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		cache:      make(map[string]cachedQuote),
		cacheTTL:   time.Duration(cacheTTLSec) * time.Second,
	}
}

// LatestNav 返回基金最新公布的单位净值及净值日期。
// 短时间内重复查询走内存缓存，避免组合评估时对同一基金反复请求。
func (c *Client) LatestNav(ctx context.Context, fundCode string) (*domain.NavQuote, error) {
	fundCode = strings.TrimSpace(fundCode)
	if fundCode == "" {
		return nil, fmt.Errorf("基金代码为空")
	}

	c.mu.Lock()
	if cached, ok := c.cache[fundCode]; ok && time.Since(cached.fetchedAt) < c.cacheTTL {
		q := cached.quote
		c.mu.Unlock()
		return &q, nil
	}
	c.mu.Unlock()

	quote, err := c.fetch(ctx, fundCode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[fundCode] = cachedQuote{quote: *quote, fetchedAt: time.Now()}
	c.mu.Unlock()
	return quote, nil
}

func (c *Client) fetch(ctx context.Context, fundCode string) (*domain.NavQuote, error) {
	url := fmt.Sprintf("%s/js/%s.js", c.baseURL, fundCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求净值接口: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("净值接口 HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("读取净值响应: %w", err)
	}

	return parseQuote(fundCode, string(body))
}

// parseQuote 从 JSONP 响应中提取净值数据。
func parseQuote(fundCode, raw string) (*domain.NavQuote, error) {
	match := jsonpRe.FindString(raw)
	if match == "" {
		return nil, fmt.Errorf("净值响应中未找到JSON对象: %.100s", raw)
	}

	var payload fundgzPayload
	if err := json.Unmarshal([]byte(match), &payload); err != nil {
		return nil, fmt.Errorf("解析净值JSON: %w", err)
	}

	nav, err := strconv.ParseFloat(strings.TrimSpace(payload.UnitNav), 64)
	if err != nil || nav <= 0 {
		return nil, fmt.Errorf("单位净值不可用: %q", payload.UnitNav)
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(payload.NavDate))
	if err != nil {
		return nil, fmt.Errorf("净值日期不可用: %q", payload.NavDate)
	}

	return &domain.NavQuote{
		FundCode: fundCode,
		FundName: payload.Name,
		Nav:      nav,
		Date:     date,
	}, nil
}
