package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fund_keeper/internal/domain"

	_ "modernc.org/sqlite"
)

// ErrAlreadyRecovered 卖出流水的补仓标记已被占用（或目标不是未补仓的卖出记录）。
var ErrAlreadyRecovered = errors.New("卖出流水已被补仓")

type Repository interface {
	Init(ctx context.Context) error
	Close() error

	// 流水
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, portfolioID, fundCode string, limit int) ([]domain.Transaction, error)
	ListSellTransactions(ctx context.Context, portfolioID, fundCode string) ([]domain.Transaction, error)
	SumTransactions(ctx context.Context, portfolioID, fundCode string, tradeType domain.TradeType) (float64, error)
	CashByFund(ctx context.Context, portfolioID string) (map[string]float64, error)
	MarkSellRecovered(ctx context.Context, id string) error
	UnmarkSellRecovered(ctx context.Context, id string) error

	// 持仓
	UpsertHolding(ctx context.Context, h domain.Holding) error
	GetHolding(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error)
	ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error)
	AggregateHoldingFromLedger(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error)

	// 策略模板
	CreateTemplate(ctx context.Context, t domain.Template) (int64, error)
	UpdateTemplate(ctx context.Context, t domain.Template) error
	DeleteTemplate(ctx context.Context, id int64) error
	GetTemplate(ctx context.Context, id int64) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	GetDefaultTemplate(ctx context.Context) (*domain.Template, error)
	SetDefaultTemplate(ctx context.Context, id int64) error

	// 基金级策略配置
	GetFundConfig(ctx context.Context, portfolioID, fundCode string) (*domain.FundConfig, error)
	UpsertFundConfig(ctx context.Context, cfg domain.FundConfig) error
	DeleteFundConfig(ctx context.Context, portfolioID, fundCode string) error
	ListFundConfigs(ctx context.Context, portfolioID string) ([]domain.FundConfig, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			fund_code TEXT NOT NULL,
			type TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			shares REAL NOT NULL,
			amount REAL NOT NULL,
			nav REAL NOT NULL DEFAULT 0,
			confirmed_nav REAL,
			recovered INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS holdings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id TEXT NOT NULL,
			fund_code TEXT NOT NULL,
			fund_name TEXT NOT NULL DEFAULT '',
			shares REAL NOT NULL DEFAULT 0,
			buy_nav REAL NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(portfolio_id, fund_code)
		);`,
		`CREATE TABLE IF NOT EXISTS templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			is_system INTEGER NOT NULL DEFAULT 0,
			is_default INTEGER NOT NULL DEFAULT 0,
			first_threshold REAL NOT NULL,
			first_sell_ratio REAL NOT NULL,
			step_size REAL NOT NULL,
			follow_up_sell_ratio REAL NOT NULL,
			enable_cost_control INTEGER NOT NULL,
			target_diluted_cost REAL NOT NULL,
			enable_buy_back INTEGER NOT NULL,
			buy_back_threshold REAL NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fund_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id TEXT NOT NULL,
			fund_code TEXT NOT NULL,
			template_id INTEGER,
			custom TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(portfolio_id, fund_code),
			FOREIGN KEY (template_id) REFERENCES templates(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tx_portfolio_fund ON transactions(portfolio_id, fund_code);`,
		`CREATE INDEX IF NOT EXISTS idx_tx_type ON transactions(portfolio_id, fund_code, type);`,
		`CREATE INDEX IF NOT EXISTS idx_holdings_portfolio ON holdings(portfolio_id);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			// ALTER TABLE ADD COLUMN 在列已存在时会报错，忽略此类错误
			if isAlterTableDuplicate(err) {
				continue
			}
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}

	return r.seedSystemTemplate(ctx)
}

// seedSystemTemplate 首次启动时写入系统内置模板并设为默认。
func (r *SQLiteRepository) seedSystemTemplate(ctx context.Context) error {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM templates WHERE is_system = 1`).Scan(&count); err != nil {
		return fmt.Errorf("查询系统模板: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (
			name, is_system, is_default,
			first_threshold, first_sell_ratio, step_size, follow_up_sell_ratio,
			enable_cost_control, target_diluted_cost, enable_buy_back, buy_back_threshold,
			created_at, updated_at
		) VALUES (?, 1, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, "均衡止盈",
		0.20, 0.30, 0.05, 0.20,
		1, 0.0, 0, 0.20,
		now, now)
	if err != nil {
		return fmt.Errorf("写入系统模板: %w", err)
	}
	return nil
}

// ==================== 流水 ====================

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, portfolio_id, fund_code, type, date, shares, amount, nav, confirmed_nav, recovered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.PortfolioID,
		tx.FundCode,
		string(tx.Type),
		tx.Date.UTC(),
		tx.Shares,
		tx.Amount,
		tx.Nav,
		nullableFloatPtr(tx.ConfirmedNav),
		boolToInt(tx.Recovered),
		tx.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("插入流水: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, portfolio_id, fund_code, type, date, shares, amount, nav, confirmed_nav, recovered, created_at
		FROM transactions WHERE id = ?
	`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询流水: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, portfolioID, fundCode string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, fund_code, type, date, shares, amount, nav, confirmed_nav, recovered, created_at
		FROM transactions
		WHERE portfolio_id = ? AND fund_code = ?
		ORDER BY date DESC, created_at DESC, id DESC
		LIMIT ?
	`, portfolioID, fundCode, limit)
	if err != nil {
		return nil, fmt.Errorf("查询流水列表: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListSellTransactions 按日期倒序返回全部卖出流水（同日按创建时间倒序，
// 保证"最近一笔卖出"和 LIFO 补仓候选的选择是确定的）。
func (r *SQLiteRepository) ListSellTransactions(ctx context.Context, portfolioID, fundCode string) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, fund_code, type, date, shares, amount, nav, confirmed_nav, recovered, created_at
		FROM transactions
		WHERE portfolio_id = ? AND fund_code = ? AND type = 'sell'
		ORDER BY date DESC, created_at DESC, id DESC
	`, portfolioID, fundCode)
	if err != nil {
		return nil, fmt.Errorf("查询卖出流水: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *SQLiteRepository) SumTransactions(ctx context.Context, portfolioID, fundCode string, tradeType domain.TradeType) (float64, error) {
	var sum float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE portfolio_id = ? AND fund_code = ? AND type = ?
	`, portfolioID, fundCode, string(tradeType)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("汇总流水金额: %w", err)
	}
	return sum, nil
}

// CashByFund 一次分组扫描得到组合内每只基金的可用资金
// （卖出回款 − 买入支出），避免逐只基金 N 次同步查询。
// 单条 SELECT 保证读取的是同一份账本快照。
func (r *SQLiteRepository) CashByFund(ctx context.Context, portfolioID string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT fund_code,
		       COALESCE(SUM(CASE WHEN type = 'sell' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE portfolio_id = ?
		GROUP BY fund_code
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("汇总基金可用资金: %w", err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var code string
		var cash float64
		if err := rows.Scan(&code, &cash); err != nil {
			return nil, fmt.Errorf("扫描资金记录: %w", err)
		}
		result[code] = cash
	}
	return result, rows.Err()
}

// MarkSellRecovered 以 compare-and-set 方式置位补仓标记：
// 只有"未补仓的卖出流水"才会被更新，两个评估-执行周期竞争同一笔
// 卖出时至多一个成功，另一个得到 ErrAlreadyRecovered。
func (r *SQLiteRepository) MarkSellRecovered(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET recovered = 1
		WHERE id = ? AND type = 'sell' AND recovered = 0
	`, id)
	if err != nil {
		return fmt.Errorf("置位补仓标记: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新行数: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyRecovered
	}
	return nil
}

// UnmarkSellRecovered 归还补仓标记：补仓买入未能落库时的补偿动作。
// 归还后该笔卖出重新成为合法的补仓目标。
func (r *SQLiteRepository) UnmarkSellRecovered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET recovered = 0
		WHERE id = ? AND type = 'sell' AND recovered = 1
	`, id)
	if err != nil {
		return fmt.Errorf("归还补仓标记: %w", err)
	}
	return nil
}

// ==================== 持仓 ====================

func (r *SQLiteRepository) UpsertHolding(ctx context.Context, h domain.Holding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO holdings (portfolio_id, fund_code, fund_name, shares, buy_nav, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, fund_code) DO UPDATE SET
			fund_name  = CASE WHEN excluded.fund_name != '' THEN excluded.fund_name ELSE fund_name END,
			shares     = excluded.shares,
			buy_nav    = excluded.buy_nav,
			updated_at = excluded.updated_at
	`, h.PortfolioID, h.FundCode, h.FundName, h.Shares, h.BuyNav, h.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("更新持仓: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetHolding(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error) {
	var h domain.Holding
	err := r.db.QueryRowContext(ctx, `
		SELECT id, portfolio_id, fund_code, fund_name, shares, buy_nav, updated_at
		FROM holdings WHERE portfolio_id = ? AND fund_code = ?
	`, portfolioID, fundCode).Scan(&h.ID, &h.PortfolioID, &h.FundCode, &h.FundName, &h.Shares, &h.BuyNav, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询持仓: %w", err)
	}
	return &h, nil
}

func (r *SQLiteRepository) ListHoldings(ctx context.Context, portfolioID string) ([]domain.Holding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, fund_code, fund_name, shares, buy_nav, updated_at
		FROM holdings
		WHERE portfolio_id = ? AND shares > 0
		ORDER BY fund_code ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("查询持仓列表: %w", err)
	}
	defer rows.Close()

	holdings := make([]domain.Holding, 0)
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.ID, &h.PortfolioID, &h.FundCode, &h.FundName, &h.Shares, &h.BuyNav, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描持仓记录: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// AggregateHoldingFromLedger 从流水重放出当前持仓（份额 + 摊薄成本）。
// 买入增加份额和成本，卖出按比例扣减成本；用于对账和持仓重建。
func (r *SQLiteRepository) AggregateHoldingFromLedger(ctx context.Context, portfolioID, fundCode string) (*domain.Holding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, shares, amount
		FROM transactions
		WHERE portfolio_id = ? AND fund_code = ?
		ORDER BY date ASC, created_at ASC, id ASC
	`, portfolioID, fundCode)
	if err != nil {
		return nil, fmt.Errorf("查询流水重放: %w", err)
	}
	defer rows.Close()

	var shares, totalCost float64
	for rows.Next() {
		var tradeType string
		var s, amount float64
		if err := rows.Scan(&tradeType, &s, &amount); err != nil {
			return nil, fmt.Errorf("扫描流水: %w", err)
		}
		switch domain.TradeType(tradeType) {
		case domain.TradeBuy:
			totalCost += amount
			shares += s
		case domain.TradeSell:
			if shares > 0 {
				ratio := s / shares
				if ratio > 1 {
					ratio = 1
				}
				totalCost -= totalCost * ratio
			}
			shares -= s
			if shares < 0 {
				shares = 0
				totalCost = 0
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	buyNav := 0.0
	if shares > 0 {
		buyNav = totalCost / shares
	}
	return &domain.Holding{
		PortfolioID: portfolioID,
		FundCode:    fundCode,
		Shares:      shares,
		BuyNav:      buyNav,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// ==================== 辅助 ====================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var tradeType string
	var confirmedNav sql.NullFloat64
	var recovered int

	err := row.Scan(&tx.ID, &tx.PortfolioID, &tx.FundCode, &tradeType, &tx.Date,
		&tx.Shares, &tx.Amount, &tx.Nav, &confirmedNav, &recovered, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TradeType(tradeType)
	tx.Recovered = recovered == 1
	if confirmedNav.Valid {
		v := confirmedNav.Float64
		tx.ConfirmedNav = &v
	}
	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描流水记录: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// isAlterTableDuplicate 检查是否为 ALTER TABLE ADD COLUMN 列已存在的错误
func isAlterTableDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
