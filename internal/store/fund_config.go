package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fund_keeper/internal/domain"
)

// GetFundConfig 查询基金级策略配置；没有配置时返回 nil,nil。
func (r *SQLiteRepository) GetFundConfig(ctx context.Context, portfolioID, fundCode string) (*domain.FundConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, portfolio_id, fund_code, template_id, custom, created_at, updated_at
		FROM fund_configs WHERE portfolio_id = ? AND fund_code = ?
	`, portfolioID, fundCode)
	cfg, err := scanFundConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询基金配置: %w", err)
	}
	return cfg, nil
}

// UpsertFundConfig 创建或更新基金级配置（按组合+基金代码唯一）。
func (r *SQLiteRepository) UpsertFundConfig(ctx context.Context, cfg domain.FundConfig) error {
	var customJSON any
	if cfg.Custom != nil {
		data, err := json.Marshal(cfg.Custom)
		if err != nil {
			return fmt.Errorf("序列化自定义参数: %w", err)
		}
		customJSON = string(data)
	}

	var templateID any
	if cfg.TemplateID != nil {
		templateID = *cfg.TemplateID
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fund_configs (portfolio_id, fund_code, template_id, custom, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, fund_code) DO UPDATE SET
			template_id = excluded.template_id,
			custom      = excluded.custom,
			updated_at  = excluded.updated_at
	`, cfg.PortfolioID, cfg.FundCode, templateID, customJSON, now, now)
	if err != nil {
		return fmt.Errorf("保存基金配置: %w", err)
	}
	return nil
}

// DeleteFundConfig 删除配置，该基金恢复默认策略。
func (r *SQLiteRepository) DeleteFundConfig(ctx context.Context, portfolioID, fundCode string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM fund_configs WHERE portfolio_id = ? AND fund_code = ?`,
		portfolioID, fundCode)
	if err != nil {
		return fmt.Errorf("删除基金配置: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListFundConfigs(ctx context.Context, portfolioID string) ([]domain.FundConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, portfolio_id, fund_code, template_id, custom, created_at, updated_at
		FROM fund_configs WHERE portfolio_id = ? ORDER BY fund_code ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("查询基金配置列表: %w", err)
	}
	defer rows.Close()

	configs := make([]domain.FundConfig, 0)
	for rows.Next() {
		cfg, err := scanFundConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描基金配置: %w", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func scanFundConfig(row rowScanner) (*domain.FundConfig, error) {
	var cfg domain.FundConfig
	var templateID sql.NullInt64
	var customJSON sql.NullString

	err := row.Scan(&cfg.ID, &cfg.PortfolioID, &cfg.FundCode, &templateID, &customJSON,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		v := templateID.Int64
		cfg.TemplateID = &v
	}
	if customJSON.Valid && customJSON.String != "" {
		var custom domain.CustomParams
		if err := json.Unmarshal([]byte(customJSON.String), &custom); err != nil {
			return nil, fmt.Errorf("反序列化自定义参数: %w", err)
		}
		cfg.Custom = &custom
	}
	return &cfg, nil
}
