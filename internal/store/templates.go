package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fund_keeper/internal/domain"
)

// ErrSystemTemplate 系统内置模板不允许修改或删除。
var ErrSystemTemplate = errors.New("系统模板不可修改或删除")

const templateColumns = `id, name, is_system, is_default,
	first_threshold, first_sell_ratio, step_size, follow_up_sell_ratio,
	enable_cost_control, target_diluted_cost, enable_buy_back, buy_back_threshold,
	created_at, updated_at`

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t domain.Template) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO templates (
			name, is_system, is_default,
			first_threshold, first_sell_ratio, step_size, follow_up_sell_ratio,
			enable_cost_control, target_diluted_cost, enable_buy_back, buy_back_threshold,
			created_at, updated_at
		) VALUES (?, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Name,
		t.Params.FirstThreshold, t.Params.FirstSellRatio, t.Params.StepSize, t.Params.FollowUpSellRatio,
		boolToInt(t.Params.EnableCostControl), t.Params.TargetDilutedCost,
		boolToInt(t.Params.EnableBuyBack), t.Params.BuyBackThreshold,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("创建模板: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("读取模板ID: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, t domain.Template) error {
	existing, err := r.GetTemplate(ctx, t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("模板 %d 不存在", t.ID)
	}
	if existing.IsSystem {
		return ErrSystemTemplate
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE templates SET
			name = ?,
			first_threshold = ?, first_sell_ratio = ?, step_size = ?, follow_up_sell_ratio = ?,
			enable_cost_control = ?, target_diluted_cost = ?, enable_buy_back = ?, buy_back_threshold = ?,
			updated_at = ?
		WHERE id = ?
	`, t.Name,
		t.Params.FirstThreshold, t.Params.FirstSellRatio, t.Params.StepSize, t.Params.FollowUpSellRatio,
		boolToInt(t.Params.EnableCostControl), t.Params.TargetDilutedCost,
		boolToInt(t.Params.EnableBuyBack), t.Params.BuyBackThreshold,
		time.Now().UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("更新模板: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id int64) error {
	existing, err := r.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("模板 %d 不存在", id)
	}
	if existing.IsSystem {
		return ErrSystemTemplate
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("删除模板: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, id int64) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询模板: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY is_system DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("查询模板列表: %w", err)
	}
	defer rows.Close()

	templates := make([]domain.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("扫描模板记录: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// GetDefaultTemplate 返回标记为默认的模板；一个都没有时返回 nil,nil，
// 由参数解析器退回硬编码基线。
func (r *SQLiteRepository) GetDefaultTemplate(ctx context.Context) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE is_default = 1 LIMIT 1`)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询默认模板: %w", err)
	}
	return t, nil
}

// SetDefaultTemplate 把默认标记切换到指定模板。
// 先清后设放在同一个事务里，保证任何时刻至多一个默认模板。
func (r *SQLiteRepository) SetDefaultTemplate(ctx context.Context, id int64) error {
	existing, err := r.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("模板 %d 不存在", id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE templates SET is_default = 0 WHERE is_default = 1`); err != nil {
		return fmt.Errorf("清除默认标记: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE templates SET is_default = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("设置默认模板: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务: %w", err)
	}
	return nil
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	var isSystem, isDefault, enableCostControl, enableBuyBack int

	err := row.Scan(&t.ID, &t.Name, &isSystem, &isDefault,
		&t.Params.FirstThreshold, &t.Params.FirstSellRatio, &t.Params.StepSize, &t.Params.FollowUpSellRatio,
		&enableCostControl, &t.Params.TargetDilutedCost, &enableBuyBack, &t.Params.BuyBackThreshold,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.IsSystem = isSystem == 1
	t.IsDefault = isDefault == 1
	t.Params.EnableCostControl = enableCostControl == 1
	t.Params.EnableBuyBack = enableBuyBack == 1
	return &t, nil
}
