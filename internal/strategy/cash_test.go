package strategy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCashSource struct {
	byFund map[string]float64
	err    error
}

func (f *fakeCashSource) CashByFund(context.Context, string) (map[string]float64, error) {
	return f.byFund, f.err
}

func TestAvailableCash(t *testing.T) {
	calc := NewCashCalculator(&fakeCashSource{byFund: map[string]float64{
		"110022": 260,
		"000001": -500, // 买入未收回，允许为负
	}})

	cash, err := calc.AvailableCash(context.Background(), "p1", "110022")
	require.NoError(t, err)
	assert.InDelta(t, 260, cash, 1e-9)

	cash, err = calc.AvailableCash(context.Background(), "p1", "000001")
	require.NoError(t, err)
	assert.InDelta(t, -500, cash, 1e-9)
}

func TestAvailableCashNoTransactions(t *testing.T) {
	calc := NewCashCalculator(&fakeCashSource{byFund: map[string]float64{}})
	cash, err := calc.AvailableCash(context.Background(), "p1", "999999")
	require.NoError(t, err)
	assert.Zero(t, cash)
}

func TestAvailableCashBatch(t *testing.T) {
	byFund := map[string]float64{"110022": 260, "000001": -500}
	calc := NewCashCalculator(&fakeCashSource{byFund: byFund})

	got, err := calc.AvailableCashBatch(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, byFund, got)
}

func TestAvailableCashError(t *testing.T) {
	calc := NewCashCalculator(&fakeCashSource{err: fmt.Errorf("db closed")})
	_, err := calc.AvailableCash(context.Background(), "p1", "110022")
	require.Error(t, err)
}
