package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockExposure struct {
	mock.Mock
}

func (m *mockExposure) OpenOrderCount(ctx context.Context, symbol string) (int, error) {
	args := m.Called(ctx, symbol)
	return args.Int(0), args.Error(1)
}

func (m *mockExposure) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	args := m.Called(ctx, symbol)
	return args.Int(0), args.Error(1)
}

func TestGateRejectsAtMaxOrders(t *testing.T) {
	src := new(mockExposure)
	src.On("OpenOrderCount", mock.Anything, "cmt_btcusdt").Return(2, nil)
	g := NewGate(src, Limits{MaxOpenOrders: 2, MaxOpenPositions: 5})

	v := g.Check(context.Background(), "cmt_btcusdt")
	assert.False(t, v.Allowed)
	assert.Equal(t, 2, v.OpenOrders)
	assert.Contains(t, v.Reason, "open orders 2 >= max 2")
	src.AssertNotCalled(t, "OpenPositionCount", mock.Anything, mock.Anything)
}

func TestGateAcceptsBelowMax(t *testing.T) {
	src := new(mockExposure)
	src.On("OpenOrderCount", mock.Anything, "cmt_btcusdt").Return(1, nil)
	src.On("OpenPositionCount", mock.Anything, "cmt_btcusdt").Return(0, nil)
	g := NewGate(src, Limits{MaxOpenOrders: 2, MaxOpenPositions: 1})

	v := g.Check(context.Background(), "cmt_btcusdt")
	assert.True(t, v.Allowed)
	assert.Equal(t, 1, v.OpenOrders)
	src.AssertExpectations(t)
}

func TestGateRejectsAtMaxPositions(t *testing.T) {
	src := new(mockExposure)
	src.On("OpenOrderCount", mock.Anything, mock.Anything).Return(0, nil)
	src.On("OpenPositionCount", mock.Anything, mock.Anything).Return(1, nil)
	g := NewGate(src, Limits{MaxOpenOrders: 1, MaxOpenPositions: 1})

	v := g.Check(context.Background(), "cmt_btcusdt")
	assert.False(t, v.Allowed)
	assert.Equal(t, 1, v.OpenPositions)
}

func TestGateFailsClosedOnQueryError(t *testing.T) {
	src := new(mockExposure)
	src.On("OpenOrderCount", mock.Anything, mock.Anything).Return(0, errors.New("timeout"))
	g := NewGate(src, Limits{MaxOpenOrders: 1, MaxOpenPositions: 1})

	v := g.Check(context.Background(), "cmt_btcusdt")
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "timeout")
}

func TestCooldownBoundary(t *testing.T) {
	guard := NewCooldownGuard(2 * time.Hour)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, _ := guard.Allow(base)
	assert.True(t, ok, "no trade yet")

	guard.MarkTrade(base)
	ok, remain := guard.Allow(base.Add(2*time.Hour - time.Second))
	assert.False(t, ok)
	assert.Equal(t, time.Second, remain)

	ok, _ = guard.Allow(base.Add(2 * time.Hour))
	assert.True(t, ok, "exactly at the window boundary is accepted")

	ok, _ = guard.Allow(base.Add(2*time.Hour + time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, base, guard.LastTradeAt())
}
