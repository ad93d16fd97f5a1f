package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"weexagent/internal/gateway/weex"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) PlaceOrder(ctx context.Context, req weex.PlaceOrderRequest) (weex.PlaceOrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(weex.PlaceOrderResult), args.Error(1)
}

type fixedKeys struct{ n int }

func (f *fixedKeys) Next() string {
	f.n++
	return "oid-" + string(rune('0'+f.n))
}

func testConfig() Config {
	return Config{
		Symbol:        "cmt_btcusdt",
		Size:          "0.01",
		MatchMode:     MatchMarket,
		MarginMode:    1,
		TakeProfitPct: 0.02,
		StopLossPct:   0.015,
		PricePlaces:   1,
	}
}

func TestBracket(t *testing.T) {
	entry := decimal.NewFromInt(50000)
	tp, sl := Bracket(SideLong, entry, 0.02, 0.015, 1)
	assert.Equal(t, "51000", tp.String())
	assert.Equal(t, "49250", sl.String())

	tp, sl = Bracket(SideShort, entry, 0.02, 0.015, 1)
	assert.Equal(t, "49000", tp.String())
	assert.Equal(t, "50750", sl.String())

	tp, sl = Bracket(SideLong, decimal.NewFromFloat(43210.55), 0.02, 0, 1)
	assert.Equal(t, "44074.8", tp.String())
	assert.True(t, sl.IsZero())
}

func TestDispatchMarketLong(t *testing.T) {
	gw := new(mockGateway)
	gw.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req weex.PlaceOrderRequest) bool {
		return req.Symbol == "cmt_btcusdt" &&
			req.ClientOID == "oid-1" &&
			req.Size == "0.01" &&
			req.Type == "1" &&
			req.OrderType == "0" &&
			req.MatchPrice == "1" &&
			req.Price == "" &&
			req.PresetTakeProfit == "51000" &&
			req.PresetStopLoss == "49250" &&
			req.MarginMode == 1
	})).Return(weex.PlaceOrderResult{OrderID: "998877"}, nil).Once()

	d := NewDispatcher(testConfig(), gw, &fixedKeys{})
	res, err := d.Dispatch(context.Background(), Request{Side: "LONG", EntryPrice: 50000})
	require.NoError(t, err)
	assert.Equal(t, "998877", res.OrderID)
	assert.Equal(t, "oid-1", res.Order.ClientOID)
	gw.AssertExpectations(t)
}

func TestDispatchLimitShort(t *testing.T) {
	gw := new(mockGateway)
	gw.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req weex.PlaceOrderRequest) bool {
		return req.Type == "2" && req.MatchPrice == "0" && req.Price == "50000" &&
			req.PresetTakeProfit == "49000" && req.PresetStopLoss == "50750"
	})).Return(weex.PlaceOrderResult{OrderID: "1"}, nil).Once()

	d := NewDispatcher(testConfig(), gw, &fixedKeys{})
	_, err := d.Dispatch(context.Background(), Request{Side: SideShort, MatchMode: MatchLimit, Price: 50000})
	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestDispatchValidationFailsFast(t *testing.T) {
	gw := new(mockGateway)
	d := NewDispatcher(testConfig(), gw, &fixedKeys{})

	_, err := d.Dispatch(context.Background(), Request{Side: SideLong, MatchMode: MatchLimit})
	assert.ErrorIs(t, err, ErrLimitPriceRequired)

	_, err = d.Dispatch(context.Background(), Request{Side: "flat", EntryPrice: 1})
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = d.Dispatch(context.Background(), Request{Side: SideLong, Size: "-1", EntryPrice: 1})
	assert.ErrorIs(t, err, ErrInvalidSize)

	gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestDispatchSurfacesRejectionWithoutRetry(t *testing.T) {
	gw := new(mockGateway)
	rejection := &weex.APIError{Status: 400, Code: "40015", Message: "insufficient margin"}
	gw.On("PlaceOrder", mock.Anything, mock.Anything).Return(weex.PlaceOrderResult{}, rejection).Once()

	d := NewDispatcher(testConfig(), gw, &fixedKeys{})
	_, err := d.Dispatch(context.Background(), Request{Side: SideLong, EntryPrice: 50000})
	var apiErr *weex.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "40015", apiErr.Code)
	gw.AssertNumberOfCalls(t, "PlaceOrder", 1)
}
