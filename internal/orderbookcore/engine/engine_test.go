package engine

import (
	"context"
	"testing"
	"time"

	"github.com/orbitcex/matchcore/internal/config"
	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/orbitcex/matchcore/pkg/apierrors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstrument(symbol string) config.InstrumentConfig {
	return config.InstrumentConfig{
		Symbol:         symbol,
		QuotePrecision: 2,
		TickSize:       decimal.NewFromFloat(0.01),
		LotSize:        decimal.NewFromFloat(0.01),
		MakerFeeRate:   decimal.NewFromFloat(0.001),
		TakerFeeRate:   decimal.NewFromFloat(0.002),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{
		Instruments:         []config.InstrumentConfig{testInstrument("BTC-USD")},
		IntakeQueueCapacity: 16,
		SnapshotPath:        "",
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e
}

func TestSubmit_UnknownInstrumentRejectedValidation(t *testing.T) {
	e := newTestEngine(t)
	ack, err := e.Submit(context.Background(), SubmitRequest{
		Instrument:  "DOGE-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(1),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	res := ack.Result()
	require.Error(t, res.Err)
	var apiErr *apierrors.Error
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestSubmit_NonPositiveQuantityRejected(t *testing.T) {
	e := newTestEngine(t)
	ack, err := e.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(100),
		Quantity:    decimal.Zero,
	})
	require.NoError(t, err)

	res := ack.Result()
	var apiErr *apierrors.Error
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestSubmit_MarketOrderForcesIOC(t *testing.T) {
	e := newTestEngine(t)
	ack, err := e.Submit(context.Background(), SubmitRequest{
		Instrument: "BTC-USD",
		Side:       model.SideBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	res := ack.Result()
	assert.Equal(t, model.StatusCanceledIOC, res.Status)
	assert.NoError(t, res.Err)
}

func TestSubmitThenCancel_RestingOrderIsRemoved(t *testing.T) {
	e := newTestEngine(t)
	submitAck, err := e.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(100),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	submitRes := submitAck.Result()
	require.NoError(t, submitRes.Err)
	assert.Equal(t, model.StatusResting, submitRes.Status)

	cancelAck, err := e.Cancel(context.Background(), CancelRequest{OrderID: submitRes.OrderID})
	require.NoError(t, err)

	cancelRes := cancelAck.Result()
	require.NoError(t, cancelRes.Err)
	assert.Equal(t, model.StatusCanceled, cancelRes.Status)
	require.NotNil(t, cancelRes.CanceledOrder)
	assert.Equal(t, submitRes.OrderID, cancelRes.CanceledOrder.ID)
}

func TestCancel_UnknownOrderReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	ack, err := e.Cancel(context.Background(), CancelRequest{OrderID: 999999})
	require.NoError(t, err)

	res := ack.Result()
	var apiErr *apierrors.Error
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, apierrors.KindNotFound, apiErr.Kind)
}

func TestSubmit_MatchingOrdersProduceFills(t *testing.T) {
	e := newTestEngine(t)
	restAck, err := e.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideSell,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(100),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)
	require.NoError(t, restAck.Result().Err)

	takerAck, err := e.Submit(context.Background(), SubmitRequest{
		Instrument: "BTC-USD",
		Side:       model.SideBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	res := takerAck.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, model.StatusFullyFilled, res.Status)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Quantity.Equal(decimal.NewFromFloat(1)))
}

// Submitting with an intake channel saturated and an already-canceled
// context must return QUEUE_FULL rather than block forever: the
// engine's Run loop is never started here, so the single buffered
// slot fills and stays full.
func TestSubmit_QueueFullWhenIntakeSaturated(t *testing.T) {
	e := New(Options{
		Instruments:         []config.InstrumentConfig{testInstrument("BTC-USD")},
		IntakeQueueCapacity: 1,
	})

	_, err := e.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(1),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Submit(ctx, SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(1),
		Quantity:    decimal.NewFromFloat(1),
	})
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierrors.KindQueueFull, apiErr.Kind)
}

func TestRestore_BumpsOrderIDAndTimestampWatermarks(t *testing.T) {
	dir := t.TempDir()
	snapPath := dir + "/matchcore.snapshot"

	producer := New(Options{
		Instruments:         []config.InstrumentConfig{testInstrument("BTC-USD")},
		IntakeQueueCapacity: 16,
		SnapshotPath:        snapPath,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go producer.Run(ctx)

	ack, err := producer.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(100),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)
	submittedOrderID := ack.Result().OrderID

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, producer.Shutdown(shutdownCtx))
	cancel()

	restored := New(Options{
		Instruments:         []config.InstrumentConfig{testInstrument("BTC-USD")},
		IntakeQueueCapacity: 16,
		SnapshotPath:        snapPath,
	})
	require.NoError(t, restored.Restore(snapPath))

	assert.GreaterOrEqual(t, restored.nextOrderID, submittedOrderID)
	assert.Greater(t, restored.lastIngestTS, int64(0))

	restoredCtx, restoredCancel := context.WithCancel(context.Background())
	defer restoredCancel()
	go restored.Run(restoredCtx)

	nextAck, err := restored.Submit(context.Background(), SubmitRequest{
		Instrument:  "BTC-USD",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TimeInForceGTC,
		Price:       decimal.NewFromFloat(100),
		Quantity:    decimal.NewFromFloat(1),
	})
	require.NoError(t, err)
	nextRes := nextAck.Result()
	require.NoError(t, nextRes.Err)
	assert.NotEqual(t, submittedOrderID, nextRes.OrderID)
}
