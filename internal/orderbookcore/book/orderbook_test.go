package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestBook() *OrderBook {
	return NewOrderBook("BTC-USD", 2, DefaultMakerFeeRate, DefaultTakerFeeRate)
}

var nextID uint64

func order(side model.Side, typ model.OrderType, tif model.TimeInForce, price, qty string) *model.Order {
	nextID++
	return &model.Order{
		ID:           nextID,
		Instrument:   "BTC-USD",
		Side:         side,
		Type:         typ,
		TimeInForce:  tif,
		Price:        dec(price),
		OriginalQty:  dec(qty),
		RemainingQty: dec(qty),
		IngestTS:     int64(nextID),
	}
}

// scenario 1: MARKET taker walks two resting SELL levels, partial fill
// then full, with per-fill fee computation.
func TestProcess_MarketWalksTwoLevels(t *testing.T) {
	ob := newTestBook()
	m1 := order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	_, err := ob.Process(m1)
	require.NoError(t, err)
	m2 := order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "101.00", "1.0")
	_, err = ob.Process(m2)
	require.NoError(t, err)

	taker := order(model.SideBuy, model.OrderTypeMarket, model.TimeInForceIOC, "", "1.5")
	res, err := ob.Process(taker)
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Price.Equal(dec("100.00")))
	assert.True(t, res.Fills[0].Quantity.Equal(dec("1.0")))
	assert.True(t, res.Fills[0].TakerFee.Equal(dec("0.20")))
	assert.True(t, res.Fills[0].MakerFee.Equal(dec("0.10")))

	assert.True(t, res.Fills[1].Price.Equal(dec("101.00")))
	assert.True(t, res.Fills[1].Quantity.Equal(dec("0.5")))
	// Raw taker_fee is 101*0.5*0.002 = 0.101; rounded half-away-from-zero
	// at this book's quote precision (2) it lands on 0.10.
	assert.True(t, res.Fills[1].TakerFee.Equal(dec("0.10")))
	assert.True(t, res.Fills[1].MakerFee.Equal(dec("0.05")))

	assert.Equal(t, model.StatusFullyFilled, res.Status)
	require.NotNil(t, res.Depth.BestAsk)
	assert.True(t, res.Depth.BestAsk.Price.Equal(dec("101.00")))
	assert.True(t, res.Depth.BestAsk.Quantity.Equal(dec("0.5")))
}

// scenario 2: crossing limit orders fill at the maker's price, not the
// taker's, and the taker rests the remainder.
func TestProcess_FillsAtMakerPrice(t *testing.T) {
	ob := newTestBook()
	b1 := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "50.00", "2.0")
	_, err := ob.Process(b1)
	require.NoError(t, err)

	s1 := order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "49.00", "3.0")
	res, err := ob.Process(s1)
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("50.00")))
	assert.True(t, res.Fills[0].Quantity.Equal(dec("2.0")))
	assert.Equal(t, model.StatusPartiallyFilledAndResting, res.Status)

	assert.Nil(t, res.Depth.BestBid)
	require.NotNil(t, res.Depth.BestAsk)
	assert.True(t, res.Depth.BestAsk.Price.Equal(dec("49.00")))
	assert.True(t, res.Depth.BestAsk.Quantity.Equal(dec("1.0")))
}

// scenario 3: FOK rejects when the precheck can't see enough fillable
// quantity at the limit price, leaving the book untouched.
func TestProcess_FOKRejectsOnInsufficientDepth(t *testing.T) {
	ob := newTestBook()
	_, err := ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "10.00", "1.0"))
	require.NoError(t, err)
	_, err = ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "11.00", "1.0"))
	require.NoError(t, err)

	before := ob.depthSnapshot(defaultDepthLevels)

	res, err := ob.Process(order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceFOK, "10.50", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejectedFOK, res.Status)
	assert.Empty(t, res.Fills)

	after := ob.depthSnapshot(defaultDepthLevels)
	assert.Equal(t, before, after)
}

// scenario 4: FOK fills completely across two levels when the
// precheck finds enough depth.
func TestProcess_FOKFillsAcrossLevels(t *testing.T) {
	ob := newTestBook()
	_, err := ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "10.00", "1.0"))
	require.NoError(t, err)
	_, err = ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "11.00", "1.0"))
	require.NoError(t, err)

	res, err := ob.Process(order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceFOK, "11.00", "2.0"))
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Price.Equal(dec("10.00")))
	assert.True(t, res.Fills[1].Price.Equal(dec("11.00")))
	assert.Equal(t, model.StatusFullyFilled, res.Status)
	assert.Nil(t, res.Depth.BestAsk)
}

// scenario 5: FIFO within a price level consumes the oldest resting
// order first, leaving later orders untouched at the head.
func TestProcess_FIFOWithinLevel(t *testing.T) {
	ob := newTestBook()
	a := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	b := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	c := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	for _, o := range []*model.Order{a, b, c} {
		_, err := ob.Process(o)
		require.NoError(t, err)
	}

	res, err := ob.Process(order(model.SideSell, model.OrderTypeMarket, model.TimeInForceIOC, "", "2.0"))
	require.NoError(t, err)

	require.Len(t, res.Fills, 2)
	assert.Equal(t, a.ID, res.Fills[0].MakerOrderID)
	assert.Equal(t, b.ID, res.Fills[1].MakerOrderID)

	require.NotNil(t, res.Depth.BestBid)
	assert.True(t, res.Depth.BestBid.Quantity.Equal(dec("1.0")))

	lvl, ok := ob.bids.Get(dec("100.00"))
	require.True(t, ok)
	assert.Equal(t, c.ID, lvl.PeekHead().ID)
}

// scenario 6: snapshot/restore preserves FIFO order and fee schedule,
// and a later fill still lands on the order that was already at the
// head before the snapshot.
func TestSnapshotRestore_PreservesFIFOHead(t *testing.T) {
	ob := newTestBook()
	a := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	b := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	c := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	for _, o := range []*model.Order{a, b, c} {
		_, err := ob.Process(o)
		require.NoError(t, err)
	}
	_, err := ob.Process(order(model.SideSell, model.OrderTypeMarket, model.TimeInForceIOC, "", "2.0"))
	require.NoError(t, err)

	snap := ob.TakeSnapshot(1000)
	restored := RestoreOrderBook(snap)

	assert.True(t, restored.MakerFeeRate.Equal(ob.MakerFeeRate))
	assert.True(t, restored.TakerFeeRate.Equal(ob.TakerFeeRate))

	res, err := restored.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "0.5"))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, c.ID, res.Fills[0].MakerOrderID)
	assert.True(t, res.Fills[0].Quantity.Equal(dec("0.5")))

	lvl, ok := restored.bids.Get(dec("100.00"))
	require.True(t, ok)
	assert.Equal(t, c.ID, lvl.PeekHead().ID)
	assert.True(t, lvl.PeekHead().RemainingQty.Equal(dec("0.5")))
}

// Boundary: MARKET against an empty opposing book cancels immediately
// with no fills and unchanged depth.
func TestProcess_MarketAgainstEmptyBook(t *testing.T) {
	ob := newTestBook()
	res, err := ob.Process(order(model.SideBuy, model.OrderTypeMarket, model.TimeInForceIOC, "", "1.0"))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, model.StatusCanceledIOC, res.Status)
	assert.Nil(t, res.Depth.BestBid)
	assert.Nil(t, res.Depth.BestAsk)
}

// Boundary: a LIMIT order that matches exact resting liquidity fully
// fills and never rests.
func TestProcess_LimitExactLiquidity(t *testing.T) {
	ob := newTestBook()
	_, err := ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0"))
	require.NoError(t, err)

	res, err := ob.Process(order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFullyFilled, res.Status)
	assert.Nil(t, res.Depth.BestAsk)
}

// Boundary: IOC with partial availability fills what it can and
// reports PARTIALLY_FILLED_AND_CANCELLED rather than CANCELLED_IOC,
// since some quantity did fill.
func TestProcess_IOCPartialFillReportsPartialCancel(t *testing.T) {
	ob := newTestBook()
	_, err := ob.Process(order(model.SideSell, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "0.5"))
	require.NoError(t, err)

	res, err := ob.Process(order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceIOC, "100.00", "1.0"))
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, model.StatusPartiallyFilledAndCanceled, res.Status)
}

// An IOC that fills nothing at all reports CANCELLED_IOC, distinct
// from the partial-fill case above.
func TestProcess_IOCNoFillReportsCanceledIOC(t *testing.T) {
	ob := newTestBook()
	res, err := ob.Process(order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceIOC, "10.00", "1.0"))
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, model.StatusCanceledIOC, res.Status)
}

// Cancel removes exactly the targeted resting order and leaves the
// others' relative order unchanged.
func TestCancel_RemovesOnlyTargetOrder(t *testing.T) {
	ob := newTestBook()
	a := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	b := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	c := order(model.SideBuy, model.OrderTypeLimit, model.TimeInForceGTC, "100.00", "1.0")
	for _, o := range []*model.Order{a, b, c} {
		_, err := ob.Process(o)
		require.NoError(t, err)
	}

	canceled, err := ob.Cancel(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, canceled.ID)

	lvl, ok := ob.bids.Get(dec("100.00"))
	require.True(t, ok)
	orders := lvl.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, a.ID, orders[0].ID)
	assert.Equal(t, c.ID, orders[1].ID)
}

func TestCancel_UnknownOrderReturnsNotFound(t *testing.T) {
	ob := newTestBook()
	_, err := ob.Cancel(999)
	require.Error(t, err)
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}
