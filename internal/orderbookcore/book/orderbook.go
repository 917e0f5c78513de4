// Package book implements the order book's data structures and the
// matching waterfall: PriceLevel, HalfBook, and OrderBook itself. This
// is the densest part of the matching core — see spec §4.2 for the
// waterfall this file implements almost line for line.
package book

import (
	"fmt"
	"sync/atomic"

	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

// Default fee rates per spec §4.3. NewOrderBook always takes an
// explicit schedule; callers with no instrument-specific rates (e.g.
// tests) pass these.
var (
	DefaultMakerFeeRate = decimal.NewFromFloat(0.0010)
	DefaultTakerFeeRate = decimal.NewFromFloat(0.0020)
)

// roundHalfAwayFromZero rounds d to places fractional digits,
// half-away-from-zero. Fees are always non-negative in this core, so
// this is equivalent to decimal's own Round, but the helper makes the
// rounding mode an explicit, named decision per spec §9(b) rather than
// an implicit library default.
func roundHalfAwayFromZero(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// ErrNotFound is returned by Cancel when the order id is unknown or
// already terminal.
type ErrNotFound struct {
	OrderID uint64
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("order not found: %d", e.OrderID)
}

// ErrRejectedFOK describes a FOK order that cannot be filled
// completely. Process does not return it: Process reports that case
// as a Result with StatusRejectedFOK and a nil error.
type ErrRejectedFOK struct {
	OrderID uint64
}

func (e *ErrRejectedFOK) Error() string {
	return fmt.Sprintf("FOK order %d could not be filled completely", e.OrderID)
}

// ErrCrossedBook is a fatal invariant violation (spec §7): the book
// would be left crossed after a match. It should never occur; if it
// does, the engine treats it as fatal.
type ErrCrossedBook struct {
	BestBid, BestAsk decimal.Decimal
}

func (e *ErrCrossedBook) Error() string {
	return fmt.Sprintf("book crossed: best_bid=%s best_ask=%s", e.BestBid, e.BestAsk)
}

// Depth is one aggregated price/quantity pair for L2 reporting.
type Depth struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DepthSnapshot is the post-trade top-of-book/depth summary the
// waterfall returns alongside fills, per spec §4.2.
type DepthSnapshot struct {
	BestBid *Depth
	BestAsk *Depth
	Bids    []Depth // best-first, up to the requested depth
	Asks    []Depth // best-first, up to the requested depth
}

// Result is the structured outcome of processing one incoming order,
// per spec §4.2 "Outcome returned".
type Result struct {
	Fills  []model.Fill
	Status model.Status
	Depth  DepthSnapshot
}

const defaultDepthLevels = 10

// OrderBook is the per-instrument matched book: two half-books, an id
// index for O(1) cancel, and instrument metadata. All mutation happens
// on the engine's single writer goroutine (spec §5); OrderBook itself
// holds no locks, matching the "no lock on the book because there is
// no concurrent access" discipline.
type OrderBook struct {
	Instrument     string
	QuotePrecision int32
	MakerFeeRate   decimal.Decimal
	TakerFeeRate   decimal.Decimal

	bids *HalfBook
	asks *HalfBook

	ordersByID map[uint64]sideAndPrice

	nextOrderID uint64 // not used by the book; order ids are assigned by the engine
	nextTradeID uint64
}

type sideAndPrice struct {
	side  model.Side
	price decimal.Decimal
}

// NewOrderBook creates an empty book for instrument with the given
// quote precision (fractional digits used for fee rounding, spec
// §4.3) and the instrument's maker/taker fee schedule.
func NewOrderBook(instrument string, quotePrecision int32, makerFeeRate, takerFeeRate decimal.Decimal) *OrderBook {
	return &OrderBook{
		Instrument:     instrument,
		QuotePrecision: quotePrecision,
		MakerFeeRate:   makerFeeRate,
		TakerFeeRate:   takerFeeRate,
		bids:           NewHalfBook(),
		asks:           NewHalfBook(),
		ordersByID:     make(map[uint64]sideAndPrice),
	}
}

// NextTradeID allocates the next monotonic trade id.
func (ob *OrderBook) NextTradeID() uint64 {
	return atomic.AddUint64(&ob.nextTradeID, 1)
}

// SetNextTradeID is used by restore to resume trade id allocation
// strictly above the persisted value (spec §4.5).
func (ob *OrderBook) SetNextTradeID(v uint64) {
	atomic.StoreUint64(&ob.nextTradeID, v)
}

func (ob *OrderBook) halfBookFor(side model.Side) *HalfBook {
	if side == model.SideBuy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) opposingHalfBookFor(side model.Side) *HalfBook {
	return ob.halfBookFor(side.Opposite())
}

// marketable reports whether a LIMIT incoming order at limitPrice may
// trade against a resting level at levelPrice, per the trade-through
// test in spec §4.2 step 3. MARKET orders are always marketable.
func marketable(side model.Side, isMarket bool, limitPrice, levelPrice decimal.Decimal) bool {
	if isMarket {
		return true
	}
	if side == model.SideBuy {
		return limitPrice.GreaterThanOrEqual(levelPrice)
	}
	return limitPrice.LessThanOrEqual(levelPrice)
}

// fillableQuantity computes, without mutating state, the maximum
// quantity incoming could fill against its opposing half-book under
// its own price constraint. Used only by the FOK precheck, spec §4.2
// step 2.
func (ob *OrderBook) fillableQuantity(incoming *model.Order) decimal.Decimal {
	opposing := ob.opposingHalfBookFor(incoming.Side)
	isMarket := incoming.Type == model.OrderTypeMarket
	ascend := incoming.Side == model.SideBuy // buy matches asks ascending

	available := decimal.Zero
	need := incoming.RemainingQty

	visit := func(lvl *PriceLevel) bool {
		if !marketable(incoming.Side, isMarket, incoming.Price, lvl.Price) {
			return false
		}
		available = available.Add(lvl.TotalQuantity())
		return available.LessThan(need)
	}
	if ascend {
		opposing.AscendBestFirst(visit)
	} else {
		opposing.DescendBestFirst(visit)
	}
	return available
}

// CanFillCompletely reports whether incoming could be fully filled
// right now without mutating the book. Exposed for callers (e.g. a
// pre-trade check in transport validation) that want the FOK precheck
// logic without submitting the order.
func (ob *OrderBook) CanFillCompletely(incoming *model.Order) bool {
	return ob.fillableQuantity(incoming).GreaterThanOrEqual(incoming.RemainingQty)
}

// Process runs the matching waterfall for incoming, per spec §4.2.
// incoming.ID and incoming.IngestTS must already be assigned by the
// engine before this is called.
func (ob *OrderBook) Process(incoming *model.Order) (*Result, error) {
	if incoming.TimeInForce == model.TimeInForceFOK {
		if !ob.CanFillCompletely(incoming) {
			return &Result{Status: model.StatusRejectedFOK, Depth: ob.depthSnapshot(defaultDepthLevels)}, nil
		}
	}

	fills := ob.matchAgainstOpposing(incoming)

	status := ob.resolveResidual(incoming)

	if err := ob.checkNotCrossed(); err != nil {
		return nil, err
	}

	return &Result{Fills: fills, Status: status, Depth: ob.depthSnapshot(defaultDepthLevels)}, nil
}

// matchAgainstOpposing executes steps 1 and 3 of the waterfall:
// iterate opposing levels best-first, trade-through test per level,
// FIFO consumption within a level, at the maker's price.
func (ob *OrderBook) matchAgainstOpposing(incoming *model.Order) []model.Fill {
	opposing := ob.opposingHalfBookFor(incoming.Side)
	isMarket := incoming.Type == model.OrderTypeMarket
	ascend := incoming.Side == model.SideBuy

	var fills []model.Fill
	var emptiedPrices []decimal.Decimal

	visit := func(lvl *PriceLevel) bool {
		if incoming.RemainingQty.LessThanOrEqual(decimal.Zero) {
			return false
		}
		if !marketable(incoming.Side, isMarket, incoming.Price, lvl.Price) {
			return false
		}
		for !lvl.Empty() && incoming.RemainingQty.GreaterThan(decimal.Zero) {
			maker := lvl.PeekHead()
			fillQty := decimal.Min(incoming.RemainingQty, maker.RemainingQty)

			incoming.RemainingQty = incoming.RemainingQty.Sub(fillQty)
			maker.RemainingQty = maker.RemainingQty.Sub(fillQty)
			lvl.DecrementTotal(fillQty)

			takerFee := roundHalfAwayFromZero(fillQty.Mul(lvl.Price).Mul(ob.TakerFeeRate), ob.QuotePrecision)
			makerFee := roundHalfAwayFromZero(fillQty.Mul(lvl.Price).Mul(ob.MakerFeeRate), ob.QuotePrecision)

			fills = append(fills, model.Fill{
				TradeID:        ob.NextTradeID(),
				Instrument:     ob.Instrument,
				Price:          lvl.Price,
				Quantity:       fillQty,
				TakerOrderID:   incoming.ID,
				MakerOrderID:   maker.ID,
				TakerSide:      incoming.Side,
				TakerFee:       takerFee,
				MakerFee:       makerFee,
				EventTimestamp: model.Now().UnixNano(),
			})

			if maker.Filled() {
				lvl.PopHead()
				delete(ob.ordersByID, maker.ID)
			}
		}
		if lvl.Empty() {
			emptiedPrices = append(emptiedPrices, lvl.Price)
		}
		return incoming.RemainingQty.GreaterThan(decimal.Zero)
	}

	if ascend {
		opposing.AscendBestFirst(visit)
	} else {
		opposing.DescendBestFirst(visit)
	}
	for _, p := range emptiedPrices {
		opposing.Delete(p)
	}
	return fills
}

// resolveResidual implements step 4 of the waterfall: decide what
// happens to any quantity incoming still has left after matching.
func (ob *OrderBook) resolveResidual(incoming *model.Order) model.Status {
	if incoming.RemainingQty.LessThanOrEqual(decimal.Zero) {
		return model.StatusFullyFilled
	}
	switch incoming.TimeInForce {
	case model.TimeInForceIOC:
		if incoming.RemainingQty.Equal(incoming.OriginalQty) {
			return model.StatusCanceledIOC
		}
		return model.StatusPartiallyFilledAndCanceled
	case model.TimeInForceFOK:
		// Unreachable: the precheck in Process guarantees a FOK order
		// that reaches here fills completely.
		return model.StatusFullyFilled
	default: // GTC
		ob.rest(incoming)
		if incoming.RemainingQty.Equal(incoming.OriginalQty) {
			return model.StatusResting
		}
		return model.StatusPartiallyFilledAndResting
	}
}

// rest inserts incoming onto its own half-book at its limit price,
// creating the price level if needed, per spec §4.2 "LIMIT GTC".
func (ob *OrderBook) rest(incoming *model.Order) {
	hb := ob.halfBookFor(incoming.Side)
	lvl := hb.GetOrCreate(incoming.Price)
	lvl.Append(incoming)
	ob.ordersByID[incoming.ID] = sideAndPrice{side: incoming.Side, price: incoming.Price}
}

// Cancel removes a resting order by id, per spec §4.4.
func (ob *OrderBook) Cancel(orderID uint64) (*model.Order, error) {
	loc, ok := ob.ordersByID[orderID]
	if !ok {
		return nil, &ErrNotFound{OrderID: orderID}
	}
	hb := ob.halfBookFor(loc.side)
	lvl, ok := hb.Get(loc.price)
	if !ok {
		return nil, &ErrNotFound{OrderID: orderID}
	}
	canceled := lvl.Find(orderID)
	if canceled == nil || !lvl.Cancel(orderID) {
		return nil, &ErrNotFound{OrderID: orderID}
	}
	if lvl.Empty() {
		hb.Delete(loc.price)
	}
	delete(ob.ordersByID, orderID)
	return canceled, nil
}

// checkNotCrossed enforces the fatal invariant: best_bid < best_ask
// whenever both exist (spec §3, §7).
func (ob *OrderBook) checkNotCrossed() error {
	bestBidLvl, hasBid := ob.bids.bestDescending()
	bestAskLvl, hasAsk := ob.asks.bestAscending()
	if hasBid && hasAsk && bestBidLvl.Price.GreaterThanOrEqual(bestAskLvl.Price) {
		return &ErrCrossedBook{BestBid: bestBidLvl.Price, BestAsk: bestAskLvl.Price}
	}
	return nil
}

// depthSnapshot builds the top-N-per-side depth summary, per spec §6
// "L2_UPDATE".
func (ob *OrderBook) depthSnapshot(depth int) DepthSnapshot {
	var snap DepthSnapshot
	ob.bids.DescendBestFirst(func(lvl *PriceLevel) bool {
		snap.Bids = append(snap.Bids, Depth{Price: lvl.Price, Quantity: lvl.TotalQuantity()})
		return len(snap.Bids) < depth
	})
	ob.asks.AscendBestFirst(func(lvl *PriceLevel) bool {
		snap.Asks = append(snap.Asks, Depth{Price: lvl.Price, Quantity: lvl.TotalQuantity()})
		return len(snap.Asks) < depth
	})
	if len(snap.Bids) > 0 {
		snap.BestBid = &snap.Bids[0]
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = &snap.Asks[0]
	}
	return snap
}

// DepthSnapshot returns the current top-N depth without processing an
// order; the engine uses it for the L2 update it publishes after a
// cancel.
func (ob *OrderBook) DepthSnapshot(depth int) DepthSnapshot {
	return ob.depthSnapshot(depth)
}

// OrdersCount returns the number of resting orders, for diagnostics
// and tests.
func (ob *OrderBook) OrdersCount() int {
	return len(ob.ordersByID)
}
