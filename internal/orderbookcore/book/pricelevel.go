package book

import (
	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

// orderNode is one link in a PriceLevel's intrusive FIFO chain.
type orderNode struct {
	order      *model.Order
	next, prev *orderNode
}

// PriceLevel is a FIFO queue of resting orders sharing (side, price).
// It is backed by a doubly linked list so append/pop-head are O(1) and
// a side index keyed by order id makes cancel-by-id O(1) too, per
// spec §4.1/§9.
type PriceLevel struct {
	Price decimal.Decimal

	head, tail *orderNode
	byID       map[uint64]*orderNode
	totalQty   decimal.Decimal
}

// NewPriceLevel creates an empty level at price.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:    price,
		byID:     make(map[uint64]*orderNode, 4),
		totalQty: decimal.Zero,
	}
}

// Len returns the number of resting orders in the level.
func (pl *PriceLevel) Len() int {
	return len(pl.byID)
}

// Empty reports whether the level has no resting orders. Per the
// invariant in spec §3, an empty level must not remain in its
// HalfBook.
func (pl *PriceLevel) Empty() bool {
	return pl.Len() == 0
}

// Append adds order to the tail of the queue.
func (pl *PriceLevel) Append(o *model.Order) {
	n := &orderNode{order: o}
	if pl.tail == nil {
		pl.head, pl.tail = n, n
	} else {
		n.prev = pl.tail
		pl.tail.next = n
		pl.tail = n
	}
	pl.byID[o.ID] = n
	pl.totalQty = pl.totalQty.Add(o.RemainingQty)
}

// PeekHead returns the oldest resting order, or nil if the level is
// empty.
func (pl *PriceLevel) PeekHead() *model.Order {
	if pl.head == nil {
		return nil
	}
	return pl.head.order
}

// PopHead removes and returns the oldest resting order.
func (pl *PriceLevel) PopHead() *model.Order {
	n := pl.head
	if n == nil {
		return nil
	}
	pl.unlink(n)
	return n.order
}

// Find returns the order with the given id without removing it, or
// nil if absent. O(1) via the level's side index.
func (pl *PriceLevel) Find(orderID uint64) *model.Order {
	n, ok := pl.byID[orderID]
	if !ok {
		return nil
	}
	return n.order
}

// Cancel removes the order with the given id. It returns false if the
// id is not present in this level (NOT_FOUND, surfaced to the caller
// by book.OrderBook.Cancel).
func (pl *PriceLevel) Cancel(orderID uint64) bool {
	n, ok := pl.byID[orderID]
	if !ok {
		return false
	}
	pl.unlink(n)
	return true
}

// DecrementTotal keeps the level's running total quantity in sync when
// the waterfall partially fills the head order in place, without
// popping it. Callers pop explicitly once a maker is fully consumed,
// matching the fill-then-cleanup sequencing of spec §4.2.
func (pl *PriceLevel) DecrementTotal(qty decimal.Decimal) {
	pl.totalQty = pl.totalQty.Sub(qty)
}

// TotalQuantity returns the sum of resting quantities in the level.
func (pl *PriceLevel) TotalQuantity() decimal.Decimal {
	return pl.totalQty
}

// Orders returns the resting orders in FIFO order. Used by snapshot
// serialization; callers must not mutate the returned slice's orders.
func (pl *PriceLevel) Orders() []*model.Order {
	out := make([]*model.Order, 0, pl.Len())
	for n := pl.head; n != nil; n = n.next {
		out = append(out, n.order)
	}
	return out
}

func (pl *PriceLevel) unlink(n *orderNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		pl.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		pl.tail = n.prev
	}
	delete(pl.byID, n.order.ID)
	pl.totalQty = pl.totalQty.Sub(n.order.RemainingQty)
}
