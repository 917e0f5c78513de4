package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// lessPrice orders price levels numerically by their decimal price.
// The teacher's OrderBook keys a btree.Map by price strings; this core
// keeps the B-tree-of-price-levels shape but compares decimals
// directly instead of relying on string formatting to sort correctly.
func lessPrice(a, b decimal.Decimal) bool {
	return a.LessThan(b)
}

// HalfBook is an ordered mapping from price to PriceLevel, keyed so
// that best-first iteration is efficient: ascending for asks,
// descending for bids. Bid/ask direction is captured by which
// iteration method the caller uses (Ascend vs Descend), not by two
// different comparators, so both half-books share this type.
type HalfBook struct {
	levels *btree.BTreeG[*PriceLevel]
}

// NewHalfBook creates an empty half-book ordered by ascending price.
func NewHalfBook() *HalfBook {
	return &HalfBook{
		levels: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return lessPrice(a.Price, b.Price)
		}),
	}
}

// Get returns the level at price, if one exists.
func (hb *HalfBook) Get(price decimal.Decimal) (*PriceLevel, bool) {
	probe := &PriceLevel{Price: price}
	return hb.levels.Get(probe)
}

// GetOrCreate returns the level at price, creating an empty one if
// absent.
func (hb *HalfBook) GetOrCreate(price decimal.Decimal) *PriceLevel {
	if lvl, ok := hb.Get(price); ok {
		return lvl
	}
	lvl := NewPriceLevel(price)
	hb.levels.Set(lvl)
	return lvl
}

// Delete removes the level at price. Callers must only call this once
// the level is empty (the invariant in spec §3: "a level with zero
// orders does not exist in the book").
func (hb *HalfBook) Delete(price decimal.Decimal) {
	hb.levels.Delete(&PriceLevel{Price: price})
}

// Len returns the number of distinct price levels.
func (hb *HalfBook) Len() int {
	return hb.levels.Len()
}

// bestAscending returns the lowest-priced level and true, or false if
// the half-book is empty. This is "best" for asks; bestDescending
// gives the highest-priced level, which is "best" for bids.
func (hb *HalfBook) bestAscending() (*PriceLevel, bool) {
	return hb.levels.Min()
}

func (hb *HalfBook) bestDescending() (*PriceLevel, bool) {
	return hb.levels.Max()
}

// AscendBestFirst iterates price levels from lowest to highest price,
// calling fn for each; iteration stops early if fn returns false. Used
// by the ask half-book, whose "best" is the lowest price.
func (hb *HalfBook) AscendBestFirst(fn func(lvl *PriceLevel) bool) {
	hb.levels.Scan(fn)
}

// DescendBestFirst iterates price levels from highest to lowest price.
// Used by the bid half-book, whose "best" is the highest price.
func (hb *HalfBook) DescendBestFirst(fn func(lvl *PriceLevel) bool) {
	hb.levels.Reverse(fn)
}

// BestLevel returns the best level for this half-book's matching
// direction: ascending (lowest price) if asc is true, else descending
// (highest price).
func (hb *HalfBook) BestLevel(asc bool) (*PriceLevel, bool) {
	if asc {
		return hb.bestAscending()
	}
	return hb.bestDescending()
}
