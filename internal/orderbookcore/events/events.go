// Package events defines the wire shape of the engine's two egress
// message types, TRADE_REPORT and L2_UPDATE (spec §6), and their JSON
// encoding. Grounded on engine_server.py's broadcast_trades /
// broadcast_order_book_update dict shapes and orderbook.go's buffer-
// pooled MarshalJSONBuffer.
package events

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/orbitcex/matchcore/internal/orderbookcore/book"
	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

// TradeReport is the egress shape for one fill, per spec §6
// "TRADE_REPORT (egress)".
type TradeReport struct {
	TradeID        uint64          `json:"trade_id"`
	Instrument     string          `json:"instrument"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	TakerOrderID   uint64          `json:"taker_order_id"`
	MakerOrderID   uint64          `json:"maker_order_id"`
	TakerSide      model.Side      `json:"taker_side"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	EventTimestamp int64           `json:"event_timestamp_ns"`
	CoreLatencyNS  int64           `json:"core_latency_ns"`
}

// NewTradeReport renders fill as the egress shape, attaching the
// core latency measured by the engine loop (spec §4.6 step 5).
func NewTradeReport(fill model.Fill, coreLatencyNS int64) TradeReport {
	return TradeReport{
		TradeID:        fill.TradeID,
		Instrument:     fill.Instrument,
		Price:          fill.Price,
		Quantity:       fill.Quantity,
		TakerOrderID:   fill.TakerOrderID,
		MakerOrderID:   fill.MakerOrderID,
		TakerSide:      fill.TakerSide,
		TakerFee:       fill.TakerFee,
		MakerFee:       fill.MakerFee,
		EventTimestamp: fill.EventTimestamp,
		CoreLatencyNS:  coreLatencyNS,
	}
}

// PriceLevelView is one (price, aggregate quantity) pair in an
// L2Update.
type PriceLevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// L2Update is the egress shape for a book-wide depth update, per spec
// §6 "L2_UPDATE (egress)".
type L2Update struct {
	Instrument     string           `json:"instrument"`
	BestBid        *PriceLevelView  `json:"best_bid"`
	BestAsk        *PriceLevelView  `json:"best_ask"`
	Bids           []PriceLevelView `json:"bids"`
	Asks           []PriceLevelView `json:"asks"`
	EventTimestamp int64            `json:"event_timestamp_ns"`
	CoreLatencyNS  int64            `json:"core_latency_ns"`
}

// NewL2Update renders depth as the egress shape.
func NewL2Update(instrument string, depth book.DepthSnapshot, eventTimestamp, coreLatencyNS int64) L2Update {
	u := L2Update{
		Instrument:     instrument,
		Bids:           depthToViews(depth.Bids),
		Asks:           depthToViews(depth.Asks),
		EventTimestamp: eventTimestamp,
		CoreLatencyNS:  coreLatencyNS,
	}
	if depth.BestBid != nil {
		u.BestBid = &PriceLevelView{Price: depth.BestBid.Price, Quantity: depth.BestBid.Quantity}
	}
	if depth.BestAsk != nil {
		u.BestAsk = &PriceLevelView{Price: depth.BestAsk.Price, Quantity: depth.BestAsk.Quantity}
	}
	return u
}

func depthToViews(ds []book.Depth) []PriceLevelView {
	out := make([]PriceLevelView, 0, len(ds))
	for _, d := range ds {
		out = append(out, PriceLevelView{Price: d.Price, Quantity: d.Quantity})
	}
	return out
}

// Frame is the self-describing envelope every egress message travels
// in, per spec §6 "Wire transport": a type tag plus payload, so a
// single frame-per-message stream can carry both TRADE_REPORT and
// L2_UPDATE frames without a side channel.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	FrameTypeTradeReport = "TRADE_REPORT"
	FrameTypeL2Update    = "L2_UPDATE"
	FrameTypeSubmit      = "SUBMIT"
	FrameTypeCancel      = "CANCEL"
	FrameTypeAck         = "ACK"
)

var framePool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// EncodeFrame marshals v (a TradeReport or L2Update) into a self-
// describing Frame and renders it to bytes using a pooled buffer, the
// way orderbook.go's MarshalJSONBuffer avoids a per-call allocation on
// the hot egress path.
func EncodeFrame(frameType string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	buf := framePool.Get().(*bytes.Buffer)
	buf.Reset()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Frame{Type: frameType, Payload: payload}); err != nil {
		framePool.Put(buf)
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	framePool.Put(buf)
	return out, nil
}

// DecodeFrame unmarshals a raw frame's envelope without interpreting
// Payload; callers switch on Type to decide how to unmarshal Payload.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
