package book

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

// Snapshot magic and version, per spec §6 "Snapshot file". Version is
// bumped whenever the on-disk shape changes; Decode rejects anything
// it does not recognize as SNAPSHOT_CORRUPT.
const (
	snapshotMagic   uint32 = 0x4d434f42 // "MCOB"
	snapshotVersion uint16 = 1
)

// Snapshot is the decoded form of a persisted book: everything
// RestoreOrderBook needs to rebuild an OrderBook that is
// observationally identical to the one that produced the bytes, per
// spec §4.5.
type Snapshot struct {
	Instrument      string
	QuotePrecision  int32
	MakerFeeRate    decimal.Decimal
	TakerFeeRate    decimal.Decimal
	NextTradeID     uint64
	NextTimestampNS int64
	Bids            []LevelSnapshot // best-first (descending)
	Asks            []LevelSnapshot // best-first (ascending)
}

// LevelSnapshot is one price level's worth of resting orders, in FIFO
// order.
type LevelSnapshot struct {
	Price  decimal.Decimal
	Orders []OrderSnapshot
}

// OrderSnapshot is an order's on-disk form, per spec §6: "(order_id,
// client_order_id, side, type, tif, price, original_qty,
// remaining_qty, ingest_timestamp_ns)".
type OrderSnapshot struct {
	OrderID       uint64
	ClientOrderID string
	ClientID      string
	Side          model.Side
	Type          model.OrderType
	TimeInForce   model.TimeInForce
	Price         decimal.Decimal
	OriginalQty   decimal.Decimal
	RemainingQty  decimal.Decimal
	IngestTS      int64
}

// TakeSnapshot captures the book's current state for persistence.
// nextTimestampNS is the engine's next ingest timestamp to persist
// alongside the book, so restore can resume strictly above it.
func (ob *OrderBook) TakeSnapshot(nextTimestampNS int64) Snapshot {
	snap := Snapshot{
		Instrument:      ob.Instrument,
		QuotePrecision:  ob.QuotePrecision,
		MakerFeeRate:    ob.MakerFeeRate,
		TakerFeeRate:    ob.TakerFeeRate,
		NextTradeID:     atomic.LoadUint64(&ob.nextTradeID),
		NextTimestampNS: nextTimestampNS,
	}
	ob.bids.DescendBestFirst(func(lvl *PriceLevel) bool {
		snap.Bids = append(snap.Bids, levelToSnapshot(lvl))
		return true
	})
	ob.asks.AscendBestFirst(func(lvl *PriceLevel) bool {
		snap.Asks = append(snap.Asks, levelToSnapshot(lvl))
		return true
	})
	return snap
}

func levelToSnapshot(lvl *PriceLevel) LevelSnapshot {
	orders := lvl.Orders()
	out := LevelSnapshot{Price: lvl.Price, Orders: make([]OrderSnapshot, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, OrderSnapshot{
			OrderID:       o.ID,
			ClientOrderID: o.ClientOrderID,
			ClientID:      o.ClientID,
			Side:          o.Side,
			Type:          o.Type,
			TimeInForce:   o.TimeInForce,
			Price:         o.Price,
			OriginalQty:   o.OriginalQty,
			RemainingQty:  o.RemainingQty,
			IngestTS:      o.IngestTS,
		})
	}
	return out
}

// RestoreOrderBook rebuilds an OrderBook from a decoded Snapshot,
// appending orders in the order they appear so FIFO order is
// preserved, and rebuilding the id index, per spec §4.5.
func RestoreOrderBook(snap Snapshot) *OrderBook {
	ob := NewOrderBook(snap.Instrument, snap.QuotePrecision, snap.MakerFeeRate, snap.TakerFeeRate)
	ob.SetNextTradeID(snap.NextTradeID)
	restoreSide := func(levels []LevelSnapshot, hb *HalfBook, side model.Side) {
		for _, ls := range levels {
			lvl := hb.GetOrCreate(ls.Price)
			for _, os := range ls.Orders {
				order := &model.Order{
					ID:            os.OrderID,
					ClientOrderID: os.ClientOrderID,
					ClientID:      os.ClientID,
					Instrument:    snap.Instrument,
					Side:          side,
					Type:          os.Type,
					TimeInForce:   os.TimeInForce,
					Price:         os.Price,
					OriginalQty:   os.OriginalQty,
					RemainingQty:  os.RemainingQty,
					IngestTS:      os.IngestTS,
				}
				lvl.Append(order)
				ob.ordersByID[order.ID] = sideAndPrice{side: side, price: ls.Price}
			}
		}
	}
	restoreSide(snap.Bids, ob.bids, model.SideBuy)
	restoreSide(snap.Asks, ob.asks, model.SideSell)
	return ob
}

// Encode serializes snap into the binary wire format of spec §6:
// magic, version, next_trade_id, next_timestamp_ns, then the book's
// instrument, quote precision, and maker/taker fee rates, then bids
// and asks as (count, [price, order_count, orders...]), followed by a
// CRC-32 checksum of everything preceding it so Decode can detect
// truncation or corruption before trusting the structural parse.
func Encode(snap Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	writeU32(&buf, snapshotMagic)
	writeU16(&buf, snapshotVersion)
	writeU64(&buf, snap.NextTradeID)
	writeU64(&buf, uint64(snap.NextTimestampNS))
	if err := writeString(&buf, snap.Instrument); err != nil {
		return nil, err
	}
	writeU32(&buf, uint32(snap.QuotePrecision))
	if err := writeString(&buf, snap.MakerFeeRate.String()); err != nil {
		return nil, err
	}
	if err := writeString(&buf, snap.TakerFeeRate.String()); err != nil {
		return nil, err
	}
	if err := writeLevels(&buf, snap.Bids); err != nil {
		return nil, err
	}
	if err := writeLevels(&buf, snap.Asks); err != nil {
		return nil, err
	}
	checksum := crc32.ChecksumIEEE(buf.Bytes())
	writeU32(&buf, checksum)
	return buf.Bytes(), nil
}

// Decode parses the binary wire format produced by Encode. It returns
// SNAPSHOT_CORRUPT-shaped errors (ErrSnapshotCorrupt) on any magic,
// version, checksum, or structural mismatch, per spec §7.
func Decode(data []byte) (Snapshot, error) {
	if len(data) < 4 {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated checksum"}
	}
	payload, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(trailer) {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "checksum mismatch"}
	}
	r := bytes.NewReader(payload)
	magic, err := readU32(r)
	if err != nil || magic != snapshotMagic {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "bad magic"}
	}
	version, err := readU16(r)
	if err != nil || version != snapshotVersion {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "unsupported version"}
	}
	nextTradeID, err := readU64(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated next_trade_id"}
	}
	nextTS, err := readU64(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated next_timestamp_ns"}
	}
	instrument, err := readString(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated instrument"}
	}
	precision, err := readU32(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated quote precision"}
	}
	makerFeeStr, err := readString(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated maker fee rate"}
	}
	makerFeeRate, err := decimal.NewFromString(makerFeeStr)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "bad maker fee rate"}
	}
	takerFeeStr, err := readString(r)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "truncated taker fee rate"}
	}
	takerFeeRate, err := decimal.NewFromString(takerFeeStr)
	if err != nil {
		return Snapshot{}, &ErrSnapshotCorrupt{Reason: "bad taker fee rate"}
	}
	bids, err := readLevels(r)
	if err != nil {
		return Snapshot{}, err
	}
	asks, err := readLevels(r)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Instrument:      instrument,
		QuotePrecision:  int32(precision),
		MakerFeeRate:    makerFeeRate,
		TakerFeeRate:    takerFeeRate,
		NextTradeID:     nextTradeID,
		NextTimestampNS: int64(nextTS),
		Bids:            bids,
		Asks:            asks,
	}, nil
}

// ErrSnapshotCorrupt signals a restore failed its magic/version/shape
// check; fatal at startup per spec §7.
type ErrSnapshotCorrupt struct {
	Reason string
}

func (e *ErrSnapshotCorrupt) Error() string {
	return fmt.Sprintf("snapshot corrupt: %s", e.Reason)
}

func writeLevels(buf *bytes.Buffer, levels []LevelSnapshot) error {
	writeU32(buf, uint32(len(levels)))
	for _, lvl := range levels {
		if err := writeString(buf, lvl.Price.String()); err != nil {
			return err
		}
		writeU32(buf, uint32(len(lvl.Orders)))
		for _, o := range lvl.Orders {
			if err := writeOrder(buf, o); err != nil {
				return err
			}
		}
	}
	return nil
}

func readLevels(r *bytes.Reader) ([]LevelSnapshot, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, &ErrSnapshotCorrupt{Reason: "truncated level count"}
	}
	levels := make([]LevelSnapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		priceStr, err := readString(r)
		if err != nil {
			return nil, &ErrSnapshotCorrupt{Reason: "truncated level price"}
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, &ErrSnapshotCorrupt{Reason: "bad level price"}
		}
		orderCount, err := readU32(r)
		if err != nil {
			return nil, &ErrSnapshotCorrupt{Reason: "truncated order count"}
		}
		orders := make([]OrderSnapshot, 0, orderCount)
		for j := uint32(0); j < orderCount; j++ {
			o, err := readOrder(r)
			if err != nil {
				return nil, err
			}
			orders = append(orders, o)
		}
		levels = append(levels, LevelSnapshot{Price: price, Orders: orders})
	}
	return levels, nil
}

func writeOrder(buf *bytes.Buffer, o OrderSnapshot) error {
	writeU64(buf, o.OrderID)
	if err := writeString(buf, o.ClientOrderID); err != nil {
		return err
	}
	if err := writeString(buf, o.ClientID); err != nil {
		return err
	}
	buf.WriteByte(sideByte(o.Side))
	buf.WriteByte(typeByte(o.Type))
	buf.WriteByte(tifByte(o.TimeInForce))
	if err := writeString(buf, o.Price.String()); err != nil {
		return err
	}
	if err := writeString(buf, o.OriginalQty.String()); err != nil {
		return err
	}
	if err := writeString(buf, o.RemainingQty.String()); err != nil {
		return err
	}
	writeU64(buf, uint64(o.IngestTS))
	return nil
}

func readOrder(r *bytes.Reader) (OrderSnapshot, error) {
	var o OrderSnapshot
	var err error
	if o.OrderID, err = readU64(r); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated order id"}
	}
	if o.ClientOrderID, err = readString(r); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated client order id"}
	}
	if o.ClientID, err = readString(r); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated client id"}
	}
	sb, err := r.ReadByte()
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated side"}
	}
	o.Side, err = sideFromByte(sb)
	if err != nil {
		return o, err
	}
	tb, err := r.ReadByte()
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated type"}
	}
	o.Type, err = typeFromByte(tb)
	if err != nil {
		return o, err
	}
	fb, err := r.ReadByte()
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated tif"}
	}
	o.TimeInForce, err = tifFromByte(fb)
	if err != nil {
		return o, err
	}
	priceStr, err := readString(r)
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated price"}
	}
	if o.Price, err = decimal.NewFromString(priceStr); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "bad price"}
	}
	origStr, err := readString(r)
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated original qty"}
	}
	if o.OriginalQty, err = decimal.NewFromString(origStr); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "bad original qty"}
	}
	remStr, err := readString(r)
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated remaining qty"}
	}
	if o.RemainingQty, err = decimal.NewFromString(remStr); err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "bad remaining qty"}
	}
	ts, err := readU64(r)
	if err != nil {
		return o, &ErrSnapshotCorrupt{Reason: "truncated ingest timestamp"}
	}
	o.IngestTS = int64(ts)
	return o, nil
}

func sideByte(s model.Side) byte {
	if s == model.SideBuy {
		return 0
	}
	return 1
}

func sideFromByte(b byte) (model.Side, error) {
	switch b {
	case 0:
		return model.SideBuy, nil
	case 1:
		return model.SideSell, nil
	default:
		return "", &ErrSnapshotCorrupt{Reason: "bad side byte"}
	}
}

func typeByte(t model.OrderType) byte {
	if t == model.OrderTypeLimit {
		return 0
	}
	return 1
}

func typeFromByte(b byte) (model.OrderType, error) {
	switch b {
	case 0:
		return model.OrderTypeLimit, nil
	case 1:
		return model.OrderTypeMarket, nil
	default:
		return "", &ErrSnapshotCorrupt{Reason: "bad type byte"}
	}
}

func tifByte(t model.TimeInForce) byte {
	switch t {
	case model.TimeInForceGTC:
		return 0
	case model.TimeInForceIOC:
		return 1
	default:
		return 2
	}
}

func tifFromByte(b byte) (model.TimeInForce, error) {
	switch b {
	case 0:
		return model.TimeInForceGTC, nil
	case 1:
		return model.TimeInForceIOC, nil
	case 2:
		return model.TimeInForceFOK, nil
	default:
		return "", &ErrSnapshotCorrupt{Reason: "bad tif byte"}
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 1<<16-1 {
		return fmt.Errorf("string too long to encode: %d bytes", len(s))
	}
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func readString(r *bytes.Reader) (string, error) {
	l, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, l)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
