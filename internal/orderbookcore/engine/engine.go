// Package engine implements the single-writer serial consumer that
// owns every OrderBook the process manages: one worker goroutine
// drains a bounded intake channel, dispatches each item to the book,
// and publishes trade and depth events, per spec §4.6/§5. Grounded on
// engine_server.py's matching_engine_loop (asyncio.Queue + sequential
// process_order + broadcast), translated to a dedicated goroutine
// consuming a buffered Go channel — no cooperative runtime needed,
// per spec §9's redesign note.
package engine

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/orbitcex/matchcore/internal/config"
	"github.com/orbitcex/matchcore/internal/orderbookcore/book"
	"github.com/orbitcex/matchcore/internal/orderbookcore/events"
	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/orbitcex/matchcore/internal/orderbookcore/snapshot"
	"github.com/orbitcex/matchcore/pkg/apierrors"
	"github.com/orbitcex/matchcore/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultDepth = 10

// Engine owns one OrderBook per configured instrument and is the only
// goroutine permitted to mutate any of them — "there is no lock on
// the book because there is no concurrent access" (spec §5).
type Engine struct {
	books       map[string]*book.OrderBook
	instruments map[string]config.InstrumentConfig

	// orderInstrument tracks which book an order id belongs to for as
	// long as it remains cancellable. It is touched only from run(),
	// so — like the books themselves — it needs no lock.
	orderInstrument map[uint64]string

	intake chan *envelope

	trades      *events.Broadcaster[events.TradeReport]
	bookUpdates *events.Broadcaster[events.L2Update]

	nextOrderID  uint64
	lastIngestTS int64

	snapshotPath     string
	snapshotInterval time.Duration

	logger *zap.Logger

	done chan struct{}
}

// Options configures a new Engine.
type Options struct {
	Instruments         []config.InstrumentConfig
	IntakeQueueCapacity int
	SnapshotPath        string
	SnapshotInterval    time.Duration
	Logger              *zap.Logger

	// AuthoritativeBuffer sizes the never-drop sink each Broadcaster
	// hands to a durable subscriber (e.g. the Kafka writer).
	AuthoritativeBuffer int
}

// New creates an Engine with an empty book per configured instrument.
// Restore from a persisted snapshot, if any, happens separately via
// Restore before Run is called.
func New(opts Options) *Engine {
	if opts.IntakeQueueCapacity <= 0 {
		opts.IntakeQueueCapacity = 4096
	}
	if opts.AuthoritativeBuffer <= 0 {
		opts.AuthoritativeBuffer = 65536
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		books:            make(map[string]*book.OrderBook, len(opts.Instruments)),
		instruments:      make(map[string]config.InstrumentConfig, len(opts.Instruments)),
		orderInstrument:  make(map[uint64]string),
		intake:           make(chan *envelope, opts.IntakeQueueCapacity),
		trades:           events.NewBroadcaster[events.TradeReport](opts.AuthoritativeBuffer),
		bookUpdates:      events.NewBroadcaster[events.L2Update](opts.AuthoritativeBuffer),
		snapshotPath:     opts.SnapshotPath,
		snapshotInterval: opts.SnapshotInterval,
		logger:           opts.Logger,
		done:             make(chan struct{}),
	}
	for _, ic := range opts.Instruments {
		e.instruments[ic.Symbol] = ic
		e.books[ic.Symbol] = book.NewOrderBook(ic.Symbol, ic.QuotePrecision, ic.MakerFeeRate, ic.TakerFeeRate)
	}
	return e
}

// Restore loads a persisted snapshot from path (the engine's own
// configured snapshotPath if path is empty) and replaces each
// matching instrument's book with the restored one. A missing file is
// not an error, per spec §6.
func (e *Engine) Restore(path string) error {
	if path == "" {
		path = e.snapshotPath
	}
	snaps, ok, err := snapshot.Load(path)
	if err != nil {
		return apierrors.Wrap(apierrors.KindSnapshotCorrupt, err)
	}
	if !ok {
		e.logger.Info("no snapshot found, starting with empty books", zap.String("path", path))
		return nil
	}
	for _, snap := range snaps {
		ob := book.RestoreOrderBook(snap)
		e.books[snap.Instrument] = ob
		for _, lvl := range snap.Bids {
			for _, o := range lvl.Orders {
				e.orderInstrument[o.OrderID] = snap.Instrument
			}
		}
		for _, lvl := range snap.Asks {
			for _, o := range lvl.Orders {
				e.orderInstrument[o.OrderID] = snap.Instrument
			}
		}
		if o := maxOrderID(snap); o >= e.nextOrderID {
			e.nextOrderID = o
		}
		if snap.NextTimestampNS > e.lastIngestTS {
			e.lastIngestTS = snap.NextTimestampNS
		}
		e.logger.Info("restored order book from snapshot",
			zap.String("instrument", snap.Instrument),
			zap.Int("bid_levels", len(snap.Bids)),
			zap.Int("ask_levels", len(snap.Asks)))
	}
	return nil
}

func maxOrderID(snap book.Snapshot) uint64 {
	var max uint64
	scan := func(levels []book.LevelSnapshot) {
		for _, lvl := range levels {
			for _, o := range lvl.Orders {
				if o.OrderID > max {
					max = o.OrderID
				}
			}
		}
	}
	scan(snap.Bids)
	scan(snap.Asks)
	return max
}

// Trades returns a best-effort subscription to published
// TradeReports. Unsubscribe with the returned id when the caller is
// done to stop the broadcaster tracking it.
func (e *Engine) Trades(buffer int) (id int, ch <-chan events.TradeReport) {
	return e.trades.Subscribe(buffer)
}

// UnsubscribeTrades removes a subscription created by Trades.
func (e *Engine) UnsubscribeTrades(id int) { e.trades.Unsubscribe(id) }

// BookUpdates returns a best-effort subscription to published
// L2Updates.
func (e *Engine) BookUpdates(buffer int) (id int, ch <-chan events.L2Update) {
	return e.bookUpdates.Subscribe(buffer)
}

// UnsubscribeBookUpdates removes a subscription created by BookUpdates.
func (e *Engine) UnsubscribeBookUpdates(id int) { e.bookUpdates.Unsubscribe(id) }

// AuthoritativeTrades is the never-drop sink a durable consumer (the
// Kafka writer in transport/kafka.go) drains from its own goroutine.
func (e *Engine) AuthoritativeTrades() <-chan events.TradeReport { return e.trades.Authoritative() }

// AuthoritativeBookUpdates is the never-drop sink for L2Updates.
func (e *Engine) AuthoritativeBookUpdates() <-chan events.L2Update {
	return e.bookUpdates.Authoritative()
}

// Submit enqueues a SUBMIT item and returns its acceptance ack as
// soon as the item is on the intake channel. ctx bounds how long
// Submit waits for room on the channel; a transport that wants to
// reject fast on a full queue passes an already-short-deadlined ctx,
// one that wants to block passes context.Background() (spec §5: "the
// transport must either block acceptance or reject with QUEUE_FULL").
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (SubmitAck, error) {
	orderID := atomic.AddUint64(&e.nextOrderID, 1)
	env := &envelope{
		kind:    kindSubmit,
		orderID: orderID,
		submit:  &req,
		result:  make(chan SubmissionResult, 1),
	}
	select {
	case e.intake <- env:
		metrics.IntakeQueueDepth.Set(float64(len(e.intake)))
		return SubmitAck{OrderID: orderID, AcceptedAt: time.Now().UTC(), result: env.result}, nil
	case <-ctx.Done():
		return SubmitAck{}, apierrors.New(apierrors.KindQueueFull, "intake queue saturated")
	}
}

// Cancel enqueues a CANCEL item, preserving strict ordering relative
// to other submissions from the same producer (spec §5).
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (CancelAck, error) {
	env := &envelope{
		kind:    kindCancel,
		cancel:  &req,
		result:  make(chan SubmissionResult, 1),
	}
	select {
	case e.intake <- env:
		metrics.IntakeQueueDepth.Set(float64(len(e.intake)))
		return CancelAck{OrderID: req.OrderID, AcceptedAt: time.Now().UTC(), result: env.result}, nil
	case <-ctx.Done():
		return CancelAck{}, apierrors.New(apierrors.KindQueueFull, "intake queue saturated")
	}
}

// RequestSnapshot enqueues a SNAPSHOT item. Administrative snapshot
// requests flow through the same queue as submissions and cancels to
// preserve ordering, per spec §4.6.
func (e *Engine) RequestSnapshot(ctx context.Context) error {
	env := &envelope{kind: kindSnapshot, result: make(chan SubmissionResult, 1)}
	select {
	case e.intake <- env:
		res := <-env.result
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown enqueues a SHUTDOWN item (final snapshot, then the loop
// exits) and waits for the loop to stop.
func (e *Engine) Shutdown(ctx context.Context) error {
	env := &envelope{kind: kindShutdown, result: make(chan SubmissionResult, 1)}
	select {
	case e.intake <- env:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the engine loop and a periodic snapshot ticker; it
// blocks until the loop exits (via Shutdown). Run is meant to be
// called in its own goroutine by cmd/matchengine.
func (e *Engine) Run(ctx context.Context) {
	stopTicker := make(chan struct{})
	if e.snapshotInterval > 0 {
		go e.tickSnapshots(ctx, stopTicker)
	}
	e.run()
	close(stopTicker)
}

func (e *Engine) tickSnapshots(ctx context.Context, stop <-chan struct{}) {
	t := time.NewTicker(e.snapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := e.RequestSnapshot(reqCtx); err != nil {
				e.logger.Warn("periodic snapshot request failed", zap.Error(err))
			}
			cancel()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// run is the single-writer loop proper: drain intake, dispatch, never
// start item k+1 until item k's events are fully emitted.
func (e *Engine) run() {
	defer close(e.done)
	for env := range e.intake {
		env.ingestTS = e.nextIngestTimestamp()
		switch env.kind {
		case kindSubmit:
			e.dispatchSubmit(env)
		case kindCancel:
			e.dispatchCancel(env)
		case kindSnapshot:
			e.dispatchSnapshot(env)
		case kindShutdown:
			e.dispatchSnapshot(env)
			return
		}
		metrics.IntakeQueueDepth.Set(float64(len(e.intake)))
	}
}

// nextIngestTimestamp assigns a monotonic, strictly-increasing
// ingest timestamp, per spec §4.6 step 1 / §4.2 "tie-breaking".
func (e *Engine) nextIngestTimestamp() int64 {
	ts := model.Now().UnixNano()
	if ts <= e.lastIngestTS {
		ts = e.lastIngestTS + 1
	}
	e.lastIngestTS = ts
	return ts
}

func (e *Engine) dispatchSubmit(env *envelope) {
	req := env.submit
	ob, ok := e.books[req.Instrument]
	if !ok {
		e.reject(env, apierrors.New(apierrors.KindRejectedValidation, "unknown instrument %q", req.Instrument))
		return
	}
	ic := e.instruments[req.Instrument]
	if verr := validateSubmit(req, ic); verr != nil {
		e.reject(env, verr)
		return
	}

	order := &model.Order{
		ID:            env.orderID,
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
		OriginalQty:   req.Quantity,
		RemainingQty:  req.Quantity,
		IngestTS:      env.ingestTS,
		ClientID:      req.ClientID,
	}
	e.orderInstrument[order.ID] = req.Instrument

	result, err := ob.Process(order)
	if err != nil {
		e.fatal(err)
		return
	}

	if result.Status == model.StatusRejectedFOK {
		delete(e.orderInstrument, order.ID)
		metrics.SubmissionsProcessed.WithLabelValues(string(apierrors.KindRejectedFOK)).Inc()
		env.result <- SubmissionResult{
			OrderID: order.ID,
			Status:  result.Status,
			Err:     apierrors.New(apierrors.KindRejectedFOK, "order %d could not be filled completely", order.ID),
		}
		close(env.result)
		return
	}
	if terminal(result.Status) {
		delete(e.orderInstrument, order.ID)
	}

	publishTS := model.Now().UnixNano()
	latency := publishTS - env.ingestTS
	for _, f := range result.Fills {
		e.trades.Publish(events.NewTradeReport(f, latency))
	}
	e.bookUpdates.Publish(events.NewL2Update(req.Instrument, result.Depth, publishTS, latency))

	metrics.CoreLatency.Observe(time.Duration(latency).Seconds())
	metrics.SubmissionsProcessed.WithLabelValues(string(result.Status)).Inc()

	env.result <- SubmissionResult{OrderID: order.ID, Status: result.Status, Fills: result.Fills}
	close(env.result)
}

func terminal(s model.Status) bool {
	switch s {
	case model.StatusFullyFilled, model.StatusCanceledIOC, model.StatusPartiallyFilledAndCanceled, model.StatusRejectedFOK, model.StatusCanceled:
		return true
	default:
		return false
	}
}

func (e *Engine) dispatchCancel(env *envelope) {
	instrument, ok := e.orderInstrument[env.cancel.OrderID]
	if !ok {
		e.reject(env, apierrors.New(apierrors.KindNotFound, "order not found: %d", env.cancel.OrderID))
		return
	}
	ob := e.books[instrument]
	canceled, err := ob.Cancel(env.cancel.OrderID)
	if err != nil {
		e.reject(env, apierrors.Wrap(apierrors.KindNotFound, err))
		return
	}
	delete(e.orderInstrument, canceled.ID)

	publishTS := model.Now().UnixNano()
	latency := publishTS - env.ingestTS
	e.bookUpdates.Publish(events.NewL2Update(instrument, ob.DepthSnapshot(defaultDepth), publishTS, latency))

	metrics.SubmissionsProcessed.WithLabelValues(string(model.StatusCanceled)).Inc()
	env.result <- SubmissionResult{OrderID: canceled.ID, Status: model.StatusCanceled, CanceledOrder: canceled}
	close(env.result)
}

func (e *Engine) dispatchSnapshot(env *envelope) {
	snaps := make([]book.Snapshot, 0, len(e.books))
	for _, ob := range e.books {
		snaps = append(snaps, ob.TakeSnapshot(e.lastIngestTS+1))
	}
	start := time.Now()
	err := snapshot.WriteAtomic(e.snapshotPath, snaps)
	metrics.SnapshotWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotIOFailures.Inc()
		e.logger.Error("snapshot write failed", zap.Error(err), zap.String("path", e.snapshotPath))
	} else {
		e.logger.Info("snapshot written", zap.String("path", e.snapshotPath), zap.Int("books", len(snaps)))
	}
	if env.result != nil {
		env.result <- SubmissionResult{Err: err}
		close(env.result)
	}
}

// fatal handles an invariant violation (e.g. a crossed book) per spec
// §7: the engine snapshots what it can and exits non-zero. This is
// the one place the engine terminates the process itself, since a
// book invariant violation means no further dispatch can be trusted.
func (e *Engine) fatal(err error) {
	e.logger.Error("fatal invariant violation, snapshotting and halting", zap.Error(err))
	e.dispatchSnapshot(&envelope{})
	os.Exit(1)
}

func (e *Engine) reject(env *envelope, err *apierrors.Error) {
	metrics.SubmissionsProcessed.WithLabelValues(string(err.Kind)).Inc()
	orderID := env.orderID
	if env.kind == kindCancel {
		orderID = env.cancel.OrderID
	}
	env.result <- SubmissionResult{OrderID: orderID, Err: err}
	close(env.result)
}

// validateSubmit applies the structural/tick checks spec §7 names
// under REJECTED_VALIDATION that need instrument context (unknown
// instrument is checked by the caller before this runs). The
// transport layer's go-playground/validator pass (transport/validate.go)
// catches malformed wire structs before they even reach Submit; this
// is the engine's own backstop so REJECTED_VALIDATION holds regardless
// of which transport adapter is in front of it.
func validateSubmit(req *SubmitRequest, ic config.InstrumentConfig) *apierrors.Error {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return apierrors.New(apierrors.KindRejectedValidation, "quantity must be positive, got %s", req.Quantity)
	}
	if !ic.LotSize.IsZero() && !req.Quantity.Mod(ic.LotSize).IsZero() {
		return apierrors.New(apierrors.KindRejectedValidation, "quantity %s is not a multiple of lot size %s", req.Quantity, ic.LotSize)
	}
	switch req.Type {
	case model.OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return apierrors.New(apierrors.KindRejectedValidation, "LIMIT order requires a positive price")
		}
		if !ic.TickSize.IsZero() && !req.Price.Mod(ic.TickSize).IsZero() {
			return apierrors.New(apierrors.KindRejectedValidation, "price %s is not a multiple of tick size %s", req.Price, ic.TickSize)
		}
	case model.OrderTypeMarket:
		if req.TimeInForce != "" && req.TimeInForce != model.TimeInForceIOC {
			return apierrors.New(apierrors.KindRejectedValidation, "MARKET orders must use IOC, got %s", req.TimeInForce)
		}
		req.TimeInForce = model.TimeInForceIOC
	default:
		return apierrors.New(apierrors.KindRejectedValidation, "unknown order type %q", req.Type)
	}
	switch req.TimeInForce {
	case model.TimeInForceGTC, model.TimeInForceIOC, model.TimeInForceFOK:
	default:
		return apierrors.New(apierrors.KindRejectedValidation, "unknown time in force %q", req.TimeInForce)
	}
	switch req.Side {
	case model.SideBuy, model.SideSell:
	default:
		return apierrors.New(apierrors.KindRejectedValidation, "unknown side %q", req.Side)
	}
	return nil
}
