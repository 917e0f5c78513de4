package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/orbitcex/matchcore/internal/orderbookcore/engine"
	"github.com/orbitcex/matchcore/internal/orderbookcore/events"
	"github.com/orbitcex/matchcore/pkg/apierrors"
)

const (
	readLimit      = 4096
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 256
	submitTimeout  = 5 * time.Second
)

// Server is a gorilla/websocket front for the three logical channels
// spec §6 "Wire transport" names: order submission, market data, and
// trade feed, all multiplexed over one frame-per-message connection
// carrying the self-describing events.Frame envelope. Grounded on
// internal/ws.Hub's register/unregister/readPump/writePump shape,
// collapsed to a single connection-scoped shard since this core
// expects a modest connection count compared to the teacher's public
// market-data fanout.
type Server struct {
	eng      *engine.Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer builds a Server fronting eng. CheckOrigin is left
// permissive, same as the teacher's Hub, since this core has no
// browser-facing deployment story of its own.
func NewServer(eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		eng: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// conn is one accepted websocket connection: a SUBMIT/CANCEL intake
// reader plus a fan-out writer for this connection's own TRADE_REPORT
// and L2_UPDATE subscriptions.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	server *Server

	ctx    context.Context
	cancel context.CancelFunc

	tradeSubID int
	trades     <-chan events.TradeReport
	bookSubID  int
	bookUpd    <-chan events.L2Update
}

// ServeWS upgrades r and registers the resulting connection against
// eng's trade and book-update broadcasters, mirroring Hub.ServeWS.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	tradeSubID, trades := s.eng.Trades(64)
	bookSubID, bookUpd := s.eng.BookUpdates(64)
	ctx, cancel := context.WithCancel(context.Background())

	c := &conn{
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		server:     s,
		ctx:        ctx,
		cancel:     cancel,
		tradeSubID: tradeSubID,
		trades:     trades,
		bookSubID:  bookSubID,
		bookUpd:    bookUpd,
	}

	go c.fanoutPump()
	go c.writePump()
	c.readPump()
}

// readPump blocks the calling goroutine decoding inbound SUBMIT/CANCEL
// frames, per spec §6: "Exactly one SUBMIT or CANCEL per inbound
// frame." Runs until the connection errors or closes, then tears the
// connection's subscriptions and writer down.
func (c *conn) readPump() {
	defer c.close()
	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := events.DecodeFrame(data)
		if err != nil {
			c.writeError("", apierrors.New(apierrors.KindRejectedValidation, "malformed frame: %v", err))
			continue
		}
		c.dispatchInbound(frame)
	}
}

func (c *conn) dispatchInbound(frame events.Frame) {
	switch frame.Type {
	case events.FrameTypeSubmit:
		var f SubmitFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			c.writeError(events.FrameTypeSubmit, apierrors.New(apierrors.KindRejectedValidation, "malformed SUBMIT payload: %v", err))
			return
		}
		req, verr := ValidateSubmitFrame(f)
		if verr != nil {
			c.writeError(events.FrameTypeSubmit, verr)
			return
		}
		c.submit(req)
	case events.FrameTypeCancel:
		var f CancelFrame
		if err := json.Unmarshal(frame.Payload, &f); err != nil {
			c.writeError(events.FrameTypeCancel, apierrors.New(apierrors.KindRejectedValidation, "malformed CANCEL payload: %v", err))
			return
		}
		req, verr := ValidateCancelFrame(f)
		if verr != nil {
			c.writeError(events.FrameTypeCancel, verr)
			return
		}
		c.cancelOrder(req)
	default:
		c.writeError(frame.Type, apierrors.New(apierrors.KindRejectedValidation, "unknown frame type %q", frame.Type))
	}
}

// submit enqueues req and, once the engine loop has dispatched it,
// pushes an ACK frame carrying the resolved status down the
// connection. No frame is sent at enqueue time; the ack is resolved in
// its own goroutine so a slow-to-resolve submission never blocks
// readPump from decoding the next inbound frame.
func (c *conn) submit(req engine.SubmitRequest) {
	ctx, cancel := context.WithTimeout(c.ctx, submitTimeout)
	ack, err := c.server.eng.Submit(ctx, req)
	cancel()
	if err != nil {
		c.writeError(events.FrameTypeSubmit, err.(*apierrors.Error))
		return
	}
	go func() {
		res := ack.Result()
		c.writeResult(events.FrameTypeSubmit, res)
	}()
}

func (c *conn) cancelOrder(req engine.CancelRequest) {
	ctx, cancel := context.WithTimeout(c.ctx, submitTimeout)
	ack, err := c.server.eng.Cancel(ctx, req)
	cancel()
	if err != nil {
		c.writeError(events.FrameTypeCancel, err.(*apierrors.Error))
		return
	}
	go func() {
		res := ack.Result()
		c.writeResult(events.FrameTypeCancel, res)
	}()
}

func (c *conn) writeResult(requestType string, res engine.SubmissionResult) {
	ack := AckFrame{
		OrderID: res.OrderID,
		Status:  string(res.Status),
	}
	if res.Err != nil {
		if apiErr, ok := res.Err.(*apierrors.Error); ok {
			ack.Error = apiErr.Problem("")
		} else {
			ack.Error = &apierrors.ProblemDetails{Title: res.Err.Error()}
		}
	}
	data, err := events.EncodeFrame(events.FrameTypeAck, ack)
	if err != nil {
		c.server.logger.Error("encode ack frame", zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *conn) writeError(requestType string, apiErr *apierrors.Error) {
	data, err := events.EncodeFrame(events.FrameTypeAck, AckFrame{Error: apiErr.Problem("")})
	if err != nil {
		c.server.logger.Error("encode error frame", zap.Error(err))
		return
	}
	c.enqueue(data)
}

func (c *conn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.server.logger.Warn("dropping frame to slow websocket client")
	}
}

// fanoutPump relays this connection's trade and book-update
// subscriptions onto the shared send channel, keeping egress channel
// ordering per channel (spec §6: "Egress frames are monotonically
// ordered per channel") by encoding and enqueueing each event as soon
// as it's published rather than batching.
func (c *conn) fanoutPump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case tr, ok := <-c.trades:
			if !ok {
				return
			}
			data, err := events.EncodeFrame(events.FrameTypeTradeReport, tr)
			if err != nil {
				continue
			}
			c.enqueue(data)
		case lu, ok := <-c.bookUpd:
			if !ok {
				return
			}
			data, err := events.EncodeFrame(events.FrameTypeL2Update, lu)
			if err != nil {
				continue
			}
			c.enqueue(data)
		}
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings, mirroring Client.writePump.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// close tears down this connection's engine subscriptions and stops
// its writer/fanout pumps.
func (c *conn) close() {
	c.server.eng.UnsubscribeTrades(c.tradeSubID)
	c.server.eng.UnsubscribeBookUpdates(c.bookSubID)
	c.cancel()
	close(c.send)
}
