package engine

import (
	"time"

	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/shopspring/decimal"
)

type submissionKind int

const (
	kindSubmit submissionKind = iota
	kindCancel
	kindSnapshot
	kindShutdown
)

func (k submissionKind) String() string {
	switch k {
	case kindSubmit:
		return "SUBMIT"
	case kindCancel:
		return "CANCEL"
	case kindSnapshot:
		return "SNAPSHOT"
	case kindShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// SubmitRequest is the intake shape for a SUBMIT item, per spec §6
// "Intake message (SUBMIT)".
type SubmitRequest struct {
	ClientOrderID string
	Instrument    string
	Side          model.Side
	Type          model.OrderType
	TimeInForce   model.TimeInForce
	Price         decimal.Decimal // zero value, omitted for MARKET
	Quantity      decimal.Decimal
	ClientID      string
}

// CancelRequest is the intake shape for a CANCEL item, per spec §6
// "Intake message (CANCEL)".
type CancelRequest struct {
	OrderID uint64
}

// SubmissionResult is the per-submission outcome delivered back to
// the caller through the submission's own result channel — the
// mechanism spec §7 calls "returned through the submission's event,
// not raised as engine-level failures" for REJECTED_VALIDATION,
// REJECTED_FOK, and NOT_FOUND.
type SubmissionResult struct {
	OrderID       uint64
	Status        model.Status
	Fills         []model.Fill
	CanceledOrder *model.Order
	Err           error
}

// SubmitAck is returned synchronously from Engine.Submit the moment
// the item is enqueued, supplementing engine_server.py's immediate
// {"status": "ACCEPTED", "order_id": ...} acknowledgement (spec.md
// doesn't name this frame, but original_source/ shows the pattern).
type SubmitAck struct {
	OrderID    uint64
	AcceptedAt time.Time

	result chan SubmissionResult
}

// Result blocks until the engine loop has dispatched this submission
// and returns its outcome.
func (a SubmitAck) Result() SubmissionResult {
	return <-a.result
}

// CancelAck mirrors SubmitAck for CANCEL items.
type CancelAck struct {
	OrderID    uint64
	AcceptedAt time.Time

	result chan SubmissionResult
}

// Result blocks until the engine loop has dispatched this cancel and
// returns its outcome.
func (a CancelAck) Result() SubmissionResult {
	return <-a.result
}

// envelope is the internal queue item; SubmitRequest/CancelRequest are
// the public-facing shapes, envelope is what actually travels through
// the intake channel and carries the bookkeeping the loop needs.
type envelope struct {
	kind     submissionKind
	orderID  uint64
	ingestTS int64

	submit *SubmitRequest
	cancel *CancelRequest

	result chan SubmissionResult
}
