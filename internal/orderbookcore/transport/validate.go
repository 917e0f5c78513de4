// Package transport adapts the engine's SUBMIT/CANCEL/TRADE_REPORT/
// L2_UPDATE vocabulary onto wire transports. validate.go is the first
// line of defense: it runs go-playground/validator struct tags over
// the decoded wire frame before any of it reaches the engine, the way
// JhonesBR-go-clob's internal/helper.ValidateInput runs validator.New()
// over a decoded request body ahead of the handler.
package transport

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/orbitcex/matchcore/internal/orderbookcore/engine"
	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/orbitcex/matchcore/pkg/apierrors"
)

var validate = validator.New()

// SubmitFrame is the wire shape of a SUBMIT frame's payload, per spec
// §6 "Intake message (SUBMIT)". Price/Quantity travel as decimal
// strings on the wire so the frame codec never loses precision to a
// float64 round trip.
type SubmitFrame struct {
	ClientOrderID string `json:"client_order_id" validate:"required"`
	Instrument    string `json:"instrument" validate:"required"`
	Side          string `json:"side" validate:"required,oneof=BUY SELL"`
	Type          string `json:"type" validate:"required,oneof=LIMIT MARKET"`
	TimeInForce   string `json:"tif" validate:"omitempty,oneof=GTC IOC FOK"`
	Price         string `json:"price" validate:"omitempty"`
	Quantity      string `json:"quantity" validate:"required"`
	ClientID      string `json:"client_id"`
}

// CancelFrame is the wire shape of a CANCEL frame's payload.
type CancelFrame struct {
	OrderID uint64 `json:"order_id" validate:"required"`
}

// AckFrame is the payload of an ACK frame: the acknowledgement of a
// SUBMIT or CANCEL, carrying either the resolved status or an error
// Problem Details body. Not named by spec.md. The websocket adapter
// sends one ACK per request, once the engine loop has dispatched the
// item (or at once if the frame is rejected before reaching the
// engine); no separate ACCEPTED frame is sent at enqueue time.
type AckFrame struct {
	OrderID uint64                    `json:"order_id,omitempty"`
	Status  string                    `json:"status,omitempty"`
	Error   *apierrors.ProblemDetails `json:"error,omitempty"`
}

// ValidateSubmitFrame runs struct-tag validation over f and, if it
// passes, parses its decimal strings and returns the engine-facing
// engine.SubmitRequest. Tag failures and decimal parse failures both
// surface as REJECTED_VALIDATION, mirroring apiutil.Validator's
// field-error aggregation but narrowed to this core's single error
// kind rather than a per-field list.
func ValidateSubmitFrame(f SubmitFrame) (engine.SubmitRequest, *apierrors.Error) {
	if err := validate.Struct(f); err != nil {
		return engine.SubmitRequest{}, apierrors.New(apierrors.KindRejectedValidation, "%s", formatValidationError(err))
	}

	quantity, err := decimal.NewFromString(f.Quantity)
	if err != nil {
		return engine.SubmitRequest{}, apierrors.New(apierrors.KindRejectedValidation, "quantity %q is not a valid decimal", f.Quantity)
	}

	var price decimal.Decimal
	if strings.TrimSpace(f.Price) != "" {
		price, err = decimal.NewFromString(f.Price)
		if err != nil {
			return engine.SubmitRequest{}, apierrors.New(apierrors.KindRejectedValidation, "price %q is not a valid decimal", f.Price)
		}
	}

	return engine.SubmitRequest{
		ClientOrderID: f.ClientOrderID,
		Instrument:    f.Instrument,
		Side:          model.Side(f.Side),
		Type:          model.OrderType(f.Type),
		TimeInForce:   model.TimeInForce(f.TimeInForce),
		Price:         price,
		Quantity:      quantity,
		ClientID:      f.ClientID,
	}, nil
}

// ValidateCancelFrame runs struct-tag validation over f and returns
// the engine-facing engine.CancelRequest.
func ValidateCancelFrame(f CancelFrame) (engine.CancelRequest, *apierrors.Error) {
	if err := validate.Struct(f); err != nil {
		return engine.CancelRequest{}, apierrors.New(apierrors.KindRejectedValidation, "%s", formatValidationError(err))
	}
	return engine.CancelRequest{OrderID: f.OrderID}, nil
}

// formatValidationError collapses a validator.ValidationErrors into a
// single comma-joined message, one "field: tag" pair per failing
// field — good enough for a log line or a Problem Details Detail, far
// short of the per-field structure apiutil.Validator builds for an API
// response body, which this core has no use for since it never serves
// HTTP itself.
func formatValidationError(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
