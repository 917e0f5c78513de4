package transport

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcex/matchcore/internal/orderbookcore/model"
	"github.com/orbitcex/matchcore/pkg/apierrors"
)

func TestValidateSubmitFrame_ValidLimitOrder(t *testing.T) {
	req, apiErr := ValidateSubmitFrame(SubmitFrame{
		ClientOrderID: "abc-1",
		Instrument:    "BTC-USD",
		Side:          "BUY",
		Type:          "LIMIT",
		TimeInForce:   "GTC",
		Price:         "100.50",
		Quantity:      "1.25",
		ClientID:      "client-1",
	})
	require.Nil(t, apiErr)
	assert.Equal(t, model.Side("BUY"), req.Side)
	assert.Equal(t, model.OrderType("LIMIT"), req.Type)
	assert.True(t, req.Price.Equal(mustDecimal(t, "100.50")))
	assert.True(t, req.Quantity.Equal(mustDecimal(t, "1.25")))
}

func TestValidateSubmitFrame_MarketOrderOmitsPrice(t *testing.T) {
	req, apiErr := ValidateSubmitFrame(SubmitFrame{
		ClientOrderID: "abc-2",
		Instrument:    "BTC-USD",
		Side:          "SELL",
		Type:          "MARKET",
		Quantity:      "2",
	})
	require.Nil(t, apiErr)
	assert.True(t, req.Price.IsZero())
}

func TestValidateSubmitFrame_MissingRequiredFieldRejected(t *testing.T) {
	_, apiErr := ValidateSubmitFrame(SubmitFrame{
		Instrument: "BTC-USD",
		Side:       "BUY",
		Type:       "LIMIT",
		Price:      "100",
		Quantity:   "1",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestValidateSubmitFrame_BadSideRejected(t *testing.T) {
	_, apiErr := ValidateSubmitFrame(SubmitFrame{
		ClientOrderID: "abc-3",
		Instrument:    "BTC-USD",
		Side:          "SIDEWAYS",
		Type:          "LIMIT",
		Price:         "100",
		Quantity:      "1",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestValidateSubmitFrame_BadTimeInForceRejected(t *testing.T) {
	_, apiErr := ValidateSubmitFrame(SubmitFrame{
		ClientOrderID: "abc-4",
		Instrument:    "BTC-USD",
		Side:          "BUY",
		Type:          "LIMIT",
		TimeInForce:   "DAY",
		Price:         "100",
		Quantity:      "1",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestValidateSubmitFrame_NonDecimalQuantityRejected(t *testing.T) {
	_, apiErr := ValidateSubmitFrame(SubmitFrame{
		ClientOrderID: "abc-5",
		Instrument:    "BTC-USD",
		Side:          "BUY",
		Type:          "LIMIT",
		Price:         "100",
		Quantity:      "not-a-number",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func TestValidateCancelFrame_ValidOrderID(t *testing.T) {
	req, apiErr := ValidateCancelFrame(CancelFrame{OrderID: 42})
	require.Nil(t, apiErr)
	assert.Equal(t, uint64(42), req.OrderID)
}

func TestValidateCancelFrame_ZeroOrderIDRejected(t *testing.T) {
	_, apiErr := ValidateCancelFrame(CancelFrame{OrderID: 0})
	require.NotNil(t, apiErr)
	assert.Equal(t, apierrors.KindRejectedValidation, apiErr.Kind)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
