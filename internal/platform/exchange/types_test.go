package exchange

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderResponseToDomain(t *testing.T) {
	raw := `{
		"symbol": "BTCUSDT",
		"orderId": 12345,
		"executedQty": "2.00000000",
		"cummulativeQuoteQty": "200.50000000",
		"status": "FILLED",
		"fills": [
			{"price": "100.20", "qty": "1.5", "commission": "0.10"},
			{"price": "100.30", "qty": "0.5", "commission": "0.05"}
		]
	}`
	var resp orderResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	order := resp.toDomain()
	assert.Equal(t, "12345", order.OrderID)
	assert.Equal(t, "FILLED", order.Status)
	assert.InDelta(t, 2.0, order.ExecutedQty, 1e-9)
	assert.InDelta(t, 100.25, order.AvgPrice, 1e-9)
	assert.InDelta(t, 0.15, order.Fees, 1e-9)
}

func TestOrderResponseUnfilledAvgPrice(t *testing.T) {
	order := orderResponse{ExecutedQty: "0.00000000", CummulativeQuoteQty: "0"}.toDomain()
	assert.Zero(t, order.AvgPrice)
}

func TestDepthUpdateToDomain(t *testing.T) {
	raw := `{
		"stream": "btcusdt@depth@100ms",
		"data": {
			"e": "depthUpdate",
			"E": 1756400000000,
			"s": "BTCUSDT",
			"U": 157,
			"u": 160,
			"b": [["100.00", "5"], ["99.00", "0"]],
			"a": [["101.00", "4"]]
		}
	}`
	var env streamEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	u := env.Data.toDomain()
	assert.Equal(t, "BTCUSDT", u.Instrument)
	assert.False(t, u.IsSnapshot)
	assert.Equal(t, int64(160), u.Sequence)
	require.Len(t, u.Bids, 2)
	assert.InDelta(t, 100.0, u.Bids[0].Price, 1e-9)
	assert.Zero(t, u.Bids[1].Quantity) // zero quantity deletes the level downstream
}

func TestDepthSnapshotToDomain(t *testing.T) {
	resp := depthSnapshotResponse{
		LastUpdateID: 42,
		Bids:         [][2]string{{"100.00", "5"}},
		Asks:         [][2]string{{"101.00", "4"}},
	}
	u := resp.toDomain("ETHUSDT")
	assert.True(t, u.IsSnapshot)
	assert.Equal(t, int64(42), u.Sequence)
	assert.Equal(t, "ETHUSDT", u.Instrument)
}

func TestDecimalPlaces(t *testing.T) {
	assert.Equal(t, 3, decimalPlaces("0.00100000"))
	assert.Equal(t, 2, decimalPlaces("0.01"))
	assert.Equal(t, 0, decimalPlaces("1"))
	assert.Equal(t, 0, decimalPlaces("1.000"))
}
