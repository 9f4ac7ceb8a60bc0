package exchange

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// orderResponse is the venue's order payload, shared by order placement and
// status queries. Quantities and prices arrive as decimal strings.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	Fills               []struct {
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
	} `json:"fills"`
}

// toDomain converts the venue order payload to the domain view. Average
// price comes from the cumulative quote amount; fees are summed over fills
// when the venue includes them.
func (r orderResponse) toDomain() domain.ExchangeOrder {
	executed := parseFloat(r.ExecutedQty)
	var avgPrice float64
	if executed > 0 {
		avgPrice = parseFloat(r.CummulativeQuoteQty) / executed
	}
	var fees float64
	for _, f := range r.Fills {
		fees += parseFloat(f.Commission)
	}
	return domain.ExchangeOrder{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Status:      r.Status,
		ExecutedQty: executed,
		AvgPrice:    avgPrice,
		Fees:        fees,
	}
}

// exchangeInfoResponse carries the trading rules for the queried symbols.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// depthSnapshotResponse is the REST book snapshot. Levels are
// [price, quantity] string pairs.
type depthSnapshotResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (r depthSnapshotResponse) toDomain(instrument string) domain.BookUpdate {
	return domain.BookUpdate{
		Instrument: instrument,
		Bids:       parseLevels(r.Bids),
		Asks:       parseLevels(r.Asks),
		IsSnapshot: true,
		Sequence:   r.LastUpdateID,
		Timestamp:  time.Now().UTC(),
	}
}

// depthUpdateMessage is the streaming diff event.
type depthUpdateMessage struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

func (m depthUpdateMessage) toDomain() domain.BookUpdate {
	return domain.BookUpdate{
		Instrument: m.Symbol,
		Bids:       parseLevels(m.Bids),
		Asks:       parseLevels(m.Asks),
		IsSnapshot: false,
		Sequence:   m.FinalUpdateID,
		Timestamp:  time.UnixMilli(m.EventTime).UTC(),
	}
}

// streamEnvelope wraps combined-stream payloads.
type streamEnvelope struct {
	Stream string `json:"stream"`
	Data   depthUpdateMessage `json:"data"`
}

// wsCommand is a stream subscription request.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// apiError is the venue's error body on non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func parseLevels(raw [][2]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, domain.PriceLevel{
			Price:    parseFloat(l[0]),
			Quantity: parseFloat(l[1]),
		})
	}
	return levels
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// decimalPlaces counts the significant decimal digits of a step or tick
// string such as "0.00100000".
func decimalPlaces(step string) int {
	i := strings.IndexByte(step, '.')
	if i < 0 {
		return 0
	}
	frac := strings.TrimRight(step[i+1:], "0")
	return len(frac)
}
