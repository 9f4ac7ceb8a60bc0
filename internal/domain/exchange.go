package domain

import "context"

// Exchange order statuses as reported by GetOrder. These are the venue's
// words, not the domain lifecycle; the executor maps them onto OrderStatus.
const (
	ExchangeStatusNew             = "NEW"
	ExchangeStatusPartiallyFilled = "PARTIALLY_FILLED"
	ExchangeStatusFilled          = "FILLED"
	ExchangeStatusCanceled        = "CANCELED"
	ExchangeStatusRejected        = "REJECTED"
)

// ExchangeOrder is the venue-side view of an order returned by GetOrder.
type ExchangeOrder struct {
	OrderID     string
	Status      string
	ExecutedQty float64
	AvgPrice    float64
	Fees        float64
}

// InstrumentInfo holds the venue's trading rules for one instrument.
type InstrumentInfo struct {
	Instrument     string
	MinQty         float64
	QtyPrecision   int
	PricePrecision int
	TickSize       float64
}

// ExchangeClient is the injected trading capability. Implementations wrap a
// venue's REST API; tests inject an in-memory fake.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	GetOrder(ctx context.Context, instrument, orderID string) (ExchangeOrder, error)
	CancelOrder(ctx context.Context, instrument, orderID string) error
	GetInstrumentInfo(ctx context.Context, instrument string) (InstrumentInfo, error)
}

// HistoryProvider supplies OHLC candles for the risk model.
type HistoryProvider interface {
	Klines(ctx context.Context, instrument, interval string, limit int) ([]Candle, error)
}
