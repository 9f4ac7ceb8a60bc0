package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists terminal per-leg order results.
type OrderStore interface {
	Create(ctx context.Context, pair string, res OrderResult) error
	GetByID(ctx context.Context, orderID string) (OrderResult, error)
	ListByPair(ctx context.Context, pair string, opts ListOpts) ([]OrderResult, error)
}

// PositionStore persists pair positions.
type PositionStore interface {
	Create(ctx context.Context, pos PairPosition) error
	Close(ctx context.Context, id string, closedAt time.Time) error
	GetOpen(ctx context.Context) ([]PairPosition, error)
	GetByID(ctx context.Context, id string) (PairPosition, error)
}

// CandleStore persists OHLC history used by the risk model.
type CandleStore interface {
	InsertBatch(ctx context.Context, candles []Candle) error
	ListRecent(ctx context.Context, instrument string, limit int) ([]Candle, error)
}
