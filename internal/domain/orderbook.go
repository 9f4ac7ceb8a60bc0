package domain

import "time"

// PriceLevel is a single price+quantity entry on one side of a book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// BookUpdate is one message from the depth feed. The first message per
// instrument must be a snapshot; later messages are incremental diffs where
// a zero quantity deletes the price level.
type BookUpdate struct {
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	IsSnapshot bool
	Sequence   int64
	Timestamp  time.Time
}

// BookSnapshot is a consistent read-only view of one instrument's book.
type BookSnapshot struct {
	Instrument string
	Bids       []PriceLevel // sorted descending by price
	Asks       []PriceLevel // sorted ascending by price
	BestBid    float64
	BestAsk    float64
	MidPrice   float64
	Sequence   int64
	Timestamp  time.Time
}
