package domain

import "time"

// Candle is one OHLC bar from the price-history collaborator.
type Candle struct {
	Instrument string
	OpenTime   time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// PriceHistory maps instrument to its candle series, oldest first.
type PriceHistory map[string][]Candle

// Closes extracts the close series for an instrument, oldest first.
func (h PriceHistory) Closes(instrument string) []float64 {
	candles := h[instrument]
	if len(candles) == 0 {
		return nil
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
