package executor

import (
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// Metrics summarizes the quality of a finished execution: how far fills
// deviated from their reference prices, what the venue charged, and how long
// the whole trade took end to end.
type Metrics struct {
	TotalSlippage float64 // mean absolute relative slippage across filled legs
	TotalFees     float64
	AvgFillRate   float64 // mean filled/requested across filled legs
	ExecutionTime time.Duration
}

// ComputeMetrics aggregates over the filled legs only; failed legs carry no
// fill information to average. ExecutionTime spans the earliest to the
// latest leg timestamp regardless of outcome.
func ComputeMetrics(orders []domain.OrderResult) Metrics {
	var m Metrics
	if len(orders) == 0 {
		return m
	}

	var (
		slippageSum float64
		fillRateSum float64
		filled      int
		earliest    time.Time
		latest      time.Time
	)
	for _, o := range orders {
		if !o.Timestamp.IsZero() {
			if earliest.IsZero() || o.Timestamp.Before(earliest) {
				earliest = o.Timestamp
			}
			if o.Timestamp.After(latest) {
				latest = o.Timestamp
			}
		}
		if o.Status != domain.OrderStatusFilled {
			continue
		}
		filled++
		m.TotalFees += o.Fees
		if o.Price > 0 {
			slippageSum += abs((o.AvgPrice - o.Price) / o.Price)
		}
		if o.Quantity > 0 {
			fillRateSum += o.FilledQuantity / o.Quantity
		}
	}

	if filled > 0 {
		m.TotalSlippage = slippageSum / float64(filled)
		m.AvgFillRate = fillRateSum / float64(filled)
	}
	if !earliest.IsZero() {
		m.ExecutionTime = latest.Sub(earliest)
	}
	return m
}
