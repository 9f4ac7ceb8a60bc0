package domain

import "time"

// PositionStatus tracks whether a pair position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PairPosition is one open pairs trade: two legs held against each other.
// Exposures are signed per asset (positive = long inventory). Created when
// both legs confirm filled, removed when both legs confirm closed.
type PairPosition struct {
	ID          string
	Pair        string
	Direction   Direction
	Exposures   map[string]float64
	EntryPrices map[string]float64
	EntrySignal float64 // signal strength (z-score) at entry
	Status      PositionStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// GrossExposure returns the sum of absolute per-asset exposure.
func (p PairPosition) GrossExposure() float64 {
	var total float64
	for _, e := range p.Exposures {
		if e < 0 {
			total -= e
		} else {
			total += e
		}
	}
	return total
}
