package domain

import (
	"strings"
	"time"
)

// Direction of a pairs trade relative to the spread: long means the spread is
// expected to widen back up (sell asset1, buy asset2), short the reverse.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PairSignal is a trade request produced by the signal collaborator
// (z-score generator, replay harness, operator console). The execution core
// consumes these; it never produces them.
type PairSignal struct {
	ID              string
	Pair            string // "ASSET1_ASSET2"
	Direction       Direction
	Confidence      float64
	Sizes           map[string]float64 // proposed signed exposure per asset
	ReferencePrices map[string]float64
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Assets splits the pair id into its two instruments. The second return is
// false when the id is malformed.
func (s PairSignal) Assets() (string, string, bool) {
	parts := strings.SplitN(s.Pair, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
