package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// ValidateOrderParameters checks quantity and reference price against the
// venue's trading rules before anything is submitted. A rejection here is a
// *domain.ValidationError; retrying would not change the outcome.
func (e *Engine) ValidateOrderParameters(ctx context.Context, instrument string, quantity, price float64) error {
	info, err := e.instrumentRules(ctx, instrument)
	if err != nil {
		return err
	}

	if quantity <= 0 {
		return &domain.ValidationError{
			Instrument: instrument,
			Field:      "quantity",
			Reason:     "must be positive",
		}
	}
	if quantity < info.MinQty {
		return &domain.ValidationError{
			Instrument: instrument,
			Field:      "quantity",
			Reason:     fmt.Sprintf("%v below venue minimum %v", quantity, info.MinQty),
		}
	}
	if !fitsPrecision(quantity, info.QtyPrecision) {
		return &domain.ValidationError{
			Instrument: instrument,
			Field:      "quantity",
			Reason:     fmt.Sprintf("%v exceeds %d decimal places", quantity, info.QtyPrecision),
		}
	}

	if price <= 0 {
		return &domain.ValidationError{
			Instrument: instrument,
			Field:      "price",
			Reason:     "must be positive",
		}
	}
	if !fitsPrecision(price, info.PricePrecision) {
		return &domain.ValidationError{
			Instrument: instrument,
			Field:      "price",
			Reason:     fmt.Sprintf("%v exceeds %d decimal places", price, info.PricePrecision),
		}
	}
	return nil
}

// fitsPrecision reports whether v has at most places decimal digits. The
// comparison allows for float representation noise well below half a unit in
// the last permitted place.
func fitsPrecision(v float64, places int) bool {
	if places < 0 {
		return true
	}
	scaled := v * math.Pow10(places)
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}
