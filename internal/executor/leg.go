package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// legState names the stages a single leg moves through. Each attempt walks
// New -> RouteDecision -> Submitted -> Polling and ends Filled, TimedOut
// (cancel then retry), or Failed.
type legState string

const (
	legStateNew           legState = "NEW"
	legStateRouteDecision legState = "ROUTE_DECISION"
	legStateSubmitted     legState = "SUBMITTED"
	legStatePolling       legState = "POLLING"
	legStateFilled        legState = "FILLED"
	legStateTimedOut      legState = "TIMED_OUT"
	legStateCancelled     legState = "CANCELLED"
	legStateFailed        legState = "FAILED"
)

// legRequest is one side of a pairs trade before routing.
type legRequest struct {
	Instrument string
	Side       domain.OrderSide
	Quantity   float64
	Price      float64 // reference price for routing and slippage
}

// executeLeg drives one leg to a terminal OrderResult. It retries submission
// and fill-timeout up to the configured attempt count with a fixed backoff,
// re-routing each attempt against the then-current book. A leg that exhausts
// its attempts comes back Failed with a *domain.ExecutionFailure wrapping the
// last attempt's error, so the sibling's outcome can still be judged at the
// join barrier.
func (e *Engine) executeLeg(ctx context.Context, leg legRequest) (domain.OrderResult, error) {
	result := domain.OrderResult{
		Instrument: leg.Instrument,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Price:      leg.Price,
		Status:     domain.OrderStatusFailed,
	}
	log := e.logger.With(
		slog.String("instrument", leg.Instrument),
		slog.String("side", string(leg.Side)),
	)

	if err := e.ValidateOrderParameters(ctx, leg.Instrument, leg.Quantity, leg.Price); err != nil {
		log.Error("order validation failed", slog.String("error", err.Error()))
		result.Timestamp = time.Now().UTC()
		return result, &domain.ExecutionFailure{Instrument: leg.Instrument, Last: err}
	}

	var lastErr error
	state := legStateNew
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		result.Attempts = attempt
		if attempt > 1 {
			if !sleepCtx(ctx, e.cfg.RetryBackoff) {
				lastErr = ctx.Err()
				break
			}
		}

		state = transition(log, state, legStateRouteDecision)
		req := e.routeOrder(ctx, leg)

		orderID, err := e.client.CreateOrder(ctx, req)
		if err != nil {
			lastErr = err
			log.Warn("order submission failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		state = transition(log, state, legStateSubmitted)
		result.OrderID = orderID
		log.Info("leg submitted",
			slog.String("order_id", orderID),
			slog.String("type", string(req.Type)),
			slog.Int("attempt", attempt),
		)

		state = transition(log, state, legStatePolling)
		order, outcome := e.pollOrder(ctx, leg.Instrument, orderID)
		switch outcome {
		case legStateFilled:
			transition(log, state, legStateFilled)
			result.Status = domain.OrderStatusFilled
			result.FilledQuantity = order.ExecutedQty
			result.AvgPrice = order.AvgPrice
			result.Fees = order.Fees
			result.Timestamp = time.Now().UTC()
			log.Info("leg filled",
				slog.String("order_id", orderID),
				slog.Float64("avg_price", order.AvgPrice),
				slog.Int("attempt", attempt),
			)
			return result, nil
		case legStateTimedOut:
			state = transition(log, state, legStateTimedOut)
			if err := e.client.CancelOrder(ctx, leg.Instrument, orderID); err != nil {
				log.Error("cancel after timeout failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
			} else {
				state = transition(log, state, legStateCancelled)
			}
			lastErr = fmt.Errorf("order %s not filled within %s", orderID, e.cfg.OrderTimeout)
			log.Warn("leg timed out, retrying",
				slog.String("order_id", orderID),
				slog.Int("attempt", attempt),
			)
		case legStateFailed:
			lastErr = fmt.Errorf("order %s rejected by venue: %s", orderID, order.Status)
			log.Warn("leg rejected by venue",
				slog.String("order_id", orderID),
				slog.String("venue_status", order.Status),
				slog.Int("attempt", attempt),
			)
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	transition(log, state, legStateFailed)
	result.Status = domain.OrderStatusFailed
	result.Timestamp = time.Now().UTC()
	log.Error("leg failed after all attempts", slog.Int("attempts", result.Attempts))
	return result, &domain.ExecutionFailure{
		Instrument: leg.Instrument,
		Attempts:   result.Attempts,
		Last:       lastErr,
	}
}

func transition(log *slog.Logger, from, to legState) legState {
	log.Debug("leg state",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return to
}

// pollOrder watches a submitted order until it fills, the venue kills it, or
// the per-attempt timeout elapses.
func (e *Engine) pollOrder(ctx context.Context, instrument, orderID string) (domain.ExchangeOrder, legState) {
	deadline := time.NewTimer(e.cfg.OrderTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var last domain.ExchangeOrder
	for {
		select {
		case <-ctx.Done():
			return last, legStateTimedOut
		case <-deadline.C:
			return last, legStateTimedOut
		case <-ticker.C:
			order, err := e.client.GetOrder(ctx, instrument, orderID)
			if err != nil {
				e.logger.Warn("order poll failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			last = order
			switch order.Status {
			case domain.ExchangeStatusFilled:
				return order, legStateFilled
			case domain.ExchangeStatusCanceled, domain.ExchangeStatusRejected:
				return order, legStateFailed
			}
		}
	}
}

// routeOrder picks market versus limit for a leg. If filling the full size
// against the live book would slip no more than the configured threshold the
// order goes out as a market order; otherwise it rests as a GTC limit at the
// slippage bound, nudged to at least one tick through the opposing touch so
// a marketable book still fills it immediately.
func (e *Engine) routeOrder(ctx context.Context, leg legRequest) domain.OrderRequest {
	req := domain.OrderRequest{
		Instrument: leg.Instrument,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Type:       domain.OrderTypeMarket,
	}

	slip, err := e.books.EstimateSlippage(leg.Instrument, leg.Side, leg.Quantity)
	if err == nil && abs(slip) <= e.cfg.MaxSlippage {
		return req
	}

	// Thin, missing, or wide book: protective limit at the slippage bound.
	req.Type = domain.OrderTypeLimit
	req.TimeInForce = domain.TimeInForceGTC

	tickSize := 0.0
	if info, infoErr := e.instrumentRules(ctx, leg.Instrument); infoErr == nil {
		tickSize = info.TickSize
	}

	bestBid, bestAsk, priceErr := e.books.BestPrices(leg.Instrument)
	if leg.Side == domain.OrderSideBuy {
		limit := leg.Price * (1 + e.cfg.MaxSlippage)
		if priceErr == nil && bestAsk > 0 && limit < bestAsk+tickSize {
			limit = bestAsk + tickSize
		}
		req.Price = limit
	} else {
		limit := leg.Price * (1 - e.cfg.MaxSlippage)
		if priceErr == nil && bestBid > 0 && limit > bestBid-tickSize {
			limit = bestBid - tickSize
		}
		req.Price = limit
	}
	return req
}

// sleepCtx pauses for d unless the context ends first. Returns false when
// the context won.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
