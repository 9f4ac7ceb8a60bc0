// Package executor places and monitors the two legs of a pairs trade
// against the exchange, with smart order routing, bounded retries, and
// best-effort compensation on partial failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// Config holds the execution tuning parameters.
type Config struct {
	MaxSlippage   float64       // routing threshold, e.g. 0.001 = 10 bps
	OrderTimeout  time.Duration // per-attempt fill deadline
	PollInterval  time.Duration // order status poll cadence
	RetryAttempts int
	RetryBackoff  time.Duration // fixed pause between attempts
}

func (c Config) withDefaults() Config {
	if c.MaxSlippage <= 0 {
		c.MaxSlippage = 0.001
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Result is the outcome of a pairs execution: both leg results and the
// overall verdict. Success requires every leg filled at full quantity; when
// it is false, Err carries the terminal error of each failed leg, a
// *domain.ExecutionFailure per leg.
type Result struct {
	ExecutionID string
	Pair        string
	Success     bool
	Orders      []domain.OrderResult
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Engine executes pairs trades through an injected exchange client,
// consulting the live books for routing decisions.
type Engine struct {
	client domain.ExchangeClient
	books  *book.Store
	cfg    Config
	logger *slog.Logger

	instrumentMu   sync.Mutex
	instrumentInfo map[string]domain.InstrumentInfo
}

// New creates an Engine. The exchange client is a required capability; the
// book store supplies routing and slippage inputs.
func New(client domain.ExchangeClient, books *book.Store, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		client:         client,
		books:          books,
		cfg:            cfg.withDefaults(),
		logger:         logger.With(slog.String("component", "executor")),
		instrumentInfo: make(map[string]domain.InstrumentInfo),
	}
}

// ExecutePairsTrade submits both legs concurrently and waits for both to
// reach a terminal state before judging the trade. A failed leg never
// preempts its sibling; an abandoned resting order is worse than a finished
// one. On partial success the unfilled leg's order is cancelled best-effort.
//
// For a long trade the first asset is sold and the second bought; short is
// the mirror image. Sizes are absolute quantities per asset.
func (e *Engine) ExecutePairsTrade(
	ctx context.Context,
	pair string,
	direction domain.Direction,
	sizes map[string]float64,
	prices map[string]float64,
) Result {
	res := Result{
		ExecutionID: uuid.New().String(),
		Pair:        pair,
		StartedAt:   time.Now().UTC(),
	}

	asset1, asset2, ok := splitPair(pair)
	if !ok {
		e.logger.Error("malformed pair id", slog.String("pair", pair))
		res.Err = &domain.ValidationError{Instrument: pair, Field: "pair", Reason: "want ASSET1_ASSET2"}
		res.CompletedAt = time.Now().UTC()
		return res
	}

	side1 := domain.OrderSideSell
	if direction == domain.DirectionShort {
		side1 = domain.OrderSideBuy
	}
	side2 := side1.Opposite()

	legs := []legRequest{
		{Instrument: asset1, Side: side1, Quantity: math.Abs(sizes[asset1]), Price: prices[asset1]},
		{Instrument: asset2, Side: side2, Quantity: math.Abs(sizes[asset2]), Price: prices[asset2]},
	}

	res.Orders, res.Err = e.runLegs(ctx, legs)
	res.Success = allFilled(res.Orders)
	res.CompletedAt = time.Now().UTC()

	if !res.Success {
		e.cancelUnfilled(ctx, res.Orders)
	}

	e.logger.Info("pairs trade completed",
		slog.String("execution_id", res.ExecutionID),
		slog.String("pair", pair),
		slog.String("direction", string(direction)),
		slog.Bool("success", res.Success),
	)
	return res
}

// ClosePosition flattens both legs of an open position. Each leg trades the
// opposite of its held exposure at the current touch price.
func (e *Engine) ClosePosition(ctx context.Context, pos domain.PairPosition) Result {
	res := Result{
		ExecutionID: uuid.New().String(),
		Pair:        pos.Pair,
		StartedAt:   time.Now().UTC(),
	}

	legs := make([]legRequest, 0, len(pos.Exposures))
	for instrument, exposure := range pos.Exposures {
		if exposure == 0 {
			continue
		}
		side := domain.OrderSideSell
		if exposure < 0 {
			side = domain.OrderSideBuy
		}
		price, err := e.touchPrice(instrument, side)
		if err != nil {
			e.logger.Error("no reference price to close leg",
				slog.String("instrument", instrument),
				slog.String("error", err.Error()),
			)
			res.Err = err
			res.CompletedAt = time.Now().UTC()
			return res
		}
		legs = append(legs, legRequest{
			Instrument: instrument,
			Side:       side,
			Quantity:   math.Abs(exposure),
			Price:      price,
		})
	}

	res.Orders, res.Err = e.runLegs(ctx, legs)
	res.Success = allFilled(res.Orders)
	res.CompletedAt = time.Now().UTC()

	if !res.Success {
		e.cancelUnfilled(ctx, res.Orders)
	}
	return res
}

// runLegs executes all legs concurrently and joins on every one of them.
// A plain errgroup (no WithContext) keeps one leg's failure from cancelling
// the sibling; leg errors are collected per slot and joined only after every
// leg has reached a terminal state.
func (e *Engine) runLegs(ctx context.Context, legs []legRequest) ([]domain.OrderResult, error) {
	results := make([]domain.OrderResult, len(legs))
	legErrs := make([]error, len(legs))

	var g errgroup.Group
	for i, leg := range legs {
		g.Go(func() error {
			results[i], legErrs[i] = e.executeLeg(ctx, leg)
			return nil
		})
	}
	_ = g.Wait() // join barrier; errors surface through legErrs

	return results, errors.Join(legErrs...)
}

// cancelUnfilled issues a best-effort cancel for every non-filled leg that
// has a resting order id. Cancellation failures are logged, not escalated:
// the caller is guaranteed an attempt, not a flat book.
func (e *Engine) cancelUnfilled(ctx context.Context, orders []domain.OrderResult) {
	for _, o := range orders {
		if o.Filled() || o.OrderID == "" {
			continue
		}
		if err := e.client.CancelOrder(ctx, o.Instrument, o.OrderID); err != nil {
			e.logger.Error("cleanup cancel failed",
				slog.String("instrument", o.Instrument),
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Info("cancelled unfilled sibling leg",
				slog.String("instrument", o.Instrument),
				slog.String("order_id", o.OrderID),
			)
		}
	}
}

// MonitorOrders batch-polls the current venue status of the given orders.
// A lookup failure is reported in that order's entry, never returned.
func (e *Engine) MonitorOrders(ctx context.Context, orders []domain.OrderResult) map[string]domain.OrderUpdate {
	updates := make(map[string]domain.OrderUpdate, len(orders))
	for _, o := range orders {
		status, err := e.client.GetOrder(ctx, o.Instrument, o.OrderID)
		if err != nil {
			e.logger.Error("order status lookup failed",
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
			updates[o.OrderID] = domain.OrderUpdate{
				OrderID:    o.OrderID,
				Instrument: o.Instrument,
				Status:     "ERROR",
				Err:        err.Error(),
			}
			continue
		}
		updates[o.OrderID] = domain.OrderUpdate{
			OrderID:        o.OrderID,
			Instrument:     o.Instrument,
			Status:         status.Status,
			FilledQuantity: status.ExecutedQty,
			AvgPrice:       status.AvgPrice,
			Fees:           status.Fees,
		}
	}
	return updates
}

// touchPrice returns the price a marketable order of the given side would
// first trade at: best ask for buys, best bid for sells.
func (e *Engine) touchPrice(instrument string, side domain.OrderSide) (float64, error) {
	bestBid, bestAsk, err := e.books.BestPrices(instrument)
	if err != nil {
		return 0, err
	}
	if side == domain.OrderSideBuy {
		if bestAsk == 0 {
			return 0, fmt.Errorf("executor: %s: %w", instrument, domain.ErrNoLiquidity)
		}
		return bestAsk, nil
	}
	if bestBid == 0 {
		return 0, fmt.Errorf("executor: %s: %w", instrument, domain.ErrNoLiquidity)
	}
	return bestBid, nil
}

// instrumentRules returns venue trading rules, cached after the first fetch.
func (e *Engine) instrumentRules(ctx context.Context, instrument string) (domain.InstrumentInfo, error) {
	e.instrumentMu.Lock()
	info, ok := e.instrumentInfo[instrument]
	e.instrumentMu.Unlock()
	if ok {
		return info, nil
	}

	info, err := e.client.GetInstrumentInfo(ctx, instrument)
	if err != nil {
		return domain.InstrumentInfo{}, fmt.Errorf("executor: instrument info %s: %w", instrument, err)
	}

	e.instrumentMu.Lock()
	e.instrumentInfo[instrument] = info
	e.instrumentMu.Unlock()
	return info, nil
}

func allFilled(orders []domain.OrderResult) bool {
	if len(orders) == 0 {
		return false
	}
	for _, o := range orders {
		if !o.Filled() {
			return false
		}
	}
	return true
}

func splitPair(pair string) (string, string, bool) {
	sig := domain.PairSignal{Pair: pair}
	return sig.Assets()
}
