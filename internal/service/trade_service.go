// Package service wires the execution core to its collaborators: signals in,
// risk-gated executions out, with persistence, pub/sub, and notifications on
// the side.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pairstrader/internal/domain"
	"github.com/alanyoungcy/pairstrader/internal/executor"
	"github.com/alanyoungcy/pairstrader/internal/ledger"
	"github.com/alanyoungcy/pairstrader/internal/notify"
	"github.com/alanyoungcy/pairstrader/internal/risk"
)

const (
	executionsChannel = "executions"
	executionsStream  = "stream:executions"
)

// ExecutionReport is the structured outcome of one signal: the risk verdict,
// the per-leg results, and the realized execution quality.
type ExecutionReport struct {
	ExecutionID string                 `json:"execution_id"`
	SignalID    string                 `json:"signal_id"`
	Pair        string                 `json:"pair"`
	Direction   domain.Direction       `json:"direction"`
	Allowed     bool                   `json:"allowed"`
	Success     bool                   `json:"success"`
	RiskReport  domain.RiskReport      `json:"risk_report"`
	Orders      []domain.OrderResult   `json:"orders,omitempty"`
	Metrics     executor.Metrics       `json:"metrics"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Notifier is the slice of the notification system the trade flow uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// HistorySource supplies the per-asset price history the risk model feeds on.
type HistorySource interface {
	History() domain.PriceHistory
}

// Archiver persists finished execution reports out of band.
type Archiver interface {
	Archive(ctx context.Context, report ExecutionReport) error
}

// TradeService drives a signal through the full pipeline: risk sizing and
// authorization, two-leg execution, ledger/position bookkeeping, persistence
// and event publication.
type TradeService struct {
	gate     *risk.Gate
	model    *risk.Model
	engine   *executor.Engine
	ledger   *ledger.Ledger
	history  HistorySource
	orders   domain.OrderStore // optional
	bus      domain.SignalBus  // optional
	notifier Notifier          // optional
	archiver Archiver          // optional
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. Orders, bus, notifier, and
// archiver may be nil; the core flow runs without them.
func NewTradeService(
	gate *risk.Gate,
	model *risk.Model,
	engine *executor.Engine,
	led *ledger.Ledger,
	history HistorySource,
	orders domain.OrderStore,
	bus domain.SignalBus,
	notifier Notifier,
	archiver Archiver,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		gate:     gate,
		model:    model,
		engine:   engine,
		ledger:   led,
		history:  history,
		orders:   orders,
		bus:      bus,
		notifier: notifier,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// HandleSignal runs one pair signal end to end. Risk rejections are a normal
// outcome, not an error; the error return covers malformed input and
// executions that did not fill both legs, the latter wrapping the
// *domain.ExecutionFailure of each failed leg.
func (s *TradeService) HandleSignal(ctx context.Context, sig domain.PairSignal) error {
	if _, _, ok := sig.Assets(); !ok {
		return fmt.Errorf("trade_service: malformed pair %q: %w", sig.Pair,
			&domain.ValidationError{Instrument: sig.Pair, Field: "pair", Reason: "want ASSET1_ASSET2"})
	}
	if !sig.ExpiresAt.IsZero() && time.Now().After(sig.ExpiresAt) {
		s.logger.Warn("signal expired, dropped",
			slog.String("signal_id", sig.ID),
			slog.String("pair", sig.Pair),
		)
		return nil
	}
	if _, open := s.ledger.Get(sig.Pair); open {
		s.logger.Info("pair already has an open position, signal dropped",
			slog.String("signal_id", sig.ID),
			slog.String("pair", sig.Pair),
		)
		return nil
	}

	positions := s.ledger.ListOpen()
	history := s.history.History()

	allowed, report := s.gate.Authorize(sig.Pair, sig.Direction, sig.Sizes, positions, history)
	if !allowed {
		s.publishReport(ctx, ExecutionReport{
			ExecutionID: uuid.New().String(),
			SignalID:    sig.ID,
			Pair:        sig.Pair,
			Direction:   sig.Direction,
			Allowed:     false,
			RiskReport:  report,
			Timestamp:   time.Now().UTC(),
		})
		s.notify(ctx, notify.EventTradeRejected,
			"Trade rejected: "+sig.Pair,
			fmt.Sprintf("signal %s blocked by risk gate: %v", sig.ID, map[string]string(report)),
		)
		return nil
	}

	// Scale sizes down to the risk budget before touching the venue.
	metrics := s.model.Evaluate(sig.Sizes, positions, history)
	sizes := s.model.AdjustSizes(sig.Sizes, metrics)

	res := s.engine.ExecutePairsTrade(ctx, sig.Pair, sig.Direction, sizes, sig.ReferencePrices)
	s.persistOrders(ctx, sig.Pair, res.Orders)

	execReport := ExecutionReport{
		ExecutionID: res.ExecutionID,
		SignalID:    sig.ID,
		Pair:        sig.Pair,
		Direction:   sig.Direction,
		Allowed:     true,
		Success:     res.Success,
		RiskReport:  report,
		Orders:      res.Orders,
		Metrics:     executor.ComputeMetrics(res.Orders),
		Timestamp:   res.CompletedAt,
	}

	if res.Success {
		exposures, entryPrices := positionFromOrders(res.Orders)
		if _, err := s.ledger.Open(ctx, sig.Pair, sig.Direction,
			exposures, entryPrices, sig.Confidence, res.CompletedAt); err != nil {
			s.logger.Error("ledger open failed",
				slog.String("pair", sig.Pair),
				slog.String("error", err.Error()),
			)
		}
		s.notify(ctx, notify.EventTradeExecuted,
			"Trade executed: "+sig.Pair,
			fmt.Sprintf("%s %s filled, slippage %.4f, fees %.4f",
				sig.Direction, sig.Pair, execReport.Metrics.TotalSlippage, execReport.Metrics.TotalFees),
		)
	} else {
		s.notify(ctx, notify.EventExecutionFailed,
			"Execution failed: "+sig.Pair,
			fmt.Sprintf("signal %s did not fill both legs; unfilled orders cancelled", sig.ID),
		)
	}

	s.publishReport(ctx, execReport)
	if !res.Success {
		return fmt.Errorf("trade_service: execute %s: %w", sig.Pair, legsError(res.Err))
	}
	return nil
}

// ClosePair flattens and removes the open position for a pair.
func (s *TradeService) ClosePair(ctx context.Context, pair string) error {
	pos, ok := s.ledger.Get(pair)
	if !ok {
		return fmt.Errorf("trade_service: close %s: %w", pair, domain.ErrNotFound)
	}

	res := s.engine.ClosePosition(ctx, pos)
	s.persistOrders(ctx, pair, res.Orders)

	if !res.Success {
		s.notify(ctx, notify.EventExecutionFailed,
			"Close failed: "+pair,
			fmt.Sprintf("position %s could not be fully flattened", pos.ID),
		)
		return fmt.Errorf("trade_service: close %s: %w", pair, legsError(res.Err))
	}

	if _, err := s.ledger.Close(ctx, pair, res.CompletedAt); err != nil {
		return fmt.Errorf("trade_service: close %s: %w", pair, err)
	}

	s.notify(ctx, notify.EventPositionClosed,
		"Position closed: "+pair,
		fmt.Sprintf("position %s flattened", pos.ID),
	)
	s.publishReport(ctx, ExecutionReport{
		ExecutionID: res.ExecutionID,
		Pair:        pair,
		Direction:   pos.Direction,
		Allowed:     true,
		Success:     true,
		Orders:      res.Orders,
		Metrics:     executor.ComputeMetrics(res.Orders),
		Timestamp:   res.CompletedAt,
	})
	return nil
}

// MonitorOpenOrders batch-polls venue status for a set of order results.
func (s *TradeService) MonitorOpenOrders(ctx context.Context, orders []domain.OrderResult) map[string]domain.OrderUpdate {
	return s.engine.MonitorOrders(ctx, orders)
}

// SweepOpenOrders re-polls the venue for the most recent orders of every open
// pair and logs any order the venue reports in an unexpected state. A no-op
// without an order store.
func (s *TradeService) SweepOpenOrders(ctx context.Context) {
	if s.orders == nil {
		return
	}
	for _, pos := range s.ledger.ListOpen() {
		recent, err := s.orders.ListByPair(ctx, pos.Pair, domain.ListOpts{Limit: 4})
		if err != nil {
			s.logger.Warn("order sweep: list failed",
				slog.String("pair", pos.Pair),
				slog.String("error", err.Error()),
			)
			continue
		}
		for id, upd := range s.engine.MonitorOrders(ctx, recent) {
			if upd.Err != "" {
				s.logger.Warn("order sweep: lookup failed",
					slog.String("pair", pos.Pair),
					slog.String("order_id", id),
					slog.String("error", upd.Err),
				)
				continue
			}
			if upd.Status != domain.ExchangeStatusFilled {
				s.logger.Info("order sweep: order not filled at venue",
					slog.String("pair", pos.Pair),
					slog.String("order_id", id),
					slog.String("status", upd.Status),
				)
			}
		}
	}
}

// legsError normalizes the executor's error for wrapping; a leg can report
// an incomplete fill without a terminal error.
func legsError(err error) error {
	if err == nil {
		return errors.New("legs did not fill")
	}
	return err
}

// positionFromOrders derives signed exposures and entry prices from filled
// legs: buys add inventory, sells subtract.
func positionFromOrders(orders []domain.OrderResult) (exposures, entryPrices map[string]float64) {
	exposures = make(map[string]float64, len(orders))
	entryPrices = make(map[string]float64, len(orders))
	for _, o := range orders {
		qty := o.FilledQuantity
		if o.Side == domain.OrderSideSell {
			qty = -qty
		}
		exposures[o.Instrument] += qty
		entryPrices[o.Instrument] = o.AvgPrice
	}
	return exposures, entryPrices
}

func (s *TradeService) persistOrders(ctx context.Context, pair string, orders []domain.OrderResult) {
	if s.orders == nil {
		return
	}
	for _, o := range orders {
		if o.OrderID == "" {
			// The leg never reached the venue; give it a local id so the
			// failure is still on record.
			o.OrderID = "local-" + uuid.New().String()
		}
		if err := s.orders.Create(ctx, pair, o); err != nil {
			s.logger.Error("order persist failed",
				slog.String("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publishReport fans the report out to pub/sub, the durable stream, and the
// archive. All three are best-effort side channels.
func (s *TradeService) publishReport(ctx context.Context, report ExecutionReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("report marshal failed", slog.String("error", err.Error()))
		return
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, executionsChannel, payload); err != nil {
			s.logger.Warn("report publish failed", slog.String("error", err.Error()))
		}
		if err := s.bus.StreamAppend(ctx, executionsStream, payload); err != nil {
			s.logger.Warn("report stream append failed", slog.String("error", err.Error()))
		}
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, report); err != nil {
			s.logger.Warn("report archive failed", slog.String("error", err.Error()))
		}
	}
}

func (s *TradeService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.Warn("notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
