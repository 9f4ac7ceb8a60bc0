package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
	"github.com/alanyoungcy/pairstrader/internal/executor"
	"github.com/alanyoungcy/pairstrader/internal/feed"
	"github.com/alanyoungcy/pairstrader/internal/ledger"
	"github.com/alanyoungcy/pairstrader/internal/risk"
	"github.com/alanyoungcy/pairstrader/internal/service"
)

// core bundles the execution stack shared by all modes.
type core struct {
	books     *book.Store
	depthFeed *feed.DepthFeed
	history   *service.HistoryService
	ledger    *ledger.Ledger
	trade     *service.TradeService
}

// buildCore assembles the book store, depth feed, risk stack, executor, and
// trade service from the wired dependencies.
func (a *App) buildCore(deps *Dependencies) *core {
	logger := a.logger

	books := book.NewStore(book.DefaultTickScale, logger)

	var cache domain.BookCache
	if a.cfg.Trading.MirrorBooks {
		cache = deps.BookCache
	}
	depthFeed := feed.NewDepthFeed(
		a.cfg.Exchange.WsURL,
		deps.Exchange,
		books,
		cache,
		deps.Notifier,
		a.cfg.Instruments(),
		logger,
	)

	riskCfg := risk.Config{
		MaxPositionSize:   a.cfg.Risk.MaxPositionSize,
		MaxLeverage:       a.cfg.Risk.MaxLeverage,
		MinLiquidityRatio: a.cfg.Risk.MinLiquidityRatio,
		VarConfidence:     a.cfg.Risk.VarConfidence,
		MaxCorrelation:    a.cfg.Risk.MaxCorrelation,
	}
	model := risk.NewModel(riskCfg, logger)
	gate := risk.NewGate(riskCfg, model, books, logger)

	engine := executor.New(deps.Exchange, books, executor.Config{
		MaxSlippage:   a.cfg.Execution.MaxSlippage,
		OrderTimeout:  a.cfg.Execution.OrderTimeout.Duration,
		PollInterval:  a.cfg.Execution.PollInterval.Duration,
		RetryAttempts: a.cfg.Execution.RetryAttempts,
		RetryBackoff:  a.cfg.Execution.RetryBackoff.Duration,
	}, logger)

	led := ledger.New(deps.PositionStore, logger)

	history := service.NewHistoryService(
		deps.Exchange,
		deps.CandleStore,
		a.cfg.Instruments(),
		a.cfg.History.Interval,
		a.cfg.History.Window,
		logger,
	)

	var archiver service.Archiver
	if deps.BlobWriter != nil {
		archiver = service.NewReportArchiver(deps.BlobWriter, a.cfg.S3.ReportPrefix)
	}

	trade := service.NewTradeService(
		gate, model, engine, led, history,
		deps.OrderStore, deps.SignalBus, deps.Notifier, archiver,
		logger,
	)

	return &core{
		books:     books,
		depthFeed: depthFeed,
		history:   history,
		ledger:    led,
		trade:     trade,
	}
}

// TradeMode runs the complete execution loop: depth feed, history refresh,
// signal intake, and open-order monitoring.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps)
}

// FullMode is trade mode plus the book mirror; the mirror itself is wired by
// configuration, so today the two modes run the same goroutines.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps)
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies) error {
	c := a.buildCore(deps)

	// Rehydrate state before any goroutine can trade.
	if err := c.ledger.Restore(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.history.Warm(ctx); err != nil {
		a.logger.WarnContext(ctx, "history warm failed", slog.String("error", err.Error()))
	}
	if err := c.history.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial history refresh failed", slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer c.depthFeed.Close()
		return c.depthFeed.Run(ctx)
	})

	g.Go(func() error {
		return c.history.Run(ctx, a.cfg.History.Refresh.Duration)
	})

	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.runSignalLoop(ctx, deps.SignalBus, c.trade)
		})
	} else {
		a.logger.WarnContext(ctx, "signal bus disabled, no signals will be consumed")
	}

	g.Go(func() error {
		return a.runOrderMonitor(ctx, c.trade)
	})

	return g.Wait()
}

// MonitorMode ingests depth and serves the book mirror without ever placing
// an order.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	books := book.NewStore(book.DefaultTickScale, a.logger)
	depthFeed := feed.NewDepthFeed(
		a.cfg.Exchange.WsURL,
		deps.Exchange,
		books,
		deps.BookCache,
		deps.Notifier,
		a.cfg.Instruments(),
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer depthFeed.Close()
		return depthFeed.Run(ctx)
	})
	return g.Wait()
}

// runSignalLoop subscribes to the signal channel and feeds each decoded
// PairSignal to the trade service. Malformed payloads are logged and skipped.
func (a *App) runSignalLoop(ctx context.Context, bus domain.SignalBus, trade *service.TradeService) error {
	ch, err := bus.Subscribe(ctx, a.cfg.Trading.SignalChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe %s: %w", a.cfg.Trading.SignalChannel, err)
	}
	a.logger.InfoContext(ctx, "signal loop started",
		slog.String("channel", a.cfg.Trading.SignalChannel),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return fmt.Errorf("app: signal channel closed")
			}
			var sig domain.PairSignal
			if err := json.Unmarshal(payload, &sig); err != nil {
				a.logger.WarnContext(ctx, "malformed signal payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := trade.HandleSignal(ctx, sig); err != nil {
				a.logger.ErrorContext(ctx, "signal handling failed",
					slog.String("signal_id", sig.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// runOrderMonitor periodically re-polls the venue for orders belonging to
// open positions so stuck fills surface in the logs.
func (a *App) runOrderMonitor(ctx context.Context, trade *service.TradeService) error {
	every := a.cfg.Trading.MonitorEvery.Duration
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			trade.SweepOpenOrders(ctx)
		}
	}
}
