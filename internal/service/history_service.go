package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// HistoryService keeps a rolling window of OHLC history per instrument: it
// pulls candles from the venue, persists them, and serves the in-memory view
// the risk model reads on every authorization.
type HistoryService struct {
	provider    domain.HistoryProvider
	store       domain.CandleStore // optional
	instruments []string
	interval    string
	window      int
	logger      *slog.Logger

	mu      sync.RWMutex
	history domain.PriceHistory
}

// NewHistoryService creates a HistoryService. store may be nil; history then
// lives in memory only.
func NewHistoryService(
	provider domain.HistoryProvider,
	store domain.CandleStore,
	instruments []string,
	interval string,
	window int,
	logger *slog.Logger,
) *HistoryService {
	if interval == "" {
		interval = "1h"
	}
	if window <= 0 {
		window = 168
	}
	return &HistoryService{
		provider:    provider,
		store:       store,
		instruments: instruments,
		interval:    interval,
		window:      window,
		logger:      logger.With(slog.String("component", "history_service")),
		history:     make(domain.PriceHistory),
	}
}

// History returns the current in-memory view. The returned map must be
// treated as read-only.
func (s *HistoryService) History() domain.PriceHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history
}

// Refresh pulls the latest window for every instrument. Individual
// instrument failures are logged and skipped so one flaky symbol cannot
// starve the rest.
func (s *HistoryService) Refresh(ctx context.Context) error {
	fresh := make(domain.PriceHistory, len(s.instruments))
	var firstErr error

	for _, instrument := range s.instruments {
		candles, err := s.provider.Klines(ctx, instrument, s.interval, s.window)
		if err != nil {
			s.logger.Error("kline fetch failed",
				slog.String("instrument", instrument),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			// Keep the previous window rather than serving nothing.
			s.mu.RLock()
			prev := s.history[instrument]
			s.mu.RUnlock()
			if len(prev) > 0 {
				fresh[instrument] = prev
			}
			continue
		}
		fresh[instrument] = candles

		if s.store != nil {
			if err := s.store.InsertBatch(ctx, candles); err != nil {
				s.logger.Warn("candle persist failed",
					slog.String("instrument", instrument),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.mu.Lock()
	s.history = fresh
	s.mu.Unlock()

	if firstErr != nil {
		return fmt.Errorf("history_service: refresh: %w", firstErr)
	}
	return nil
}

// Warm loads history from the store without touching the venue. Used at
// startup so the risk model has data before the first refresh completes.
func (s *HistoryService) Warm(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	warm := make(domain.PriceHistory, len(s.instruments))
	for _, instrument := range s.instruments {
		candles, err := s.store.ListRecent(ctx, instrument, s.window)
		if err != nil {
			return fmt.Errorf("history_service: warm %s: %w", instrument, err)
		}
		if len(candles) > 0 {
			warm[instrument] = candles
		}
	}

	s.mu.Lock()
	s.history = warm
	s.mu.Unlock()
	return nil
}

// Run refreshes on a fixed cadence until ctx is cancelled.
func (s *HistoryService) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = 15 * time.Minute
	}

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("initial history refresh incomplete", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("history refresh incomplete", slog.String("error", err.Error()))
			}
		}
	}
}
