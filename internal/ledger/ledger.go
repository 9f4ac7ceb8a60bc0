// Package ledger tracks the currently open pair positions. It is the
// in-memory source of truth for exposure aggregation; the optional store
// backing is write-through bookkeeping, never read on the hot path.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// Ledger holds open positions keyed by pair id. Positions for different
// pairs are independent entries; closing one never touches another.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.PairPosition

	store  domain.PositionStore // optional write-through; nil disables
	logger *slog.Logger
}

// New creates an empty ledger. store may be nil for purely in-memory use.
func New(store domain.PositionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]domain.PairPosition),
		store:     store,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Open records a new position for the pair. A pair can hold at most one open
// position; a second Open for the same pair fails with ErrAlreadyExists.
func (l *Ledger) Open(
	ctx context.Context,
	pair string,
	direction domain.Direction,
	exposures map[string]float64,
	entryPrices map[string]float64,
	entrySignal float64,
	openedAt time.Time,
) (domain.PairPosition, error) {
	pos := domain.PairPosition{
		ID:          uuid.New().String(),
		Pair:        pair,
		Direction:   direction,
		Exposures:   copyMap(exposures),
		EntryPrices: copyMap(entryPrices),
		EntrySignal: entrySignal,
		Status:      domain.PositionStatusOpen,
		OpenedAt:    openedAt,
	}

	l.mu.Lock()
	if _, exists := l.positions[pair]; exists {
		l.mu.Unlock()
		return domain.PairPosition{}, fmt.Errorf("ledger: position for %s: %w", pair, domain.ErrAlreadyExists)
	}
	l.positions[pair] = pos
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Create(ctx, pos); err != nil {
			l.logger.Error("position persist failed",
				slog.String("pair", pair),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return pos, nil
}

// Restore loads open positions from the backing store, replacing the
// in-memory view. Used at startup so restarts do not lose track of exposure.
// A no-op when the ledger has no store.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	open, err := l.store.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}

	l.mu.Lock()
	l.positions = make(map[string]domain.PairPosition, len(open))
	for _, pos := range open {
		l.positions[pos.Pair] = pos
	}
	l.mu.Unlock()

	l.logger.Info("ledger restored", slog.Int("open_positions", len(open)))
	return nil
}

// Close removes the pair's open position and returns its final record.
// Closing a pair with no open position fails with ErrNotFound.
func (l *Ledger) Close(ctx context.Context, pair string, closedAt time.Time) (domain.PairPosition, error) {
	l.mu.Lock()
	pos, exists := l.positions[pair]
	if !exists {
		l.mu.Unlock()
		return domain.PairPosition{}, fmt.Errorf("ledger: position for %s: %w", pair, domain.ErrNotFound)
	}
	delete(l.positions, pair)
	l.mu.Unlock()

	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt

	if l.store != nil {
		if err := l.store.Close(ctx, pos.ID, closedAt); err != nil {
			l.logger.Error("position close persist failed",
				slog.String("pair", pair),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return pos, nil
}

// Get returns the open position for a pair, if any.
func (l *Ledger) Get(pair string) (domain.PairPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	return pos, ok
}

// ListOpen returns a snapshot of all open positions.
func (l *Ledger) ListOpen() []domain.PairPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PairPosition, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	return out
}

// ExposureOf aggregates the signed exposure for one asset across every open
// position.
func (l *Ledger) ExposureOf(asset string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, pos := range l.positions {
		total += pos.Exposures[asset]
	}
	return total
}

// GrossExposure returns the sum of absolute per-asset exposure across all
// open positions.
func (l *Ledger) GrossExposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, pos := range l.positions {
		total += pos.GrossExposure()
	}
	return total
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
