// Package book maintains live order books from a snapshot-then-diff depth
// feed and answers the depth, mid-price, and slippage queries used by the
// risk gate and the execution router.
package book

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// DefaultTickScale converts prices to integer tick keys (price * scale).
// 1e8 is fine enough for every instrument the venue lists.
const DefaultTickScale = 100_000_000

// Store holds one order book per instrument. Books for different
// instruments are fully independent; each carries its own lock so a slow
// reader on one instrument never blocks updates on another.
type Store struct {
	tickScale float64
	logger    *slog.Logger

	mu    sync.RWMutex
	books map[string]*instrumentBook
}

// instrumentBook is the per-instrument state. The mutex gives writers
// exclusive access so a reader can never observe a partially-applied diff.
type instrumentBook struct {
	mu sync.RWMutex

	bids map[int64]float64 // tick -> quantity, quantity always > 0
	asks map[int64]float64
	// sorted tick indexes: bidTicks descending, askTicks ascending
	bidTicks []int64
	askTicks []int64

	initialized bool
	sequence    int64
	gaps        int64
	updatedAt   time.Time
}

// NewStore creates a Store with the given tick scale. A scale <= 0 falls
// back to DefaultTickScale.
func NewStore(tickScale float64, logger *slog.Logger) *Store {
	if tickScale <= 0 {
		tickScale = DefaultTickScale
	}
	return &Store{
		tickScale: tickScale,
		logger:    logger.With(slog.String("component", "book_store")),
		books:     make(map[string]*instrumentBook),
	}
}

func (s *Store) tick(price float64) int64 {
	return int64(math.Round(price * s.tickScale))
}

func (s *Store) price(tick int64) float64 {
	return float64(tick) / s.tickScale
}

// get returns the book for an instrument, creating it on first use.
func (s *Store) get(instrument string) *instrumentBook {
	s.mu.RLock()
	b, ok := s.books[instrument]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[instrument]; ok {
		return b
	}
	b = &instrumentBook{
		bids: make(map[int64]float64),
		asks: make(map[int64]float64),
	}
	s.books[instrument] = b
	return b
}

// lookup returns the book only if it exists and is initialized.
func (s *Store) lookup(instrument string) (*instrumentBook, error) {
	s.mu.RLock()
	b, ok := s.books[instrument]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("book: %s: %w", instrument, domain.ErrUninitializedBook)
	}
	b.mu.RLock()
	initialized := b.initialized
	b.mu.RUnlock()
	if !initialized {
		return nil, fmt.Errorf("book: %s: %w", instrument, domain.ErrUninitializedBook)
	}
	return b, nil
}

// ApplyUpdate applies one feed message to the instrument's book. The first
// message for an instrument must be a full snapshot; a diff against an
// uninitialized book is a caller contract violation and returns
// domain.ErrUninitializedBook. A diff whose sequence is at or before the
// last applied one is dropped as a duplicate delivery
// (domain.ErrStaleUpdate); forward sequence gaps are accepted but counted
// so the feed layer can decide to resync.
func (s *Store) ApplyUpdate(u domain.BookUpdate) error {
	b := s.get(u.Instrument)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized && !u.IsSnapshot {
		return fmt.Errorf("book: diff before snapshot for %s: %w", u.Instrument, domain.ErrUninitializedBook)
	}

	if u.IsSnapshot {
		b.bids = make(map[int64]float64, len(u.Bids))
		b.asks = make(map[int64]float64, len(u.Asks))
		b.bidTicks = b.bidTicks[:0]
		b.askTicks = b.askTicks[:0]
		for _, lvl := range u.Bids {
			if lvl.Quantity > 0 {
				s.upsert(b, true, s.tick(lvl.Price), lvl.Quantity)
			}
		}
		for _, lvl := range u.Asks {
			if lvl.Quantity > 0 {
				s.upsert(b, false, s.tick(lvl.Price), lvl.Quantity)
			}
		}
		b.initialized = true
		// A snapshot resets the sequence even when it moves backwards: the
		// book state was just replaced wholesale, so any diff after the
		// snapshot's sequence is valid against it. Resync after a feed gap
		// depends on this.
		b.sequence = u.Sequence
		b.updatedAt = u.Timestamp
		return nil
	}

	if u.Sequence > 0 && u.Sequence <= b.sequence {
		return fmt.Errorf("book: %s sequence %d <= %d: %w",
			u.Instrument, u.Sequence, b.sequence, domain.ErrStaleUpdate)
	}
	if u.Sequence > 0 && b.sequence > 0 && u.Sequence > b.sequence+1 {
		b.gaps++
		s.logger.Warn("sequence gap in depth feed",
			slog.String("instrument", u.Instrument),
			slog.Int64("have", b.sequence),
			slog.Int64("got", u.Sequence),
		)
	}

	for _, lvl := range u.Bids {
		t := s.tick(lvl.Price)
		if lvl.Quantity <= 0 {
			s.remove(b, true, t)
		} else {
			s.upsert(b, true, t, lvl.Quantity)
		}
	}
	for _, lvl := range u.Asks {
		t := s.tick(lvl.Price)
		if lvl.Quantity <= 0 {
			s.remove(b, false, t)
		} else {
			s.upsert(b, false, t, lvl.Quantity)
		}
	}

	if u.Sequence > 0 {
		b.sequence = u.Sequence
	}
	b.updatedAt = u.Timestamp
	return nil
}

// upsert sets a level, maintaining the sorted tick index. Caller holds the
// book's write lock.
func (s *Store) upsert(b *instrumentBook, bid bool, tick int64, qty float64) {
	if bid {
		if _, exists := b.bids[tick]; !exists {
			// bidTicks are descending.
			i := sort.Search(len(b.bidTicks), func(i int) bool { return b.bidTicks[i] < tick })
			b.bidTicks = append(b.bidTicks, 0)
			copy(b.bidTicks[i+1:], b.bidTicks[i:])
			b.bidTicks[i] = tick
		}
		b.bids[tick] = qty
		return
	}
	if _, exists := b.asks[tick]; !exists {
		i := sort.Search(len(b.askTicks), func(i int) bool { return b.askTicks[i] > tick })
		b.askTicks = append(b.askTicks, 0)
		copy(b.askTicks[i+1:], b.askTicks[i:])
		b.askTicks[i] = tick
	}
	b.asks[tick] = qty
}

// remove deletes a level if present. Caller holds the book's write lock.
func (s *Store) remove(b *instrumentBook, bid bool, tick int64) {
	if bid {
		if _, exists := b.bids[tick]; !exists {
			return
		}
		delete(b.bids, tick)
		i := sort.Search(len(b.bidTicks), func(i int) bool { return b.bidTicks[i] <= tick })
		if i < len(b.bidTicks) && b.bidTicks[i] == tick {
			b.bidTicks = append(b.bidTicks[:i], b.bidTicks[i+1:]...)
		}
		return
	}
	if _, exists := b.asks[tick]; !exists {
		return
	}
	delete(b.asks, tick)
	i := sort.Search(len(b.askTicks), func(i int) bool { return b.askTicks[i] >= tick })
	if i < len(b.askTicks) && b.askTicks[i] == tick {
		b.askTicks = append(b.askTicks[:i], b.askTicks[i+1:]...)
	}
}

// TopN returns the best `depth` levels of each side: bids descending, asks
// ascending. depth <= 0 returns all levels.
func (s *Store) TopN(instrument string, depth int) (domain.BookSnapshot, error) {
	b, err := s.lookup(instrument)
	if err != nil {
		return domain.BookSnapshot{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	nBids, nAsks := len(b.bidTicks), len(b.askTicks)
	if depth > 0 {
		nBids = min(nBids, depth)
		nAsks = min(nAsks, depth)
	}

	snap := domain.BookSnapshot{
		Instrument: instrument,
		Bids:       make([]domain.PriceLevel, 0, nBids),
		Asks:       make([]domain.PriceLevel, 0, nAsks),
		Sequence:   b.sequence,
		Timestamp:  b.updatedAt,
	}
	for _, t := range b.bidTicks[:nBids] {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: s.price(t), Quantity: b.bids[t]})
	}
	for _, t := range b.askTicks[:nAsks] {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: s.price(t), Quantity: b.asks[t]})
	}
	if len(b.bidTicks) > 0 {
		snap.BestBid = s.price(b.bidTicks[0])
	}
	if len(b.askTicks) > 0 {
		snap.BestAsk = s.price(b.askTicks[0])
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	return snap, nil
}

// MarketDepth sums quantity on both sides over the top `levels` levels.
func (s *Store) MarketDepth(instrument string, levels int) (bidDepth, askDepth float64, err error) {
	b, errLookup := s.lookup(instrument)
	if errLookup != nil {
		return 0, 0, errLookup
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	nBids, nAsks := len(b.bidTicks), len(b.askTicks)
	if levels > 0 {
		nBids = min(nBids, levels)
		nAsks = min(nAsks, levels)
	}
	for _, t := range b.bidTicks[:nBids] {
		bidDepth += b.bids[t]
	}
	for _, t := range b.askTicks[:nAsks] {
		askDepth += b.asks[t]
	}
	return bidDepth, askDepth, nil
}

// WeightedMidPrice returns bestBid*(1-weight) + bestAsk*weight. When either
// side is empty there is no meaningful mid; it returns 0 with
// domain.ErrNoLiquidity.
func (s *Store) WeightedMidPrice(instrument string, weight float64) (float64, error) {
	b, err := s.lookup(instrument)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bidTicks) == 0 || len(b.askTicks) == 0 {
		return 0, fmt.Errorf("book: %s: %w", instrument, domain.ErrNoLiquidity)
	}
	bestBid := s.price(b.bidTicks[0])
	bestAsk := s.price(b.askTicks[0])
	return bestBid*(1-weight) + bestAsk*weight, nil
}

// EstimateSlippage walks the relevant side from the best price outward,
// consuming quantity level by level, and returns
// (volumeWeightedFillPrice - bestPrice) / bestPrice. When the side holds
// strictly less quantity than requested it returns +Inf together with
// domain.ErrInsufficientLiquidity, so callers can branch on either the
// sentinel value or the error.
func (s *Store) EstimateSlippage(instrument string, side domain.OrderSide, quantity float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("book: slippage quantity must be positive, got %v", quantity)
	}
	b, err := s.lookup(instrument)
	if err != nil {
		return 0, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var ticks []int64
	var levels map[int64]float64
	if side == domain.OrderSideBuy {
		ticks, levels = b.askTicks, b.asks
	} else {
		ticks, levels = b.bidTicks, b.bids
	}
	if len(ticks) == 0 {
		return math.Inf(1), fmt.Errorf("book: %s: %w", instrument, domain.ErrInsufficientLiquidity)
	}

	remaining := quantity
	var cost float64
	for _, t := range ticks {
		available := levels[t]
		fill := math.Min(remaining, available)
		cost += fill * s.price(t)
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		return math.Inf(1), fmt.Errorf("book: %s: %w", instrument, domain.ErrInsufficientLiquidity)
	}

	avgPrice := cost / quantity
	reference := s.price(ticks[0])
	return (avgPrice - reference) / reference, nil
}

// VolumeWeightedFillPrice returns the average price obtained by sweeping
// `quantity` off the relevant side. ok is false when the book holds less
// than the requested quantity.
func (s *Store) VolumeWeightedFillPrice(instrument string, side domain.OrderSide, quantity float64) (price float64, ok bool, err error) {
	b, errLookup := s.lookup(instrument)
	if errLookup != nil {
		return 0, false, errLookup
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var ticks []int64
	var levels map[int64]float64
	if side == domain.OrderSideBuy {
		ticks, levels = b.askTicks, b.asks
	} else {
		ticks, levels = b.bidTicks, b.bids
	}

	remaining := quantity
	var cost float64
	for _, t := range ticks {
		fill := math.Min(remaining, levels[t])
		cost += fill * s.price(t)
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 || quantity <= 0 {
		return 0, false, nil
	}
	return cost / quantity, true, nil
}

// BestPrices returns the current best bid and ask. A missing side is
// reported as 0.
func (s *Store) BestPrices(instrument string) (bestBid, bestAsk float64, err error) {
	b, errLookup := s.lookup(instrument)
	if errLookup != nil {
		return 0, 0, errLookup
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bidTicks) > 0 {
		bestBid = s.price(b.bidTicks[0])
	}
	if len(b.askTicks) > 0 {
		bestAsk = s.price(b.askTicks[0])
	}
	return bestBid, bestAsk, nil
}

// LastSequence returns the last applied update sequence for an instrument.
func (s *Store) LastSequence(instrument string) (int64, error) {
	b, err := s.lookup(instrument)
	if err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence, nil
}

// GapCount returns how many forward sequence gaps were observed for an
// instrument since its last snapshot.
func (s *Store) GapCount(instrument string) int64 {
	s.mu.RLock()
	b, ok := s.books[instrument]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gaps
}
