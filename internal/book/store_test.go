package book

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

func newTestStore() *Store {
	return NewStore(DefaultTickScale, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func snapshot(instrument string, seq int64, bids, asks [][2]float64) domain.BookUpdate {
	return update(instrument, seq, true, bids, asks)
}

func diff(instrument string, seq int64, bids, asks [][2]float64) domain.BookUpdate {
	return update(instrument, seq, false, bids, asks)
}

func update(instrument string, seq int64, snap bool, bids, asks [][2]float64) domain.BookUpdate {
	u := domain.BookUpdate{
		Instrument: instrument,
		IsSnapshot: snap,
		Sequence:   seq,
		Timestamp:  time.Now().UTC(),
	}
	for _, lvl := range bids {
		u.Bids = append(u.Bids, domain.PriceLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	for _, lvl := range asks {
		u.Asks = append(u.Asks, domain.PriceLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	return u
}

func TestApplyUpdateRequiresSnapshotFirst(t *testing.T) {
	s := newTestStore()

	err := s.ApplyUpdate(diff("AAA", 1, [][2]float64{{100, 5}}, nil))
	require.ErrorIs(t, err, domain.ErrUninitializedBook)

	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1, [][2]float64{{100, 5}}, [][2]float64{{101, 4}})))
	require.NoError(t, s.ApplyUpdate(diff("AAA", 2, [][2]float64{{99, 3}}, nil)))
}

func TestApplyUpdateZeroQuantityDeletesLevel(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}, {99, 3}}, [][2]float64{{101, 4}})))

	require.NoError(t, s.ApplyUpdate(diff("AAA", 2, [][2]float64{{99, 0}}, nil)))

	snap, err := s.TopN("AAA", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 100.0, snap.Bids[0].Price)

	// Never store zero or negative quantities, not even from a snapshot.
	require.NoError(t, s.ApplyUpdate(snapshot("BBB", 1,
		[][2]float64{{50, 0}, {49, -1}, {48, 2}}, nil)))
	snap, err = s.TopN("BBB", 0)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 48.0, snap.Bids[0].Price)
	for _, lvl := range snap.Bids {
		assert.Greater(t, lvl.Quantity, 0.0)
	}
}

func TestApplyUpdateIdempotentDiff(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}}, [][2]float64{{101, 4}})))

	d := diff("AAA", 2, [][2]float64{{100, 7}, {99, 2}}, [][2]float64{{101, 0}})
	require.NoError(t, s.ApplyUpdate(d))
	first, err := s.TopN("AAA", 0)
	require.NoError(t, err)

	// Redelivery of the same sequence is dropped, leaving the book unchanged.
	err = s.ApplyUpdate(d)
	require.ErrorIs(t, err, domain.ErrStaleUpdate)
	second, err := s.TopN("AAA", 0)
	require.NoError(t, err)
	assert.Equal(t, first.Bids, second.Bids)
	assert.Equal(t, first.Asks, second.Asks)
	assert.Equal(t, first.Sequence, second.Sequence)
}

func TestSnapshotReseedRewindsSequence(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 100, [][2]float64{{100, 5}}, nil)))
	require.NoError(t, s.ApplyUpdate(diff("AAA", 101, [][2]float64{{100, 6}}, nil)))

	// A re-seed from an older snapshot replaces the book wholesale and
	// rewinds the sequence with it.
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 50, [][2]float64{{90, 2}}, nil)))
	seq, err := s.LastSequence("AAA")
	require.NoError(t, err)
	assert.EqualValues(t, 50, seq)

	// Diffs are judged against the new snapshot, not the pre-rewind state.
	require.NoError(t, s.ApplyUpdate(diff("AAA", 51, [][2]float64{{91, 1}}, nil)))
	snap, err := s.TopN("AAA", 0)
	require.NoError(t, err)
	assert.Equal(t, 91.0, snap.BestBid)

	err = s.ApplyUpdate(diff("AAA", 50, [][2]float64{{95, 1}}, nil))
	require.ErrorIs(t, err, domain.ErrStaleUpdate)
}

func TestSequenceGapCounted(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 10, [][2]float64{{100, 5}}, nil)))
	require.NoError(t, s.ApplyUpdate(diff("AAA", 11, [][2]float64{{100, 6}}, nil)))
	assert.EqualValues(t, 0, s.GapCount("AAA"))

	require.NoError(t, s.ApplyUpdate(diff("AAA", 15, [][2]float64{{100, 7}}, nil)))
	assert.EqualValues(t, 1, s.GapCount("AAA"))

	seq, err := s.LastSequence("AAA")
	require.NoError(t, err)
	assert.EqualValues(t, 15, seq)
}

func TestTopNOrderingAndTruncation(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{99, 3}, {100, 5}, {98, 1}},
		[][2]float64{{102, 2}, {101, 4}, {103, 6}})))

	snap, err := s.TopN("AAA", 2)
	require.NoError(t, err)

	require.Len(t, snap.Bids, 2)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Quantity: 5}, {Price: 99, Quantity: 3}}, snap.Bids)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Quantity: 4}, {Price: 102, Quantity: 2}}, snap.Asks)
	assert.Equal(t, 100.0, snap.BestBid)
	assert.Equal(t, 101.0, snap.BestAsk)
	assert.Equal(t, 100.5, snap.MidPrice)
}

func TestMarketDepth(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}, {99, 3}, {98, 1}},
		[][2]float64{{101, 4}, {102, 2}})))

	bid, ask, err := s.MarketDepth("AAA", 2)
	require.NoError(t, err)
	assert.Equal(t, 8.0, bid)
	assert.Equal(t, 6.0, ask)

	bid, ask, err = s.MarketDepth("AAA", 0)
	require.NoError(t, err)
	assert.Equal(t, 9.0, bid)
	assert.Equal(t, 6.0, ask)
}

func TestWeightedMidPrice(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}}, [][2]float64{{102, 4}})))

	mid, err := s.WeightedMidPrice("AAA", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 101.0, mid, 1e-9)

	mid, err = s.WeightedMidPrice("AAA", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 100.5, mid, 1e-9)

	// One-sided book has no mid.
	require.NoError(t, s.ApplyUpdate(snapshot("BBB", 1, [][2]float64{{100, 5}}, nil)))
	_, err = s.WeightedMidPrice("BBB", 0.5)
	require.ErrorIs(t, err, domain.ErrNoLiquidity)
}

func TestEstimateSlippage(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}, {99, 3}},
		[][2]float64{{101, 4}, {102, 2}})))

	// Fills entirely at the best ask: zero slippage.
	sl, err := s.EstimateSlippage("AAA", domain.OrderSideBuy, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sl, 1e-12)

	// Walks into the 102 level: avg = (4*101 + 2*102) / 6.
	sl, err = s.EstimateSlippage("AAA", domain.OrderSideBuy, 6)
	require.NoError(t, err)
	want := ((4*101.0+2*102.0)/6.0 - 101.0) / 101.0
	assert.InDelta(t, want, sl, 1e-12)

	// More than the whole side: the sentinel value and the typed error.
	sl, err = s.EstimateSlippage("AAA", domain.OrderSideBuy, 6.01)
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.True(t, math.IsInf(sl, 1))

	// Sells walk the bid side; magnitude grows with quantity.
	sl, err = s.EstimateSlippage("AAA", domain.OrderSideSell, 8)
	require.NoError(t, err)
	wantSell := ((5*100.0+3*99.0)/8.0 - 100.0) / 100.0
	assert.InDelta(t, wantSell, sl, 1e-12)
}

func TestEstimateSlippageMonotone(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}, {99, 3}, {98, 10}},
		[][2]float64{{101, 4}, {102, 2}, {105, 9}})))

	prev := 0.0
	for qty := 0.5; qty <= 15.0; qty += 0.5 {
		sl, err := s.EstimateSlippage("AAA", domain.OrderSideBuy, qty)
		require.NoError(t, err)
		mag := math.Abs(sl)
		assert.GreaterOrEqual(t, mag, prev, "slippage magnitude decreased at qty=%v", qty)
		if !math.IsInf(mag, 1) {
			prev = mag
		}
	}

	// Insufficient liquidity iff cumulative ask quantity < requested.
	sl, err := s.EstimateSlippage("AAA", domain.OrderSideBuy, 15)
	require.NoError(t, err)
	assert.False(t, math.IsInf(sl, 1))
	sl, err = s.EstimateSlippage("AAA", domain.OrderSideBuy, 15.5)
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.True(t, math.IsInf(sl, 1))
}

func TestEstimateSlippageEmptySide(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1, [][2]float64{{100, 5}}, nil)))

	sl, err := s.EstimateSlippage("AAA", domain.OrderSideBuy, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.True(t, math.IsInf(sl, 1))
}

func TestVolumeWeightedFillPrice(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}}, [][2]float64{{101, 4}, {102, 2}})))

	price, ok, err := s.VolumeWeightedFillPrice("AAA", domain.OrderSideBuy, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, (4*101.0+1*102.0)/5.0, price, 1e-12)

	_, ok, err = s.VolumeWeightedFillPrice("AAA", domain.OrderSideBuy, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.ApplyUpdate(snapshot("AAA", 1,
		[][2]float64{{100, 5}, {99, 3}}, [][2]float64{{101, 4}, {102, 2}})))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writer keeps flipping a level between two consistent states.
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq := int64(1)
		for {
			select {
			case <-stop:
				return
			default:
			}
			seq++
			_ = s.ApplyUpdate(diff("AAA", seq, [][2]float64{{99, float64(seq%7 + 1)}}, nil))
		}
	}()

	// Readers must always see a fully-applied book: both sides present,
	// sorted, positive quantities.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap, err := s.TopN("AAA", 0)
				if err != nil {
					t.Error(err)
					return
				}
				for j := 1; j < len(snap.Bids); j++ {
					if snap.Bids[j].Price >= snap.Bids[j-1].Price {
						t.Error("bids not strictly descending")
						return
					}
				}
				for _, lvl := range snap.Bids {
					if lvl.Quantity <= 0 {
						t.Error("zero quantity level observed")
						return
					}
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
