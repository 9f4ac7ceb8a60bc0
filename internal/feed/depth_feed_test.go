package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
	"github.com/alanyoungcy/pairstrader/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	snap  domain.BookUpdate
}

func (f *fakeFetcher) GetDepthSnapshot(_ context.Context, instrument string, _ int) (domain.BookUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	snap := f.snap
	snap.Instrument = instrument
	return snap, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu    sync.Mutex
	delay time.Duration // per-write latency, to model a degraded cache
	snaps []domain.BookSnapshot
}

func (c *fakeCache) SetSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *fakeCache) GetSnapshot(context.Context, string) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, domain.ErrNotFound
}

func (c *fakeCache) GetBBO(context.Context, string) (float64, float64, error) {
	return 0, 0, domain.ErrNotFound
}

func (c *fakeCache) snapshots() []domain.BookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.BookSnapshot, len(c.snaps))
	copy(out, c.snaps)
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

func newTestFeed(t *testing.T, fetcher *fakeFetcher, cache domain.BookCache, notifier Notifier) (*DepthFeed, *book.Store) {
	t.Helper()
	books := book.NewStore(book.DefaultTickScale, testLogger())
	f := NewDepthFeed("wss://unused", fetcher, books, cache, notifier, []string{"BTCUSDT"}, testLogger())
	t.Cleanup(f.Close)
	if cache != nil {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go f.runMirror(ctx)
	}
	return f, books
}

func snapshotUpdate(seq int64) domain.BookUpdate {
	return domain.BookUpdate{
		Bids:       []domain.PriceLevel{{Price: 100, Quantity: 5}},
		Asks:       []domain.PriceLevel{{Price: 101, Quantity: 4}},
		IsSnapshot: true,
		Sequence:   seq,
		Timestamp:  time.Now(),
	}
}

func TestSeedThenApplyDiff(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshotUpdate(10)}
	cache := &fakeCache{}
	f, books := newTestFeed(t, fetcher, cache, nil)

	require.NoError(t, f.seedSnapshot(context.Background(), "BTCUSDT"))
	assert.Equal(t, 1, fetcher.callCount())

	f.handleUpdate(domain.BookUpdate{
		Instrument: "BTCUSDT",
		Bids:       []domain.PriceLevel{{Price: 100.5, Quantity: 2}},
		Sequence:   11,
		Timestamp:  time.Now(),
	})

	bid, _, err := books.BestPrices("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100.5, bid, 1e-9)

	// The mirror catches up to the post-diff book.
	assert.Eventually(t, func() bool {
		snaps := cache.snapshots()
		return len(snaps) > 0 && snaps[len(snaps)-1].BestBid == 100.5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMirrorDoesNotBlockIngestion(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshotUpdate(10)}
	cache := &fakeCache{delay: 250 * time.Millisecond}
	f, books := newTestFeed(t, fetcher, cache, nil)

	require.NoError(t, f.seedSnapshot(context.Background(), "BTCUSDT"))

	// A degraded cache must not pace the stream: five diffs go through the
	// books far faster than a single cache write.
	start := time.Now()
	for i := int64(1); i <= 5; i++ {
		f.handleUpdate(domain.BookUpdate{
			Instrument: "BTCUSDT",
			Bids:       []domain.PriceLevel{{Price: 100 + float64(i), Quantity: 1}},
			Sequence:   10 + i,
			Timestamp:  time.Now(),
		})
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	bid, _, err := books.BestPrices("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 105, bid, 1e-9)

	// The burst coalesces: the mirror lands on the latest book without
	// writing once per diff.
	assert.Eventually(t, func() bool {
		snaps := cache.snapshots()
		return len(snaps) > 0 && snaps[len(snaps)-1].BestBid == 105
	}, 5*time.Second, 10*time.Millisecond)
	assert.Less(t, len(cache.snapshots()), 6)
}

func TestStaleDiffDropped(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshotUpdate(10)}
	f, books := newTestFeed(t, fetcher, nil, nil)

	require.NoError(t, f.seedSnapshot(context.Background(), "BTCUSDT"))

	// A diff at or below the seeded sequence is redelivery noise.
	f.handleUpdate(domain.BookUpdate{
		Instrument: "BTCUSDT",
		Bids:       []domain.PriceLevel{{Price: 50, Quantity: 1}},
		Sequence:   9,
		Timestamp:  time.Now(),
	})

	bid, _, err := books.BestPrices("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100, bid, 1e-9)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestDiffBeforeSnapshotTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshotUpdate(10)}
	f, _ := newTestFeed(t, fetcher, nil, nil)

	f.handleUpdate(domain.BookUpdate{
		Instrument: "BTCUSDT",
		Bids:       []domain.PriceLevel{{Price: 100, Quantity: 1}},
		Sequence:   5,
		Timestamp:  time.Now(),
	})

	assert.Eventually(t, func() bool {
		return fetcher.callCount() == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSequenceGapTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{snap: snapshotUpdate(10)}
	notifier := &fakeNotifier{}
	f, _ := newTestFeed(t, fetcher, nil, notifier)

	require.NoError(t, f.seedSnapshot(context.Background(), "BTCUSDT"))

	// Sequence jumps from 10 to 20: diffs were lost in between.
	f.handleUpdate(domain.BookUpdate{
		Instrument: "BTCUSDT",
		Bids:       []domain.PriceLevel{{Price: 100.5, Quantity: 2}},
		Sequence:   20,
		Timestamp:  time.Now(),
	})

	assert.Eventually(t, func() bool {
		return fetcher.callCount() == 2
	}, 5*time.Second, 50*time.Millisecond)

	// Operators hear about the lost diffs.
	assert.Eventually(t, func() bool {
		events := notifier.recorded()
		return len(events) == 1 && events[0] == notify.EventFeedGap
	}, 5*time.Second, 50*time.Millisecond)
}
