// Package feed runs the market-data side: it keeps the in-memory books in
// sync with the venue's depth stream and mirrors top-of-book into the cache.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
	"github.com/alanyoungcy/pairstrader/internal/notify"
	"github.com/alanyoungcy/pairstrader/internal/platform/exchange"
)

const (
	snapshotDepth    = 1000
	cacheMirrorDepth = 20
	resyncDelay      = time.Second
	mirrorTimeout    = 2 * time.Second
)

// SnapshotFetcher supplies REST book snapshots for (re)initialization.
type SnapshotFetcher interface {
	GetDepthSnapshot(ctx context.Context, instrument string, limit int) (domain.BookUpdate, error)
}

// Notifier receives feed health events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DepthFeed subscribes to the diff depth stream for the configured
// instruments and applies every message to the book store. Each book is
// seeded from a REST snapshot first, and re-seeded after a reconnect or when
// sequence gaps show the diff stream skipped updates.
//
// Cache mirroring runs on its own goroutine behind a dirty set, so the
// stream callback only ever touches in-process state.
type DepthFeed struct {
	wsURL       string
	rest        SnapshotFetcher
	books       *book.Store
	cache       domain.BookCache // optional top-of-book mirror
	notifier    Notifier         // optional feed health alerts
	instruments []string
	logger      *slog.Logger

	gapMu    sync.Mutex
	lastGaps map[string]int64

	mirrorMu    sync.Mutex
	mirrorDirty map[string]struct{}
	mirrorKick  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewDepthFeed creates a feed for the given instruments. cache and notifier
// may be nil.
func NewDepthFeed(
	wsURL string,
	rest SnapshotFetcher,
	books *book.Store,
	cache domain.BookCache,
	notifier Notifier,
	instruments []string,
	logger *slog.Logger,
) *DepthFeed {
	return &DepthFeed{
		wsURL:       wsURL,
		rest:        rest,
		books:       books,
		cache:       cache,
		notifier:    notifier,
		instruments: instruments,
		logger:      logger.With(slog.String("component", "depth_feed")),
		lastGaps:    make(map[string]int64),
		mirrorDirty: make(map[string]struct{}),
		mirrorKick:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Run connects, subscribes, seeds the books, and blocks until ctx is
// cancelled or the feed is closed. Connection-level reconnects are handled
// inside the WebSocket client; this loop restarts from scratch only when the
// initial connect or subscribe fails.
func (f *DepthFeed) Run(ctx context.Context) error {
	if len(f.instruments) == 0 {
		f.logger.Info("no instruments to subscribe, exiting")
		return nil
	}
	if f.cache != nil {
		go f.runMirror(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("depth feed restarting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *DepthFeed) runConnection(ctx context.Context) error {
	client := exchange.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnDepthUpdate(f.handleUpdate)
	client.OnReconnect(func() {
		// Diffs across the gap are lost; every book starts over.
		f.seedSnapshots(context.Background())
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.SubscribeDepth(ctx, f.instruments); err != nil {
		return err
	}

	f.seedSnapshots(ctx)
	f.logger.Info("depth feed subscribed", slog.Int("instruments", len(f.instruments)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *DepthFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// handleUpdate applies one streamed diff. Stale diffs are dropped silently
// since redelivery after a snapshot re-seed is expected; an uninitialized
// book or a detected sequence gap triggers a REST resync for that
// instrument. Everything slower than the book write (cache mirror, alerts,
// REST resync) leaves on another goroutine so the stream never waits.
func (f *DepthFeed) handleUpdate(u domain.BookUpdate) {
	err := f.books.ApplyUpdate(u)
	switch {
	case err == nil:
		if gaps := f.books.GapCount(u.Instrument); f.gapGrew(u.Instrument, gaps) {
			f.logger.Warn("sequence gap detected, resyncing",
				slog.String("instrument", u.Instrument),
				slog.Int64("gaps", gaps),
			)
			go f.reportGap(u.Instrument, gaps)
			go f.resync(u.Instrument)
			return
		}
		f.queueMirror(u.Instrument)
	case errors.Is(err, domain.ErrStaleUpdate):
		// Expected after a snapshot re-seed.
	case errors.Is(err, domain.ErrUninitializedBook):
		go f.resync(u.Instrument)
	default:
		f.logger.Error("book update failed",
			slog.String("instrument", u.Instrument),
			slog.String("error", err.Error()),
		)
	}
}

// seedSnapshots initializes every configured instrument from REST.
func (f *DepthFeed) seedSnapshots(ctx context.Context) {
	for _, instrument := range f.instruments {
		if err := f.seedSnapshot(ctx, instrument); err != nil {
			f.logger.Error("snapshot seed failed",
				slog.String("instrument", instrument),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *DepthFeed) seedSnapshot(ctx context.Context, instrument string) error {
	snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := f.rest.GetDepthSnapshot(snapCtx, instrument, snapshotDepth)
	if err != nil {
		return err
	}
	if err := f.books.ApplyUpdate(snap); err != nil {
		return err
	}

	f.gapMu.Lock()
	f.lastGaps[instrument] = f.books.GapCount(instrument)
	f.gapMu.Unlock()

	f.queueMirror(instrument)
	return nil
}

// resync re-seeds one instrument after a short pause so the venue's snapshot
// endpoint reflects the diffs that were skipped.
func (f *DepthFeed) resync(instrument string) {
	select {
	case <-f.done:
		return
	case <-time.After(resyncDelay):
	}
	if err := f.seedSnapshot(context.Background(), instrument); err != nil {
		f.logger.Error("resync failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}

// gapGrew reports whether the gap counter moved since the last check.
func (f *DepthFeed) gapGrew(instrument string, gaps int64) bool {
	f.gapMu.Lock()
	defer f.gapMu.Unlock()
	grew := gaps > f.lastGaps[instrument]
	f.lastGaps[instrument] = gaps
	return grew
}

// reportGap alerts operators that an instrument lost diffs and is being
// re-seeded.
func (f *DepthFeed) reportGap(instrument string, gaps int64) {
	if f.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.notifier.Notify(ctx, notify.EventFeedGap,
		"Depth feed gap: "+instrument,
		fmt.Sprintf("%d sequence gap(s) since last snapshot, book re-seeded from REST", gaps),
	)
	if err != nil {
		f.logger.Warn("feed gap notification failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}

// queueMirror flags an instrument for the next cache mirror pass.
func (f *DepthFeed) queueMirror(instrument string) {
	if f.cache == nil {
		return
	}
	f.mirrorMu.Lock()
	f.mirrorDirty[instrument] = struct{}{}
	f.mirrorMu.Unlock()
	select {
	case f.mirrorKick <- struct{}{}:
	default:
	}
}

// runMirror drains the dirty set and writes the then-current top of book for
// each flagged instrument. A burst of diffs between drains coalesces into a
// single write, so a slow cache costs freshness of the mirror, never
// ingestion throughput.
func (f *DepthFeed) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-f.mirrorKick:
		}
		for _, instrument := range f.drainDirty() {
			f.mirrorTop(ctx, instrument)
		}
	}
}

func (f *DepthFeed) drainDirty() []string {
	f.mirrorMu.Lock()
	defer f.mirrorMu.Unlock()
	out := make([]string, 0, len(f.mirrorDirty))
	for instrument := range f.mirrorDirty {
		out = append(out, instrument)
	}
	clear(f.mirrorDirty)
	return out
}

// mirrorTop writes the current top of book to the shared cache.
func (f *DepthFeed) mirrorTop(ctx context.Context, instrument string) {
	snap, err := f.books.TopN(instrument, cacheMirrorDepth)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := f.cache.SetSnapshot(writeCtx, snap); err != nil {
		f.logger.Warn("book cache mirror failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}
