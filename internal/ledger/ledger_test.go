package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingStore struct {
	mu        sync.Mutex
	created   []domain.PairPosition
	closed    []string
	open      []domain.PairPosition
	createErr error
}

func (s *recordingStore) Create(_ context.Context, pos domain.PairPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, pos)
	return nil
}

func (s *recordingStore) Close(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
	return nil
}

func (s *recordingStore) GetOpen(context.Context) ([]domain.PairPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PairPosition(nil), s.open...), nil
}

func (s *recordingStore) GetByID(context.Context, string) (domain.PairPosition, error) {
	return domain.PairPosition{}, domain.ErrNotFound
}

func TestOpenCloseRoundTrip(t *testing.T) {
	store := &recordingStore{}
	l := New(store, testLogger())
	ctx := context.Background()
	openedAt := time.Now().UTC()

	pos, err := l.Open(ctx, "AAA_BBB", domain.DirectionLong,
		map[string]float64{"AAA": -100, "BBB": 100},
		map[string]float64{"AAA": 10, "BBB": 20},
		2.1, openedAt,
	)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	got, ok := l.Get("AAA_BBB")
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)

	closedAt := openedAt.Add(time.Hour)
	closed, err := l.Close(ctx, "AAA_BBB", closedAt)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, closedAt, *closed.ClosedAt)

	_, ok = l.Get("AAA_BBB")
	assert.False(t, ok)

	assert.Len(t, store.created, 1)
	assert.Equal(t, []string{pos.ID}, store.closed)
}

func TestOpenDuplicatePairRejected(t *testing.T) {
	l := New(nil, testLogger())
	ctx := context.Background()

	_, err := l.Open(ctx, "AAA_BBB", domain.DirectionLong,
		map[string]float64{"AAA": 1}, nil, 0, time.Now())
	require.NoError(t, err)

	_, err = l.Open(ctx, "AAA_BBB", domain.DirectionShort,
		map[string]float64{"AAA": -1}, nil, 0, time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// A different pair is an independent entry.
	_, err = l.Open(ctx, "CCC_DDD", domain.DirectionLong,
		map[string]float64{"CCC": 1}, nil, 0, time.Now())
	assert.NoError(t, err)
}

func TestCloseUnknownPair(t *testing.T) {
	l := New(nil, testLogger())
	_, err := l.Close(context.Background(), "AAA_BBB", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExposureAggregation(t *testing.T) {
	l := New(nil, testLogger())
	ctx := context.Background()

	_, err := l.Open(ctx, "AAA_BBB", domain.DirectionLong,
		map[string]float64{"AAA": -100, "BBB": 100}, nil, 0, time.Now())
	require.NoError(t, err)
	_, err = l.Open(ctx, "AAA_CCC", domain.DirectionShort,
		map[string]float64{"AAA": 40, "CCC": -40}, nil, 0, time.Now())
	require.NoError(t, err)

	assert.InDelta(t, -60, l.ExposureOf("AAA"), 1e-9)
	assert.InDelta(t, 100, l.ExposureOf("BBB"), 1e-9)
	assert.InDelta(t, 0, l.ExposureOf("ZZZ"), 1e-9)
	assert.InDelta(t, 280, l.GrossExposure(), 1e-9)
	assert.Len(t, l.ListOpen(), 2)
}

func TestExposuresCopiedOnOpen(t *testing.T) {
	l := New(nil, testLogger())
	exposures := map[string]float64{"AAA": 5}

	_, err := l.Open(context.Background(), "AAA_BBB", domain.DirectionLong,
		exposures, nil, 0, time.Now())
	require.NoError(t, err)

	exposures["AAA"] = 9999
	assert.InDelta(t, 5, l.ExposureOf("AAA"), 1e-9)
}

func TestPersistFailureKeepsPositionOpen(t *testing.T) {
	store := &recordingStore{createErr: errors.New("db down")}
	l := New(store, testLogger())

	pos, err := l.Open(context.Background(), "AAA_BBB", domain.DirectionLong,
		map[string]float64{"AAA": 1}, nil, 0, time.Now())
	require.NoError(t, err)

	got, ok := l.Get("AAA_BBB")
	require.True(t, ok)
	assert.Equal(t, pos.ID, got.ID)
}

func TestConcurrentOpens(t *testing.T) {
	l := New(nil, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var okCount int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open(ctx, "AAA_BBB", domain.DirectionLong,
				map[string]float64{"AAA": 1}, nil, 0, time.Now())
			if err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, okCount)
	assert.Len(t, l.ListOpen(), 1)
}

func TestRestoreLoadsOpenPositions(t *testing.T) {
	store := &recordingStore{open: []domain.PairPosition{
		{
			ID:        "pos-1",
			Pair:      "AAA_BBB",
			Direction: domain.DirectionLong,
			Exposures: map[string]float64{"AAA": -10, "BBB": 5},
			Status:    domain.PositionStatusOpen,
			OpenedAt:  time.Now(),
		},
	}}
	l := New(store, testLogger())

	require.NoError(t, l.Restore(context.Background()))

	pos, ok := l.Get("AAA_BBB")
	require.True(t, ok)
	assert.Equal(t, "pos-1", pos.ID)
	assert.InDelta(t, -10, l.ExposureOf("AAA"), 1e-9)

	// The restored pair is occupied.
	_, err := l.Open(context.Background(), "AAA_BBB", domain.DirectionShort,
		map[string]float64{"AAA": 1}, nil, 0, time.Now())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}
