package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairstrader/internal/book"
	"github.com/alanyoungcy/pairstrader/internal/domain"
	"github.com/alanyoungcy/pairstrader/internal/executor"
	"github.com/alanyoungcy/pairstrader/internal/ledger"
	"github.com/alanyoungcy/pairstrader/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// instantFillExchange fills every order on the first status poll.
type instantFillExchange struct {
	mu     sync.Mutex
	seq    int
	orders map[string]domain.OrderRequest
}

func newInstantFillExchange() *instantFillExchange {
	return &instantFillExchange{orders: make(map[string]domain.OrderRequest)}
}

func (f *instantFillExchange) CreateOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("ord-%d", f.seq)
	f.orders[id] = req
	return id, nil
}

func (f *instantFillExchange) GetOrder(_ context.Context, _, orderID string) (domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.orders[orderID]
	if !ok {
		return domain.ExchangeOrder{}, domain.ErrNotFound
	}
	return domain.ExchangeOrder{
		OrderID:     orderID,
		Status:      domain.ExchangeStatusFilled,
		ExecutedQty: req.Quantity,
		AvgPrice:    req.Price,
		Fees:        0.1,
	}, nil
}

func (f *instantFillExchange) CancelOrder(context.Context, string, string) error { return nil }

func (f *instantFillExchange) GetInstrumentInfo(_ context.Context, instrument string) (domain.InstrumentInfo, error) {
	return domain.InstrumentInfo{
		Instrument:     instrument,
		MinQty:         0.001,
		QtyPrecision:   8,
		PricePrecision: 8,
		TickSize:       0.01,
	}, nil
}

// downExchange refuses every submission, so both legs exhaust their retries.
type downExchange struct{}

func (downExchange) CreateOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", errors.New("venue unavailable")
}

func (downExchange) GetOrder(context.Context, string, string) (domain.ExchangeOrder, error) {
	return domain.ExchangeOrder{}, domain.ErrNotFound
}

func (downExchange) CancelOrder(context.Context, string, string) error { return nil }

func (downExchange) GetInstrumentInfo(_ context.Context, instrument string) (domain.InstrumentInfo, error) {
	return domain.InstrumentInfo{
		Instrument:     instrument,
		MinQty:         0.001,
		QtyPrecision:   8,
		PricePrecision: 8,
		TickSize:       0.01,
	}, nil
}

type staticHistory struct{ h domain.PriceHistory }

func (s staticHistory) History() domain.PriceHistory { return s.h }

type recordingBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type recordingOrderStore struct {
	mu     sync.Mutex
	orders []domain.OrderResult
}

func (s *recordingOrderStore) Create(_ context.Context, _ string, res domain.OrderResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, res)
	return nil
}

func (s *recordingOrderStore) GetByID(context.Context, string) (domain.OrderResult, error) {
	return domain.OrderResult{}, domain.ErrNotFound
}

func (s *recordingOrderStore) ListByPair(context.Context, string, domain.ListOpts) ([]domain.OrderResult, error) {
	return nil, nil
}

type fixture struct {
	svc      *TradeService
	ledger   *ledger.Ledger
	bus      *recordingBus
	notifier *recordingNotifier
	orders   *recordingOrderStore
	books    *book.Store
}

func newFixture(t *testing.T, riskCfg risk.Config) *fixture {
	t.Helper()
	return newFixtureWithVenue(t, riskCfg, newInstantFillExchange())
}

func newFixtureWithVenue(t *testing.T, riskCfg risk.Config, venue domain.ExchangeClient) *fixture {
	t.Helper()
	logger := testLogger()
	books := book.NewStore(book.DefaultTickScale, logger)
	model := risk.NewModel(riskCfg, logger)
	gate := risk.NewGate(riskCfg, model, books, logger)
	eng := executor.New(venue, books, executor.Config{
		MaxSlippage:   0.001,
		OrderTimeout:  100 * time.Millisecond,
		PollInterval:  2 * time.Millisecond,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}, logger)
	led := ledger.New(nil, logger)
	bus := &recordingBus{}
	notifier := &recordingNotifier{}
	orders := &recordingOrderStore{}

	svc := NewTradeService(gate, model, eng, led,
		staticHistory{h: domain.PriceHistory{}},
		orders, bus, notifier, nil, logger)

	return &fixture{svc: svc, ledger: led, bus: bus, notifier: notifier, orders: orders, books: books}
}

func seedBook(t *testing.T, books *book.Store, instrument string, bid, ask float64) {
	t.Helper()
	require.NoError(t, books.ApplyUpdate(domain.BookUpdate{
		Instrument: instrument,
		Bids:       []domain.PriceLevel{{Price: bid, Quantity: 1_000_000}},
		Asks:       []domain.PriceLevel{{Price: ask, Quantity: 1_000_000}},
		IsSnapshot: true,
		Sequence:   1,
		Timestamp:  time.Now(),
	}))
}

func testSignal() domain.PairSignal {
	return domain.PairSignal{
		ID:         "sig-1",
		Pair:       "AAA_BBB",
		Direction:  domain.DirectionLong,
		Confidence: 2.3,
		Sizes: map[string]float64{
			"AAA": 10,
			"BBB": 5,
		},
		ReferencePrices: map[string]float64{
			"AAA": 100,
			"BBB": 200,
		},
		CreatedAt: time.Now(),
	}
}

func TestHandleSignalExecutesAndOpensPosition(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})
	seedBook(t, fx.books, "AAA", 99.99, 100.01)
	seedBook(t, fx.books, "BBB", 199.99, 200.01)

	require.NoError(t, fx.svc.HandleSignal(context.Background(), testSignal()))

	pos, ok := fx.ledger.Get("AAA_BBB")
	require.True(t, ok)
	assert.Equal(t, domain.DirectionLong, pos.Direction)
	// Long the spread: the first asset was sold.
	assert.InDelta(t, -10, pos.Exposures["AAA"], 1e-9)
	assert.InDelta(t, 5, pos.Exposures["BBB"], 1e-9)
	assert.InDelta(t, 2.3, pos.EntrySignal, 1e-9)

	assert.Len(t, fx.orders.orders, 2)
	assert.Contains(t, fx.notifier.events, "trade_executed")
	// Report went to both pub/sub and the durable stream.
	assert.Len(t, fx.bus.published, 1)
	assert.Len(t, fx.bus.streamed, 1)
}

func TestHandleSignalRejectedByGate(t *testing.T) {
	// Proposed 10 AAA at a 1-unit cap trips the position-size check.
	fx := newFixture(t, risk.Config{MaxPositionSize: 1})
	seedBook(t, fx.books, "AAA", 99.99, 100.01)
	seedBook(t, fx.books, "BBB", 199.99, 200.01)

	require.NoError(t, fx.svc.HandleSignal(context.Background(), testSignal()))

	_, ok := fx.ledger.Get("AAA_BBB")
	assert.False(t, ok)
	assert.Empty(t, fx.orders.orders)
	assert.Contains(t, fx.notifier.events, "trade_rejected")
	assert.Len(t, fx.bus.published, 1)
}

func TestHandleSignalExecutionFailureSurfaced(t *testing.T) {
	fx := newFixtureWithVenue(t, risk.Config{MaxPositionSize: 100_000}, downExchange{})
	seedBook(t, fx.books, "AAA", 99.99, 100.01)
	seedBook(t, fx.books, "BBB", 199.99, 200.01)

	err := fx.svc.HandleSignal(context.Background(), testSignal())

	var execErr *domain.ExecutionFailure
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, execErr.Attempts)

	_, ok := fx.ledger.Get("AAA_BBB")
	assert.False(t, ok)
	assert.Contains(t, fx.notifier.events, "execution_failed")
	// The failed attempt is still on record and reported.
	assert.Len(t, fx.orders.orders, 2)
	assert.Len(t, fx.bus.published, 1)
}

func TestHandleSignalExpiredDropped(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})

	sig := testSignal()
	sig.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, fx.svc.HandleSignal(context.Background(), sig))

	assert.Empty(t, fx.orders.orders)
	assert.Empty(t, fx.bus.published)
}

func TestHandleSignalDuplicatePairDropped(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})
	seedBook(t, fx.books, "AAA", 99.99, 100.01)
	seedBook(t, fx.books, "BBB", 199.99, 200.01)

	require.NoError(t, fx.svc.HandleSignal(context.Background(), testSignal()))
	require.Len(t, fx.orders.orders, 2)

	// Same pair again while the position is open: dropped untraded.
	require.NoError(t, fx.svc.HandleSignal(context.Background(), testSignal()))
	assert.Len(t, fx.orders.orders, 2)
}

func TestHandleSignalMalformedPair(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})

	sig := testSignal()
	sig.Pair = "NOPAIR"
	err := fx.svc.HandleSignal(context.Background(), sig)
	require.Error(t, err)

	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestClosePairFlattensAndRemoves(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})
	seedBook(t, fx.books, "AAA", 99.99, 100.01)
	seedBook(t, fx.books, "BBB", 199.99, 200.01)

	require.NoError(t, fx.svc.HandleSignal(context.Background(), testSignal()))
	require.NoError(t, fx.svc.ClosePair(context.Background(), "AAA_BBB"))

	_, ok := fx.ledger.Get("AAA_BBB")
	assert.False(t, ok)
	assert.Contains(t, fx.notifier.events, "position_closed")
	// Two legs to open, two to close.
	assert.Len(t, fx.orders.orders, 4)
}

func TestClosePairUnknown(t *testing.T) {
	fx := newFixture(t, risk.Config{MaxPositionSize: 100_000})
	err := fx.svc.ClosePair(context.Background(), "AAA_BBB")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
