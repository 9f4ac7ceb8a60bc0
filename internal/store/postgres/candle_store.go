package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a new CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// InsertBatch upserts a batch of candles in one round trip. Re-fetching a
// window the store already holds overwrites in place.
func (s *CandleStore) InsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	const query = `
		INSERT INTO candles (
			instrument, open_time, open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument, open_time) DO UPDATE SET
			open   = EXCLUDED.open,
			high   = EXCLUDED.high,
			low    = EXCLUDED.low,
			close  = EXCLUDED.close,
			volume = EXCLUDED.volume`

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(query,
			c.Instrument, c.OpenTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert candles: %w", err)
		}
	}
	return nil
}

// ListRecent returns the most recent candles for an instrument, oldest
// first, bounded by limit.
func (s *CandleStore) ListRecent(ctx context.Context, instrument string, limit int) ([]domain.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instrument, open_time, open, high, low, close, volume
		FROM (
			SELECT instrument, open_time, open, high, low, close, volume
			FROM candles
			WHERE instrument = $1
			ORDER BY open_time DESC
			LIMIT $2
		) recent
		ORDER BY open_time ASC`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles for %s: %w", instrument, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(
			&c.Instrument, &c.OpenTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
