package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, pair, direction, exposures, entry_prices,
	entry_signal, status, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.PairPosition, error) {
	var p domain.PairPosition
	var direction, status string
	var exposures, entryPrices []byte

	err := row.Scan(
		&p.ID, &p.Pair, &direction,
		&exposures, &entryPrices,
		&p.EntrySignal, &status,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.PairPosition{}, err
	}
	if err := json.Unmarshal(exposures, &p.Exposures); err != nil {
		return domain.PairPosition{}, fmt.Errorf("decode exposures: %w", err)
	}
	if err := json.Unmarshal(entryPrices, &p.EntryPrices); err != nil {
		return domain.PairPosition{}, fmt.Errorf("decode entry prices: %w", err)
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.PairPosition) error {
	exposures, err := json.Marshal(p.Exposures)
	if err != nil {
		return fmt.Errorf("postgres: encode exposures: %w", err)
	}
	entryPrices, err := json.Marshal(p.EntryPrices)
	if err != nil {
		return fmt.Errorf("postgres: encode entry prices: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, pair, direction, exposures, entry_prices,
			entry_signal, status, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Pair, string(p.Direction),
		exposures, entryPrices,
		p.EntrySignal, string(p.Status),
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Close marks a position as closed, setting the closed_at timestamp.
func (s *PositionStore) Close(ctx context.Context, id string, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			closed_at  = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns all open positions.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.PairPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.PairPosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open positions: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.PairPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PairPosition{}, domain.ErrNotFound
		}
		return domain.PairPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}
