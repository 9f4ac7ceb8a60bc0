package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `order_id, instrument, side, quantity, ref_price,
	status, filled_quantity, avg_price, fees, attempts, created_at`

func scanOrderRow(row pgx.Row) (domain.OrderResult, error) {
	var o domain.OrderResult
	var side, status string

	err := row.Scan(
		&o.OrderID, &o.Instrument, &side,
		&o.Quantity, &o.Price,
		&status, &o.FilledQuantity, &o.AvgPrice,
		&o.Fees, &o.Attempts, &o.Timestamp,
	)
	if err != nil {
		return domain.OrderResult{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// Create inserts a terminal order result for the given pair.
func (s *OrderStore) Create(ctx context.Context, pair string, o domain.OrderResult) error {
	const query = `
		INSERT INTO orders (
			order_id, pair, instrument, side, quantity, ref_price,
			status, filled_quantity, avg_price, fees, attempts, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		o.OrderID, pair, o.Instrument, string(o.Side),
		o.Quantity, o.Price,
		string(o.Status), o.FilledQuantity, o.AvgPrice,
		o.Fees, o.Attempts, o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.OrderID, err)
	}
	return nil
}

// GetByID retrieves a single order result by its venue order id.
func (s *OrderStore) GetByID(ctx context.Context, orderID string) (domain.OrderResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE order_id = $1`, orderID)

	o, err := scanOrderRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OrderResult{}, domain.ErrNotFound
		}
		return domain.OrderResult{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return o, nil
}

// ListByPair returns order results for a pair with pagination and optional
// time filtering, newest first.
func (s *OrderStore) ListByPair(ctx context.Context, pair string, opts domain.ListOpts) ([]domain.OrderResult, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE pair = $1`
	args := []any{pair}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", pair, err)
	}
	defer rows.Close()

	var orders []domain.OrderResult
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan orders: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
