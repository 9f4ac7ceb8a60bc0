package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each instrument's mirrored book.
//
// Key schema:
//
//	book:{instrument}:bids     - sorted set of bid prices (score = price)
//	book:{instrument}:asks     - sorted set of ask prices (score = price)
//	book:{instrument}:bid:qty  - hash mapping price -> quantity for bids
//	book:{instrument}:ask:qty  - hash mapping price -> quantity for asks
//	book:{instrument}:bbo      - hash with fields "bid" and "ask"
//	book:{instrument}:meta     - hash with "ts" and "seq" fields
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(instrument string) string   { return "book:" + instrument + ":bids" }
func bookAsksKey(instrument string) string   { return "book:" + instrument + ":asks" }
func bookBidQtyKey(instrument string) string { return "book:" + instrument + ":bid:qty" }
func bookAskQtyKey(instrument string) string { return "book:" + instrument + ":ask:qty" }
func bookBBOKey(instrument string) string    { return "book:" + instrument + ":bbo" }
func bookMetaKey(instrument string) string   { return "book:" + instrument + ":meta" }

// SetSnapshot atomically replaces the mirrored book for an instrument.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	instrument := snap.Instrument
	bidsKey := bookBidsKey(instrument)
	asksKey := bookAsksKey(instrument)
	bidQtyKey := bookBidQtyKey(instrument)
	askQtyKey := bookAskQtyKey(instrument)
	bboKey := bookBBOKey(instrument)
	metaKey := bookMetaKey(instrument)

	pipe := bc.rdb.TxPipeline()

	pipe.Del(ctx, bidsKey, asksKey, bidQtyKey, askQtyKey, bboKey, metaKey)

	for _, lvl := range snap.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		qtyStr := strconv.FormatFloat(lvl.Quantity, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidQtyKey, priceStr, qtyStr)
	}
	for _, lvl := range snap.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		qtyStr := strconv.FormatFloat(lvl.Quantity, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askQtyKey, priceStr, qtyStr)
	}

	if snap.BestBid > 0 {
		pipe.HSet(ctx, bboKey, "bid", strconv.FormatFloat(snap.BestBid, 'f', -1, 64))
	}
	if snap.BestAsk > 0 {
		pipe.HSet(ctx, bboKey, "ask", strconv.FormatFloat(snap.BestAsk, 'f', -1, 64))
	}

	pipe.HSet(ctx, metaKey,
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
		"seq", strconv.FormatInt(snap.Sequence, 10),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", instrument, err)
	}
	return nil
}

// GetSnapshot reconstructs a BookSnapshot from Redis. It returns
// domain.ErrNotFound when no mirror exists for the instrument.
func (bc *BookCache) GetSnapshot(ctx context.Context, instrument string) (domain.BookSnapshot, error) {
	pipe := bc.rdb.Pipeline()

	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(instrument), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(instrument), 0, -1)
	bidQtyCmd := pipe.HGetAll(ctx, bookBidQtyKey(instrument))
	askQtyCmd := pipe.HGetAll(ctx, bookAskQtyKey(instrument))
	bboCmd := pipe.HGetAll(ctx, bookBBOKey(instrument))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(instrument))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book snapshot %s: %w", instrument, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.BookSnapshot{Instrument: instrument}

	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano)
		}
	}
	if seqStr, ok := metaVals["seq"]; ok {
		snap.Sequence, _ = strconv.ParseInt(seqStr, 10, 64)
	}

	bidQtys, _ := bidQtyCmd.Result()
	snap.Bids = zToLevels(bidsCmd, bidQtys)
	askQtys, _ := askQtyCmd.Result()
	snap.Asks = zToLevels(asksCmd, askQtys)

	bboVals, _ := bboCmd.Result()
	if bidStr, ok := bboVals["bid"]; ok {
		snap.BestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := bboVals["ask"]; ok {
		snap.BestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}

	return snap, nil
}

// GetBBO retrieves the current best bid and best ask from the BBO hash.
// It returns domain.ErrNotFound if no BBO data exists.
func (bc *BookCache) GetBBO(ctx context.Context, instrument string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bookBBOKey(instrument)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

func zToLevels(cmd *redis.ZSliceCmd, qtys map[string]string) []domain.PriceLevel {
	zs, _ := cmd.Result()
	levels := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		qty := 0.0
		if qtyStr, exists := qtys[priceStr]; exists {
			qty, _ = strconv.ParseFloat(qtyStr, 64)
		}
		levels = append(levels, domain.PriceLevel{
			Price:    z.Score,
			Quantity: qty,
		})
	}
	return levels
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
