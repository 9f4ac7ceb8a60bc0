// Package exchange is the REST and WebSocket adapter for the trading venue.
// Client satisfies domain.ExchangeClient and domain.HistoryProvider; WSClient
// carries the depth stream.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

// Client is the REST client for the exchange spot API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com". Trading calls are
// HMAC-signed with the secret; market data calls go out unsigned.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateOrder submits a new order and returns the venue order id.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	params := url.Values{}
	params.Set("symbol", req.Instrument)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Quantity))
	if req.Type == domain.OrderTypeLimit {
		params.Set("timeInForce", string(req.TimeInForce))
		params.Set("price", formatFloat(req.Price))
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return "", fmt.Errorf("exchange: create order %s: %w", req.Instrument, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("exchange: decode order response: %w", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// GetOrder returns the venue-side status of an order.
func (c *Client) GetOrder(ctx context.Context, instrument, orderID string) (domain.ExchangeOrder, error) {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("orderId", orderID)

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("exchange: get order %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("exchange: decode order: %w", err)
	}
	return resp.toDomain(), nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, instrument, orderID string) error {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("orderId", orderID)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetInstrumentInfo returns the trading rules for one symbol, derived from
// the venue's lot-size and price filters.
func (c *Client) GetInstrumentInfo(ctx context.Context, instrument string) (domain.InstrumentInfo, error) {
	params := url.Values{}
	params.Set("symbol", instrument)

	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return domain.InstrumentInfo{}, fmt.Errorf("exchange: instrument info %s: %w", instrument, err)
	}

	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.InstrumentInfo{}, fmt.Errorf("exchange: decode instrument info: %w", err)
	}
	if len(resp.Symbols) == 0 {
		return domain.InstrumentInfo{}, fmt.Errorf("exchange: %s: %w", instrument, domain.ErrNotFound)
	}

	info := domain.InstrumentInfo{Instrument: instrument}
	for _, f := range resp.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			info.MinQty = parseFloat(f.MinQty)
			info.QtyPrecision = decimalPlaces(f.StepSize)
		case "PRICE_FILTER":
			info.TickSize = parseFloat(f.TickSize)
			info.PricePrecision = decimalPlaces(f.TickSize)
		}
	}
	return info, nil
}

// GetDepthSnapshot fetches a full book snapshot over REST. The feed uses it
// to initialize each instrument before streamed diffs are applied.
func (c *Client) GetDepthSnapshot(ctx context.Context, instrument string, limit int) (domain.BookUpdate, error) {
	params := url.Values{}
	params.Set("symbol", instrument)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublic(ctx, "/api/v3/depth", params)
	if err != nil {
		return domain.BookUpdate{}, fmt.Errorf("exchange: depth snapshot %s: %w", instrument, err)
	}

	var resp depthSnapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BookUpdate{}, fmt.Errorf("exchange: decode depth snapshot: %w", err)
	}
	return resp.toDomain(instrument), nil
}

// Klines returns OHLC candles for the instrument, oldest first.
func (c *Client) Klines(ctx context.Context, instrument, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("exchange: klines %s: %w", instrument, err)
	}

	// Each kline is a positional array: open time, O, H, L, C, volume, ...
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			continue
		}
		c := domain.Candle{
			Instrument: instrument,
			OpenTime:   time.UnixMilli(openTime).UTC(),
		}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(k[i+1], &s); err != nil {
				continue
			}
			*dst = parseFloat(s)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doPublic sends an unsigned market-data request.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// doSigned sends an authenticated request. The venue expects the whole query
// string HMAC-SHA256 signed with the API secret, plus a timestamp parameter.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to errors carrying the venue's
// error code and message.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%d)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%d)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%d)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// formatFloat renders a quantity or price without exponent notation and
// without trailing zero noise.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
