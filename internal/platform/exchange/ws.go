package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/pairstrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// DepthHandler is called for every streamed book diff.
type DepthHandler func(domain.BookUpdate)

// ReconnectHandler is called after a dropped connection has been
// re-established and subscriptions restored. The feed uses it to re-seed
// books from REST snapshots since diffs across the gap are lost.
type ReconnectHandler func()

// WSClient is a WebSocket client for the exchange depth stream. It manages
// the connection lifecycle and subscriptions and dispatches diffs to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Stream names to restore on reconnect, e.g. "btcusdt@depth@100ms".
	subscriptions []string
	cmdID         atomic.Int64

	depthHandlers     []DepthHandler
	reconnectHandlers []ReconnectHandler
	handlerMu         sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given stream endpoint, e.g.
// "wss://stream.binance.com:9443/stream".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously requested subscriptions are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("exchange/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.subscriptions) > 0 {
		if err := w.sendCommand(wsCommand{
			Method: "SUBSCRIBE",
			Params: w.subscriptions,
			ID:     w.cmdID.Add(1),
		}); err != nil {
			return fmt.Errorf("exchange/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// SubscribeDepth subscribes to the diff depth stream for the given
// instruments.
func (w *WSClient) SubscribeDepth(ctx context.Context, instruments []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("exchange/ws: not connected")
	}

	streams := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		streams = append(streams, strings.ToLower(inst)+"@depth@100ms")
	}

	if err := w.sendCommand(wsCommand{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     w.cmdID.Add(1),
	}); err != nil {
		return fmt.Errorf("exchange/ws: subscribe depth: %w", err)
	}

	w.subscriptions = append(w.subscriptions, streams...)
	return nil
}

// Close shuts down the connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// OnDepthUpdate registers a handler called for every streamed book diff.
func (w *WSClient) OnDepthUpdate(handler DepthHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.depthHandlers = append(w.depthHandlers, handler)
}

// OnReconnect registers a handler called after every successful reconnect.
func (w *WSClient) OnReconnect(handler ReconnectHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.reconnectHandlers = append(w.reconnectHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and dispatches depth diffs. On
// disconnect it hands off to reconnect and exits; a fresh readLoop starts
// with the new connection.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes depth diffs to handlers.
// Subscription acks and unknown payloads are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Data.EventType != "depthUpdate" {
		return
	}

	update := envelope.Data.toDomain()

	w.handlerMu.RLock()
	handlers := w.depthHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed, then notifies reconnect
// handlers.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.handlerMu.RLock()
			handlers := w.reconnectHandlers
			w.handlerMu.RUnlock()
			for _, h := range handlers {
				h()
			}
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
