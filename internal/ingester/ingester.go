// Package ingester consumes the upstream ticker feed over a persistent
// WebSocket connection and writes every tick through the store.
package ingester

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navid-fn/tickerboard/internal/models"
	"github.com/navid-fn/tickerboard/internal/storage"
)

const (
	InitialReconnectDelay = 1 * time.Second
	MaxReconnectDelay     = 30 * time.Second
	HandshakeTimeout      = 5 * time.Second
	ReadTimeout           = 60 * time.Second
)

// Config holds ingester settings.
type Config struct {
	// FeedURL is the upstream WebSocket endpoint delivering batches of
	// miniTicker JSON objects.
	FeedURL string
}

// Ingester is a pure consumer: it never retries a failed write and never
// exerts backpressure on the feed. Reconnection is the supervisor's job.
type Ingester struct {
	cfg    Config
	store  storage.Store
	logger *slog.Logger
}

// NewIngester creates an Ingester writing through the given store.
func NewIngester(cfg Config, store storage.Store, logger *slog.Logger) *Ingester {
	return &Ingester{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Supervise runs the ingester until the context is cancelled, reconnecting
// after connection-level failures with capped exponential backoff. The
// delay resets after any connection that ended without an error.
func (ig *Ingester) Supervise(ctx context.Context) {
	reconnectDelay := InitialReconnectDelay

	for {
		select {
		case <-ctx.Done():
			ig.logger.Info("Ingester shutting down")
			return
		default:
			err := ig.Run(ctx)
			if err == nil {
				if ctx.Err() != nil {
					ig.logger.Info("Ingester shutting down")
					return
				}
				reconnectDelay = InitialReconnectDelay
				continue
			}

			ig.logger.Error("Feed connection failed, reconnecting",
				"error", err,
				"reconnectDelay", reconnectDelay)

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}

			if reconnectDelay < MaxReconnectDelay {
				reconnectDelay *= 2
				if reconnectDelay > MaxReconnectDelay {
					reconnectDelay = MaxReconnectDelay
				}
			}
		}
	}
}

// Run performs a single connection attempt: dial the feed, then consume
// messages until the connection drops or the context is cancelled.
func (ig *Ingester) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, ig.cfg.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	ig.logger.Info("Connected to upstream feed", "url", ig.cfg.FeedURL)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	messages := make(chan []byte, 100)
	readErrors := make(chan error, 1)

	go func() {
		defer close(messages)

		for {
			conn.SetReadDeadline(time.Now().Add(ReadTimeout))
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErrors <- err:
				case <-connCtx.Done():
				}
				return
			}

			select {
			case messages <- message:
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			ig.logger.Info("Context cancelled, closing feed connection")
			return nil

		case err := <-readErrors:
			return fmt.Errorf("feed read error: %w", err)

		case message, ok := <-messages:
			if !ok {
				// Reader exited; wait for its error or cancellation.
				messages = nil
				continue
			}
			ig.consume(ctx, message)
		}
	}
}

// consume decodes one feed message and persists every tick in the batch.
// A message that does not decode as a tick batch is dropped; a failed
// insert is logged and skipped so the rest of the batch still lands.
func (ig *Ingester) consume(ctx context.Context, message []byte) {
	var ticks []models.RawTick
	if err := json.Unmarshal(message, &ticks); err != nil {
		ig.logger.Debug("Discarding undecodable feed message", "error", err)
		return
	}

	for _, tick := range ticks {
		if err := ig.store.InsertTick(ctx, tick); err != nil {
			ig.logger.Error("Failed to save tick",
				"symbol", tick.Symbol,
				"error", err)
		}
	}
}
