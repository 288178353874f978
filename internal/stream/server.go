// Package stream serves stored ticker data to downstream subscribers over
// per-connection WebSocket sessions with pagination and periodic refresh.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"golang.org/x/time/rate"

	"github.com/navid-fn/tickerboard/internal/storage"
)

const (
	DefaultAllPushInterval    = time.Minute
	DefaultSymbolPushInterval = 10 * time.Second

	// Accept throttle. Smooths connection storms without touching
	// per-session behavior.
	acceptsPerSecond = 50
	acceptBurst      = 100
)

// SessionConfig holds the per-variant push settings applied to every new
// session. Zero values fall back to the defaults above.
type SessionConfig struct {
	AllPushInterval    time.Duration
	SymbolPushInterval time.Duration
	PageSize           int
}

// Server accepts raw TCP connections, routes the upgrade request, and runs
// one session per subscriber. The store is the only shared resource.
type Server struct {
	addr    string
	store   storage.Store
	cfg     SessionConfig
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewServer creates a Server listening on addr once ListenAndServe is called.
func NewServer(addr string, store storage.Store, cfg SessionConfig, logger *slog.Logger) *Server {
	if cfg.AllPushInterval <= 0 {
		cfg.AllPushInterval = DefaultAllPushInterval
	}
	if cfg.SymbolPushInterval <= 0 {
		cfg.SymbolPushInterval = DefaultSymbolPushInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = storage.DefaultPageSize
	}

	return &Server{
		addr:    addr,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(acceptsPerSecond), acceptBurst),
	}
}

// ListenAndServe blocks accepting connections until the context is
// cancelled. A failure to bind is returned to the caller; per-connection
// failures only terminate their own session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("Stream server listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			conn.Close()
			return nil
		}

		go s.handle(ctx, conn)
	}
}

// handle routes one accepted connection. The path is classified and, for
// single-symbol requests, the symbol checked against the store before the
// handshake response is sent; rejected connections never get a 101.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var rt route
	upgrader := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			r, err := classifyPath(string(uri))
			if err != nil {
				return ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusNotFound),
					ws.RejectionReason("unknown path"),
				)
			}

			if r.kind == routeSingleSymbol {
				rows, err := s.store.RecentForSymbol(ctx, r.symbol)
				if err != nil {
					return ws.RejectConnectionError(
						ws.RejectionStatus(http.StatusInternalServerError),
						ws.RejectionReason("store unavailable"),
					)
				}
				if len(rows) == 0 {
					return ws.RejectConnectionError(
						ws.RejectionStatus(http.StatusNotFound),
						ws.RejectionReason("no data for symbol"),
					)
				}
			}

			rt = r
			return nil
		},
	}

	if _, err := upgrader.Upgrade(conn); err != nil {
		s.logger.Debug("Rejected connection",
			"remote", conn.RemoteAddr().String(),
			"error", err)
		return
	}

	sess := &session{
		conn:    conn,
		store:   s.store,
		logger:  s.logger,
		page:    1,
		perPage: s.cfg.PageSize,
	}
	switch rt.kind {
	case routeAllSymbols:
		sess.interval = s.cfg.AllPushInterval
	case routeSingleSymbol:
		sess.symbol = rt.symbol
		sess.interval = s.cfg.SymbolPushInterval
	}

	sess.run(ctx)
}
