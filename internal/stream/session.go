package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/navid-fn/tickerboard/internal/models"
	"github.com/navid-fn/tickerboard/internal/storage"
)

const writeTimeout = 10 * time.Second

// session is the per-connection state machine. The handshake (Connecting)
// happens in the server before run is called; run covers Streaming until a
// terminal event moves the session to Closed and returns.
//
// A session with an empty symbol serves the paginated all-symbols view and
// tracks a page cursor; otherwise it serves one symbol's recent history.
type session struct {
	conn     net.Conn
	store    storage.Store
	logger   *slog.Logger
	interval time.Duration

	page    int
	perPage int
	symbol  string
}

// run pushes an initial snapshot, then multiplexes inbound client frames
// against the periodic refresh ticker until either source produces a
// terminal outcome. Pushes are strictly sequential: this loop is the only
// writer on the connection.
func (s *session) run(ctx context.Context) {
	if err := s.push(ctx); err != nil {
		s.logger.Debug("Initial push failed", "symbol", s.symbol, "error", err)
		return
	}

	// The reader selects on this context for its sends, so it cannot stay
	// parked once the session exits for any reason, not just server
	// shutdown.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan []byte, 1)
	readErrors := make(chan error, 1)

	go func() {
		defer close(inbound)

		for {
			data, op, err := wsutil.ReadClientData(s.conn)
			if err != nil {
				select {
				case readErrors <- err:
				case <-ctx.Done():
				}
				return
			}
			if op != ws.OpText {
				continue
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	// The ticker keeps its own schedule: a push triggered by a client
	// message never skips the next timed push.
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			wsutil.WriteServerMessage(s.conn, ws.OpClose, nil)
			return

		case err := <-readErrors:
			s.logger.Debug("Session closed by client", "symbol", s.symbol, "error", err)
			return

		case msg, ok := <-inbound:
			if !ok {
				// Reader exited; wait for its error or cancellation.
				inbound = nil
				continue
			}
			if !s.handleClientMessage(ctx, msg) {
				return
			}

		case <-ticker.C:
			if err := s.push(ctx); err != nil {
				s.logger.Debug("Timed push failed", "symbol", s.symbol, "error", err)
				return
			}
		}
	}
}

// handleClientMessage reacts to one inbound text frame. The returned bool
// is false when the session must close.
//
// All-symbols sessions treat a message carrying a page number as a cursor
// update followed by an immediate push; the per_page field is accepted but
// not applied. Single-symbol sessions have nothing to paginate and simply
// re-push current data on any message. Malformed JSON is discarded.
func (s *session) handleClientMessage(ctx context.Context, msg []byte) bool {
	if s.symbol != "" {
		return s.push(ctx) == nil
	}

	var req models.PageRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		s.logger.Debug("Discarding malformed client message", "error", err)
		return true
	}
	if req.Page == nil {
		return true
	}

	s.page = *req.Page
	return s.push(ctx) == nil
}

// push queries the store at the session's current cursor and writes one
// text frame. Store and transport errors both terminate the session.
func (s *session) push(ctx context.Context) error {
	var payload any
	if s.symbol == "" {
		page, err := s.store.LatestByVolume(ctx, s.page, s.perPage)
		if err != nil {
			return err
		}
		payload = page
	} else {
		rows, err := s.store.RecentForSymbol(ctx, s.symbol)
		if err != nil {
			return err
		}
		payload = rows
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteServerText(s.conn, body)
}
