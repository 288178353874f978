package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navid-fn/tickerboard/internal/models"
	"github.com/navid-fn/tickerboard/internal/storage"
)

// pagedStore serves synthetic pages so pushes can be told apart, and a
// fixed set of known symbols.
type pagedStore struct {
	symbols map[string][]models.SymbolRow
}

func (ps *pagedStore) InsertTick(context.Context, models.RawTick) error { return nil }

func (ps *pagedStore) LatestByVolume(_ context.Context, page, perPage int) (models.Page, error) {
	return models.Page{
		Data:    []models.VolumeRow{{Symbol: fmt.Sprintf("PAGE%dUSDT", page), Price: 1, Volume: 1}},
		Total:   100,
		Page:    page,
		PerPage: perPage,
	}, nil
}

func (ps *pagedStore) RecentForSymbol(_ context.Context, symbol string) ([]models.SymbolRow, error) {
	return ps.symbols[symbol], nil
}

func (ps *pagedStore) Ping(context.Context) error { return nil }
func (ps *pagedStore) Close()                     {}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// startTestServer runs the accept loop on an ephemeral port and returns
// the ws URL base.
func startTestServer(t *testing.T, ctx context.Context, store storage.Store, cfg SessionConfig) string {
	t.Helper()

	srv := NewServer("unused", store, cfg, quietLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(ctx, conn)
		}
	}()

	return "ws://" + ln.Addr().String()
}

func readPage(t *testing.T, conn *websocket.Conn) models.Page {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read push: %v", err)
	}
	var page models.Page
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode push %q: %v", body, err)
	}
	return page
}

func TestUnknownSymbolRejectedBeforeHandshake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &pagedStore{symbols: map[string][]models.SymbolRow{}}
	base := startTestServer(t, ctx, store, SessionConfig{})

	conn, resp, err := websocket.DefaultDialer.Dial(base+"/currency/DOGEUSDT", nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for symbol with no data")
	}
	if resp != nil && resp.StatusCode == 101 {
		t.Error("server must not complete the upgrade for an unknown symbol")
	}
}

func TestUnknownPathRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &pagedStore{symbols: map[string][]models.SymbolRow{}}
	base := startTestServer(t, ctx, store, SessionConfig{})

	if conn, _, err := websocket.DefaultDialer.Dial(base+"/nope", nil); err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for an unroutable path")
	}
}

func TestAllSymbolsSessionCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &pagedStore{symbols: map[string][]models.SymbolRow{}}
	base := startTestServer(t, ctx, store, SessionConfig{
		AllPushInterval: 300 * time.Millisecond,
		PageSize:        30,
	})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial snapshot is always page 1.
	if page := readPage(t, conn); page.Page != 1 {
		t.Fatalf("initial push page = %d, want 1", page.Page)
	}

	// A page request moves the cursor and triggers an immediate push.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"page":2}`)); err != nil {
		t.Fatalf("write page request: %v", err)
	}
	page := readPage(t, conn)
	if page.Page != 2 {
		t.Fatalf("push after page request has page = %d, want 2", page.Page)
	}
	if len(page.Data) != 1 || page.Data[0].Symbol != "PAGE2USDT" {
		t.Fatalf("push data does not reflect the new cursor: %+v", page.Data)
	}

	// The next timed push keeps the moved cursor.
	if page := readPage(t, conn); page.Page != 2 {
		t.Fatalf("timed push page = %d, want 2 (cursor must persist)", page.Page)
	}
}

func TestMalformedClientMessageIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &pagedStore{symbols: map[string][]models.SymbolRow{}}
	base := startTestServer(t, ctx, store, SessionConfig{
		AllPushInterval: 300 * time.Millisecond,
	})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if page := readPage(t, conn); page.Page != 1 {
		t.Fatalf("initial push page = %d, want 1", page.Page)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{garbage`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The session survives and the next timed push still serves page 1.
	if page := readPage(t, conn); page.Page != 1 {
		t.Fatalf("push after malformed message has page = %d, want 1", page.Page)
	}
}

func TestSingleSymbolSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := []models.SymbolRow{{
		Symbol:      "BTCUSDT",
		ClosePrice:  97000.5,
		QuoteVolume: 500,
		EventTime:   time.Now().UTC().Truncate(time.Millisecond),
	}}
	store := &pagedStore{symbols: map[string][]models.SymbolRow{"BTCUSDT": rows}}
	base := startTestServer(t, ctx, store, SessionConfig{
		SymbolPushInterval: time.Minute,
	})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/currency/BTCUSDT", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got []models.SymbolRow
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, body, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read initial push: %v", err)
	} else if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode initial push: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected initial push: %+v", got)
	}

	// Any client message re-pushes the same symbol's data; there is
	// nothing to paginate.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"page":7}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, body, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read re-push: %v", err)
	} else if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode re-push: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected re-push: %+v", got)
	}
}

// flakyStore serves one good all-symbols page, then fails every later
// query so a session terminates on a push error mid-stream.
type flakyStore struct {
	pagedStore

	mu    sync.Mutex
	calls int
}

func (fs *flakyStore) LatestByVolume(ctx context.Context, page, perPage int) (models.Page, error) {
	fs.mu.Lock()
	fs.calls++
	n := fs.calls
	fs.mu.Unlock()

	if n > 1 {
		return models.Page{}, errors.New("store offline")
	}
	return fs.pagedStore.LatestByVolume(ctx, page, perPage)
}

func sessionReaderRunning() bool {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Contains(string(buf[:n]), "(*session).run.func1")
}

func TestSessionReaderExitsAfterPushFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &flakyStore{pagedStore: pagedStore{symbols: map[string][]models.SymbolRow{}}}
	base := startTestServer(t, ctx, store, SessionConfig{AllPushInterval: time.Minute})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if page := readPage(t, conn); page.Page != 1 {
		t.Fatalf("initial push page = %d, want 1", page.Page)
	}

	// A burst of page requests: the first one hits the failing store and
	// ends the session while later frames are still queued client-side,
	// so the session's reader is left holding undelivered input.
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"page":2}`)); err != nil {
			break
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for sessionReaderRunning() {
		if time.Now().After(deadline) {
			t.Fatal("session reader goroutine still running after the session ended")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestListenAndServeBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	store := &pagedStore{symbols: map[string][]models.SymbolRow{}}
	srv := NewServer(ln.Addr().String(), store, SessionConfig{}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := srv.ListenAndServe(ctx); err == nil {
		t.Error("expected bind failure on an occupied address")
	}
}
