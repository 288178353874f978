// Package storage provides the TimescaleDB-backed tick store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/tickerboard/internal/models"
)

// DefaultPageSize is the page size used when a caller passes a
// nonpositive one.
const DefaultPageSize = 30

// Store defines the persistence contract for ticker data.
// Implementations must be safe for concurrent use: many readers
// interleaved with one writer stream.
type Store interface {
	// InsertTick persists one raw tick. Duplicate (symbol, event time)
	// pairs are silently ignored, so replayed feed messages are no-ops.
	InsertTick(ctx context.Context, tick models.RawTick) error

	// LatestByVolume returns one page of the latest-per-symbol set ranked
	// by quote volume descending. page is 1-indexed; a page past the end
	// yields an empty page with the correct total.
	LatestByVolume(ctx context.Context, page, perPage int) (models.Page, error)

	// RecentForSymbol returns up to the 10 most recent ticks for a symbol,
	// newest first. Unknown symbols yield an empty slice, not an error.
	RecentForSymbol(ctx context.Context, symbol string) ([]models.SymbolRow, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close releases connection resources.
	Close()
}

// PostgresStore implements Store on a pgx connection pool against
// TimescaleDB. The pool is shared by the ingester and every session.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

var _ Store = (*PostgresStore)(nil)

// Open connects to the database and verifies connectivity, retrying with
// fibonacci backoff while the database is still coming up.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(pool.Ping(ctx))
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool, dsn: dsn}, nil
}

// InsertTick parses the tick's decimal-string fields and inserts one row.
// The event time in milliseconds becomes the row's created_at timestamp.
func (s *PostgresStore) InsertTick(ctx context.Context, tick models.RawTick) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ticker_data
			(symbol, close_price, open_price, high_price, low_price, quote_volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7::double precision / 1000))
		ON CONFLICT (symbol, created_at) DO NOTHING
	`,
		tick.Symbol,
		parseDecimal(tick.ClosePrice).String(),
		parseDecimal(tick.OpenPrice).String(),
		parseDecimal(tick.HighPrice).String(),
		parseDecimal(tick.LowPrice).String(),
		parseDecimal(tick.QuoteVolume).String(),
		tick.EventTime,
	)
	if err != nil {
		return fmt.Errorf("insert tick for %s: %w", tick.Symbol, err)
	}
	return nil
}

// LatestByVolume recomputes the latest row per symbol on every call; the
// table is append-only, so there is no separate current-state table to
// keep consistent with the write path.
func (s *PostgresStore) LatestByVolume(ctx context.Context, page, perPage int) (models.Page, error) {
	page, perPage = normalizePage(page, perPage)

	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT symbol) FROM ticker_data`).Scan(&total)
	if err != nil {
		return models.Page{}, fmt.Errorf("count symbols: %w", err)
	}

	// DISTINCT ON picks one row per symbol; the symbol ASC, created_at DESC
	// order makes the pick deterministic even with same-millisecond rows.
	rows, err := s.pool.Query(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (symbol)
				symbol,
				close_price,
				quote_volume
			FROM ticker_data
			ORDER BY symbol ASC, created_at DESC
		)
		SELECT
			symbol,
			CAST(close_price AS DOUBLE PRECISION) AS close_price,
			CAST(quote_volume AS DOUBLE PRECISION) AS quote_volume
		FROM latest
		ORDER BY quote_volume DESC
		LIMIT $1
		OFFSET $2
	`, perPage, pageOffset(page, perPage))
	if err != nil {
		return models.Page{}, fmt.Errorf("query latest by volume: %w", err)
	}
	defer rows.Close()

	data := make([]models.VolumeRow, 0, perPage)
	for rows.Next() {
		var row models.VolumeRow
		if err := rows.Scan(&row.Symbol, &row.Price, &row.Volume); err != nil {
			return models.Page{}, fmt.Errorf("scan volume row: %w", err)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return models.Page{}, fmt.Errorf("read volume rows: %w", err)
	}

	return models.Page{
		Data:    data,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}, nil
}

// RecentForSymbol returns the symbol's short recent history, newest first.
func (s *PostgresStore) RecentForSymbol(ctx context.Context, symbol string) ([]models.SymbolRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			symbol,
			CAST(close_price AS DOUBLE PRECISION) AS close_price,
			CAST(open_price AS DOUBLE PRECISION) AS open_price,
			CAST(high_price AS DOUBLE PRECISION) AS high_price,
			CAST(low_price AS DOUBLE PRECISION) AS low_price,
			CAST(quote_volume AS DOUBLE PRECISION) AS quote_volume,
			created_at
		FROM ticker_data
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT 10
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query recent ticks for %s: %w", symbol, err)
	}
	defer rows.Close()

	ticks := make([]models.SymbolRow, 0, 10)
	for rows.Next() {
		var row models.SymbolRow
		err := rows.Scan(
			&row.Symbol,
			&row.ClosePrice,
			&row.OpenPrice,
			&row.HighPrice,
			&row.LowPrice,
			&row.QuoteVolume,
			&row.EventTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		ticks = append(ticks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read symbol rows: %w", err)
	}

	return ticks, nil
}

// Ping verifies connectivity using the shared pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// parseDecimal converts a feed price/volume string into a decimal.
// Malformed values degrade to zero so one bad field never drops a record.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalizePage clamps a page request into usable bounds.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPageSize
	}
	return page, perPage
}

// pageOffset converts a 1-indexed page into a row offset.
func pageOffset(page, perPage int) int {
	return (page - 1) * perPage
}
