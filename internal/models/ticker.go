// Package models defines the data shapes shared across the ingestion and
// streaming sides of the relay.
package models

import "time"

// RawTick is one miniTicker record as delivered by the upstream feed.
// Prices and volume arrive as decimal strings; the single-letter JSON keys
// are the feed's own field names.
type RawTick struct {
	// EventTime is the event timestamp in milliseconds since epoch.
	EventTime int64 `json:"E"`

	// Symbol is the trading pair, e.g. "BTCUSDT".
	Symbol string `json:"s"`

	// ClosePrice is the latest price.
	ClosePrice string `json:"c"`

	// OpenPrice is the open price of the rolling window.
	OpenPrice string `json:"o"`

	// HighPrice is the high price of the rolling window.
	HighPrice string `json:"h"`

	// LowPrice is the low price of the rolling window.
	LowPrice string `json:"l"`

	// QuoteVolume is the total traded quote asset volume.
	QuoteVolume string `json:"q"`
}

// VolumeRow is the latest stored tick for one symbol, projected for the
// volume-ranked multi-symbol view.
type VolumeRow struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// SymbolRow is one historical tick for a single symbol.
type SymbolRow struct {
	EventTime   time.Time `json:"event_time"`
	Symbol      string    `json:"symbol"`
	ClosePrice  float64   `json:"close_price"`
	OpenPrice   float64   `json:"open_price"`
	HighPrice   float64   `json:"high_price"`
	LowPrice    float64   `json:"low_price"`
	QuoteVolume float64   `json:"quote_volume"`
}

// Page is one page of the volume-ranked view. Total counts distinct symbols,
// not rows, so clients can derive the page count.
type Page struct {
	Data    []VolumeRow `json:"data"`
	Total   int64       `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

// PageRequest is a client-sent pagination message. PerPage is accepted on
// the wire but not applied; page size is fixed per session.
type PageRequest struct {
	Page    *int `json:"page"`
	PerPage *int `json:"per_page"`
}
