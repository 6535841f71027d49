// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package exchange defines the payload bodies of the sync, coverage,
// lastprice, and history-quote protocols, and the fill cycle that combines
// peer-sourced data with a local connector fallback.
package exchange

import (
	"fmt"
	"time"
)

// An InstrumentKey identifies one exchangeable instrument: a security by
// (ISIN, currency), or a currency pair by (from, to). Exactly one of the two
// forms is populated.
type InstrumentKey struct {
	ISIN         string `json:"isin,omitempty"`
	Currency     string `json:"currency,omitempty"`
	FromCurrency string `json:"fromCurrency,omitempty"`
	ToCurrency   string `json:"toCurrency,omitempty"`
}

// Security returns the key for a security instrument.
func Security(isin, currency string) InstrumentKey {
	return InstrumentKey{ISIN: isin, Currency: currency}
}

// CurrencyPair returns the key for a currency pair.
func CurrencyPair(from, to string) InstrumentKey {
	return InstrumentKey{FromCurrency: from, ToCurrency: to}
}

// IsCurrencyPair reports whether k identifies a currency pair.
func (k InstrumentKey) IsCurrencyPair() bool { return k.FromCurrency != "" }

// Valid reports whether k is populated in exactly one of its two forms.
func (k InstrumentKey) Valid() bool {
	if k.IsCurrencyPair() {
		return k.ToCurrency != "" && k.ISIN == "" && k.Currency == ""
	}
	return k.ISIN != "" && k.Currency != ""
}

func (k InstrumentKey) String() string {
	if k.IsCurrencyPair() {
		return k.FromCurrency + "/" + k.ToCurrency
	}
	return fmt.Sprintf("%s[%s]", k.ISIN, k.Currency)
}

// A SyncItem describes one instrument's willingness to share last-price and
// historical data. The auxiliary fields carry meaning only while
// SendHistorical is set; Normalize clears them otherwise.
type SyncItem struct {
	Key            InstrumentKey `json:"key"`
	SendLastprice  bool          `json:"sendLastprice"`
	SendHistorical bool          `json:"sendHistorical"`
	RetryCount     int           `json:"retryCount,omitempty"`
	MinDate        *time.Time    `json:"minDate,omitempty"`
	MaxDate        *time.Time    `json:"maxDate,omitempty"`
	OHLCPercent    float64       `json:"ohlcPercentage,omitempty"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Normalize strips the historical-data metadata from an item whose
// historical send flag is off, and returns the item.
func (it SyncItem) Normalize() SyncItem {
	if !it.SendHistorical {
		it.RetryCount = 0
		it.MinDate = nil
		it.MaxDate = nil
		it.OHLCPercent = 0
	}
	return it
}

// A SyncRequest carries the locally changed sync items since a given time.
// The response mirrors the same shape for the remote side's changes; each
// side applies the other's items independently, with conflicting concurrent
// edits resolved last-write-wins per instrument.
type SyncRequest struct {
	Since time.Time  `json:"since"`
	Items []SyncItem `json:"items"`
}

// A SyncReply mirrors the remote side's changed items.
type SyncReply struct {
	Items []SyncItem `json:"items"`
}

// BuildSyncRequest assembles a sync request from changed items. Items with
// neither send flag set never appear in an outgoing payload; this is a
// filter on the flags, not a presence check.
func BuildSyncRequest(since time.Time, items []SyncItem) SyncRequest {
	req := SyncRequest{Since: since}
	for _, it := range items {
		if it.SendLastprice || it.SendHistorical {
			req.Items = append(req.Items, it.Normalize())
		}
	}
	return req
}

// A CoverageRequest enumerates instruments for which only the available date
// range and record count are wanted. No price data is transferred; the query
// exists to rank peers by coverage depth before one expensive full-data
// request is issued.
type CoverageRequest struct {
	Keys []InstrumentKey `json:"keys"`
}

// A CoverageEntry reports the coverage a peer has for one instrument. An
// instrument the peer does not cover is reported with Available false and
// RecordCount 0 rather than omitted, so the requester can distinguish "peer
// doesn't have it" from "peer didn't answer."
type CoverageEntry struct {
	Key         InstrumentKey `json:"key"`
	Available   bool          `json:"available"`
	MinDate     *time.Time    `json:"minDate,omitempty"`
	MaxDate     *time.Time    `json:"maxDate,omitempty"`
	RecordCount int           `json:"recordCount"`
}

// A CoverageReply answers a coverage request with one entry per queried key.
type CoverageReply struct {
	Entries []CoverageEntry `json:"entries"`
}

// Score reports the total record count over all entries, used to rank peers.
func (r CoverageReply) Score() int {
	var total int
	for _, e := range r.Entries {
		total += e.RecordCount
	}
	return total
}

// A Lastprice is one intraday price observation.
type Lastprice struct {
	Key       InstrumentKey `json:"key"`
	Price     float64       `json:"price"`
	Volume    float64       `json:"volume,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// A LastpriceWant names an instrument with an optional recency bound:
// only prices strictly newer than NewerThan are wanted, nil means any.
type LastpriceWant struct {
	Key       InstrumentKey `json:"key"`
	NewerThan *time.Time    `json:"newerThan,omitempty"`
}

// A LastpriceRequest pulls last prices for a set of instruments.
type LastpriceRequest struct {
	Items []LastpriceWant `json:"items"`
}

// A LastpriceReply returns the prices the supplier has. WantReceive lists
// instruments the supplier lacks but would like pushed to it if the
// consumer ever obtains them; this is how connector-fetched data finds its
// way back to interested peers.
type LastpriceReply struct {
	Prices      []Lastprice     `json:"prices"`
	WantReceive []InstrumentKey `json:"wantReceive,omitempty"`
}

// A Quote is one end-of-day history record.
type Quote struct {
	Key    InstrumentKey `json:"key"`
	Date   time.Time     `json:"date"`
	Open   float64       `json:"open,omitempty"`
	High   float64       `json:"high,omitempty"`
	Low    float64       `json:"low,omitempty"`
	Close  float64       `json:"close"`
	Volume float64       `json:"volume,omitempty"`
}

// A HistoryWant names an instrument and the date range wanted.
type HistoryWant struct {
	Key  InstrumentKey `json:"key"`
	From time.Time     `json:"from"`
	To   time.Time     `json:"to"`
}

// A HistoryRequest pulls history quotes for a set of instruments.
type HistoryRequest struct {
	Items []HistoryWant `json:"items"`
}

// A HistoryReply returns the quotes the supplier has, plus the instruments
// it wants pushed back (see LastpriceReply.WantReceive).
type HistoryReply struct {
	Quotes      []Quote         `json:"quotes"`
	WantReceive []InstrumentKey `json:"wantReceive,omitempty"`
}

// Data is the application-side source and sink of exchangeable market data.
// The protocol handlers consult it to answer requests and feed it with
// received records. Implementations must be safe for concurrent use.
type Data interface {
	// ChangedSince returns the sync items changed at or after since.
	ChangedSince(since time.Time) ([]SyncItem, error)

	// ApplyItems merges the remote side's sync items, last-write-wins per
	// instrument by UpdatedAt.
	ApplyItems(items []SyncItem) error

	// Coverage reports coverage for every requested key, in request order,
	// with Available false for instruments that have no data.
	Coverage(keys []InstrumentKey) ([]CoverageEntry, error)

	// Lastprices returns prices strictly newer than each want's bound, plus
	// the keys the supplier wants pushed back.
	Lastprices(wants []LastpriceWant) (prices []Lastprice, wantReceive []InstrumentKey, err error)

	// HistoryQuotes returns quotes within each want's date range, plus the
	// keys the supplier wants pushed back.
	HistoryQuotes(wants []HistoryWant) (quotes []Quote, wantReceive []InstrumentKey, err error)

	// AcceptLastprices persists pushed or pulled prices and reports how many
	// were actually accepted. Partial acceptance is valid.
	AcceptLastprices(prices []Lastprice) (int, error)

	// AcceptQuotes persists pushed or pulled quotes and reports how many
	// were actually accepted. Partial acceptance is valid.
	AcceptQuotes(quotes []Quote) (int, error)
}
