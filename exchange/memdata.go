// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package exchange

import (
	"slices"
	"sync"
	"time"
)

// MemData is an in-memory implementation of the Data interface, used by
// tests and by instances that have not wired a durable data backend.
type MemData struct {
	μ      sync.Mutex
	items  map[InstrumentKey]SyncItem
	prices map[InstrumentKey]Lastprice
	quotes map[InstrumentKey][]Quote // kept sorted by date
}

// NewMemData constructs a new empty data set.
func NewMemData() *MemData {
	return &MemData{
		items:  make(map[InstrumentKey]SyncItem),
		prices: make(map[InstrumentKey]Lastprice),
		quotes: make(map[InstrumentKey][]Quote),
	}
}

// Track registers an instrument's sync item locally, marking it changed now.
func (d *MemData) Track(it SyncItem) {
	d.μ.Lock()
	defer d.μ.Unlock()
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	d.items[it.Key] = it
}

// ChangedSince implements a method of the [Data] interface.
func (d *MemData) ChangedSince(since time.Time) ([]SyncItem, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	var out []SyncItem
	for _, it := range d.items {
		if !it.UpdatedAt.Before(since) {
			out = append(out, it)
		}
	}
	return out, nil
}

// ApplyItems implements a method of the [Data] interface. A remote item
// replaces the local one only if it is newer; the granularity of the
// last-write-wins resolution is one instrument, never the whole payload.
func (d *MemData) ApplyItems(items []SyncItem) error {
	d.μ.Lock()
	defer d.μ.Unlock()
	for _, it := range items {
		if cur, ok := d.items[it.Key]; ok && cur.UpdatedAt.After(it.UpdatedAt) {
			continue
		}
		d.items[it.Key] = it.Normalize()
	}
	return nil
}

// Coverage implements a method of the [Data] interface.
func (d *MemData) Coverage(keys []InstrumentKey) ([]CoverageEntry, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	out := make([]CoverageEntry, 0, len(keys))
	for _, key := range keys {
		qs := d.quotes[key]
		if len(qs) == 0 {
			out = append(out, CoverageEntry{Key: key, Available: false, RecordCount: 0})
			continue
		}
		lo, hi := qs[0].Date, qs[len(qs)-1].Date
		out = append(out, CoverageEntry{
			Key:         key,
			Available:   true,
			MinDate:     &lo,
			MaxDate:     &hi,
			RecordCount: len(qs),
		})
	}
	return out, nil
}

// Lastprices implements a method of the [Data] interface.
func (d *MemData) Lastprices(wants []LastpriceWant) ([]Lastprice, []InstrumentKey, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	var prices []Lastprice
	var want []InstrumentKey
	for _, w := range wants {
		lp, ok := d.prices[w.Key]
		if !ok {
			if _, tracked := d.items[w.Key]; tracked {
				want = append(want, w.Key)
			}
			continue
		}
		if w.NewerThan != nil && !lp.Timestamp.After(*w.NewerThan) {
			continue
		}
		prices = append(prices, lp)
	}
	return prices, want, nil
}

// HistoryQuotes implements a method of the [Data] interface.
func (d *MemData) HistoryQuotes(wants []HistoryWant) ([]Quote, []InstrumentKey, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	var quotes []Quote
	var want []InstrumentKey
	for _, w := range wants {
		qs := d.quotes[w.Key]
		if len(qs) == 0 {
			if _, tracked := d.items[w.Key]; tracked {
				want = append(want, w.Key)
			}
			continue
		}
		for _, q := range qs {
			if q.Date.Before(w.From) || (!w.To.IsZero() && q.Date.After(w.To)) {
				continue
			}
			quotes = append(quotes, q)
		}
	}
	return quotes, want, nil
}

// AcceptLastprices implements a method of the [Data] interface. A price is
// accepted only if it is newer than the one already held, so the reported
// count reflects actual persistence.
func (d *MemData) AcceptLastprices(prices []Lastprice) (int, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	var accepted int
	for _, lp := range prices {
		if cur, ok := d.prices[lp.Key]; ok && !lp.Timestamp.After(cur.Timestamp) {
			continue
		}
		d.prices[lp.Key] = lp
		accepted++
	}
	return accepted, nil
}

// AcceptQuotes implements a method of the [Data] interface. Quotes are
// deduplicated by (instrument, date); only newly inserted records count.
func (d *MemData) AcceptQuotes(quotes []Quote) (int, error) {
	d.μ.Lock()
	defer d.μ.Unlock()
	var accepted int
	for _, q := range quotes {
		qs := d.quotes[q.Key]
		pos, exists := slices.BinarySearchFunc(qs, q, func(a, b Quote) int {
			return a.Date.Compare(b.Date)
		})
		if exists {
			continue
		}
		d.quotes[q.Key] = slices.Insert(qs, pos, q)
		accepted++
	}
	return accepted, nil
}

// Quotes returns the held history quotes for key, sorted by date.
// It is a test convenience.
func (d *MemData) Quotes(key InstrumentKey) []Quote {
	d.μ.Lock()
	defer d.μ.Unlock()
	return slices.Clone(d.quotes[key])
}

// Item returns the tracked sync item for key, if any. It is a test
// convenience.
func (d *MemData) Item(key InstrumentKey) (SyncItem, bool) {
	d.μ.Lock()
	defer d.μ.Unlock()
	it, ok := d.items[key]
	return it, ok
}
