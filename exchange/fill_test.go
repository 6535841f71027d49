// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package exchange_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/exchange"
)

// fakePeers answers coverage, history, and push calls from a fixed script,
// recording which peers were asked for full data and what was pushed back.
type fakePeers struct {
	t        *testing.T
	coverage map[string]exchange.CoverageReply
	history  map[string]exchange.HistoryReply

	μ      sync.Mutex
	pulled []string                    // domains asked for full history
	pushed map[string][]exchange.Quote // domain to quotes pushed to it
}

func (f *fakePeers) Call(ctx context.Context, domain string, env *gtnet.Envelope) (*gtnet.Envelope, error) {
	switch env.Code {
	case gtnet.CodeCoverage:
		reply, ok := f.coverage[domain]
		if !ok {
			return nil, fmt.Errorf("peer %q unreachable", domain)
		}
		return (&gtnet.Envelope{Code: gtnet.CodeCoverageReply}).SetPayload(reply), nil

	case gtnet.CodeHistory:
		f.μ.Lock()
		f.pulled = append(f.pulled, domain)
		f.μ.Unlock()
		return (&gtnet.Envelope{Code: gtnet.CodeHistoryReply}).SetPayload(f.history[domain]), nil

	case gtnet.CodeHistoryPush:
		var body exchange.HistoryReply
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			f.t.Errorf("Push payload: %v", err)
		}
		f.μ.Lock()
		if f.pushed == nil {
			f.pushed = make(map[string][]exchange.Quote)
		}
		f.pushed[domain] = append(f.pushed[domain], body.Quotes...)
		f.μ.Unlock()
		return (&gtnet.Envelope{Code: gtnet.CodePushAck}).
			SetParam(gtnet.ParamAcceptedCount, strconv.Itoa(len(body.Quotes))), nil

	default:
		return nil, fmt.Errorf("unexpected call %v", env.Code)
	}
}

// fakeConnector serves a fixed quote per instrument.
type fakeConnector struct {
	μ       sync.Mutex
	fetched []exchange.InstrumentKey
	quotes  map[exchange.InstrumentKey][]exchange.Quote
}

func (f *fakeConnector) Fetch(ctx context.Context, key exchange.InstrumentKey, from, to time.Time) ([]exchange.Quote, error) {
	f.μ.Lock()
	defer f.μ.Unlock()
	f.fetched = append(f.fetched, key)
	qs, ok := f.quotes[key]
	if !ok {
		return nil, fmt.Errorf("no vendor data for %v", key)
	}
	return qs, nil
}

func discardLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestFillHistory(t *testing.T) {
	wants := []exchange.HistoryWant{
		{Key: keyNestle, From: day(2026, 1, 1), To: day(2026, 1, 31)},
		{Key: keyApple, From: day(2026, 1, 1), To: day(2026, 1, 31)},
	}

	// alpha has nothing; beta covers the first instrument and wants the
	// second pushed back once we obtain it.
	peers := &fakePeers{
		t: t,
		coverage: map[string]exchange.CoverageReply{
			"alpha.example.org": {Entries: []exchange.CoverageEntry{
				{Key: keyNestle, Available: false},
				{Key: keyApple, Available: false},
			}},
			"beta.example.org": {Entries: []exchange.CoverageEntry{
				{Key: keyNestle, Available: true, RecordCount: 2},
				{Key: keyApple, Available: false},
			}},
		},
		history: map[string]exchange.HistoryReply{
			"beta.example.org": {
				Quotes: []exchange.Quote{
					{Key: keyNestle, Date: day(2026, 1, 5), Close: 101},
					{Key: keyNestle, Date: day(2026, 1, 6), Close: 102},
				},
				WantReceive: []exchange.InstrumentKey{keyApple},
			},
		},
	}
	conn := &fakeConnector{quotes: map[exchange.InstrumentKey][]exchange.Quote{
		keyApple: {{Key: keyApple, Date: day(2026, 1, 10), Close: 230}},
	}}
	data := exchange.NewMemData()

	f := &exchange.Filler{Caller: peers, Data: data, Connector: conn, Log: discardLog()}
	accepted, err := f.FillHistory(context.Background(), []string{"alpha.example.org", "beta.example.org"}, wants)
	if err != nil {
		t.Fatalf("FillHistory: %v", err)
	}
	if accepted != 3 {
		t.Errorf("Accepted: got %d, want 3", accepted)
	}

	// Only the best-covered peer is asked for full data.
	if len(peers.pulled) != 1 || peers.pulled[0] != "beta.example.org" {
		t.Errorf("History pulled from %v, want only beta", peers.pulled)
	}

	// The connector serves only the instrument the peers lacked.
	if len(conn.fetched) != 1 || conn.fetched[0] != keyApple {
		t.Errorf("Connector fetched %v, want only the unfilled instrument", conn.fetched)
	}

	// The connector result is pushed back to the peer that flagged interest.
	pushed := peers.pushed["beta.example.org"]
	if len(pushed) != 1 || pushed[0].Key != keyApple {
		t.Errorf("Pushed to beta: got %+v, want the vendor quote", pushed)
	}

	if got := data.Quotes(keyNestle); len(got) != 2 {
		t.Errorf("Held quotes for first instrument: got %d, want 2", len(got))
	}
	if got := data.Quotes(keyApple); len(got) != 1 {
		t.Errorf("Held quotes for second instrument: got %d, want 1", len(got))
	}
}

func TestFillHistoryNoPeers(t *testing.T) {
	conn := &fakeConnector{quotes: map[exchange.InstrumentKey][]exchange.Quote{
		keyNestle: {{Key: keyNestle, Date: day(2026, 1, 5), Close: 101}},
	}}
	data := exchange.NewMemData()

	// With no peers reachable the connector alone fills the want.
	f := &exchange.Filler{Caller: &fakePeers{t: t}, Data: data, Connector: conn, Log: discardLog()}
	accepted, err := f.FillHistory(context.Background(), []string{"down.example.org"},
		[]exchange.HistoryWant{{Key: keyNestle, From: day(2026, 1, 1)}})
	if err != nil {
		t.Fatalf("FillHistory: %v", err)
	}
	if accepted != 1 {
		t.Errorf("Accepted: got %d, want 1", accepted)
	}
}

func TestFillHistoryEmpty(t *testing.T) {
	f := &exchange.Filler{Caller: &fakePeers{t: t}, Data: exchange.NewMemData(), Log: discardLog()}
	if n, err := f.FillHistory(context.Background(), []string{"beta.example.org"}, nil); n != 0 || err != nil {
		t.Errorf("FillHistory with no wants: got %d, %v; want 0, nil", n, err)
	}
}
