// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet_test

import (
	"sync"
	"testing"
	"time"

	"github.com/grafioschtrader/gtnet"
)

func TestEntityLifecycle(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	if es := p.Entity(gtnet.KindLastPrice); es != nil {
		t.Errorf("Entity before any request: got %+v, want nil", es)
	}

	// A received request creates a pending entity state.
	es := p.RequestReceived(gtnet.KindLastPrice)
	if es.Accept != gtnet.AcceptClosed || es.ServerState != gtnet.ServerOpen {
		t.Errorf("After request: accept %v, server %v; want CLOSED, OPEN", es.Accept, es.ServerState)
	}
	if es.Config != nil {
		t.Errorf("After request: config %+v, want nil", es.Config)
	}

	// Accepting opens the exchange and creates its config.
	es = p.Accept(gtnet.KindLastPrice)
	if es.Accept != gtnet.AcceptOpen || es.ServerState != gtnet.ServerOpen {
		t.Errorf("After accept: accept %v, server %v; want OPEN, OPEN", es.Accept, es.ServerState)
	}
	if es.Config == nil || !es.Config.Exchange {
		t.Errorf("After accept: config %+v, want active exchange", es.Config)
	}

	// Rejecting closes both directions but keeps the record.
	es = p.Reject(gtnet.KindLastPrice)
	if es.Accept != gtnet.AcceptClosed || es.ServerState != gtnet.ServerClosed {
		t.Errorf("After reject: accept %v, server %v; want CLOSED, CLOSED", es.Accept, es.ServerState)
	}
	if es.Config.Exchange {
		t.Error("After reject: exchange still marked active")
	}
	if got := len(p.Entities()); got != 1 {
		t.Errorf("Entity count: got %d, want 1", got)
	}
}

func TestPushGrantSticky(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	p.AcceptPush(gtnet.KindLastPrice)
	if es := p.Entity(gtnet.KindLastPrice); es.Accept != gtnet.AcceptPushOpen {
		t.Fatalf("After push grant: accept %v, want PUSH_OPEN", es.Accept)
	}

	// A later generic accept must not downgrade the push grant.
	p.Accept(gtnet.KindLastPrice)
	if es := p.Entity(gtnet.KindLastPrice); es.Accept != gtnet.AcceptPushOpen {
		t.Errorf("After generic accept: accept %v, want PUSH_OPEN retained", es.Accept)
	}

	// Only an explicit reject closes it.
	p.Reject(gtnet.KindLastPrice)
	if es := p.Entity(gtnet.KindLastPrice); es.Accept != gtnet.AcceptClosed {
		t.Errorf("After reject: accept %v, want CLOSED", es.Accept)
	}
}

func TestRevoke(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	effective := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// Revoking a kind that was never negotiated is a no-op.
	if p.Revoke(gtnet.KindHistory, effective) {
		t.Error("Revoke of unknown kind reported an existing state")
	}
	if es := p.Entity(gtnet.KindHistory); es != nil {
		t.Errorf("Revoke of unknown kind created state %+v", es)
	}

	p.Accept(gtnet.KindHistory)
	if !p.Revoke(gtnet.KindHistory, effective) {
		t.Error("Revoke of accepted kind reported no state")
	}
	es := p.Entity(gtnet.KindHistory)
	if es.Accept != gtnet.AcceptClosed || es.ServerState != gtnet.ServerClosed {
		t.Errorf("After revoke: accept %v, server %v; want CLOSED, CLOSED", es.Accept, es.ServerState)
	}
	if !es.ClosedAfter.Equal(effective) {
		t.Errorf("ClosedAfter: got %v, want %v", es.ClosedAfter, effective)
	}

	// Re-accepting clears the revocation boundary.
	p.Accept(gtnet.KindHistory)
	if es := p.Entity(gtnet.KindHistory); !es.ClosedAfter.IsZero() {
		t.Errorf("ClosedAfter survives re-accept: %v", es.ClosedAfter)
	}
}

func TestServesAt(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	effective := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	before := effective.Add(-time.Hour)
	after := effective.Add(time.Hour)

	if p.ServesAt(gtnet.KindLastPrice, before) {
		t.Error("ServesAt true with no entity state")
	}

	p.RequestReceived(gtnet.KindLastPrice)
	if p.ServesAt(gtnet.KindLastPrice, before) {
		t.Error("ServesAt true for a pending exchange")
	}

	p.Accept(gtnet.KindLastPrice)
	if !p.ServesAt(gtnet.KindLastPrice, before) {
		t.Error("ServesAt false for an accepted exchange")
	}

	p.Revoke(gtnet.KindLastPrice, effective)
	if p.ServesAt(gtnet.KindLastPrice, after) {
		t.Error("ServesAt true past the revocation boundary")
	}
}

func TestCloseAll(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	p.Accept(gtnet.KindLastPrice)
	p.AcceptPush(gtnet.KindHistory)

	p.CloseAll()
	for _, es := range p.Entities() {
		if es.Accept != gtnet.AcceptClosed || es.ServerState != gtnet.ServerClosed {
			t.Errorf("Entity %v after close: accept %v, server %v", es.Kind, es.Accept, es.ServerState)
		}
		if es.Config.Exchange {
			t.Errorf("Entity %v still marked as exchanging", es.Kind)
		}
	}
}

func TestMaxLimit(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	if got := p.MaxLimit(gtnet.KindLastPrice); got != 0 {
		t.Errorf("MaxLimit with no config: got %d, want 0", got)
	}

	p.Accept(gtnet.KindLastPrice)
	p.SetMaxLimit(gtnet.KindLastPrice, 2500)
	p.Accept(gtnet.KindHistory)
	p.SetMaxLimit(gtnet.KindHistory, 800)

	if got := p.MaxLimit(gtnet.KindLastPrice); got != 2500 {
		t.Errorf("MaxLimit(LASTPRICE): got %d, want 2500", got)
	}
	if got := p.MaxLimit(gtnet.KindHistory); got != 800 {
		t.Errorf("MaxLimit(HISTORYQUOTE): got %d, want 800", got)
	}
}

// Exercises state transitions against snapshot reads on the same peer from
// concurrent goroutines, as when inbound messages are processed in parallel.
// Run with -race.
func TestConcurrentPeerAccess(t *testing.T) {
	p := gtnet.NewPeer("peer.example.org")
	effective := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Accept(gtnet.KindLastPrice)
				p.AcceptPush(gtnet.KindHistory)
				p.SetTimezone("Europe/Zurich").SetDailyRequestLimit(500)
				p.Revoke(gtnet.KindLastPrice, effective)
				p.Reject(gtnet.KindHistory)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.AcceptState(gtnet.KindLastPrice)
				p.ServesAt(gtnet.KindHistory, effective)
				p.Timezone()
				p.DailyRequestLimit()
				for _, es := range p.Entities() {
					_ = es.Accept
				}
			}
		}()
	}
	wg.Wait()

	for _, kind := range []gtnet.Kind{gtnet.KindLastPrice, gtnet.KindHistory} {
		if got := p.AcceptState(kind); got != gtnet.AcceptClosed {
			t.Errorf("AcceptState(%v): got %v, want CLOSED", kind, got)
		}
	}
}
