// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"fmt"
	"sync"
	"time"
)

// ServerState reports whether a peer currently services requests for a kind.
type ServerState byte

const (
	ServerOpen   ServerState = 0
	ServerClosed ServerState = 1
)

func (s ServerState) String() string {
	switch s {
	case ServerOpen:
		return "OPEN"
	case ServerClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("server state %d", byte(s))
	}
}

// AcceptState reports whether requests from a peer for a kind are honored.
//
// AcceptPushOpen additionally grants the peer the right to push data
// unsolicited. Push is never silently downgraded: the generic accept path
// leaves AcceptPushOpen in place, and only an explicit revoke or reject
// closes it.
type AcceptState byte

const (
	AcceptClosed   AcceptState = 0
	AcceptOpen     AcceptState = 1
	AcceptPushOpen AcceptState = 2
)

func (s AcceptState) String() string {
	switch s {
	case AcceptClosed:
		return "CLOSED"
	case AcceptOpen:
		return "OPEN"
	case AcceptPushOpen:
		return "PUSH_OPEN"
	default:
		return fmt.Sprintf("accept state %d", byte(s))
	}
}

// An ExchangeConfig carries the negotiated terms of one active exchange.
// It is created lazily when an exchange is first accepted.
type ExchangeConfig struct {
	Exchange           bool // whether this kind is actively exchanged
	MaxLimitLastPrice  int  // per-day record limit for last prices, 0 = unlimited
	MaxLimitHistorical int  // per-day record limit for history quotes, 0 = unlimited
}

// An EntityState is the negotiation state of one (peer, kind) pair. Entity
// states are created lazily on the first request or accept for a kind and are
// never deleted; revocation transitions them to CLOSED so that the
// negotiation history is preserved.
type EntityState struct {
	Kind        Kind
	ServerState ServerState
	Accept      AcceptState
	Config      *ExchangeConfig
	ClosedAfter time.Time // zero if no revocation is in effect
}

// A Peer is one known remote instance, or the distinguished record for the
// local instance itself. There is at most one Peer per domain name; the local
// record is referenced by configuration, never by domain lookup.
//
// The mutable attributes and the entity states are guarded by a per-peer
// mutex, so concurrent handlers touching the same peer serialize on it, and
// handlers for different peers do not contend with each other.
type Peer struct {
	Domain string // identity, unique

	μ                 sync.Mutex
	timezone          string // IANA zone name
	dailyRequestLimit int    // requests per day this peer will answer
	spread            bool   // may this peer be disclosed to third parties
	entities          map[Kind]*EntityState
}

// NewPeer constructs a peer record for the given domain.
func NewPeer(domain string) *Peer { return &Peer{Domain: domain} }

// Timezone returns the peer's self-declared IANA zone name.
func (p *Peer) Timezone() string {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.timezone
}

// SetTimezone records the peer's self-declared zone name.
// It returns p to permit chaining.
func (p *Peer) SetTimezone(zone string) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.timezone = zone
	return p
}

// DailyRequestLimit returns the number of requests per day the peer answers,
// 0 meaning unlimited.
func (p *Peer) DailyRequestLimit() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.dailyRequestLimit
}

// SetDailyRequestLimit records the peer's self-declared daily request limit.
// It returns p to permit chaining.
func (p *Peer) SetDailyRequestLimit(n int) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.dailyRequestLimit = n
	return p
}

// Spread reports whether the peer's existence may be disclosed to third
// parties in a server-list reply.
func (p *Peer) Spread() bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.spread
}

// SetSpread records whether the peer may be disclosed to third parties.
// It returns p to permit chaining.
func (p *Peer) SetSpread(ok bool) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.spread = ok
	return p
}

// copyEntity returns a copy of es that is safe to read after the peer lock
// is released.
func copyEntity(es *EntityState) *EntityState {
	cp := *es
	if es.Config != nil {
		c := *es.Config
		cp.Config = &c
	}
	return &cp
}

// Entity returns a copy of the entity state for kind, or nil if none exists
// yet. The copy does not track later transitions; use AcceptState or ServesAt
// to check the current state.
func (p *Peer) Entity(kind Kind) *EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	es, ok := p.entities[kind]
	if !ok {
		return nil
	}
	return copyEntity(es)
}

// Entities returns a point-in-time snapshot of the peer's entity states.
func (p *Peer) Entities() []EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	out := make([]EntityState, 0, len(p.entities))
	for _, es := range p.entities {
		out = append(out, *copyEntity(es))
	}
	return out
}

// AcceptState returns the current accept state for kind. A kind with no
// entity state is CLOSED.
func (p *Peer) AcceptState(kind Kind) AcceptState {
	p.μ.Lock()
	defer p.μ.Unlock()
	es, ok := p.entities[kind]
	if !ok {
		return AcceptClosed
	}
	return es.Accept
}

// entityLocked returns the entity state for kind, creating it with default
// state (server open, accept closed) if absent. The caller must hold μ.
func (p *Peer) entityLocked(kind Kind) *EntityState {
	if p.entities == nil {
		p.entities = make(map[Kind]*EntityState)
	}
	es, ok := p.entities[kind]
	if !ok {
		es = &EntityState{Kind: kind, ServerState: ServerOpen, Accept: AcceptClosed}
		p.entities[kind] = es
	}
	return es
}

// RequestReceived records that the peer proposed an exchange for kind,
// creating the entity state if absent. The new state is pending: honoring
// the proposal requires a separate Accept, by operator or auto-response rule.
func (p *Peer) RequestReceived(kind Kind) *EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	return copyEntity(p.entityLocked(kind))
}

// Accept applies the generic accept transition for kind: accept state OPEN,
// server state OPEN, and an exchange config created if none exists. An
// existing PUSH_OPEN grant is left in place.
func (p *Peer) Accept(kind Kind) *EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	es := p.entityLocked(kind)
	if es.Accept != AcceptPushOpen {
		es.Accept = AcceptOpen
	}
	es.ServerState = ServerOpen
	es.ClosedAfter = time.Time{}
	if es.Config == nil {
		es.Config = &ExchangeConfig{Exchange: true}
	} else {
		es.Config.Exchange = true
	}
	return copyEntity(es)
}

// AcceptPush grants the peer push access for kind, implying the generic
// accept transition as well.
func (p *Peer) AcceptPush(kind Kind) *EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	es := p.entityLocked(kind)
	es.Accept = AcceptPushOpen
	es.ServerState = ServerOpen
	es.ClosedAfter = time.Time{}
	if es.Config == nil {
		es.Config = &ExchangeConfig{Exchange: true}
	} else {
		es.Config.Exchange = true
	}
	return copyEntity(es)
}

// Reject applies the reject transition for kind: accept state CLOSED, server
// state CLOSED. The entity state is created if absent so that the rejection
// is recorded.
func (p *Peer) Reject(kind Kind) *EntityState {
	p.μ.Lock()
	defer p.μ.Unlock()
	es := p.entityLocked(kind)
	es.Accept = AcceptClosed
	es.ServerState = ServerClosed
	if es.Config != nil {
		es.Config.Exchange = false
	}
	return copyEntity(es)
}

// Revoke applies a revocation of kind effective at the given time. The
// closure is applied synchronously, and effective is recorded so that
// ServesAt can refuse requests dated after it. Revoking a kind with no
// entity state is an idempotent no-op; Revoke reports whether a state
// existed.
func (p *Peer) Revoke(kind Kind, effective time.Time) bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	es, ok := p.entities[kind]
	if !ok {
		return false
	}
	es.Accept = AcceptClosed
	es.ServerState = ServerClosed
	es.ClosedAfter = effective
	if es.Config != nil {
		es.Config.Exchange = false
	}
	return true
}

// ServesAt reports whether requests for kind dated at the given time are
// serviced: the entity state must exist, be accepted, and not be past a
// revocation's effective time.
func (p *Peer) ServesAt(kind Kind, at time.Time) bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	es, ok := p.entities[kind]
	if !ok || es.Accept == AcceptClosed {
		return false
	}
	if !es.ClosedAfter.IsZero() && at.After(es.ClosedAfter) {
		return false
	}
	return true
}

// CloseAll applies the reject transition to every entity state of the peer.
// It is used when the peer announces that it is discontinuing operation.
func (p *Peer) CloseAll() {
	p.μ.Lock()
	defer p.μ.Unlock()
	for _, es := range p.entities {
		es.Accept = AcceptClosed
		es.ServerState = ServerClosed
		if es.Config != nil {
			es.Config.Exchange = false
		}
	}
}

// SetMaxLimit records the negotiated per-day record limit for kind, creating
// the entity state and config if absent. It returns p to permit chaining.
func (p *Peer) SetMaxLimit(kind Kind, limit int) *Peer {
	p.μ.Lock()
	defer p.μ.Unlock()
	es := p.entityLocked(kind)
	if es.Config == nil {
		es.Config = new(ExchangeConfig)
	}
	switch kind {
	case KindLastPrice:
		es.Config.MaxLimitLastPrice = limit
	case KindHistory:
		es.Config.MaxLimitHistorical = limit
	}
	return p
}

// MaxLimit returns the negotiated per-day record limit of the peer for kind,
// or 0 if no config exists.
func (p *Peer) MaxLimit(kind Kind) int {
	p.μ.Lock()
	defer p.μ.Unlock()
	es, ok := p.entities[kind]
	if !ok || es.Config == nil {
		return 0
	}
	switch kind {
	case KindLastPrice:
		return es.Config.MaxLimitLastPrice
	case KindHistory:
		return es.Config.MaxLimitHistorical
	default:
		return 0
	}
}
