// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package gtnet implements the GTNet peer-to-peer exchange protocol.
//
// GTNet lets independent server instances of a financial-data platform
// discover each other and agree, bilaterally and asynchronously, to exchange
// market data: intraday last prices and end-of-day history quotes, plus
// ancillary metadata such as server lists and coverage queries. Every
// instance is both a client and a server; it sends requests and
// announcements to peers, and must correctly react to the messages it
// receives, including spontaneous accepts, rejects, revocations, and pushed
// data.
//
// # Envelopes and codes
//
// Peers exchange [Envelope] values. An envelope carries a byte-valued
// [MsgCode], a string parameter map for scalar exchange terms, an optional
// structured JSON payload for richer bodies, and two correlation fields that
// tie a response back to the request it answers. Codes and exchange kinds
// form open catalogs: the protocol registers its own values at init, and the
// embedding application may add more at startup with [RegisterCode] and
// [RegisterKind].
//
// # Nodes and handlers
//
// The running instance is a [Node]. A node receives envelopes from any
// number of attached [Channel] values, each connecting it with one remote
// peer, and dispatches every inbound message through a [Registry] mapping
// each code to exactly one [Handler]. Registering two handlers for the same
// code is a configuration error and panics at startup.
//
// A handler consumes a [MsgContext], the per-message façade bundling the
// envelope, the local and remote peer records, and the auto-response rules
// configured for the message's code. Request handlers either answer
// automatically via [Resolve] or leave the message for manual operator
// review; response handlers locate the original request via the correlation
// fields and update exchange state; announcement handlers apply unilateral
// state changes such as revocations.
//
// # Exchange state
//
// Negotiation state lives per (peer, kind) in an [EntityState] owned by the
// remote [Peer] record: a server state, an accept state, and a lazily
// created [ExchangeConfig]. The transition methods of Peer serialize
// concurrent mutations per peer, so handlers running in parallel for
// different peers never contend. A PUSH_OPEN accept grant survives the
// generic accept path and is closed only by an explicit reject or revoke.
//
// # Automatic resolution
//
// Operators configure prioritized [AutoResponseRule] values whose boolean
// conditions are evaluated against a fixed variable vocabulary (time of day,
// request limits, timezone offsets, connection counts, the request's own
// parameters). The first matching rule answers the request; no match leaves
// it pending review. A malformed rule is logged and skipped, never fatal.
//
// Subpackages provide the remaining pieces: memstore (in-memory persistence
// collaborator), exchange (sync, coverage, and data payloads plus the fill
// cycle), handler (the built-in handler set), channel (Channel
// implementations), peers (test and serving support), and config (node
// configuration).
package gtnet
