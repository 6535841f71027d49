// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is reported by store lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// Direction records whether a message was sent by us or received from a peer.
type Direction byte

const (
	DirSend     Direction = 0
	DirReceived Direction = 1
)

func (d Direction) String() string {
	if d == DirSend {
		return "SEND"
	}
	return "RECEIVED"
}

// A Message is the immutable log record of one sent or received envelope.
//
// ID is our durable identity for the record. For sent requests it doubles as
// the correlation token carried on the wire, so an incoming response's
// ReplyTo field resolves directly to the original outbound message.
// SourceMsgID is the remote peer's token for a received envelope, used when
// we reply to it.
type Message struct {
	ID          string
	Direction   Direction
	Code        MsgCode
	Domain      string // the remote peer's domain
	Note        string
	Params      map[string]string
	Payload     json.RawMessage
	Timestamp   time.Time
	SourceMsgID string
	ReplyTo     string
	Visibility  Visibility // who may see the record on review surfaces
}

// A Store is the persistence collaborator of the protocol core. The core
// treats its reads and writes as synchronous and consistent; retry and
// backoff on storage failure is the implementation's responsibility.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// FindPeerByDomain returns the peer record for domain, or ErrNotFound.
	FindPeerByDomain(domain string) (*Peer, error)

	// SavePeer persists the peer record.
	SavePeer(p *Peer) error

	// Peers returns all known peer records.
	Peers() ([]*Peer, error)

	// FindMessageByID returns the message with the given ID, or ErrNotFound.
	FindMessageByID(id string) (*Message, error)

	// SaveMessage persists a message log record.
	SaveMessage(m *Message) error

	// CountReceived reports how many messages were received from domain at or
	// after since.
	CountReceived(domain string, since time.Time) (int, error)

	// RulesByRequestCode returns the auto-response rules configured for the
	// given request code, ordered by ascending priority.
	RulesByRequestCode(code MsgCode) ([]AutoResponseRule, error)
}
