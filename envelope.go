// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Visibility distinguishes messages shown to all users of the receiving
// instance from messages reserved for administrators.
type Visibility byte

const (
	VisibleAll   Visibility = 0 // visible to every user
	VisibleAdmin Visibility = 1 // visible to administrators only
)

func (v Visibility) String() string {
	switch v {
	case VisibleAll:
		return "ALL"
	case VisibleAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("visibility %d", byte(v))
	}
}

// An Envelope is the wire representation of one message between peers.
//
// Params carries simple scalar exchange terms as string key/value pairs;
// Payload carries richer structured bodies such as instrument lists. MsgID is
// the sender's correlation token for this envelope, and ReplyTo points back
// at the MsgID of the request an answer responds to. A response that cannot
// be resolved to a prior request via these two fields is an orphan; orphans
// are logged and handled with safe defaults, never raised to the remote.
type Envelope struct {
	SourceDomain string            `json:"sourceDomain"`
	Code         MsgCode           `json:"messageCode"`
	Params       map[string]string `json:"params,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	MsgID        string            `json:"idSourceGtNetMessage,omitempty"`
	ReplyTo      string            `json:"replyToSourceId,omitempty"`
	Visibility   Visibility        `json:"visibility,omitempty"`
}

// Param returns the named parameter and reports whether it is present.
func (e *Envelope) Param(name string) (string, bool) {
	v, ok := e.Params[name]
	return v, ok
}

// SetParam sets the named parameter, allocating the parameter map if needed.
// It returns e to permit chaining.
func (e *Envelope) SetParam(name, value string) *Envelope {
	if e.Params == nil {
		e.Params = make(map[string]string)
	}
	e.Params[name] = value
	return e
}

// SetPayload marshals v as the structured payload of e.
// It returns e to permit chaining, and panics if v cannot be marshaled.
func (e *Envelope) SetPayload(v any) *Envelope {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("encoding payload: %w", err))
	}
	e.Payload = data
	return e
}

// Reply constructs a response envelope for e with the given code, carrying
// e's MsgID in its ReplyTo field. The caller fills in source and identity.
func (e *Envelope) Reply(code MsgCode) *Envelope {
	return &Envelope{Code: code, ReplyTo: e.MsgID, Timestamp: time.Now().UTC()}
}

// Encode encodes e in wire format.
func (e *Envelope) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Errorf("encoding envelope: %w", err))
	}
	return data
}

// ParseEnvelope decodes data as an envelope in wire format.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &e, nil
}

// WriteTo writes e to w as a framed wire record: a fixed header comprising
// the bytes "GT", a version byte, the message code, and a big-endian uint32
// body length, followed by the encoded envelope. It satisfies io.WriterTo.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	body := e.Encode()
	buf := [8]byte{'G', 'T', 0, byte(e.Code)}
	binary.BigEndian.PutUint32(buf[4:], uint32(len(body)))
	nw, err := w.Write(buf[:])
	if err == nil {
		var nb int
		nb, err = w.Write(body)
		nw += nb
	}
	return int64(nw), err
}

// ReadFrom reads a framed envelope from r. It satisfies io.ReaderFrom.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
	var buf [8]byte
	nr, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(nr), fmt.Errorf("short frame header: %w", err)
	}
	if p := string(buf[:3]); p != "GT\x00" {
		return int64(nr), fmt.Errorf("invalid frame prefix %q", p)
	}

	body := make([]byte, binary.BigEndian.Uint32(buf[4:]))
	nb, err := io.ReadFull(r, body)
	nr += nb
	if err != nil {
		return int64(nr), fmt.Errorf("short frame body: %w", err)
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		return int64(nr), err
	}
	if env.Code != MsgCode(buf[3]) {
		return int64(nr), fmt.Errorf("frame code %d does not match envelope code %d", buf[3], env.Code)
	}
	*e = *env
	return int64(nr), nil
}

// String returns a human-friendly rendering of the envelope.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope(%v, from=%s, id=%s, replyTo=%s)", e.Code, e.SourceDomain, e.MsgID, e.ReplyTo)
}

// Names of parameters used by the built-in message codes. Parameters are part
// of the wire contract: auto-response rule conditions may reference any of
// them by name.
const (
	ParamKinds         = "kinds"         // comma-separated kind names
	ParamEffectiveAt   = "effectiveAt"   // RFC 3339 time a revocation takes effect
	ParamAcceptedCount = "acceptedCount" // records persisted by a push receiver
	ParamTimezone      = "timezone"      // IANA zone name of the sender
	ParamDailyLimit    = "dailyRequestLimit"
	ParamWaitDays      = "waitDays" // cooldown before the requester may retry
	ParamSince         = "since"    // RFC 3339 lower bound for sync requests
	ParamFrom          = "from"     // maintenance window start
	ParamUntil         = "until"    // maintenance window end
)
