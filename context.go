// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/sirupsen/logrus"
)

// A MsgContext bundles everything a handler needs to react to one inbound
// envelope: the envelope itself, the local peer record, the remote peer
// record (created on first contact), the auto-response rules configured for
// the envelope's code, and access to the store.
//
// A context is built per message and is not shared between handler
// invocations.
type MsgContext struct {
	Env    *Envelope
	Local  *Peer
	Remote *Peer
	Rules  []AutoResponseRule
	Store  Store

	// Counts and DailyCount feed the rule variable context: accepted
	// exchanges across all peers, and requests received from the remote peer
	// today.
	Counts     ConnectionCounts
	DailyCount int

	Log logrus.FieldLogger
}

// Param returns the named envelope parameter and reports whether it is
// present.
func (c *MsgContext) Param(name string) (string, bool) { return c.Env.Param(name) }

// IntParam returns the named parameter parsed as an integer. It reports
// false if the parameter is absent or does not parse.
func (c *MsgContext) IntParam(name string) (int, bool) {
	v, ok := c.Env.Param(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// TimeParam returns the named parameter parsed as an RFC 3339 timestamp. It
// reports false if the parameter is absent or does not parse.
func (c *MsgContext) TimeParam(name string) (time.Time, bool) {
	v, ok := c.Env.Param(name)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Kinds resolves the envelope's kind list parameter to a set of exchange
// kinds. An absent, empty, or unparsable list falls back to the syncable
// default set.
func (c *MsgContext) Kinds() mapset.Set[Kind] {
	list, _ := c.Env.Param(ParamKinds)
	return ParseKindList(list)
}

// DecodePayload decodes the envelope's structured payload into v.
func (c *MsgContext) DecodePayload(v any) error {
	if len(c.Env.Payload) == 0 {
		return fmt.Errorf("envelope %v has no payload", c.Env.Code)
	}
	if err := json.Unmarshal(c.Env.Payload, v); err != nil {
		return fmt.Errorf("invalid %v payload: %w", c.Env.Code, err)
	}
	return nil
}

// Reply constructs a response envelope answering the inbound message.
func (c *MsgContext) Reply(code MsgCode) *Envelope { return c.Env.Reply(code) }

// Resolve consults the context's auto-response rules against the full rule
// variable vocabulary for this message. It reports false when no rule
// matches and the request must wait for manual operator review.
func (c *MsgContext) Resolve() (Resolution, bool) {
	vars := RuleVariables(time.Now(), c.Local, c.Remote, c.Counts, c.DailyCount, c.Env.Params, c.Env.Message)
	res, ok := Resolve(c.Rules, vars, c.Log)
	if ok {
		nodeMetrics.autoAnswered.Add(1)
	} else {
		nodeMetrics.pending.Add(1)
	}
	return res, ok
}

// RequestMessage resolves the envelope's ReplyTo correlation token to the
// original outbound request message. It returns ErrNotFound (wrapped) for an
// orphan response; the caller is expected to log the orphan and fall back to
// a safe default rather than fail.
func (c *MsgContext) RequestMessage() (*Message, error) {
	if c.Env.ReplyTo == "" {
		nodeMetrics.orphans.Add(1)
		return nil, fmt.Errorf("response %v carries no correlation token: %w", c.Env.Code, ErrNotFound)
	}
	m, err := c.Store.FindMessageByID(c.Env.ReplyTo)
	if err != nil {
		nodeMetrics.orphans.Add(1)
		return nil, fmt.Errorf("resolving response %v to request %q: %w", c.Env.Code, c.Env.ReplyTo, err)
	}
	return m, nil
}
