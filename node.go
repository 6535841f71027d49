// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// A Channel is a reliable ordered stream of envelopes connecting the local
// node with one remote peer.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the envelope in wire format to the remote peer.
	Send(*Envelope) error

	// Receive the next available envelope from the channel.
	Recv() (*Envelope, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Node is one running instance of the exchange protocol. It is both a
// client and a server: it dispatches inbound envelopes from any number of
// attached peer channels to the handler registry, and it issues outbound
// requests correlated to later responses by token.
//
// Each inbound message is processed as an independent unit of work, so
// messages from different peers, or even the same peer, are handled
// concurrently. Serialization of state transitions happens per peer record,
// not in the node.
type Node struct {
	self  *Peer
	store Store
	reg   *Registry
	log   logrus.FieldLogger
	tasks *taskgroup.Group

	μ      sync.Mutex
	conns  map[string]*conn         // domain → attached channel
	ocall  map[string]pending       // correlation token → response waiter
	limits map[string]*rate.Limiter // domain → daily request limiter
	err    error                    // terminal status
}

// A conn wraps a channel with a send lock, so concurrent handlers can reply
// on the same channel without interleaving frames.
type conn struct {
	sync.Mutex
	ch Channel
}

func (c *conn) send(env *Envelope) error {
	c.Lock()
	defer c.Unlock()
	return c.ch.Send(env)
}

// NewNode constructs a node for the local peer record, backed by the given
// store and handler registry. If log is nil the standard logger is used.
func NewNode(self *Peer, store Store, reg *Registry, log logrus.FieldLogger) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Node{
		self:   self,
		store:  store,
		reg:    reg,
		log:    log.WithField("domain", self.Domain),
		tasks:  taskgroup.New(nil),
		conns:  make(map[string]*conn),
		ocall:  make(map[string]pending),
		limits: make(map[string]*rate.Limiter),
	}
}

// Self returns the local peer record.
func (n *Node) Self() *Peer { return n.self }

// Store returns the node's persistence collaborator.
func (n *Node) Store() Store { return n.store }

// Metrics returns a metrics map for the node. It is safe for the caller to
// add additional metrics to the map while the node is active.
func (n *Node) Metrics() *expvar.Map { return nodeMetrics.emap }

// Attach binds ch as the connection to the named peer domain and starts a
// service routine receiving envelopes from it. An existing connection for
// the domain is closed and replaced. Attaching to a stopped node closes ch
// and reports net.ErrClosed.
func (n *Node) Attach(domain string, ch Channel) error {
	c := &conn{ch: ch}
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.err != nil {
		ch.Close()
		return n.err
	}
	if old, ok := n.conns[domain]; ok {
		old.ch.Close()
	}
	n.conns[domain] = c
	n.tasks.Go(func() error { n.serve(domain, c); return nil })
	return nil
}

// Accept starts a service routine for a channel whose remote domain is not
// yet known. The domain is learned from the source of the first envelope
// received, after which the connection behaves as if attached. Accepting on
// a stopped node closes ch.
func (n *Node) Accept(ch Channel) {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.err != nil {
		ch.Close()
		return
	}
	n.tasks.Go(func() error {
		env, err := ch.Recv()
		if err != nil {
			if !treatErrorAsSuccess(err) {
				n.log.Warnf("Accept failed: %v", err)
			}
			ch.Close()
			return nil
		}
		c := &conn{ch: ch}
		n.μ.Lock()
		if old, ok := n.conns[env.SourceDomain]; ok {
			old.ch.Close()
		}
		n.conns[env.SourceDomain] = c
		n.μ.Unlock()

		nodeMetrics.msgRecv.Add(1)
		n.tasks.Go(func() error { n.process(env); return nil })
		n.serve(env.SourceDomain, c)
		return nil
	})
}

// serve receives envelopes from c until the channel closes, dispatching each
// as an independent task.
func (n *Node) serve(domain string, c *conn) {
	defer n.detach(domain, c)
	for {
		env, err := c.ch.Recv()
		if err != nil {
			if !treatErrorAsSuccess(err) {
				n.log.WithField("peer", domain).Warnf("Channel failed: %v", err)
			}
			return
		}
		nodeMetrics.msgRecv.Add(1)
		n.tasks.Go(func() error { n.process(env); return nil })
	}
}

func (n *Node) detach(domain string, c *conn) {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.conns[domain] == c {
		delete(n.conns, domain)
	}
	c.ch.Close()
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Stop closes all attached channels, terminates all pending calls, and
// blocks until the service routines have exited.
func (n *Node) Stop() error {
	n.μ.Lock()
	for _, c := range n.conns {
		c.ch.Close()
	}
	for _, pc := range n.ocall {
		pc.close()
	}
	n.ocall = make(map[string]pending)
	n.err = net.ErrClosed
	n.μ.Unlock()

	n.tasks.Wait()
	return nil
}

// process handles one inbound envelope end to end: category check, daily
// limiting, context construction, message logging, dispatch, response
// correlation, and delivery of the handler's outbound envelope.
func (n *Node) process(env *Envelope) {
	log := n.log.WithFields(logrus.Fields{"peer": env.SourceDomain, "code": env.Code.String()})

	cat, ok := CodeCategory(env.Code)
	if !ok {
		nodeMetrics.msgDropped.Add(1)
		log.Warnf("Dropping envelope with unregistered code %d", byte(env.Code))
		return
	}

	if cat == Request && !n.allowRequest(env.SourceDomain) {
		nodeMetrics.limitDenied.Add(1)
		log.Warn("Daily request limit reached, dropping request")
		return
	}

	mc, err := n.newContext(env, cat, log)
	if err != nil {
		nodeMetrics.msgDropped.Add(1)
		log.Errorf("Building message context: %v", err)
		return
	}

	// Log the inbound envelope before dispatch, so a response we later send
	// can refer back to a durable record.
	if err := n.store.SaveMessage(&Message{
		ID:          uuid.NewString(),
		Direction:   DirReceived,
		Code:        env.Code,
		Domain:      env.SourceDomain,
		Note:        env.Message,
		Params:      env.Params,
		Payload:     env.Payload,
		Timestamp:   env.Timestamp,
		SourceMsgID: env.MsgID,
		ReplyTo:     env.ReplyTo,
		Visibility:  env.Visibility,
	}); err != nil {
		nodeMetrics.msgDropped.Add(1)
		log.Errorf("Recording inbound message: %v", err)
		return
	}

	out, err := n.reg.Dispatch(context.Background(), mc)
	if err != nil {
		nodeMetrics.msgDropped.Add(1)
		log.Warnf("Dispatch failed: %v", err)
	}

	if cat == Response {
		n.deliver(env)
	}
	if out != nil {
		if _, err := n.Send(env.SourceDomain, out); err != nil {
			log.Errorf("Sending reply: %v", err)
		}
	}
}

// newContext builds the per-message façade consumed by handlers. The remote
// peer record is created on first contact; rules are loaded only for request
// codes, which are the only ones the resolver answers.
func (n *Node) newContext(env *Envelope, cat Category, log logrus.FieldLogger) (*MsgContext, error) {
	remote, err := n.store.FindPeerByDomain(env.SourceDomain)
	if errors.Is(err, ErrNotFound) {
		remote = NewPeer(env.SourceDomain)
		if tz, ok := env.Param(ParamTimezone); ok {
			remote.SetTimezone(tz)
		}
		if err := n.store.SavePeer(remote); err != nil {
			return nil, fmt.Errorf("creating peer %q: %w", env.SourceDomain, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading peer %q: %w", env.SourceDomain, err)
	}

	mc := &MsgContext{Env: env, Local: n.self, Remote: remote, Store: n.store, Log: log}
	if cat == Request {
		rules, err := n.store.RulesByRequestCode(env.Code)
		if err != nil {
			return nil, fmt.Errorf("loading rules for %v: %w", env.Code, err)
		}
		mc.Rules = rules
		mc.Counts = n.ConnectionCounts()
		if count, err := n.store.CountReceived(env.SourceDomain, startOfDay(time.Now())); err == nil {
			mc.DailyCount = count
		}
	}
	return mc, nil
}

// Send stamps env with the local source domain, a fresh correlation token,
// and a timestamp, records it, and sends it to the named peer. It returns
// the correlation token that a later response will carry in its ReplyTo
// field. Send does not wait for any response; use Call for that.
func (n *Node) Send(domain string, env *Envelope) (string, error) {
	n.μ.Lock()
	c, ok := n.conns[domain]
	err := n.err
	n.μ.Unlock()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no channel attached for peer %q", domain)
	}

	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}
	env.SourceDomain = n.self.Domain
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	if err := n.store.SaveMessage(&Message{
		ID:         env.MsgID,
		Direction:  DirSend,
		Code:       env.Code,
		Domain:     domain,
		Note:       env.Message,
		Params:     env.Params,
		Payload:    env.Payload,
		Timestamp:  env.Timestamp,
		ReplyTo:    env.ReplyTo,
		Visibility: env.Visibility,
	}); err != nil {
		return "", fmt.Errorf("recording outbound message: %w", err)
	}

	if err := c.send(env); err != nil {
		return "", err
	}
	nodeMetrics.msgSent.Add(1)
	return env.MsgID, nil
}

// Call sends env to the named peer and blocks until the correlated response
// arrives or ctx ends. The response handler registered for the reply code
// still runs; Call additionally delivers the response envelope to the
// caller.
func (n *Node) Call(ctx context.Context, domain string, env *Envelope) (*Envelope, error) {
	if env.MsgID == "" {
		env.MsgID = uuid.NewString()
	}
	pc := make(pending, 1)
	n.μ.Lock()
	n.ocall[env.MsgID] = pc
	n.μ.Unlock()
	nodeMetrics.callPending.Add(1)
	defer nodeMetrics.callPending.Add(-1)

	if _, err := n.Send(domain, env); err != nil {
		n.μ.Lock()
		delete(n.ocall, env.MsgID)
		n.μ.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		n.μ.Lock()
		delete(n.ocall, env.MsgID)
		n.μ.Unlock()
		return nil, ctx.Err()

	case rsp, ok := <-pc:
		if !ok {
			return nil, fmt.Errorf("call terminated: %w", net.ErrClosed)
		}
		return rsp, nil
	}
}

// deliver hands a response envelope to a waiting Call, if any. Responses
// nobody waits for are normal: fire-and-forget requests are answered by the
// response handler alone.
func (n *Node) deliver(env *Envelope) {
	n.μ.Lock()
	pc, ok := n.ocall[env.ReplyTo]
	if ok {
		delete(n.ocall, env.ReplyTo)
	}
	n.μ.Unlock()
	if ok {
		pc.deliver(env)
	}
}

// allowRequest enforces the local daily request limit per remote domain.
// A zero limit means unlimited.
func (n *Node) allowRequest(domain string) bool {
	limit := n.self.DailyRequestLimit()
	if limit <= 0 {
		return true
	}
	n.μ.Lock()
	lim, ok := n.limits[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(limit)), limit)
		n.limits[domain] = lim
	}
	n.μ.Unlock()
	return lim.Allow()
}

// ConnectionCounts reports the accepted exchanges across all known peers,
// feeding the connection-count rule variables.
func (n *Node) ConnectionCounts() ConnectionCounts {
	var counts ConnectionCounts
	peers, err := n.store.Peers()
	if err != nil {
		n.log.Warnf("Counting connections: %v", err)
		return counts
	}
	for _, p := range peers {
		if p.Domain == n.self.Domain {
			continue
		}
		for _, es := range p.Entities() {
			if es.Accept == AcceptClosed {
				continue
			}
			counts.Total++
			switch es.Kind {
			case KindLastPrice:
				counts.LastPrice++
			case KindHistory:
				counts.Historical++
			}
		}
	}
	return counts
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type pending chan *Envelope

func (p pending) close() {
	if p != nil {
		close(p)
	}
}

func (p pending) deliver(e *Envelope) {
	if p != nil {
		p <- e
		close(p)
	}
}
