// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package peers provides support code for serving and testing gtnet nodes.
package peers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/creachadair/taskgroup"
	"github.com/gorilla/websocket"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/channel"
)

// Local is a pair of in-memory connected nodes, suitable for testing.
type Local struct {
	A *gtnet.Node
	B *gtnet.Node
}

// Stop shuts down both nodes and blocks until both have exited.
func (p *Local) Stop() error {
	aerr := p.A.Stop()
	berr := p.B.Stop()
	if aerr != nil {
		return aerr
	}
	return berr
}

// NewLocal connects nodes a and b via a direct in-memory channel pair and
// returns the running pair.
func NewLocal(a, b *gtnet.Node) *Local {
	ab, ba := channel.Direct()
	a.Attach(b.Self().Domain, ab)
	b.Attach(a.Self().Domain, ba)
	return &Local{A: a, B: b}
}

// An Accepter produces channels for inbound peer connections.
type Accepter interface {
	Accept(context.Context) (gtnet.Channel, error)
}

// Loop accepts connections from acc and hands each to the node. Loop
// continues until acc closes or ctx ends; it does not stop the node.
func Loop(ctx context.Context, acc Accepter, node *gtnet.Node) error {
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		node.Accept(ch)
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface, framing
// envelopes over the raw connection.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (gtnet.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to
	// clean up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// WebsocketHandler returns an HTTP handler that upgrades each request to a
// websocket connection and hands the resulting channel to the node. If up is
// nil a default upgrader is used.
func WebsocketHandler(node *gtnet.Node, up *websocket.Upgrader) http.Handler {
	if up == nil {
		up = new(websocket.Upgrader)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return // Upgrade already wrote the error response
		}
		node.Accept(channel.Websocket(conn))
	})
}
