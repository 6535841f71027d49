// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package channel provides implementations of the gtnet.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"

	"github.com/grafioschtrader/gtnet"
)

// Direct constructs a connected pair of in-memory channels that pass
// envelopes directly without encoding. Envelopes sent to A are received by B
// and vice versa.
func Direct() (A, B gtnet.Channel) {
	a2b := make(chan *gtnet.Envelope)
	b2a := make(chan *gtnet.Envelope)
	A = direct{send: a2b, recv: b2a}
	B = direct{send: b2a, recv: a2b}
	return
}

type direct struct {
	send chan<- *gtnet.Envelope
	recv <-chan *gtnet.Envelope
}

// Send implements a method of the [gtnet.Channel] interface.
func (d direct) Send(env *gtnet.Envelope) (err error) {
	defer safeClose(&err)
	d.send <- env
	return nil
}

// Recv implements a method of the [gtnet.Channel] interface.
func (d direct) Recv() (*gtnet.Envelope, error) {
	env, ok := <-d.recv
	if !ok {
		return nil, net.ErrClosed
	}
	return env, nil
}

// Close implements a method of the [gtnet.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.send)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that reads framed envelopes from r and writes
// them to wc.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives framed envelopes on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [gtnet.Channel] interface.
func (c IOChannel) Send(env *gtnet.Envelope) error {
	if _, err := env.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [gtnet.Channel] interface.
func (c IOChannel) Recv() (*gtnet.Envelope, error) {
	var env gtnet.Envelope
	if _, err := env.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &env, nil
}

// Close implements a method of the [gtnet.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }
