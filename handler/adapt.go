// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package handler provides the built-in handlers for every message code the
// protocol registers, plus adapters from typed payload functions to the
// gtnet.Handler type.
//
// RegisterAll wires the full set into a registry at startup. Registration is
// explicit rather than discovered: the process enumerates its handlers in
// one place, and a duplicate code aborts initialization.
package handler

import (
	"context"

	"github.com/grafioschtrader/gtnet"
)

// JSON adapts a function that accepts a decoded payload of type P and
// returns a reply payload of type R, to a gtnet.Handler that answers with
// the given reply code.
func JSON[P, R any](reply gtnet.MsgCode, f func(context.Context, *gtnet.MsgContext, P) (R, error)) gtnet.Handler {
	return func(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
		var p P
		if err := mc.DecodePayload(&p); err != nil {
			return nil, err
		}
		r, err := f(ctx, mc, p)
		if err != nil {
			return nil, err
		}
		return mc.Reply(reply).SetPayload(r), nil
	}
}

// Notify adapts a function that accepts a decoded payload of type P and owes
// no reply, to a gtnet.Handler.
func Notify[P any](f func(context.Context, *gtnet.MsgContext, P) error) gtnet.Handler {
	return func(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
		var p P
		if err := mc.DecodePayload(&p); err != nil {
			return nil, err
		}
		return nil, f(ctx, mc, p)
	}
}
