// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"context"
	"fmt"
	"sync"
)

// A Handler processes one inbound message and returns the outbound envelope
// to send in reaction, or nil if no envelope is owed. Handlers for request
// codes normally return an accept, reject, or pending response; handlers for
// response and announcement codes normally return nil.
//
// Handlers may be invoked concurrently for different messages and must not
// keep mutable state of their own; per-peer state belongs in the Peer record,
// whose transition methods serialize access.
type Handler func(context.Context, *MsgContext) (*Envelope, error)

// ErrUnknownCode is reported by Dispatch for a code with no registered
// handler. Receiving such a message is a protocol error on the remote side;
// the caller logs it and drops the message.
type ErrUnknownCode struct {
	Code MsgCode
}

func (e ErrUnknownCode) Error() string {
	return fmt.Sprintf("no handler for message code %v", e.Code)
}

// A Registry maps each message code to exactly one handler.
//
// Registration happens once at startup; a duplicate registration is a
// configuration error and panics rather than silently overwriting, so a
// miswired deployment aborts before any messages are processed.
type Registry struct {
	μ sync.Mutex
	m map[MsgCode]Handler
}

// NewRegistry constructs a new empty handler registry.
func NewRegistry() *Registry { return &Registry{m: make(map[MsgCode]Handler)} }

// Register binds handler to code and returns r to permit chaining. It panics
// if code already has a handler, or if code was never registered with
// RegisterCode.
func (r *Registry) Register(code MsgCode, handler Handler) *Registry {
	if _, ok := CodeCategory(code); !ok {
		panic(fmt.Sprintf("handler registered for unknown message code %d", byte(code)))
	}
	r.μ.Lock()
	defer r.μ.Unlock()
	if _, ok := r.m[code]; ok {
		panic(fmt.Sprintf("duplicate handler for message code %v", code))
	}
	r.m[code] = handler
	return r
}

// Lookup returns the handler bound to code and reports whether one exists.
// It is safe to call for any code value.
func (r *Registry) Lookup(code MsgCode) (Handler, bool) {
	r.μ.Lock()
	defer r.μ.Unlock()
	h, ok := r.m[code]
	return h, ok
}

// Dispatch invokes the handler bound to the context's message code. It
// reports ErrUnknownCode if no handler is bound. A panic out of the handler
// is recovered and reported as an error, so one misbehaving handler cannot
// take down the service loop.
func (r *Registry) Dispatch(ctx context.Context, mc *MsgContext) (out *Envelope, err error) {
	handler, ok := r.Lookup(mc.Env.Code)
	if !ok {
		return nil, ErrUnknownCode{Code: mc.Env.Code}
	}
	defer func() {
		if x := recover(); x != nil && err == nil {
			out, err = nil, fmt.Errorf("handler for %v panicked (recovered): %v", mc.Env.Code, x)
		}
	}()
	return handler(ctx, mc)
}
