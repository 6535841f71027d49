// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/creachadair/mds/mapset"

	"github.com/grafioschtrader/gtnet"
)

// exchangeRequest handles a peer's proposal to exchange data for a set of
// kinds. The entity states are created (pending) in every case; whether the
// proposal is answered automatically depends on the configured rules. No
// rule match is not an error: the request stays recorded for manual
// operator review and the peer receives a pending response.
func (h handlers) exchangeRequest(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	kinds := mc.Kinds()
	for kind := range kinds {
		mc.Remote.RequestReceived(kind)
	}

	res, ok := mc.Resolve()
	if !ok {
		if err := mc.Store.SavePeer(mc.Remote); err != nil {
			return nil, err
		}
		mc.Log.Info("Exchange request queued for manual review")
		return mc.Reply(gtnet.CodeExchangePending).SetParam(gtnet.ParamKinds, kindList(kinds)), nil
	}

	switch res.Code {
	case gtnet.CodeExchangeAccept:
		for kind := range kinds {
			mc.Remote.Accept(kind)
		}
	case gtnet.CodeExchangeReject:
		for kind := range kinds {
			mc.Remote.Reject(kind)
		}
	}
	if err := mc.Store.SavePeer(mc.Remote); err != nil {
		return nil, err
	}

	out := mc.Reply(res.Code).SetParam(gtnet.ParamKinds, kindList(kinds))
	out.Message = res.Message
	if res.WaitDays > 0 {
		out.SetParam(gtnet.ParamWaitDays, strconv.Itoa(res.WaitDays))
	}
	return out, nil
}

// exchangeAccept handles the counterparty's acceptance of an exchange we
// proposed. The kinds are taken from our original request, located via the
// correlation fields; an orphan falls back to the syncable default set
// rather than failing.
func (h handlers) exchangeAccept(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	for kind := range h.requestedKinds(mc) {
		mc.Remote.Accept(kind)
	}
	return nil, mc.Store.SavePeer(mc.Remote)
}

// exchangeReject handles the counterparty's rejection of an exchange we
// proposed.
func (h handlers) exchangeReject(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	for kind := range h.requestedKinds(mc) {
		mc.Remote.Reject(kind)
	}
	if days, ok := mc.IntParam(gtnet.ParamWaitDays); ok {
		mc.Log.Infof("Peer asks for a %d day cooldown before retrying", days)
	}
	return nil, mc.Store.SavePeer(mc.Remote)
}

// exchangePending acknowledges that our proposal awaits manual review on the
// remote side. No state changes until a definite answer arrives.
func (h handlers) exchangePending(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan pending response: %v", err)
		return nil, nil
	}
	mc.Log.Info("Exchange request pending manual review on remote side")
	return nil, nil
}

// requestedKinds resolves the kinds of the original outbound request a
// response answers. For an orphan response the syncable default set is used.
func (h handlers) requestedKinds(mc *gtnet.MsgContext) mapset.Set[gtnet.Kind] {
	orig, err := mc.RequestMessage()
	if err != nil {
		mc.Log.Warnf("Orphan response, assuming default kinds: %v", err)
		return gtnet.SyncableKinds()
	}
	return gtnet.ParseKindList(orig.Params[gtnet.ParamKinds])
}

// exchangeRevoke handles a peer's unilateral termination of an accepted
// exchange. The closure is applied on receipt; the effective timestamp is
// recorded so that requests dated after it are refused, which keeps both
// sides consistent about when service ends. Revoking a kind with no entity
// state is a no-op.
func (h handlers) exchangeRevoke(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	effective, ok := mc.TimeParam(gtnet.ParamEffectiveAt)
	if !ok {
		effective = time.Now().UTC()
		mc.Log.Warn("Revocation without effective time, closing now")
	}
	for kind := range mc.Kinds() {
		if !mc.Remote.Revoke(kind, effective) {
			mc.Log.WithField("kind", kind.String()).Debug("Revoke for unknown kind ignored")
		}
	}
	return nil, mc.Store.SavePeer(mc.Remote)
}

// maintenance records an announced maintenance window. The message log entry
// written by the node is the durable record; there is no negotiated answer.
func (h handlers) maintenance(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	from, _ := mc.Param(gtnet.ParamFrom)
	until, _ := mc.Param(gtnet.ParamUntil)
	mc.Log.Infof("Peer announces maintenance from %s until %s", from, until)
	return nil, nil
}

// discontinued handles a peer's permanent shutdown notice: every entity
// state is closed. The peer record itself is kept; history survives.
func (h handlers) discontinued(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	mc.Remote.CloseAll()
	mc.Log.Info("Peer discontinued operation, all exchanges closed")
	return nil, mc.Store.SavePeer(mc.Remote)
}

// kindList renders a kind set as the comma-separated wire form.
func kindList(kinds mapset.Set[gtnet.Kind]) string {
	var list string
	for kind := range kinds {
		if list != "" {
			list += ","
		}
		list += kind.String()
	}
	return list
}
