// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/exchange"
)

// sync answers an incremental sync request: the remote side's changed items
// are merged locally, and our changes since the requested time are mirrored
// back in the same shape.
func (h handlers) sync(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	var req exchange.SyncRequest
	if err := mc.DecodePayload(&req); err != nil {
		return nil, err
	}

	// Snapshot our changes before applying theirs, or the peer would get
	// its own items echoed back.
	changed, err := h.deps.Data.ChangedSince(req.Since)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Data.ApplyItems(req.Items); err != nil {
		return nil, err
	}
	mirror := exchange.BuildSyncRequest(req.Since, changed)
	return mc.Reply(gtnet.CodeSyncReply).SetPayload(exchange.SyncReply{Items: mirror.Items}), nil
}

func (h handlers) syncReply(ctx context.Context, mc *gtnet.MsgContext, reply exchange.SyncReply) error {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan sync reply: %v", err)
		return nil
	}
	return h.deps.Data.ApplyItems(reply.Items)
}

// coverage answers a metadata-only probe. Every queried instrument gets an
// entry, present or not.
func (h handlers) coverage(ctx context.Context, mc *gtnet.MsgContext, req exchange.CoverageRequest) (exchange.CoverageReply, error) {
	entries, err := h.deps.Data.Coverage(req.Keys)
	if err != nil {
		return exchange.CoverageReply{}, err
	}
	return exchange.CoverageReply{Entries: entries}, nil
}

// coverageReply has no handler-side state to update; the answer is consumed
// by whoever issued the coverage call. An orphan is still worth a log line.
func (h handlers) coverageReply(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan coverage reply: %v", err)
	}
	return nil, nil
}

// lastprice answers a pull for intraday prices. The request is serviced
// only while the peer's exchange for the kind is accepted and not past a
// revocation's effective time.
func (h handlers) lastprice(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if !mc.Remote.ServesAt(gtnet.KindLastPrice, at(mc)) {
		out := mc.Reply(gtnet.CodeLastpriceReply).SetPayload(exchange.LastpriceReply{})
		out.Message = "lastprice exchange not accepted"
		return out, nil
	}
	var req exchange.LastpriceRequest
	if err := mc.DecodePayload(&req); err != nil {
		return nil, err
	}
	prices, want, err := h.deps.Data.Lastprices(req.Items)
	if err != nil {
		return nil, err
	}
	return mc.Reply(gtnet.CodeLastpriceReply).
		SetPayload(exchange.LastpriceReply{Prices: prices, WantReceive: want}), nil
}

func (h handlers) lastpriceReply(ctx context.Context, mc *gtnet.MsgContext, reply exchange.LastpriceReply) error {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan lastprice reply: %v", err)
		return nil
	}
	n, err := h.deps.Data.AcceptLastprices(reply.Prices)
	if err != nil {
		return err
	}
	mc.Log.WithField("accepted", n).Debug("Merged lastprice reply")
	return nil
}

// history answers a pull for end-of-day quotes within a date range, under
// the same acceptance check as lastprice.
func (h handlers) history(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if !mc.Remote.ServesAt(gtnet.KindHistory, at(mc)) {
		out := mc.Reply(gtnet.CodeHistoryReply).SetPayload(exchange.HistoryReply{})
		out.Message = "historyquote exchange not accepted"
		return out, nil
	}
	var req exchange.HistoryRequest
	if err := mc.DecodePayload(&req); err != nil {
		return nil, err
	}
	quotes, want, err := h.deps.Data.HistoryQuotes(req.Items)
	if err != nil {
		return nil, err
	}
	return mc.Reply(gtnet.CodeHistoryReply).
		SetPayload(exchange.HistoryReply{Quotes: quotes, WantReceive: want}), nil
}

func (h handlers) historyReply(ctx context.Context, mc *gtnet.MsgContext, reply exchange.HistoryReply) error {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan history reply: %v", err)
		return nil
	}
	n, err := h.deps.Data.AcceptQuotes(reply.Quotes)
	if err != nil {
		return err
	}
	mc.Log.WithField("accepted", n).Debug("Merged history reply")
	return nil
}

// lastpricePush absorbs prices pushed by a peer holding a PUSH_OPEN grant.
// The acknowledgment always carries the accepted count, so the pusher can
// tell partial acceptance from total refusal.
func (h handlers) lastpricePush(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if mc.Remote.AcceptState(gtnet.KindLastPrice) != gtnet.AcceptPushOpen {
		out := mc.Reply(gtnet.CodePushAck).SetParam(gtnet.ParamAcceptedCount, "0")
		out.Message = "push not granted for lastprice"
		return out, nil
	}
	var reply exchange.LastpriceReply
	if err := mc.DecodePayload(&reply); err != nil {
		return nil, err
	}
	n, err := h.deps.Data.AcceptLastprices(reply.Prices)
	if err != nil {
		return nil, err
	}
	return mc.Reply(gtnet.CodePushAck).SetParam(gtnet.ParamAcceptedCount, strconv.Itoa(n)), nil
}

// historyPush absorbs quotes pushed by a peer, typically connector results
// we asked for via the WantReceive marker. Unlike lastpricePush this accepts
// from any peer with an open history exchange: the marker itself was the
// solicitation.
func (h handlers) historyPush(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if mc.Remote.AcceptState(gtnet.KindHistory) == gtnet.AcceptClosed {
		out := mc.Reply(gtnet.CodePushAck).SetParam(gtnet.ParamAcceptedCount, "0")
		out.Message = "push not granted for historyquote"
		return out, nil
	}
	var reply exchange.HistoryReply
	if err := mc.DecodePayload(&reply); err != nil {
		return nil, err
	}
	n, err := h.deps.Data.AcceptQuotes(reply.Quotes)
	if err != nil {
		return nil, err
	}
	return mc.Reply(gtnet.CodePushAck).SetParam(gtnet.ParamAcceptedCount, strconv.Itoa(n)), nil
}

// pushAck closes the loop on a push we sent.
func (h handlers) pushAck(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan push acknowledgment: %v", err)
		return nil, nil
	}
	count, _ := mc.Param(gtnet.ParamAcceptedCount)
	mc.Log.WithField("accepted", count).Debug("Push acknowledged")
	return nil, nil
}

// at returns the envelope timestamp, or the current time if the sender
// omitted it.
func at(mc *gtnet.MsgContext) time.Time {
	if mc.Env.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return mc.Env.Timestamp
}
