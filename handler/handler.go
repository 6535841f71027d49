// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package handler

import (
	"context"
	"strconv"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/exchange"
)

// Deps carries the collaborators the built-in handlers need beyond what the
// message context provides.
type Deps struct {
	// Data answers and absorbs market-data payloads.
	Data exchange.Data
}

// RegisterAll binds the built-in handler for every protocol message code
// into reg, and returns reg to permit chaining. It panics if any code
// already has a handler; call it once at startup.
func RegisterAll(reg *gtnet.Registry, deps Deps) *gtnet.Registry {
	h := handlers{deps}
	return reg.
		Register(gtnet.CodePing, h.ping).
		Register(gtnet.CodePingReply, h.pingReply).
		Register(gtnet.CodeServerList, h.serverList).
		Register(gtnet.CodeServerListReply, Notify(h.serverListReply)).
		Register(gtnet.CodeExchange, h.exchangeRequest).
		Register(gtnet.CodeExchangeAccept, h.exchangeAccept).
		Register(gtnet.CodeExchangeReject, h.exchangeReject).
		Register(gtnet.CodeExchangePending, h.exchangePending).
		Register(gtnet.CodeExchangeRevoke, h.exchangeRevoke).
		Register(gtnet.CodeSync, h.sync).
		Register(gtnet.CodeSyncReply, Notify(h.syncReply)).
		Register(gtnet.CodeCoverage, JSON(gtnet.CodeCoverageReply, h.coverage)).
		Register(gtnet.CodeCoverageReply, h.coverageReply).
		Register(gtnet.CodeLastprice, h.lastprice).
		Register(gtnet.CodeLastpriceReply, Notify(h.lastpriceReply)).
		Register(gtnet.CodeHistory, h.history).
		Register(gtnet.CodeHistoryReply, Notify(h.historyReply)).
		Register(gtnet.CodeLastpricePush, h.lastpricePush).
		Register(gtnet.CodeHistoryPush, h.historyPush).
		Register(gtnet.CodePushAck, h.pushAck).
		Register(gtnet.CodeMaintenance, h.maintenance).
		Register(gtnet.CodeDiscontinued, h.discontinued)
}

type handlers struct {
	deps Deps
}

// A ServerEntry describes one known peer in a server-list exchange.
type ServerEntry struct {
	Domain   string `json:"domain"`
	Timezone string `json:"timezone,omitempty"`
}

// ServerList is the payload of a server-list reply.
type ServerList struct {
	Servers []ServerEntry `json:"servers"`
}

// ping answers a liveness probe, taking the opportunity to refresh the
// remote record's self-declared attributes and advertise our own.
func (h handlers) ping(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	updatePeerAttrs(mc)
	return mc.Reply(gtnet.CodePingReply).
		SetParam(gtnet.ParamTimezone, mc.Local.Timezone()).
		SetParam(gtnet.ParamDailyLimit, strconv.Itoa(mc.Local.DailyRequestLimit())), nil
}

func (h handlers) pingReply(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan ping reply: %v", err)
		return nil, nil
	}
	updatePeerAttrs(mc)
	return nil, nil
}

// updatePeerAttrs copies the sender's self-declared timezone and daily limit
// onto its peer record.
func updatePeerAttrs(mc *gtnet.MsgContext) {
	changed := false
	if tz, ok := mc.Param(gtnet.ParamTimezone); ok && tz != mc.Remote.Timezone() {
		mc.Remote.SetTimezone(tz)
		changed = true
	}
	if limit, ok := mc.IntParam(gtnet.ParamDailyLimit); ok && limit != mc.Remote.DailyRequestLimit() {
		mc.Remote.SetDailyRequestLimit(limit)
		changed = true
	}
	if changed {
		if err := mc.Store.SavePeer(mc.Remote); err != nil {
			mc.Log.Errorf("Saving peer attributes: %v", err)
		}
	}
}

// serverList answers with the known peers whose spread flag permits
// disclosure to third parties.
func (h handlers) serverList(ctx context.Context, mc *gtnet.MsgContext) (*gtnet.Envelope, error) {
	peers, err := mc.Store.Peers()
	if err != nil {
		return nil, err
	}
	var list ServerList
	for _, p := range peers {
		if !p.Spread() || p.Domain == mc.Local.Domain || p.Domain == mc.Remote.Domain {
			continue
		}
		list.Servers = append(list.Servers, ServerEntry{Domain: p.Domain, Timezone: p.Timezone()})
	}
	return mc.Reply(gtnet.CodeServerListReply).SetPayload(list), nil
}

// serverListReply merges the announced servers into the local peer table.
// Peers learned this way start with no entity state; any exchange still
// requires its own negotiation.
func (h handlers) serverListReply(ctx context.Context, mc *gtnet.MsgContext, list ServerList) error {
	if _, err := mc.RequestMessage(); err != nil {
		mc.Log.Warnf("Orphan server list: %v", err)
		return nil
	}
	for _, entry := range list.Servers {
		if entry.Domain == mc.Local.Domain {
			continue
		}
		if _, err := mc.Store.FindPeerByDomain(entry.Domain); err == nil {
			continue
		}
		p := gtnet.NewPeer(entry.Domain).SetTimezone(entry.Timezone)
		if err := mc.Store.SavePeer(p); err != nil {
			return err
		}
	}
	return nil
}
