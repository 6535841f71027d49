// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"fmt"
	"sync"
)

// A MsgCode identifies the meaning of a message exchanged between peers.
//
// Code values from 0 to 127 inclusive are reserved by the protocol and MUST
// NOT be used for any other purpose. Code values from 128 to 255 are open for
// use by the embedding application, registered via RegisterCode at startup.
type MsgCode byte

// A Category classifies a message code by the reaction it demands from the
// receiver: a Request proposes something and expects an answer, a Response
// answers a request we sent, and an Announcement is a unilateral notice that
// requires a state update but no negotiated answer.
type Category int

const (
	Request Category = iota + 1
	Response
	Announcement
)

func (c Category) String() string {
	switch c {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	case Announcement:
		return "ANNOUNCEMENT"
	default:
		return fmt.Sprintf("category %d", int(c))
	}
}

// Message codes reserved by the protocol. Each code belongs to exactly one
// Category, fixed at registration.
const (
	CodePing            MsgCode = 1  // liveness and first-contact handshake
	CodePingReply       MsgCode = 2  // answer to a ping
	CodeServerList      MsgCode = 3  // request the peer's known server list
	CodeServerListReply MsgCode = 4  // answer carrying disclosable peers
	CodeExchange        MsgCode = 10 // propose a data exchange for a set of kinds
	CodeExchangeAccept  MsgCode = 11 // accept a proposed exchange
	CodeExchangeReject  MsgCode = 12 // reject a proposed exchange
	CodeExchangePending MsgCode = 13 // exchange proposal awaits manual review
	CodeExchangeRevoke  MsgCode = 14 // revoke an accepted exchange at a stated time
	CodeSync            MsgCode = 20 // incremental sync of instrument send flags
	CodeSyncReply       MsgCode = 21
	CodeCoverage        MsgCode = 22 // metadata-only probe of available data
	CodeCoverageReply   MsgCode = 23
	CodeLastprice       MsgCode = 24 // pull intraday last prices
	CodeLastpriceReply  MsgCode = 25
	CodeHistory         MsgCode = 26 // pull end-of-day history quotes
	CodeHistoryReply    MsgCode = 27
	CodeLastpricePush   MsgCode = 28 // push last prices to an interested peer
	CodeHistoryPush     MsgCode = 29 // push history quotes to an interested peer
	CodePushAck         MsgCode = 30 // acknowledges a push with the accepted count
	CodeMaintenance     MsgCode = 40 // announce a maintenance window
	CodeDiscontinued    MsgCode = 41 // announce permanent shutdown
)

// codeInfo records the registered properties of a message code.
type codeInfo struct {
	name string
	cat  Category
}

var codeReg = struct {
	sync.Mutex
	byCode map[MsgCode]codeInfo
	byName map[string]MsgCode
}{
	byCode: make(map[MsgCode]codeInfo),
	byName: make(map[string]MsgCode),
}

// RegisterCode registers an application message code with its mnemonic name
// and category, and returns the code to permit use in a constant-like
// declaration. Application codes run from 128 to 255; RegisterCode panics for
// a code in the range reserved by the protocol.
//
// Registration is intended to be done once at startup. RegisterCode also
// panics if code or name is already registered, or if cat is not a known
// category; a bad registration is a configuration error, not a runtime
// condition.
func RegisterCode(code MsgCode, name string, cat Category) MsgCode {
	if code < 128 {
		panic(fmt.Sprintf("register %q: code %d is reserved for the protocol", name, code))
	}
	return registerCode(code, name, cat)
}

func registerCode(code MsgCode, name string, cat Category) MsgCode {
	if cat < Request || cat > Announcement {
		panic(fmt.Sprintf("register %q: invalid category %d", name, cat))
	}
	codeReg.Lock()
	defer codeReg.Unlock()
	if old, ok := codeReg.byCode[code]; ok {
		panic(fmt.Sprintf("message code %d already registered as %q", code, old.name))
	}
	if _, ok := codeReg.byName[name]; ok {
		panic(fmt.Sprintf("message code name %q already registered", name))
	}
	codeReg.byCode[code] = codeInfo{name: name, cat: cat}
	codeReg.byName[name] = code
	return code
}

// CodeCategory reports the category the code was registered with.
// It reports false for an unregistered code.
func CodeCategory(code MsgCode) (Category, bool) {
	codeReg.Lock()
	defer codeReg.Unlock()
	ci, ok := codeReg.byCode[code]
	return ci.cat, ok
}

// ParseCode returns the code registered under name, or reports false if name
// is not registered.
func ParseCode(name string) (MsgCode, bool) {
	codeReg.Lock()
	defer codeReg.Unlock()
	code, ok := codeReg.byName[name]
	return code, ok
}

// String returns the registered mnemonic name of the code, if any.
func (c MsgCode) String() string {
	codeReg.Lock()
	defer codeReg.Unlock()
	if ci, ok := codeReg.byCode[c]; ok {
		return ci.name
	}
	return fmt.Sprintf("CODE:%d", byte(c))
}

func init() {
	registerCode(CodePing, "PING", Request)
	registerCode(CodePingReply, "PING_REPLY", Response)
	registerCode(CodeServerList, "SERVERLIST", Request)
	registerCode(CodeServerListReply, "SERVERLIST_REPLY", Response)
	registerCode(CodeExchange, "EXCHANGE_REQUEST", Request)
	registerCode(CodeExchangeAccept, "EXCHANGE_ACCEPT", Response)
	registerCode(CodeExchangeReject, "EXCHANGE_REJECT", Response)
	registerCode(CodeExchangePending, "EXCHANGE_PENDING", Response)
	registerCode(CodeExchangeRevoke, "EXCHANGE_REVOKE", Announcement)
	registerCode(CodeSync, "EXCHANGE_SYNC", Request)
	registerCode(CodeSyncReply, "EXCHANGE_SYNC_REPLY", Response)
	registerCode(CodeCoverage, "COVERAGE", Request)
	registerCode(CodeCoverageReply, "COVERAGE_REPLY", Response)
	registerCode(CodeLastprice, "LASTPRICE", Request)
	registerCode(CodeLastpriceReply, "LASTPRICE_REPLY", Response)
	registerCode(CodeHistory, "HISTORYQUOTE", Request)
	registerCode(CodeHistoryReply, "HISTORYQUOTE_REPLY", Response)
	registerCode(CodeLastpricePush, "LASTPRICE_PUSH", Request)
	registerCode(CodeHistoryPush, "HISTORYQUOTE_PUSH", Request)
	registerCode(CodePushAck, "PUSH_ACK", Response)
	registerCode(CodeMaintenance, "MAINTENANCE", Announcement)
	registerCode(CodeDiscontinued, "DISCONTINUED", Announcement)
}
