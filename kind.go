// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
)

// A Kind identifies a category of exchangeable data, such as intraday last
// prices or end-of-day history quotes.
//
// Kinds form an open catalog: the values below are registered by the protocol
// itself, and the embedding application may register further kinds at startup
// via RegisterKind. A kind marked syncable is part of the default set offered
// when a request omits an explicit kind list.
type Kind byte

// Kinds registered by the protocol.
const (
	KindLastPrice Kind = 1 // intraday last prices
	KindHistory   Kind = 2 // end-of-day history quotes
)

type kindInfo struct {
	name     string
	syncable bool
}

var kindReg = struct {
	sync.Mutex
	byKind map[Kind]kindInfo
	byName map[string]Kind
}{
	byKind: make(map[Kind]kindInfo),
	byName: make(map[string]Kind),
}

// RegisterKind registers an exchange kind with its mnemonic name, and returns
// the kind to permit use in a constant-like declaration. If syncable is true
// the kind is included in the default set reported by SyncableKinds.
//
// Registration is intended to be done once at startup. RegisterKind panics if
// the kind value or name is already registered.
func RegisterKind(kind Kind, name string, syncable bool) Kind {
	kindReg.Lock()
	defer kindReg.Unlock()
	if old, ok := kindReg.byKind[kind]; ok {
		panic(fmt.Sprintf("exchange kind %d already registered as %q", kind, old.name))
	}
	if _, ok := kindReg.byName[name]; ok {
		panic(fmt.Sprintf("exchange kind name %q already registered", name))
	}
	kindReg.byKind[kind] = kindInfo{name: name, syncable: syncable}
	kindReg.byName[name] = kind
	return kind
}

// ParseKind returns the kind registered under name, or reports false if name
// is not registered. Matching is case-insensitive.
func ParseKind(name string) (Kind, bool) {
	kindReg.Lock()
	defer kindReg.Unlock()
	kind, ok := kindReg.byName[strings.ToUpper(name)]
	return kind, ok
}

// KindByValue returns the kind registered for the given byte value, or
// reports false if the value is not registered.
func KindByValue(v byte) (Kind, bool) {
	kindReg.Lock()
	defer kindReg.Unlock()
	_, ok := kindReg.byKind[Kind(v)]
	return Kind(v), ok
}

// SyncableKinds returns the set of kinds registered as syncable. This is the
// default offered when a request omits or garbles its kind list. The caller
// owns the returned set.
func SyncableKinds() mapset.Set[Kind] {
	kindReg.Lock()
	defer kindReg.Unlock()
	set := mapset.New[Kind]()
	for kind, ki := range kindReg.byKind {
		if ki.syncable {
			set.Add(kind)
		}
	}
	return set
}

// ParseKindList resolves a comma-separated list of kind names to a set of
// kinds. Names that do not parse are skipped. An empty or entirely
// unparsable list falls back to SyncableKinds, never to an empty set, so
// legacy peers that omit the field still get a sensible default.
func ParseKindList(list string) mapset.Set[Kind] {
	set := mapset.New[Kind]()
	for _, name := range strings.Split(list, ",") {
		if kind, ok := ParseKind(strings.TrimSpace(name)); ok {
			set.Add(kind)
		}
	}
	if set.IsEmpty() {
		return SyncableKinds()
	}
	return set
}

// String returns the registered mnemonic name of the kind, if any.
func (k Kind) String() string {
	kindReg.Lock()
	defer kindReg.Unlock()
	if ki, ok := kindReg.byKind[k]; ok {
		return ki.name
	}
	return fmt.Sprintf("KIND:%d", byte(k))
}

func init() {
	RegisterKind(KindLastPrice, "LASTPRICE", true)
	RegisterKind(KindHistory, "HISTORYQUOTE", true)
}
