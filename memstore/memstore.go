// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package memstore provides an in-memory implementation of the gtnet.Store
// interface, used by tests and as the reference persistence collaborator.
package memstore

import (
	"slices"
	"sync"
	"time"

	"github.com/grafioschtrader/gtnet"
)

// A Store keeps peers, messages, and auto-response rules in memory.
// The zero value is not ready for use; call New.
type Store struct {
	μ     sync.Mutex
	peers map[string]*gtnet.Peer
	msgs  map[string]*gtnet.Message
	rules map[gtnet.MsgCode][]gtnet.AutoResponseRule
}

// New constructs a new empty store.
func New() *Store {
	return &Store{
		peers: make(map[string]*gtnet.Peer),
		msgs:  make(map[string]*gtnet.Message),
		rules: make(map[gtnet.MsgCode][]gtnet.AutoResponseRule),
	}
}

// FindPeerByDomain implements a method of the [gtnet.Store] interface.
func (s *Store) FindPeerByDomain(domain string) (*gtnet.Peer, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	p, ok := s.peers[domain]
	if !ok {
		return nil, gtnet.ErrNotFound
	}
	return p, nil
}

// SavePeer implements a method of the [gtnet.Store] interface.
func (s *Store) SavePeer(p *gtnet.Peer) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.peers[p.Domain] = p
	return nil
}

// Peers implements a method of the [gtnet.Store] interface.
func (s *Store) Peers() ([]*gtnet.Peer, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := make([]*gtnet.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out, nil
}

// FindMessageByID implements a method of the [gtnet.Store] interface.
func (s *Store) FindMessageByID(id string) (*gtnet.Message, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, gtnet.ErrNotFound
	}
	return m, nil
}

// SaveMessage implements a method of the [gtnet.Store] interface.
func (s *Store) SaveMessage(m *gtnet.Message) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.msgs[m.ID] = m
	return nil
}

// CountReceived implements a method of the [gtnet.Store] interface.
func (s *Store) CountReceived(domain string, since time.Time) (int, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	var count int
	for _, m := range s.msgs {
		if m.Direction == gtnet.DirReceived && m.Domain == domain && !m.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// RulesByRequestCode implements a method of the [gtnet.Store] interface.
// Rules are returned ordered by ascending priority.
func (s *Store) RulesByRequestCode(code gtnet.MsgCode) ([]gtnet.AutoResponseRule, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := slices.Clone(s.rules[code])
	slices.SortStableFunc(out, func(a, b gtnet.AutoResponseRule) int { return a.Priority - b.Priority })
	return out, nil
}

// AddRule adds an auto-response rule to the store. Rules are configuration
// written by an operator, so there is no protocol-facing mutator beyond
// this.
func (s *Store) AddRule(r gtnet.AutoResponseRule) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.rules[r.RequestCode] = append(s.rules[r.RequestCode], r)
}

// Messages returns a snapshot of all recorded messages in unspecified
// order. It is a test convenience.
func (s *Store) Messages() []*gtnet.Message {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := make([]*gtnet.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m)
	}
	return out
}
