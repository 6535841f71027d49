// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/sirupsen/logrus"

	"github.com/grafioschtrader/gtnet"
)

// A Caller issues a correlated request to a named peer and blocks for the
// response. It is satisfied by *gtnet.Node.
type Caller interface {
	Call(ctx context.Context, domain string, env *gtnet.Envelope) (*gtnet.Envelope, error)
}

// A Connector is the data source of last resort: a vendor-specific fetcher
// consulted only for instruments still unfilled after peer queries.
type Connector interface {
	Fetch(ctx context.Context, key InstrumentKey, from, to time.Time) ([]Quote, error)
}

// A Filler runs the three-stage history fill cycle: query peers for
// coverage and pull from the best one, fall back to the connector for
// instruments still unfilled, and push connector results back to peers that
// asked to receive them.
//
// The stages are sequential within one cycle, but the coverage queries and
// the connector fetches each parallelize across their work items.
type Filler struct {
	Caller    Caller
	Data      Data
	Connector Connector // may be nil, disabling the fallback stage
	Log       logrus.FieldLogger
}

// coverageResult pairs a peer domain with its decoded coverage answer.
type coverageResult struct {
	domain string
	reply  CoverageReply
}

// FillHistory runs one fill cycle for the given wants against the candidate
// peer domains. It returns the number of quotes newly persisted. Failures of
// individual peers or instruments are logged and skipped; the cycle fails
// only when no work could be done at all.
func (f *Filler) FillHistory(ctx context.Context, domains []string, wants []HistoryWant) (int, error) {
	if len(wants) == 0 {
		return 0, nil
	}
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	keys := make([]InstrumentKey, len(wants))
	for i, w := range wants {
		keys[i] = w.Key
	}

	// Stage 1a: probe every candidate peer for coverage, in parallel.
	var μ sync.Mutex
	var coverage []coverageResult
	g := taskgroup.New(nil)
	for _, domain := range domains {
		g.Go(func() error {
			reply, err := f.queryCoverage(ctx, domain, keys)
			if err != nil {
				log.WithField("peer", domain).Warnf("Coverage query failed: %v", err)
				return nil
			}
			μ.Lock()
			coverage = append(coverage, coverageResult{domain: domain, reply: reply})
			μ.Unlock()
			return nil
		})
	}
	g.Wait()

	// Rank peers by coverage depth; ties break on domain name so the choice
	// is deterministic.
	sort.Slice(coverage, func(i, j int) bool {
		si, sj := coverage[i].reply.Score(), coverage[j].reply.Score()
		if si != sj {
			return si > sj
		}
		return coverage[i].domain < coverage[j].domain
	})

	// Stage 1b: pull from the best peer only. Asking every peer for full
	// data would transfer the same records many times over.
	var accepted int
	wantReceive := make(map[string][]InstrumentKey)
	filled := make(map[InstrumentKey]bool)
	if len(coverage) > 0 && coverage[0].reply.Score() > 0 {
		best := coverage[0].domain
		reply, err := f.queryHistory(ctx, best, wants)
		if err != nil {
			log.WithField("peer", best).Warnf("History request failed: %v", err)
		} else {
			n, err := f.Data.AcceptQuotes(reply.Quotes)
			if err != nil {
				return 0, fmt.Errorf("persisting quotes from %q: %w", best, err)
			}
			accepted += n
			for _, q := range reply.Quotes {
				filled[q.Key] = true
			}
			if len(reply.WantReceive) > 0 {
				wantReceive[best] = reply.WantReceive
			}
		}
	}

	// Stage 2: connector fallback for instruments still unfilled, one fetch
	// per instrument in parallel.
	var fetched []Quote
	if f.Connector != nil {
		cg := taskgroup.New(nil)
		for _, w := range wants {
			if filled[w.Key] {
				continue
			}
			cg.Go(func() error {
				qs, err := f.Connector.Fetch(ctx, w.Key, w.From, w.To)
				if err != nil {
					log.WithField("instrument", w.Key.String()).Warnf("Connector fetch failed: %v", err)
					return nil
				}
				μ.Lock()
				fetched = append(fetched, qs...)
				μ.Unlock()
				return nil
			})
		}
		cg.Wait()

		n, err := f.Data.AcceptQuotes(fetched)
		if err != nil {
			return accepted, fmt.Errorf("persisting connector quotes: %w", err)
		}
		accepted += n
	}

	// Stage 3: push connector results back to peers that flagged interest.
	if len(fetched) > 0 {
		for domain, keys := range wantReceive {
			f.pushQuotes(ctx, domain, keys, fetched, log)
		}
	}
	return accepted, nil
}

func (f *Filler) queryCoverage(ctx context.Context, domain string, keys []InstrumentKey) (CoverageReply, error) {
	env := &gtnet.Envelope{Code: gtnet.CodeCoverage}
	env.SetPayload(CoverageRequest{Keys: keys})
	rsp, err := f.Caller.Call(ctx, domain, env)
	if err != nil {
		return CoverageReply{}, err
	}
	var reply CoverageReply
	if err := json.Unmarshal(rsp.Payload, &reply); err != nil {
		return CoverageReply{}, fmt.Errorf("invalid coverage reply: %w", err)
	}
	return reply, nil
}

func (f *Filler) queryHistory(ctx context.Context, domain string, wants []HistoryWant) (HistoryReply, error) {
	env := &gtnet.Envelope{Code: gtnet.CodeHistory}
	env.SetPayload(HistoryRequest{Items: wants})
	rsp, err := f.Caller.Call(ctx, domain, env)
	if err != nil {
		return HistoryReply{}, err
	}
	var reply HistoryReply
	if err := json.Unmarshal(rsp.Payload, &reply); err != nil {
		return HistoryReply{}, fmt.Errorf("invalid history reply: %w", err)
	}
	return reply, nil
}

// pushQuotes sends the subset of quotes matching the peer's requested keys
// and logs the count the peer acknowledges.
func (f *Filler) pushQuotes(ctx context.Context, domain string, keys []InstrumentKey, quotes []Quote, log logrus.FieldLogger) {
	wanted := make(map[InstrumentKey]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	var subset []Quote
	for _, q := range quotes {
		if wanted[q.Key] {
			subset = append(subset, q)
		}
	}
	if len(subset) == 0 {
		return
	}

	env := &gtnet.Envelope{Code: gtnet.CodeHistoryPush}
	env.SetPayload(HistoryReply{Quotes: subset})
	ack, err := f.Caller.Call(ctx, domain, env)
	if err != nil {
		log.WithField("peer", domain).Warnf("History push failed: %v", err)
		return
	}
	count, _ := ack.Param(gtnet.ParamAcceptedCount)
	log.WithFields(logrus.Fields{"peer": domain, "accepted": count}).Info("Pushed connector quotes")
}
