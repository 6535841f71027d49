// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import "expvar"

// metrics record node activity counters.
type metrics struct {
	msgRecv      expvar.Int // envelopes received
	msgSent      expvar.Int // envelopes sent
	msgDropped   expvar.Int // envelopes dropped (unknown code, bad payload)
	autoAnswered expvar.Int // requests answered by an auto-response rule
	pending      expvar.Int // requests left for manual operator review
	orphans      expvar.Int // responses with no matching request
	limitDenied  expvar.Int // requests refused by the daily limiter
	callPending  expvar.Int // outbound calls awaiting a response

	emap *expvar.Map
}

var nodeMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("messages_received", &m.msgRecv)
	m.emap.Set("messages_sent", &m.msgSent)
	m.emap.Set("messages_dropped", &m.msgDropped)
	m.emap.Set("requests_auto_answered", &m.autoAnswered)
	m.emap.Set("requests_pending_review", &m.pending)
	m.emap.Set("orphan_responses", &m.orphans)
	m.emap.Set("limit_denied", &m.limitDenied)
	m.emap.Set("calls_pending", &m.callPending)
	return m
}
