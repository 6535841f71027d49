// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/grafioschtrader/gtnet"
)

func TestResolveFirstMatch(t *testing.T) {
	rules := []gtnet.AutoResponseRule{
		{RequestCode: gtnet.CodeExchange, Priority: 20, Condition: "true",
			ResponseCode: gtnet.CodeExchangeReject, ResponseMessage: "fallback reject", WaitDays: 30},
		{RequestCode: gtnet.CodeExchange, Priority: 10, Condition: "TotalConnections < 50",
			ResponseCode: gtnet.CodeExchangeAccept, ResponseMessage: "welcome"},
	}
	vars := gtnet.Variables{"TotalConnections": float64(3)}

	res, ok := gtnet.Resolve(rules, vars, nil)
	if !ok {
		t.Fatal("Resolve: no rule matched")
	}
	want := gtnet.Resolution{Code: gtnet.CodeExchangeAccept, Message: "welcome"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("Resolution (-want, +got):\n%s", diff)
	}
}

func TestResolveSkipsBrokenRules(t *testing.T) {
	rules := []gtnet.AutoResponseRule{
		{Priority: 1, Condition: "this is (not valid", ResponseCode: gtnet.CodeExchangeReject},
		{Priority: 2, Condition: "1 + 1", ResponseCode: gtnet.CodeExchangeReject}, // not a boolean
		{Priority: 3, Condition: "NoSuchVariable > 5", ResponseCode: gtnet.CodeExchangeReject},
		{Priority: 4, Condition: "hour >= 0", ResponseCode: gtnet.CodeExchangeAccept, ResponseMessage: "ok"},
	}
	vars := gtnet.Variables{"hour": float64(9)}

	res, ok := gtnet.Resolve(rules, vars, nil)
	if !ok {
		t.Fatal("Resolve: no rule matched")
	}
	if res.Code != gtnet.CodeExchangeAccept || res.Message != "ok" {
		t.Errorf("Resolution: got %+v, want the last rule's accept", res)
	}
}

func TestResolveNoMatch(t *testing.T) {
	rules := []gtnet.AutoResponseRule{
		{Priority: 1, Condition: "hour > 20", ResponseCode: gtnet.CodeExchangeAccept},
	}
	res, ok := gtnet.Resolve(rules, gtnet.Variables{"hour": float64(9)}, nil)
	if ok {
		t.Errorf("Resolve: got %+v, want no match", res)
	}

	// No rules at all is the same terminal outcome.
	if res, ok := gtnet.Resolve(nil, gtnet.Variables{}, nil); ok {
		t.Errorf("Resolve with no rules: got %+v, want no match", res)
	}
}

func TestRuleVariables(t *testing.T) {
	local := gtnet.NewPeer("gt.example.org").
		SetTimezone("Europe/Zurich").
		SetDailyRequestLimit(500)

	remote := gtnet.NewPeer("peer.example.org").
		SetTimezone("America/New_York").
		SetDailyRequestLimit(250).
		SetMaxLimit(gtnet.KindLastPrice, 1000)
	remote.Accept(gtnet.KindLastPrice)

	// A Wednesday afternoon, UTC.
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	counts := gtnet.ConnectionCounts{Total: 7, LastPrice: 4, Historical: 3}
	params := map[string]string{"waitDays": "4", "note": "see you"}

	vars := gtnet.RuleVariables(now, local, remote, counts, 12, params, "please exchange")

	want := map[string]any{
		"hour":      float64(15),
		"dayOfWeek": float64(3),

		"dailyCount": float64(12),
		"dailyLimit": float64(500),

		"MyDailyRequestLimit":  float64(500),
		"MyTimezone":           "Europe/Zurich",
		"MyMaxLimitLastPrice":  float64(0),
		"MyMaxLimitHistorical": float64(0),

		"RemoteDailyRequestLimit":  float64(250),
		"RemoteTimezone":           "America/New_York",
		"RemoteMaxLimitLastPrice":  float64(1000),
		"RemoteMaxLimitHistorical": float64(0),
		"RemoteDomainRemoteName":   "peer.example.org",

		"Message": "please exchange",

		"TotalConnections":      float64(7),
		"ConnectionsLastPrice":  float64(4),
		"ConnectionsHistorical": float64(3),
		"TimezoneOffsetHours":   float64(-6),

		"waitDays": float64(4),
		"note":     "see you",
	}
	if diff := cmp.Diff(want, map[string]any(vars)); diff != "" {
		t.Errorf("Rule variables (-want, +got):\n%s", diff)
	}
}

func TestRuleVariablesSunday(t *testing.T) {
	now := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC) // a Sunday
	vars := gtnet.RuleVariables(now, gtnet.NewPeer("a"), gtnet.NewPeer("b"), gtnet.ConnectionCounts{}, 0, nil, "")
	if got := vars["dayOfWeek"]; got != float64(7) {
		t.Errorf("dayOfWeek on Sunday: got %v, want 7", got)
	}
}

func TestTimezoneOffsetHours(t *testing.T) {
	tests := []struct {
		remote, local string
		at            time.Time
		want          float64
	}{
		// Standard time on both sides.
		{"America/New_York", "Europe/Zurich", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), -6},

		// Daylight-saving time on both sides.
		{"America/New_York", "Europe/Zurich", time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC), -6},

		// The US switches before Europe does, so the gap narrows briefly.
		{"America/New_York", "Europe/Zurich", time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC), -5},

		// Half-hour zones come out as fractional offsets.
		{"Asia/Kolkata", "UTC", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), 5.5},

		{"UTC", "UTC", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), 0},
	}
	for _, test := range tests {
		got, err := gtnet.TimezoneOffsetHours(test.remote, test.local, test.at)
		if err != nil {
			t.Errorf("Offset %s vs %s: unexpected error: %v", test.remote, test.local, err)
			continue
		}
		if math.Abs(got-test.want) > 1e-9 {
			t.Errorf("Offset %s vs %s at %v: got %v, want %v", test.remote, test.local, test.at, got, test.want)
		}
	}

	if _, err := gtnet.TimezoneOffsetHours("Nowhere/Special", "UTC", time.Now()); err == nil {
		t.Error("Offset for a bogus zone: got nil error")
	}
}
