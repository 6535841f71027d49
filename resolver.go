// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"
)

// An AutoResponseRule lets the protocol answer a request without manual
// intervention. Rules are operator-maintained configuration, keyed by the
// request code they answer, and are read-only from the protocol's
// perspective.
type AutoResponseRule struct {
	RequestCode     MsgCode // the request code this rule answers
	Priority        int     // lower values are evaluated first
	Condition       string  // boolean expression over the rule variables
	ResponseCode    MsgCode // code of the response to emit on match
	ResponseMessage string  // free-text message carried on the response
	WaitDays        int     // cooldown before the requester may retry, 0 = none
}

// A Resolution is the outcome of a successful automatic rule match.
type Resolution struct {
	Code     MsgCode
	Message  string
	WaitDays int
}

// Variables is the named variable context a rule condition is evaluated
// against. Numeric values are carried as float64.
type Variables map[string]any

// ConnectionCounts reports how many exchanges are currently accepted across
// all known peers, total and per built-in kind. The counts feed the
// TotalConnections, ConnectionsLastPrice and ConnectionsHistorical rule
// variables.
type ConnectionCounts struct {
	Total      int
	LastPrice  int
	Historical int
}

// Resolve evaluates rules in ascending priority order against vars and
// returns the resolution of the first rule whose condition holds; later
// rules are not consulted. The second result is false when no rule matches,
// signaling that the request must be queued for manual handling. That is a
// valid terminal outcome of automatic resolution, not an error.
//
// A rule whose condition fails to parse or evaluate is logged and treated as
// a non-match for that rule only; subsequent rules are still evaluated.
// Resolve does no I/O and is safe for concurrent use.
func Resolve(rules []AutoResponseRule, vars Variables, log logrus.FieldLogger) (Resolution, bool) {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b AutoResponseRule) int { return a.Priority - b.Priority })

	for _, rule := range ordered {
		ok, err := evalCondition(rule.Condition, vars)
		if err != nil {
			if log != nil {
				log.WithFields(logrus.Fields{
					"code":     rule.RequestCode,
					"priority": rule.Priority,
				}).Warnf("Rule condition failed: %v", err)
			}
			continue
		}
		if ok {
			return Resolution{
				Code:     rule.ResponseCode,
				Message:  rule.ResponseMessage,
				WaitDays: rule.WaitDays,
			}, true
		}
	}
	return Resolution{}, false
}

func evalCondition(cond string, vars Variables) (bool, error) {
	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, fmt.Errorf("parse condition: %w", err)
	}
	v, err := expr.Evaluate(map[string]any(vars))
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	ok, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("condition yields %T, not bool", v)
	}
	return ok, nil
}

// RuleVariables builds the variable context for evaluating auto-response
// rules against one request. The vocabulary is part of the configuration
// contract: deployed rule text depends on these names.
//
// Every key of the request's parameter map is additionally injected by name;
// parameter values that parse as numbers are injected as numbers.
func RuleVariables(now time.Time, local, remote *Peer, counts ConnectionCounts, dailyCount int, params map[string]string, freeText string) Variables {
	utc := now.UTC()
	weekday := int(utc.Weekday())
	if weekday == 0 {
		weekday = 7 // ISO numbering, Sunday is 7
	}

	vars := Variables{
		"hour":      float64(utc.Hour()),
		"dayOfWeek": float64(weekday),

		// Legacy aliases kept for rules written against older releases.
		"dailyCount": float64(dailyCount),
		"dailyLimit": float64(local.DailyRequestLimit()),

		"MyDailyRequestLimit":  float64(local.DailyRequestLimit()),
		"MyTimezone":           local.Timezone(),
		"MyMaxLimitLastPrice":  float64(local.MaxLimit(KindLastPrice)),
		"MyMaxLimitHistorical": float64(local.MaxLimit(KindHistory)),

		"RemoteDailyRequestLimit":  float64(remote.DailyRequestLimit()),
		"RemoteTimezone":           remote.Timezone(),
		"RemoteMaxLimitLastPrice":  float64(remote.MaxLimit(KindLastPrice)),
		"RemoteMaxLimitHistorical": float64(remote.MaxLimit(KindHistory)),
		"RemoteDomainRemoteName":   remote.Domain,

		"Message": freeText,

		"TotalConnections":      float64(counts.Total),
		"ConnectionsLastPrice":  float64(counts.LastPrice),
		"ConnectionsHistorical": float64(counts.Historical),
	}

	if off, err := TimezoneOffsetHours(remote.Timezone(), local.Timezone(), now); err == nil {
		vars["TimezoneOffsetHours"] = off
	} else {
		vars["TimezoneOffsetHours"] = float64(0)
	}

	for name, value := range params {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			vars[name] = f
		} else {
			vars[name] = value
		}
	}
	return vars
}

// TimezoneOffsetHours reports the offset of the remote zone relative to the
// local zone, in decimal hours, at the given instant. The offset is computed
// from the zone rules at that instant rather than a static table, so rules
// comparing office hours stay correct across daylight-saving boundaries that
// differ by zone.
func TimezoneOffsetHours(remoteZone, localZone string, at time.Time) (float64, error) {
	rloc, err := time.LoadLocation(remoteZone)
	if err != nil {
		return 0, fmt.Errorf("remote zone: %w", err)
	}
	lloc, err := time.LoadLocation(localZone)
	if err != nil {
		return 0, fmt.Errorf("local zone: %w", err)
	}
	_, roff := at.In(rloc).Zone()
	_, loff := at.In(lloc).Zone()
	return float64(roff-loff) / 3600, nil
}
