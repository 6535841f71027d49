// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/config"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtnet.yml")
	if err := os.WriteFile(path, []byte(text), 0600); err != nil {
		t.Fatalf("Writing config: %v", err)
	}
	return path
}

const validConfig = `
node:
  domain: gt.example.org
  timezone: Europe/Zurich
  daily_request_limit: 500
  spread: true
listen:
  tcp: ":9500"
  websocket: ":9501"
peers:
  - domain: peer.example.org
    url: ws://peer.example.org:9501/gtnet
rules:
  - request_code: EXCHANGE_REQUEST
    priority: 1
    condition: "TotalConnections < 25 && hour >= 6"
    response_code: EXCHANGE_ACCEPT
    message: welcome
  - request_code: EXCHANGE_REQUEST
    priority: 2
    condition: "true"
    response_code: EXCHANGE_REJECT
    message: at capacity
    wait_days: 30
logging:
  level: debug
  format: json
`

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := cfg.LocalPeer()
	if p.Domain != "gt.example.org" || p.Timezone() != "Europe/Zurich" ||
		p.DailyRequestLimit() != 500 || !p.Spread() {
		t.Errorf("Local peer: got %+v", p)
	}
	if cfg.Listen.TCP != ":9500" || cfg.Listen.Websocket != ":9501" {
		t.Errorf("Listen endpoints: got %+v", cfg.Listen)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].Domain != "peer.example.org" {
		t.Errorf("Peers: got %+v", cfg.Peers)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}

	want := []gtnet.AutoResponseRule{
		{
			RequestCode:     gtnet.CodeExchange,
			Priority:        1,
			Condition:       "TotalConnections < 25 && hour >= 6",
			ResponseCode:    gtnet.CodeExchangeAccept,
			ResponseMessage: "welcome",
		},
		{
			RequestCode:     gtnet.CodeExchange,
			Priority:        2,
			Condition:       "true",
			ResponseCode:    gtnet.CodeExchangeReject,
			ResponseMessage: "at capacity",
			WaitDays:        30,
		},
	}
	if diff := cmp.Diff(want, cfg.AutoResponseRules()); diff != "" {
		t.Errorf("Rules (-want, +got):\n%s", diff)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "node:\n  domain: bare.example.org\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Timezone != "UTC" {
		t.Errorf("Default timezone: got %q, want UTC", cfg.Node.Timezone)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, text, want string
	}{
		{"MissingDomain", "node:\n  timezone: UTC\n", "node.domain is required"},
		{"BadRequestCode", `
node:
  domain: gt.example.org
rules:
  - request_code: NO_SUCH_THING
    response_code: EXCHANGE_ACCEPT
`, "unknown request code"},
		{"BadResponseCode", `
node:
  domain: gt.example.org
rules:
  - request_code: EXCHANGE_REQUEST
    response_code: NO_SUCH_THING
`, "unknown response code"},
		{"Unparsable", "node: [not a mapping", "parse config"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, test.text))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Load: got %v, want error containing %q", err, test.want)
			}
		})
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Load of a missing file: got nil error")
	}
}

func TestDomainOverride(t *testing.T) {
	t.Setenv("GTNET_DOMAIN", "override.example.org")
	cfg, err := config.Load(writeConfig(t, "node:\n  domain: original.example.org\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Domain != "override.example.org" {
		t.Errorf("Domain: got %q, want the environment override", cfg.Node.Domain)
	}
}
