// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Package config loads the YAML configuration of a gtnet node.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/grafioschtrader/gtnet"
)

// Config is the root of a node configuration file.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Listen  ListenConfig  `yaml:"listen"`
	Peers   []PeerConfig  `yaml:"peers"`
	Rules   []RuleConfig  `yaml:"rules"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig describes the local instance.
type NodeConfig struct {
	Domain            string `yaml:"domain"`
	Timezone          string `yaml:"timezone"`
	DailyRequestLimit int    `yaml:"daily_request_limit"`
	Spread            bool   `yaml:"spread"`
}

// ListenConfig names the transport endpoints to serve on. Empty endpoints
// are not served.
type ListenConfig struct {
	TCP       string `yaml:"tcp"`       // host:port for framed TCP
	Websocket string `yaml:"websocket"` // host:port for the websocket endpoint
}

// PeerConfig names a remote instance to connect to at startup.
type PeerConfig struct {
	Domain string `yaml:"domain"`
	URL    string `yaml:"url"` // websocket URL
}

// RuleConfig is the file form of one auto-response rule.
type RuleConfig struct {
	RequestCode  string `yaml:"request_code"`
	Priority     int    `yaml:"priority"`
	Condition    string `yaml:"condition"`
	ResponseCode string `yaml:"response_code"`
	Message      string `yaml:"message"`
	WaitDays     int    `yaml:"wait_days"`
}

// LoggingConfig controls the logrus setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default "info"
	Format string `yaml:"format"` // "json" or "text", default "text"
}

// Load reads and validates the configuration at path. A .env file in the
// working directory, if present, is loaded first, and the GTNET_DOMAIN
// environment variable overrides the configured domain.
func Load(path string) (*Config, error) {
	godotenv.Load() // best effort, a missing .env file is fine

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if dom := os.Getenv("GTNET_DOMAIN"); dom != "" {
		cfg.Node.Domain = dom
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.Domain == "" {
		return fmt.Errorf("config: node.domain is required")
	}
	if c.Node.Timezone == "" {
		c.Node.Timezone = "UTC"
	}
	for _, r := range c.Rules {
		if _, ok := gtnet.ParseCode(r.RequestCode); !ok {
			return fmt.Errorf("config: unknown request code %q", r.RequestCode)
		}
		if _, ok := gtnet.ParseCode(r.ResponseCode); !ok {
			return fmt.Errorf("config: unknown response code %q", r.ResponseCode)
		}
	}
	return nil
}

// LocalPeer returns the peer record for the local instance.
func (c *Config) LocalPeer() *gtnet.Peer {
	return gtnet.NewPeer(c.Node.Domain).
		SetTimezone(c.Node.Timezone).
		SetDailyRequestLimit(c.Node.DailyRequestLimit).
		SetSpread(c.Node.Spread)
}

// AutoResponseRules converts the configured rules to their protocol form.
// Validation has already checked that the code names resolve.
func (c *Config) AutoResponseRules() []gtnet.AutoResponseRule {
	out := make([]gtnet.AutoResponseRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		req, _ := gtnet.ParseCode(r.RequestCode)
		rsp, _ := gtnet.ParseCode(r.ResponseCode)
		out = append(out, gtnet.AutoResponseRule{
			RequestCode:     req,
			Priority:        r.Priority,
			Condition:       r.Condition,
			ResponseCode:    rsp,
			ResponseMessage: r.Message,
			WaitDays:        r.WaitDays,
		})
	}
	return out
}
