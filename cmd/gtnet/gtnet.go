// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

// Program gtnet runs a GTNet exchange node and provides utilities for
// talking to remote peers.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/sirupsen/logrus"

	"github.com/grafioschtrader/gtnet"
	"github.com/grafioschtrader/gtnet/channel"
	"github.com/grafioschtrader/gtnet/config"
	"github.com/grafioschtrader/gtnet/exchange"
	"github.com/grafioschtrader/gtnet/handler"
	"github.com/grafioschtrader/gtnet/memstore"
	"github.com/grafioschtrader/gtnet/peers"
)

var flags struct {
	Config string `flag:"config,default=gtnet.yml,Path to the node configuration file"`
}

var sendFlags struct {
	Peer    string        `flag:"peer,Domain of the peer to contact (required)"`
	URL     string        `flag:"url,Websocket URL of the peer (required)"`
	Code    string        `flag:"code,default=PING,Message code name to send"`
	Kinds   string        `flag:"kinds,Comma-separated exchange kinds"`
	Message string        `flag:"message,Free-text message to attach"`
	Timeout time.Duration `flag:"timeout,default=30s,How long to wait for the response"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Run a GTNet exchange node and talk to remote peers.",

		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name: "serve",
				Help: "Run the node with the configured transports until interrupted.",
				Run:  runServe,
			},
			{
				Name:     "send",
				Help:     "Send one request to a peer and print the response.",
				SetFlags: command.Flags(flax.MustBind, &sendFlags),
				Run:      runSend,
			},
			{
				Name:  "check-rule",
				Usage: "<condition>",
				Help: `Evaluate a rule condition against a synthetic variable context.

The context uses the current time, the configured local peer, and a
placeholder remote peer, so operators can sanity-check rule expressions
before deploying them.`,
				Run: runCheckRule,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// setup loads the configuration and assembles a ready node.
func setup() (*config.Config, *gtnet.Node, error) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, nil, err
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Logging.Format == "json" {
		log.SetFormatter(new(logrus.JSONFormatter))
	}

	store := memstore.New()
	for _, r := range cfg.AutoResponseRules() {
		store.AddRule(r)
	}

	reg := handler.RegisterAll(gtnet.NewRegistry(), handler.Deps{Data: exchange.NewMemData()})
	node := gtnet.NewNode(cfg.LocalPeer(), store, reg, log)
	return cfg, node, nil
}

func runServe(env *command.Env) error {
	cfg, node, err := setup()
	if err != nil {
		return err
	}
	defer node.Stop()

	for _, pc := range cfg.Peers {
		ch, err := channel.DialWebsocket(pc.URL)
		if err != nil {
			fmt.Printf("Warning: dialing %s: %v\n", pc.Domain, err)
			continue
		}
		if err := node.Attach(pc.Domain, ch); err != nil {
			return err
		}
	}

	if cfg.Listen.Websocket != "" {
		go http.ListenAndServe(cfg.Listen.Websocket, peers.WebsocketHandler(node, nil))
	}
	if cfg.Listen.TCP == "" {
		select {} // websocket only, serve forever
	}
	lst, err := net.Listen("tcp", cfg.Listen.TCP)
	if err != nil {
		return err
	}
	return peers.Loop(context.Background(), peers.NetAccepter(lst), node)
}

func runSend(env *command.Env) error {
	if sendFlags.Peer == "" || sendFlags.URL == "" {
		return env.Usagef("both --peer and --url are required")
	}
	code, ok := gtnet.ParseCode(sendFlags.Code)
	if !ok {
		return fmt.Errorf("unknown message code %q", sendFlags.Code)
	}

	_, node, err := setup()
	if err != nil {
		return err
	}
	defer node.Stop()

	ch, err := channel.DialWebsocket(sendFlags.URL)
	if err != nil {
		return err
	}
	if err := node.Attach(sendFlags.Peer, ch); err != nil {
		return err
	}

	out := &gtnet.Envelope{Code: code, Message: sendFlags.Message}
	if sendFlags.Kinds != "" {
		out.SetParam(gtnet.ParamKinds, sendFlags.Kinds)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendFlags.Timeout)
	defer cancel()
	rsp, err := node.Call(ctx, sendFlags.Peer, out)
	if err != nil {
		return err
	}
	fmt.Println(rsp.String())
	if rsp.Message != "" {
		fmt.Println(rsp.Message)
	}
	return nil
}

func runCheckRule(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("exactly one condition expression is required")
	}
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return err
	}

	remote := gtnet.NewPeer("peer.example.org").SetTimezone("UTC")
	vars := gtnet.RuleVariables(time.Now(), cfg.LocalPeer(), remote, gtnet.ConnectionCounts{}, 0, nil, "")

	rules := []gtnet.AutoResponseRule{{
		RequestCode:  gtnet.CodeExchange,
		Condition:    env.Args[0],
		ResponseCode: gtnet.CodeExchangeAccept,
	}}
	if _, ok := gtnet.Resolve(rules, vars, logrus.StandardLogger()); ok {
		fmt.Println("condition matches")
	} else {
		fmt.Println("condition does not match")
	}
	return nil
}
