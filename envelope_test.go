// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package gtnet_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/grafioschtrader/gtnet"
)

func TestEnvelopeFieldNames(t *testing.T) {
	env := &gtnet.Envelope{
		SourceDomain: "gt.example.org",
		Code:         gtnet.CodeExchange,
		Message:      "hello",
		Timestamp:    time.Now().UTC(),
		MsgID:        "tok-1",
		ReplyTo:      "tok-0",
		Visibility:   gtnet.VisibleAdmin,
	}
	env.SetParam(gtnet.ParamKinds, "LASTPRICE")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Encode(), &fields); err != nil {
		t.Fatalf("Decoding envelope: %v", err)
	}
	for _, name := range []string{
		"sourceDomain", "messageCode", "params", "message",
		"timestamp", "idSourceGtNetMessage", "replyToSourceId", "visibility",
	} {
		if _, ok := fields[name]; !ok {
			t.Errorf("Encoded envelope lacks field %q", name)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &gtnet.Envelope{
		SourceDomain: "gt.example.org",
		Code:         gtnet.CodeCoverage,
		Message:      "probe",
		Timestamp:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		MsgID:        "tok-7",
	}
	env.SetParam(gtnet.ParamTimezone, "Europe/Zurich").
		SetPayload(map[string]int{"count": 3})

	got, err := gtnet.ParseEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if diff := cmp.Diff(env, got); diff != "" {
		t.Errorf("Envelope round trip (-want, +got):\n%s", diff)
	}
}

func TestEnvelopeFraming(t *testing.T) {
	env := &gtnet.Envelope{
		SourceDomain: "gt.example.org",
		Code:         gtnet.CodeLastprice,
		Timestamp:    time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		MsgID:        "tok-9",
	}

	var buf bytes.Buffer
	if _, err := env.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	hdr := buf.Bytes()[:4]
	if hdr[0] != 'G' || hdr[1] != 'T' || hdr[2] != 0 {
		t.Errorf("Frame prefix: got %q", hdr[:3])
	}
	if hdr[3] != byte(gtnet.CodeLastprice) {
		t.Errorf("Frame code: got %d, want %d", hdr[3], byte(gtnet.CodeLastprice))
	}

	var got gtnet.Envelope
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if diff := cmp.Diff(env, &got); diff != "" {
		t.Errorf("Framed round trip (-want, +got):\n%s", diff)
	}
}

func TestEnvelopeFrameErrors(t *testing.T) {
	t.Run("BadPrefix", func(t *testing.T) {
		var env gtnet.Envelope
		_, err := env.ReadFrom(strings.NewReader("XY\x00\x01\x00\x00\x00\x00"))
		if err == nil || !strings.Contains(err.Error(), "invalid frame prefix") {
			t.Errorf("ReadFrom bad prefix: got %v", err)
		}
	})

	t.Run("CodeMismatch", func(t *testing.T) {
		body := (&gtnet.Envelope{Code: gtnet.CodePing}).Encode()
		var buf bytes.Buffer
		buf.Write([]byte{'G', 'T', 0, byte(gtnet.CodePingReply), 0, 0, 0, byte(len(body))})
		buf.Write(body)

		var env gtnet.Envelope
		_, err := env.ReadFrom(&buf)
		if err == nil || !strings.Contains(err.Error(), "does not match") {
			t.Errorf("ReadFrom code mismatch: got %v", err)
		}
	})

	t.Run("ShortBody", func(t *testing.T) {
		var env gtnet.Envelope
		_, err := env.ReadFrom(strings.NewReader("GT\x00\x01\x00\x00\x00\x10{}"))
		if err == nil || !strings.Contains(err.Error(), "short frame body") {
			t.Errorf("ReadFrom short body: got %v", err)
		}
	})
}

func TestReply(t *testing.T) {
	req := &gtnet.Envelope{Code: gtnet.CodeExchange, MsgID: "tok-42", SourceDomain: "peer.example.org"}
	rsp := req.Reply(gtnet.CodeExchangeAccept)
	if rsp.Code != gtnet.CodeExchangeAccept {
		t.Errorf("Reply code: got %v, want EXCHANGE_ACCEPT", rsp.Code)
	}
	if rsp.ReplyTo != "tok-42" {
		t.Errorf("Reply correlation: got %q, want tok-42", rsp.ReplyTo)
	}
	if rsp.Timestamp.IsZero() {
		t.Error("Reply timestamp is zero")
	}
}
