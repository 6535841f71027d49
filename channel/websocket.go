// Copyright (C) 2025 The Grafioschtrader Authors. All Rights Reserved.

package channel

import (
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/grafioschtrader/gtnet"
)

// Websocket wraps a websocket connection as a gtnet.Channel. Each envelope
// travels as one text message in wire (JSON) format.
func Websocket(conn *websocket.Conn) WSChannel { return WSChannel{conn: conn} }

// DialWebsocket connects to a peer's websocket endpoint and returns the
// resulting channel.
func DialWebsocket(url string) (WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return WSChannel{}, fmt.Errorf("dial %q: %w", url, err)
	}
	return Websocket(conn), nil
}

// A WSChannel sends and receives envelopes over a websocket connection.
type WSChannel struct {
	conn *websocket.Conn
}

// Send implements a method of the [gtnet.Channel] interface.
func (c WSChannel) Send(env *gtnet.Envelope) error {
	return c.conn.WriteMessage(websocket.TextMessage, env.Encode())
}

// Recv implements a method of the [gtnet.Channel] interface.
func (c WSChannel) Recv() (*gtnet.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return gtnet.ParseEnvelope(data)
}

// Close implements a method of the [gtnet.Channel] interface.
func (c WSChannel) Close() error { return c.conn.Close() }
