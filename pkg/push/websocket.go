package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/websocket"
)

// WebSocketDialer dials the push endpoint over WebSocket without subprotocol
// negotiation.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Origin defaults to the http(s) form of URL.
	Origin string

	// Header is sent with the handshake (e.g. session cookies).
	Header http.Header
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		var err error
		if origin, err = originFor(d.URL); err != nil {
			return nil, err
		}
	}

	cfg, err := websocket.NewConfig(d.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if d.Header != nil {
		cfg.Header = d.Header.Clone()
	}

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

func originFor(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(data))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
