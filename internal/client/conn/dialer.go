package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/wire"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// Dialer opens one push channel. A rejected assertion is reported as
// types.ErrUnauthorized; anything else that may work on retry wraps
// types.ErrTransientConnection.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Channel, error)
}

// Channel is an open push channel.
type Channel interface {
	// Recv blocks for the next snapshot. A deliberate close by the server
	// is types.ErrServerClosed; a dropped connection wraps
	// types.ErrTransientConnection.
	Recv(ctx context.Context) (*types.Snapshot, error)
	Close() error
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", types.ErrTransientConnection, err)
}

// ============================================================================
// WebSocket
// ============================================================================

// WSDialer dials the /ws endpoint of a jobwatch server.
type WSDialer struct {
	ServerURL        string // http(s):// or ws(s):// base URL
	HandshakeTimeout time.Duration
}

// URL returns the channel URL for creds.
func (d *WSDialer) URL(creds Credentials) (string, error) {
	u, err := url.Parse(strings.TrimRight(d.ServerURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += wire.PathWS
	q := url.Values{}
	q.Set(wire.QueryInitData, creds.InitData)
	if creds.ChatID != "" {
		q.Set(wire.QueryChatID, creds.ChatID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial performs the WebSocket handshake.
func (d *WSDialer) Dial(ctx context.Context, creds Credentials) (Channel, error) {
	target, err := d.URL(creds)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	header := http.Header{}
	header.Set(wire.HeaderInitData, creds.InitData)
	if creds.ChatID != "" {
		header.Set(wire.HeaderChatID, creds.ChatID)
	}

	c, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized) {
			return nil, types.ErrUnauthorized
		}
		return nil, transient(err)
	}
	return &wsChannel{conn: c}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Recv(ctx context.Context) (*types.Snapshot, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, types.ErrServerClosed
			}
			return nil, transient(err)
		}
		snap, err := broadcast.DecodeFrame(data)
		if err != nil {
			log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		snap.FetchedAt = time.Now()
		return snap, nil
	}
}

func (c *wsChannel) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
