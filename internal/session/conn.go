package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

// Conn is one established channel to the relay.
type Conn interface {
	Read(ctx context.Context) (proto.RawOutbound, error)
	Write(ctx context.Context, in proto.Inbound) error
	Close() error
}

// Dialer opens a channel to the relay presenting token.
type Dialer func(ctx context.Context, rawURL, token string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

// DialWebSocket is the default Dialer. The token travels in the Authorization header.
func DialWebSocket(ctx context.Context, rawURL, token string) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Read(ctx context.Context) (proto.RawOutbound, error) {
	var out proto.RawOutbound
	err := wsjson.Read(ctx, c.conn, &out)
	return out, err
}

func (c *wsConn) Write(ctx context.Context, in proto.Inbound) error {
	return wsjson.Write(ctx, c.conn, in)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
