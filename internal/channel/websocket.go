package channel

import (
	"context"
	"fmt"
	"net/url"

	"nhooyr.io/websocket"
)

// Directory listings and search batches can be large.
const maxFrameSize = 16 << 20

type wsTransport struct {
	conn *websocket.Conn
}

// Dial opens a websocket connection to rawURL. A non-empty token is passed
// as the token query parameter.
func Dial(ctx context.Context, rawURL, token string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", rawURL, err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsTransport{conn: conn}, nil
}

// Dialer returns a DialFunc for Run.
func Dialer(rawURL, token string) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		return Dial(ctx, rawURL, token)
	}
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
