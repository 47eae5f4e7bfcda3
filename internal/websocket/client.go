package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is one browser connection of a signed-in user. householdID is 0
// until the user belongs to a household; it is guarded by the hub's lock.
type Client struct {
	hub         *Hub
	conn        *ws.Conn
	send        chan []byte
	userID      int64
	householdID int64
}

func NewClient(hub *Hub, conn *ws.Conn, userID, householdID int64) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		userID:      userID,
		householdID: householdID,
	}
}

// Run registers the client and writes hub messages until the browser goes
// away or the hub drops the client. The socket is server-to-browser only, so
// anything the browser sends is discarded.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	c.writeLoop(c.conn.CloseRead(ctx))
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// dropped by the hub for falling behind; the browser
				// reconnects and refetches
				c.conn.Close(ws.StatusTryAgainLater, "falling behind")
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
