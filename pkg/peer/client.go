package peer

import (
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

// Client has at most one connection, to the server.
type Client struct {
	peer
	connId    uint32
	connected bool
}

func CreateClient(params Params) (*Client, error) {
	c := &Client{}
	if err := c.init(params, "Client"); err != nil {
		return nil, err
	}

	c.OnConnected(func(connId uint32) {
		c.connId = connId
		c.connected = true
		c.log.Info("Connected to server", zap.Uint32("connId", connId))
	})
	c.OnDisconnected(func(connId uint32) {
		c.connected = false
		c.log.Info("Disconnected from server", zap.Uint32("connId", connId))
	})

	return c, nil
}

func (c *Client) IsConnected() bool {
	return c.connected
}

func (c *Client) ConnectionId() uint32 {
	return c.connId
}

// ServerConnection returns the connection to the server, if any.
func (c *Client) ServerConnection() (*Connection, bool) {
	if !c.connected {
		return nil, false
	}
	return c.Connection(c.connId)
}

func (c *Client) Send(msg message.Serializable, channel transport.Channel) error {
	if !c.connected {
		return &NotConnected{}
	}
	return c.SendTo(c.connId, msg, channel)
}

func (c *Client) Stop() {
	c.stop()
	c.connected = false
}
