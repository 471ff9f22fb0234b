package peer

import (
	"github.com/sessamekesh/netsync/pkg/batching"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/sessamekesh/netsync/pkg/snapshot"
	"github.com/sessamekesh/netsync/pkg/transport"
)

// pingWindowSize is the number of pongs averaged into the round trip time.
const pingWindowSize = 50

// Connection is one remote endpoint as seen from the main loop: a batcher per
// channel for outbound messages and an unbatcher for inbound batches.
type Connection struct {
	connId uint32

	batchers  [transport.Channel_Count]*batching.Batcher
	unbatcher *batching.Unbatcher

	// Timestamp of the batch currently being processed
	remoteTimeStamp float64
	lastMessageTime float64

	rtt snapshot.ExponentialMovingAverage
}

func createConnection(connId uint32, t transport.Transport, pool *netbuf.WriterPool, localTime float64) *Connection {
	c := &Connection{
		connId:          connId,
		unbatcher:       batching.CreateUnbatcher(pool),
		lastMessageTime: localTime,
		rtt:             snapshot.CreateExponentialMovingAverage(pingWindowSize),
	}
	for ch := transport.Channel(0); ch < transport.Channel_Count; ch++ {
		c.batchers[ch] = batching.CreateBatcher(t.MaxMessageSize(ch), pool)
	}
	return c
}

func (c *Connection) ConnectionId() uint32 {
	return c.connId
}

// RemoteTimeStamp is the sender's clock when it flushed the batch that is
// currently being dispatched.
func (c *Connection) RemoteTimeStamp() float64 {
	return c.remoteTimeStamp
}

func (c *Connection) LastMessageTime() float64 {
	return c.lastMessageTime
}

// Rtt is the smoothed round trip time in seconds, zero until the first pong.
func (c *Connection) Rtt() float64 {
	return c.rtt.Value
}

// MaxMessageSize is the largest enveloped message that still fits into a
// single batch on channel.
func (c *Connection) MaxMessageSize(channel transport.Channel) int {
	return c.batchers[channel].Threshold() - batching.HeaderSize
}

func (c *Connection) queue(id message.MessageId, name string, data []byte, channel transport.Channel) error {
	if channel >= transport.Channel_Count {
		return &errors.InvalidEnumValue{EnumName: "Channel", IntValue: uint8(channel)}
	}

	if maxSize := c.MaxMessageSize(channel); len(data) > maxSize {
		return &errors.MessageTooLarge{
			MessageName: name,
			Size:        len(data),
			MaxSize:     maxSize,
		}
	}

	c.batchers[channel].AddMessage(data)
	return nil
}
