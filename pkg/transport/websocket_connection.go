package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/worker"
	"go.uber.org/zap"
)

const (
	defaultMaxReadMessageSize = 64 * 1024
	defaultSendQueueLength    = 64
	defaultStopTimeout        = 2 * time.Second
	writeTimeout              = 5 * time.Second

	// WebSocket runs over TCP so both channels are reliable; unreliable
	// batches are still kept under a datagram sized limit so the same
	// batching thresholds work on a UDP transport.
	unreliableMaxMessageSize = 1200
)

type SendQueueFull struct {
	ConnId uint32
}

func (e *SendQueueFull) Error() string {
	return fmt.Sprintf("Send queue full for connection id=%d", e.ConnId)
}

type NonBinaryMessage struct{}

func (m *NonBinaryMessage) Error() string {
	return "Non binary message received"
}

func maxMessageSize(maxReadMessageSize int64, channel Channel) int {
	reliable := int(maxReadMessageSize) - 1
	if channel == Channel_Unreliable {
		return min(unreliableMaxMessageSize, reliable)
	}
	return reliable
}

func checkBatchSize(data []byte, maxReadMessageSize int64, channel Channel) error {
	maxSize := maxMessageSize(maxReadMessageSize, channel)
	if len(data) > maxSize {
		return &errors.MessageTooLarge{
			MessageName: "Batch::" + channel.String(),
			Size:        len(data),
			MaxSize:     maxSize,
		}
	}
	return nil
}

// frame prefixes data with its channel. WebSocket frames keep their
// boundaries, so no length is needed.
func frame(data []byte, channel Channel) []byte {
	out := make([]byte, 1+len(data))
	out[0] = byte(channel)
	copy(out[1:], data)
	return out
}

type wsConnectionParams struct {
	ConnId          uint32
	Conn            *websocket.Conn
	Events          *EventQueue
	SendQueueLength int
	StopTimeout     time.Duration

	// Called on the receive goroutine for every data frame
	OnReceive func(connId uint32)
	// Called once, after the Disconnected event was queued
	OnClosed func(connId uint32)

	Logger *zap.Logger
}

// wsConnection runs one receive worker and one send worker for a handshaken
// WebSocket connection.
type wsConnection struct {
	params wsConnectionParams
	log    *zap.Logger

	outgoing chan []byte
	closing  chan struct{}

	closeOnce sync.Once

	recvWorker *worker.Worker
	sendWorker *worker.Worker
}

func createWsConnection(params wsConnectionParams) *wsConnection {
	if params.SendQueueLength <= 0 {
		params.SendQueueLength = defaultSendQueueLength
	}
	if params.StopTimeout <= 0 {
		params.StopTimeout = defaultStopTimeout
	}

	log := params.Logger.With(zap.Uint32("connId", params.ConnId))

	c := &wsConnection{
		params:   params,
		log:      log,
		outgoing: make(chan []byte, params.SendQueueLength),
		closing:  make(chan struct{}),
	}

	c.recvWorker = worker.Create(fmt.Sprintf("ws-recv-%d", params.ConnId), worker.Params{
		Tick:      c.receiveTick,
		Cleanup:   func() { c.close("receive loop ended") },
		Interrupt: func() { c.params.Conn.Close() },
		Logger:    log,
	})
	c.sendWorker = worker.Create(fmt.Sprintf("ws-send-%d", params.ConnId), worker.Params{
		Tick:      c.sendTick,
		Cleanup:   func() { c.close("send loop ended") },
		Interrupt: func() { c.params.Conn.Close() },
		Logger:    log,
	})

	return c
}

func (c *wsConnection) start() error {
	if err := c.recvWorker.Start(); err != nil {
		return err
	}
	return c.sendWorker.Start()
}

func (c *wsConnection) send(data []byte, channel Channel) error {
	select {
	case <-c.closing:
		return &UnknownConnection{ConnId: c.params.ConnId}
	default:
	}

	select {
	case c.outgoing <- frame(data, channel):
		return nil
	default:
	}

	if channel == Channel_Unreliable {
		c.log.Debug("Dropping unreliable batch, send queue full", zap.Int("size", len(data)))
		return &SendQueueFull{ConnId: c.params.ConnId}
	}

	// a reliable stream with a hole in it is useless
	c.log.Warn("Reliable send queue full, closing connection")
	go c.close("reliable send queue full")
	return &SendQueueFull{ConnId: c.params.ConnId}
}

func (c *wsConnection) receiveTick(ctx context.Context) bool {
	msgType, payload, err := c.params.Conn.ReadMessage()
	if err != nil {
		c.logReadError(err)
		return false
	}

	if msgType != websocket.BinaryMessage {
		c.log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
		return true
	}

	if len(payload) < 1 || Channel(payload[0]) >= Channel_Count {
		c.log.Warn("Received frame with invalid channel, closing connection", zap.Int("size", len(payload)))
		return false
	}

	if c.params.OnReceive != nil {
		c.params.OnReceive(c.params.ConnId)
	}

	c.params.Events.Push(Event{
		Kind:    EventKind_Data,
		ConnId:  c.params.ConnId,
		Data:    payload[1:],
		Channel: Channel(payload[0]),
	})
	return true
}

func (c *wsConnection) logReadError(err error) {
	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

	select {
	case <-c.closing:
		c.log.Debug("Read ended after local close", zap.Error(err))
		return
	default:
	}

	if websocket.IsCloseError(err, expectedCloseErrors...) {
		c.log.Info("Received close request from remote", zap.Error(err))
		return
	}

	if websocket.IsUnexpectedCloseError(err, expectedCloseErrors...) {
		c.log.Warn("Received unexpected close from remote", zap.Error(err))
		return
	}

	if strings.Contains(err.Error(), "use of closed network connection") {
		c.log.Info("Connection closed locally")
		return
	}

	c.log.Error("Unexpected WebSocket error on message read", zap.Error(err))
}

func (c *wsConnection) sendTick(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.closing:
		return false
	case data := <-c.outgoing:
		c.params.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.params.Conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			c.log.Warn("Failed to write WebSocket message", zap.Error(err))
			return false
		}
		return true
	}
}

// close tears the connection down once. Both workers exit on their own: the
// send worker sees closing, the receive worker's read fails on the closed
// socket.
func (c *wsConnection) close(reason string) {
	c.closeOnce.Do(func() {
		c.log.Info("Closing WebSocket connection", zap.String("reason", reason))
		close(c.closing)

		c.params.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		c.params.Conn.Close()

		c.params.Events.Push(Event{Kind: EventKind_Disconnected, ConnId: c.params.ConnId})
		if c.params.OnClosed != nil {
			c.params.OnClosed(c.params.ConnId)
		}
	})
}

// stop closes the connection and waits for both workers to exit.
func (c *wsConnection) stop(reason string) bool {
	c.close(reason)

	recvStopped := c.recvWorker.StopBlocking(c.params.StopTimeout)
	sendStopped := c.sendWorker.StopBlocking(c.params.StopTimeout)
	if !recvStopped || !sendStopped {
		c.log.Error("WebSocket connection workers did not stop in time",
			zap.Bool("recvStopped", recvStopped),
			zap.Bool("sendStopped", sendStopped))
		return false
	}
	return true
}
