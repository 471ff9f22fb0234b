package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebsocketClientParams struct {
	// e.g. ws://localhost:3000/ws
	Url  string
	Name string

	MaxReadMessageSize int64
	SendQueueLength    int
	HandshakeTimeout   time.Duration
	StopTimeout        time.Duration

	Logger *zap.Logger
}

type ConnectionRefused struct {
	Reason string
}

func (e *ConnectionRefused) Error() string {
	return fmt.Sprintf("Connection refused by server: %s", e.Reason)
}

// WebsocketClient is the client side of a single WebSocket connection. Its
// connection id is the one assigned by the server.
type WebsocketClient struct {
	params  WebsocketClientParams
	welcome Welcome

	events *EventQueue
	conn   *wsConnection

	log *zap.Logger
}

// DialWebsocket connects and completes the handshake. The Connected event is
// queued before it returns.
func DialWebsocket(ctx context.Context, params WebsocketClientParams) (*WebsocketClient, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.MaxReadMessageSize <= 0 {
		params.MaxReadMessageSize = defaultMaxReadMessageSize
	}
	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = 5 * time.Second
	}

	log := logger.With(zap.String("handler", "WebSocketClient"), zap.String("url", params.Url))

	dialCtx, cancel := context.WithTimeout(ctx, params.HandshakeTimeout)
	defer cancel()

	c, _, err := websocket.DefaultDialer.DialContext(dialCtx, params.Url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", params.Url, err)
	}
	c.SetReadLimit(params.MaxReadMessageSize)

	welcome, err := handshake(c, params)
	if err != nil {
		c.Close()
		return nil, err
	}

	log = log.With(zap.Uint32("connId", welcome.ConnectionId))
	log.Info("Connected to WebSocket server", zap.Uint16("sendRate", welcome.SendRate))

	client := &WebsocketClient{
		params:  params,
		welcome: welcome,
		events:  CreateEventQueue(),
		log:     log,
	}

	client.conn = createWsConnection(wsConnectionParams{
		ConnId:          welcome.ConnectionId,
		Conn:            c,
		Events:          client.events,
		SendQueueLength: params.SendQueueLength,
		StopTimeout:     params.StopTimeout,
		Logger:          log,
	})

	client.events.Push(Event{Kind: EventKind_Connected, ConnId: welcome.ConnectionId})

	if err := client.conn.start(); err != nil {
		client.conn.close("worker start failed")
		return nil, err
	}

	return client, nil
}

func handshake(c *websocket.Conn, params WebsocketClientParams) (Welcome, error) {
	deadline := time.Now().Add(params.HandshakeTimeout)
	c.SetWriteDeadline(deadline)
	c.SetReadDeadline(deadline)

	hello := BuildHello(Hello{
		MagicNumber: HandshakeMagicNumber,
		Version:     HandshakeVersion,
		Name:        params.Name,
	})
	if err := c.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		return Welcome{}, fmt.Errorf("sending Hello: %w", err)
	}

	msgType, payload, err := c.ReadMessage()
	if err != nil {
		return Welcome{}, fmt.Errorf("reading Welcome: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return Welcome{}, &NonBinaryMessage{}
	}

	welcome, err := ParseWelcome(payload)
	if err != nil {
		return Welcome{}, err
	}
	if !welcome.Accepted {
		return welcome, &ConnectionRefused{Reason: welcome.Reason}
	}

	c.SetReadDeadline(time.Time{})
	c.SetWriteDeadline(time.Time{})
	return welcome, nil
}

func (wc *WebsocketClient) ConnectionId() uint32 {
	return wc.welcome.ConnectionId
}

// SendRate is the server's advertised snapshot rate.
func (wc *WebsocketClient) SendRate() uint16 {
	return wc.welcome.SendRate
}

func (wc *WebsocketClient) Send(connId uint32, data []byte, channel Channel) error {
	if connId != wc.welcome.ConnectionId {
		return &UnknownConnection{ConnId: connId}
	}
	if err := checkBatchSize(data, wc.params.MaxReadMessageSize, channel); err != nil {
		return err
	}
	return wc.conn.send(data, channel)
}

func (wc *WebsocketClient) Disconnect(connId uint32) error {
	if connId != wc.welcome.ConnectionId {
		return &UnknownConnection{ConnId: connId}
	}
	wc.conn.close("disconnected by client")
	return nil
}

func (wc *WebsocketClient) Poll(handlers Handlers) int {
	return wc.events.Drain(func(e Event) {
		Dispatch(e, handlers)
	})
}

func (wc *WebsocketClient) MaxMessageSize(channel Channel) int {
	return maxMessageSize(wc.params.MaxReadMessageSize, channel)
}

func (wc *WebsocketClient) Stop() {
	wc.conn.stop("client stopping")
}
