package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	connected    []uint32
	data         [][]byte
	channels     []Channel
	disconnected []uint32
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnected: func(connId uint32) { r.connected = append(r.connected, connId) },
		OnDataReceived: func(connId uint32, data []byte, channel Channel) {
			r.data = append(r.data, data)
			r.channels = append(r.channels, channel)
		},
		OnDisconnected: func(connId uint32) { r.disconnected = append(r.disconnected, connId) },
	}
}

// pollUntil polls t until cond holds or the deadline passes.
func pollUntil(t *testing.T, tr Transport, r *recorder, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tr.Poll(r.handlers())
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestEventQueueKeepsOrder(t *testing.T) {
	q := CreateEventQueue()
	for i := 0; i < 5; i++ {
		q.Push(Event{Kind: EventKind_Data, ConnId: uint32(i)})
	}

	got := []uint32{}
	n := q.Drain(func(e Event) { got = append(got, e.ConnId) })

	assert.Equal(t, 5, n)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Drain(func(Event) {}))
}

func TestEventQueueConcurrentProducers(t *testing.T) {
	q := CreateEventQueue()
	wg := sync.WaitGroup{}
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(Event{Kind: EventKind_Data})
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		total += q.Drain(func(Event) {})
		select {
		case <-done:
			total += q.Drain(func(Event) {})
			assert.Equal(t, 1000, total)
			return
		default:
		}
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	hello, err := ParseHello(BuildHello(Hello{MagicNumber: HandshakeMagicNumber, Version: HandshakeVersion, Name: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, "alice", hello.Name)

	welcome, err := ParseWelcome(BuildWelcome(Welcome{Accepted: true, ConnectionId: 77, SendRate: 20}))
	require.NoError(t, err)
	assert.Equal(t, Welcome{Accepted: true, ConnectionId: 77, SendRate: 20}, welcome)

	refused, err := ParseWelcome(BuildWelcome(Welcome{Reason: "full"}))
	require.NoError(t, err)
	assert.False(t, refused.Accepted)
	assert.Equal(t, "full", refused.Reason)
}

func TestHandshakeRejectsBadInput(t *testing.T) {
	_, err := ParseHello(BuildHello(Hello{MagicNumber: 1, Version: HandshakeVersion}))
	var header *errors.InvalidHeaderVersion
	assert.ErrorAs(t, err, &header)

	_, err = ParseHello([]byte{1, 2})
	var underflow *errors.Underflow
	assert.ErrorAs(t, err, &underflow)

	_, err = ParseWelcome([]byte{0xFF, 0xFF, 0xFF, 0x0F, 0, 0})
	var malformed *errors.MalformedField
	assert.ErrorAs(t, err, &malformed)

	_, err = ParseHello([]byte{8, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0x7F, 1, 2, 3})
	assert.Error(t, err)
}

func TestMemoryTransport(t *testing.T) {
	server := CreateMemoryServer(MemoryParams{UnreliableMaxMessageSize: 16})
	client, err := server.Dial("bob")
	require.NoError(t, err)

	serverEvents := &recorder{}
	clientEvents := &recorder{}

	server.Poll(serverEvents.handlers())
	client.Poll(clientEvents.handlers())
	assert.Equal(t, []uint32{client.ConnectionId()}, serverEvents.connected)
	assert.Equal(t, []uint32{client.ConnectionId()}, clientEvents.connected)

	payload := []byte{1, 2, 3}
	require.NoError(t, client.Send(client.ConnectionId(), payload, Channel_Unreliable))
	payload[0] = 9
	require.NoError(t, server.Send(client.ConnectionId(), []byte{4, 5}, Channel_Reliable))

	server.Poll(serverEvents.handlers())
	client.Poll(clientEvents.handlers())
	assert.Equal(t, [][]byte{{1, 2, 3}}, serverEvents.data)
	assert.Equal(t, []Channel{Channel_Unreliable}, serverEvents.channels)
	assert.Equal(t, [][]byte{{4, 5}}, clientEvents.data)

	var tooLarge *errors.MessageTooLarge
	assert.ErrorAs(t, client.Send(client.ConnectionId(), make([]byte, 17), Channel_Unreliable), &tooLarge)

	var unknown *UnknownConnection
	assert.ErrorAs(t, server.Send(999, payload, Channel_Reliable), &unknown)

	require.NoError(t, server.Disconnect(client.ConnectionId()))
	server.Poll(serverEvents.handlers())
	client.Poll(clientEvents.handlers())
	assert.Equal(t, []uint32{client.ConnectionId()}, serverEvents.disconnected)
	assert.Equal(t, []uint32{client.ConnectionId()}, clientEvents.disconnected)
	assert.ErrorAs(t, client.Send(client.ConnectionId(), payload, Channel_Reliable), &unknown)
	assert.Equal(t, 0, server.ConnectionCount())
}

func TestMemoryTransportDropsUnreliable(t *testing.T) {
	server := CreateMemoryServer(MemoryParams{UnreliableDropRate: 1})
	client, err := server.Dial("")
	require.NoError(t, err)

	require.NoError(t, client.Send(client.ConnectionId(), []byte{1}, Channel_Unreliable))
	require.NoError(t, client.Send(client.ConnectionId(), []byte{2}, Channel_Reliable))

	events := &recorder{}
	server.Poll(events.handlers())
	assert.Equal(t, [][]byte{{2}}, events.data)
}

func startWebsocketServer(t *testing.T, params WebsocketServerParams) (*WebsocketServer, string) {
	t.Helper()
	params.Logger = zaptest.NewLogger(t)

	server, err := CreateWebsocketServer(params)
	require.NoError(t, err)

	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Stop()
		httpServer.Close()
	})

	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func TestWebsocketRoundTrip(t *testing.T) {
	server, url := startWebsocketServer(t, WebsocketServerParams{AllowAllHosts: true, SendRate: 20})

	client, err := DialWebsocket(context.Background(), WebsocketClientParams{
		Url:    url,
		Name:   "carol",
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer client.Stop()

	assert.Equal(t, uint16(20), client.SendRate())
	connId := client.ConnectionId()
	assert.NotZero(t, connId)

	serverEvents := &recorder{}
	clientEvents := &recorder{}

	pollUntil(t, server, serverEvents, func() bool { return len(serverEvents.connected) == 1 })
	assert.Equal(t, connId, serverEvents.connected[0])

	require.NoError(t, client.Send(connId, []byte("hello"), Channel_Reliable))
	require.NoError(t, client.Send(connId, []byte("world"), Channel_Unreliable))
	pollUntil(t, server, serverEvents, func() bool { return len(serverEvents.data) == 2 })
	assert.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, serverEvents.data)
	assert.Equal(t, []Channel{Channel_Reliable, Channel_Unreliable}, serverEvents.channels)

	require.NoError(t, server.Send(connId, []byte("back"), Channel_Reliable))
	pollUntil(t, client, clientEvents, func() bool { return len(clientEvents.data) == 1 })
	assert.Equal(t, []byte("back"), clientEvents.data[0])

	var tooLarge *errors.MessageTooLarge
	assert.ErrorAs(t, client.Send(connId, make([]byte, 2000), Channel_Unreliable), &tooLarge)

	require.NoError(t, server.Disconnect(connId))
	pollUntil(t, server, serverEvents, func() bool { return len(serverEvents.disconnected) == 1 })
	pollUntil(t, client, clientEvents, func() bool { return len(clientEvents.disconnected) == 1 })
	assert.Equal(t, 0, server.ConnectionCount())
}

func TestWebsocketRejectsBadHello(t *testing.T) {
	server, url := startWebsocketServer(t, WebsocketServerParams{AllowAllHosts: true})

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, BuildHello(Hello{MagicNumber: 5, Version: 1})))

	_, payload, err := c.ReadMessage()
	require.NoError(t, err)
	welcome, err := ParseWelcome(payload)
	require.NoError(t, err)
	assert.False(t, welcome.Accepted)
	assert.Contains(t, welcome.Reason, "invalid handshake")
	assert.Equal(t, 0, server.ConnectionCount())
}

func TestWebsocketRejectsWhenFull(t *testing.T) {
	_, url := startWebsocketServer(t, WebsocketServerParams{AllowAllHosts: true, MaxConnections: 1})

	first, err := DialWebsocket(context.Background(), WebsocketClientParams{Url: url, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer first.Stop()

	_, err = DialWebsocket(context.Background(), WebsocketClientParams{Url: url, Logger: zaptest.NewLogger(t)})
	var refused *ConnectionRefused
	assert.ErrorAs(t, err, &refused)
}

func TestWebsocketSweepDropsIdleConnections(t *testing.T) {
	server, url := startWebsocketServer(t, WebsocketServerParams{AllowAllHosts: true, IdleTimeout: time.Minute})

	client, err := DialWebsocket(context.Background(), WebsocketClientParams{Url: url, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer client.Stop()

	serverEvents := &recorder{}
	pollUntil(t, server, serverEvents, func() bool { return len(serverEvents.connected) == 1 })

	server.Sweep(time.Now())
	assert.Equal(t, 1, server.ConnectionCount())

	server.Sweep(time.Now().Add(2 * time.Minute))
	pollUntil(t, server, serverEvents, func() bool { return len(serverEvents.disconnected) == 1 })
}

func TestCheckOrigin(t *testing.T) {
	params := WebsocketServerParams{AllowlistedHosts: []string{"https://good.example"}, DenylistedHosts: []string{"https://bad.example"}}

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://good.example")
	assert.True(t, checkOrigin(req, params))

	req.Header.Set("Origin", "https://other.example")
	assert.False(t, checkOrigin(req, params))

	params.AllowAllHosts = true
	assert.True(t, checkOrigin(req, params))

	req.Header.Set("Origin", "https://bad.example")
	assert.False(t, checkOrigin(req, params))
}
