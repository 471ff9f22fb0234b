package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sessamekesh/netsync/internal/connstore"
	utils "github.com/sessamekesh/netsync/pkg/util"
	"github.com/sessamekesh/netsync/pkg/worker"
	"go.uber.org/zap"
)

type WebsocketServerParams struct {
	ListenAddress    string
	ListenEndpoint   string
	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	MaxReadMessageSize int64
	MaxConnections     int
	SendQueueLength    int

	// Advertised to clients in the Welcome message
	SendRate uint16

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	StopTimeout      time.Duration

	Logger *zap.Logger
}

type WebsocketServer struct {
	upgrader *websocket.Upgrader
	params   WebsocketServerParams

	store  *connstore.ConnectionStore
	events *EventQueue

	mut_connections sync.RWMutex
	connections     map[uint32]*wsConnection
	stopped         bool

	sweeper *worker.Worker
	stopCh  chan struct{}

	log       *zap.Logger
	stringGen *utils.RandomStringGenerator
}

func checkOrigin(r *http.Request, params WebsocketServerParams) bool {
	origin := r.Header.Get("Origin")
	if utils.Contains(origin, params.DenylistedHosts) {
		return false
	}

	if params.AllowAllHosts {
		return true
	}

	return utils.Contains(origin, params.AllowlistedHosts)
}

func nowTimestamp() int64 {
	return time.Now().UnixMicro()
}

func CreateWebsocketServer(params WebsocketServerParams) (*WebsocketServer, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/ws"
	}
	if params.MaxReadMessageSize <= 0 {
		params.MaxReadMessageSize = defaultMaxReadMessageSize
	}
	if params.MaxConnections <= 0 {
		params.MaxConnections = 1024
	}
	if params.SendRate == 0 {
		params.SendRate = 30
	}
	if params.HandshakeTimeout <= 0 {
		params.HandshakeTimeout = 5 * time.Second
	}
	if params.IdleTimeout <= 0 {
		params.IdleTimeout = 30 * time.Second
	}
	if params.SweepInterval <= 0 {
		params.SweepInterval = time.Second
	}
	if params.StopTimeout <= 0 {
		params.StopTimeout = defaultStopTimeout
	}

	ws := &WebsocketServer{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params)
			},
		},
		params: params,

		store:  connstore.CreateConnectionStore(params.MaxConnections),
		events: CreateEventQueue(),

		mut_connections: sync.RWMutex{},
		connections:     make(map[uint32]*wsConnection),

		stopCh: make(chan struct{}),

		log:       logger.With(zap.String("handler", "WebSocketServer")),
		stringGen: utils.CreateRandomStringGenerator(time.Now().UnixMicro()),
	}

	ws.sweeper = worker.Create("ws-sweeper", worker.Params{
		Tick:   ws.sweepTick,
		Logger: ws.log,
	})

	return ws, nil
}

// Handler serves WebSocket upgrades on the configured endpoint.
func (ws *WebsocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.params.ListenEndpoint, ws.onWsRequest)
	return mux
}

func (ws *WebsocketServer) readHello(c *websocket.Conn) (Hello, error) {
	c.SetReadDeadline(time.Now().Add(ws.params.HandshakeTimeout))

	msgType, payload, err := c.ReadMessage()
	if err != nil {
		return Hello{}, err
	}

	if msgType != websocket.BinaryMessage {
		return Hello{}, &NonBinaryMessage{}
	}

	return ParseHello(payload)
}

func (ws *WebsocketServer) reject(c *websocket.Conn, log *zap.Logger, reason string) {
	log.Warn("Rejecting WebSocket connection", zap.String("reason", reason))
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.WriteMessage(websocket.BinaryMessage, BuildWelcome(Welcome{Accepted: false, Reason: reason}))
	c.Close()
}

func (ws *WebsocketServer) onWsRequest(w http.ResponseWriter, r *http.Request) {
	log := ws.log.With(
		zap.String("wsConnTag", ws.stringGen.GetRandomString(6)),
	)

	log.Info("New WebSocket request", zap.String("remoteAddr", r.RemoteAddr))
	c, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}

	c.SetReadLimit(ws.params.MaxReadMessageSize)

	connId := ws.store.GetNewConnectionId()
	log = log.With(zap.Uint32("connId", connId))

	if err := ws.store.CreateConnection(connId, "WebSocket", r.RemoteAddr, nowTimestamp()); err != nil {
		ws.reject(c, log, err.Error())
		return
	}

	hello, err := ws.readHello(c)
	if err != nil {
		ws.store.RemoveConnection(connId)
		ws.reject(c, log, fmt.Sprintf("invalid handshake: %v", err))
		return
	}
	c.SetReadDeadline(time.Time{})

	conn := createWsConnection(wsConnectionParams{
		ConnId:          connId,
		Conn:            c,
		Events:          ws.events,
		SendQueueLength: ws.params.SendQueueLength,
		StopTimeout:     ws.params.StopTimeout,
		OnReceive: func(connId uint32) {
			ws.store.SetRecvTimestamp(connId, nowTimestamp())
		},
		OnClosed: ws.removeConnection,
		Logger:   log,
	})

	err = func() error {
		ws.mut_connections.Lock()
		defer ws.mut_connections.Unlock()

		if ws.stopped {
			return &TransportStopped{}
		}

		ws.connections[connId] = conn
		return nil
	}()
	if err != nil {
		ws.store.RemoveConnection(connId)
		ws.reject(c, log, err.Error())
		return
	}

	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	welcome := BuildWelcome(Welcome{Accepted: true, ConnectionId: connId, SendRate: ws.params.SendRate})
	if err := c.WriteMessage(websocket.BinaryMessage, welcome); err != nil {
		log.Warn("Failed to send Welcome", zap.Error(err))
		ws.removeConnection(connId)
		c.Close()
		return
	}

	ws.store.Connect(connId, hello.Name)
	ws.events.Push(Event{Kind: EventKind_Connected, ConnId: connId})
	log.Info("WebSocket client connected", zap.String("name", hello.Name))

	if err := conn.start(); err != nil {
		log.Error("Failed to start connection workers", zap.Error(err))
		conn.close("worker start failed")
	}
}

func (ws *WebsocketServer) removeConnection(connId uint32) {
	ws.mut_connections.Lock()
	defer ws.mut_connections.Unlock()

	delete(ws.connections, connId)
	ws.store.RemoveConnection(connId)
}

func (ws *WebsocketServer) getConnection(connId uint32) (*wsConnection, error) {
	ws.mut_connections.RLock()
	defer ws.mut_connections.RUnlock()

	conn, has := ws.connections[connId]
	if !has {
		return nil, &UnknownConnection{ConnId: connId}
	}
	return conn, nil
}

func (ws *WebsocketServer) Send(connId uint32, data []byte, channel Channel) error {
	conn, err := ws.getConnection(connId)
	if err != nil {
		return err
	}
	if err := checkBatchSize(data, ws.params.MaxReadMessageSize, channel); err != nil {
		return err
	}

	if err := conn.send(data, channel); err != nil {
		return err
	}
	ws.store.SetSendTimestamp(connId, nowTimestamp())
	return nil
}

func (ws *WebsocketServer) Disconnect(connId uint32) error {
	conn, err := ws.getConnection(connId)
	if err != nil {
		return err
	}
	conn.close("disconnected by server")
	return nil
}

func (ws *WebsocketServer) Poll(handlers Handlers) int {
	return ws.events.Drain(func(e Event) {
		Dispatch(e, handlers)
	})
}

func (ws *WebsocketServer) MaxMessageSize(channel Channel) int {
	return maxMessageSize(ws.params.MaxReadMessageSize, channel)
}

func (ws *WebsocketServer) ConnectionCount() int {
	return ws.store.Count()
}

// Sweep disconnects connections that have been silent since before now minus
// the idle timeout, and forgets handshakes that never finished.
func (ws *WebsocketServer) Sweep(now time.Time) {
	idleDeadline := now.Add(-ws.params.IdleTimeout).UnixMicro()
	for _, connId := range ws.store.GetTimeoutConnectionList(idleDeadline) {
		ws.log.Info("Disconnecting idle connection", zap.Uint32("connId", connId))
		ws.Disconnect(connId)
	}

	handshakeDeadline := now.Add(-2 * ws.params.HandshakeTimeout).UnixMicro()
	for _, connId := range ws.store.GetHandshakeTimeoutList(handshakeDeadline) {
		ws.log.Info("Dropping stale handshake", zap.Uint32("connId", connId))
		ws.store.RemoveConnection(connId)
	}
}

func (ws *WebsocketServer) sweepTick(ctx context.Context) bool {
	timer := time.NewTimer(ws.params.SweepInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-ws.stopCh:
		return false
	case now := <-timer.C:
		ws.Sweep(now)
		return true
	}
}

// Start listens on ListenAddress and blocks until ctx is cancelled, then
// shuts the HTTP server down and closes every connection.
func (ws *WebsocketServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    ws.params.ListenAddress,
		Handler: ws.Handler(),
	}

	if err := ws.sweeper.Start(); err != nil {
		return err
	}

	wg := sync.WaitGroup{}
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()

		ws.log.Sugar().Infof("Starting WebSocket server at %s", ws.params.ListenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			ws.log.Error("Unexpected WebSocket server close!", zap.Error(err))
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		ws.Stop()
		wg.Wait()
		return err
	}

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()
	ws.log.Info("Attempting to trigger shutdown of WebSocket server")

	if err := server.Shutdown(shutdownCtx); err != nil {
		ws.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
	}
	ws.Stop()
	wg.Wait()

	ws.log.Info("All WebSocket server goroutines finished. Exiting gracefully!")
	return nil
}

// Stop closes every connection and waits for their workers. New upgrades are
// rejected afterwards.
func (ws *WebsocketServer) Stop() {
	connections := func() []*wsConnection {
		ws.mut_connections.Lock()
		defer ws.mut_connections.Unlock()

		if ws.stopped {
			return nil
		}
		ws.stopped = true
		close(ws.stopCh)

		out := make([]*wsConnection, 0, len(ws.connections))
		for _, conn := range ws.connections {
			out = append(out, conn)
		}
		return out
	}()

	for _, conn := range connections {
		conn.stop("server stopping")
	}

	if !ws.sweeper.StopBlocking(ws.params.StopTimeout) {
		ws.log.Error("Sweeper did not stop in time")
	}
}
