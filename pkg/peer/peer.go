// Package peer drives one side of a connection from the host's frame loop:
// EarlyUpdate drains the transport and dispatches received messages,
// LateUpdate runs broadcast hooks at the send rate and flushes batches.
package peer

import (
	goerrors "errors"
	"fmt"
	"slices"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

type Params struct {
	Transport transport.Transport

	// Optional, a fresh registry is created when nil
	Registry *message.Registry

	// Broadcast hooks run this many times per second. Zero runs them every
	// LateUpdate.
	SendRate int

	// Seconds between pings. Zero disables pinging.
	PingInterval float64

	// Passed to snapshot buffers owned by components of this peer
	SnapshotBufferSizeLimit int

	// Connections silent for longer than this many seconds are
	// disconnected. Zero disables the check.
	Timeout float64

	Logger *zap.Logger
}

type NotConnected struct {
	ConnId uint32
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("No connection with id=%d", e.ConnId)
}

// peer holds what server and client share. It is driven from a single
// goroutine and does no locking of its own.
type peer struct {
	params   Params
	log      *zap.Logger
	registry *message.Registry

	pool   *netbuf.WriterPool
	writer *netbuf.Writer

	diagnostics *Diagnostics

	connections map[uint32]*Connection

	localTime       float64
	sendInterval    float64
	sendAccumulator float64
	pingAccumulator float64

	onConnected    []func(connId uint32)
	onDisconnected []func(connId uint32)
	broadcastHooks []func(localTime float64)

	handlers transport.Handlers
}

func (p *peer) init(params Params, name string) error {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.Transport == nil {
		return fmt.Errorf("%s: transport is required", name)
	}
	if params.Registry == nil {
		params.Registry = message.CreateRegistry()
	}
	if params.SnapshotBufferSizeLimit <= 0 {
		params.SnapshotBufferSizeLimit = 64
	}

	p.params = params
	p.log = logger.With(zap.String("handler", name))
	p.registry = params.Registry
	p.pool = netbuf.CreateWriterPool(0, 0)
	p.writer = netbuf.NewWriter(max(params.Transport.MaxMessageSize(transport.Channel_Reliable), netbuf.DefaultCapacity))
	p.diagnostics = createDiagnostics()
	p.connections = make(map[uint32]*Connection)

	if params.SendRate > 0 {
		p.sendInterval = 1 / float64(params.SendRate)
	}

	p.handlers = transport.Handlers{
		OnConnected:    p.handleConnected,
		OnDataReceived: p.handleData,
		OnDisconnected: p.handleDisconnected,
	}

	if err := message.Handle(p.registry, message.MessageId_Ping, "Ping", message.ParsePingMessage, p.handlePing); err != nil {
		return err
	}
	return message.Handle(p.registry, message.MessageId_Pong, "Pong", message.ParsePongMessage, p.handlePong)
}

func (p *peer) Registry() *message.Registry {
	return p.registry
}

func (p *peer) Diagnostics() *Diagnostics {
	return p.diagnostics
}

// LocalTime is the sum of every deltaTime passed to EarlyUpdate, in seconds.
func (p *peer) LocalTime() float64 {
	return p.localTime
}

func (p *peer) SendRate() int {
	return p.params.SendRate
}

func (p *peer) SnapshotBufferSizeLimit() int {
	return p.params.SnapshotBufferSizeLimit
}

func (p *peer) Connection(connId uint32) (*Connection, bool) {
	c, has := p.connections[connId]
	return c, has
}

// ConnectionIds returns the open connections in ascending order.
func (p *peer) ConnectionIds() []uint32 {
	ids := make([]uint32, 0, len(p.connections))
	for id := range p.connections {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *peer) OnConnected(fn func(connId uint32)) {
	p.onConnected = append(p.onConnected, fn)
}

func (p *peer) OnDisconnected(fn func(connId uint32)) {
	p.onDisconnected = append(p.onDisconnected, fn)
}

// OnBroadcast registers fn to run at the send rate, right before batches are
// flushed.
func (p *peer) OnBroadcast(fn func(localTime float64)) {
	p.broadcastHooks = append(p.broadcastHooks, fn)
}

// SendTo envelopes msg and queues it on connId's batcher for channel. It is
// sent on the next flush.
func (p *peer) SendTo(connId uint32, msg message.Serializable, channel transport.Channel) error {
	return p.SendRawTo(connId, msg.MessageId(), message.Marshal(msg), channel)
}

// SendRawTo queues an already enveloped message.
func (p *peer) SendRawTo(connId uint32, id message.MessageId, envelope []byte, channel transport.Channel) error {
	c, has := p.connections[connId]
	if !has {
		return &NotConnected{ConnId: connId}
	}

	if err := c.queue(id, p.registry.Name(id), envelope, channel); err != nil {
		p.diagnostics.onRejectedSend()
		return err
	}

	p.diagnostics.onMessageOut(id, len(envelope))
	return nil
}

// EarlyUpdate advances local time and handles everything the transport
// received since the last frame.
func (p *peer) EarlyUpdate(deltaTime float64) {
	p.localTime += deltaTime
	p.params.Transport.Poll(p.handlers)
	p.checkTimeouts()
}

// LateUpdate pings, runs broadcast hooks when a send interval elapsed and
// flushes every connection.
func (p *peer) LateUpdate(deltaTime float64) {
	if p.params.PingInterval > 0 {
		p.pingAccumulator += deltaTime
		if p.pingAccumulator >= p.params.PingInterval {
			p.pingAccumulator = 0
			for _, connId := range p.ConnectionIds() {
				if err := p.SendTo(connId, message.PingMessage{LocalTime: p.localTime}, transport.Channel_Unreliable); err != nil {
					p.log.Debug("Failed to send ping", zap.Uint32("connId", connId), zap.Error(err))
				}
			}
		}
	}

	if p.sendInterval <= 0 {
		p.broadcast()
	} else {
		p.sendAccumulator += deltaTime
		if p.sendAccumulator >= p.sendInterval {
			// no catching up on missed intervals after a long frame
			p.sendAccumulator = min(p.sendAccumulator-p.sendInterval, p.sendInterval)
			p.broadcast()
		}
	}

	p.flush()
}

// Update runs EarlyUpdate and LateUpdate back to back, for hosts without
// anything to do in between.
func (p *peer) Update(deltaTime float64) {
	p.EarlyUpdate(deltaTime)
	p.LateUpdate(deltaTime)
}

func (p *peer) broadcast() {
	for _, hook := range p.broadcastHooks {
		hook(p.localTime)
	}
}

func (p *peer) flush() {
	for _, connId := range p.ConnectionIds() {
		p.flushConnection(p.connections[connId])
	}
}

func (p *peer) flushConnection(c *Connection) {
	for ch := transport.Channel(0); ch < transport.Channel_Count; ch++ {
		for {
			p.writer.Reset()
			hasBatch, err := c.batchers[ch].MakeNextBatch(p.writer, p.localTime)
			if err != nil {
				p.log.Error("Failed to make batch", zap.Error(err))
				break
			}
			if !hasBatch {
				break
			}

			if err := p.params.Transport.Send(c.connId, p.writer.Bytes(), ch); err != nil {
				p.log.Warn("Failed to send batch",
					zap.Uint32("connId", c.connId),
					zap.Stringer("channel", ch),
					zap.Error(err))
				continue
			}
			p.diagnostics.onBatchOut(p.writer.Position())
		}
	}
	p.writer.Reset()
}

func (p *peer) checkTimeouts() {
	if p.params.Timeout <= 0 {
		return
	}
	for _, connId := range p.ConnectionIds() {
		c := p.connections[connId]
		if p.localTime-c.lastMessageTime > p.params.Timeout {
			p.log.Info("Disconnecting timed out connection", zap.Uint32("connId", connId))
			c.lastMessageTime = p.localTime
			if err := p.Disconnect(connId); err != nil {
				p.log.Warn("Failed to disconnect timed out connection", zap.Uint32("connId", connId), zap.Error(err))
			}
		}
	}
}

// Disconnect asks the transport to drop connId. Disconnect hooks run once the
// transport reports the disconnect.
func (p *peer) Disconnect(connId uint32) error {
	return p.params.Transport.Disconnect(connId)
}

func (p *peer) handleConnected(connId uint32) {
	if _, has := p.connections[connId]; has {
		p.log.Warn("Duplicate connect event", zap.Uint32("connId", connId))
		return
	}

	p.connections[connId] = createConnection(connId, p.params.Transport, p.pool, p.localTime)
	p.log.Debug("Connection added", zap.Uint32("connId", connId))

	for _, fn := range p.onConnected {
		fn(connId)
	}
}

func (p *peer) handleDisconnected(connId uint32) {
	c, has := p.connections[connId]
	if !has {
		return
	}

	for _, b := range c.batchers {
		b.Clear()
	}
	delete(p.connections, connId)
	p.log.Debug("Connection removed", zap.Uint32("connId", connId))

	for _, fn := range p.onDisconnected {
		fn(connId)
	}
}

func (p *peer) handleData(connId uint32, data []byte, channel transport.Channel) {
	c, has := p.connections[connId]
	if !has {
		p.log.Warn("Data for unknown connection", zap.Uint32("connId", connId))
		return
	}

	p.diagnostics.onBatchIn(len(data))

	if !c.unbatcher.AddBatch(data) {
		p.diagnostics.onInvalid()
		p.log.Warn("Received invalid batch, disconnecting",
			zap.Uint32("connId", connId),
			zap.Int("size", len(data)))
		if err := p.Disconnect(connId); err != nil {
			p.log.Warn("Failed to disconnect", zap.Uint32("connId", connId), zap.Error(err))
		}
		return
	}

	c.lastMessageTime = p.localTime

	for {
		reader, remoteTimeStamp, ok := c.unbatcher.GetNextMessage()
		if !ok {
			break
		}
		c.remoteTimeStamp = remoteTimeStamp

		id, payload, err := message.Unpack(reader)
		if err != nil {
			p.diagnostics.onInvalid()
			p.log.Warn("Truncated message envelope, dropping rest of batch",
				zap.Uint32("connId", connId),
				zap.Error(err))
			reader.SkipRemaining()
			continue
		}

		p.diagnostics.onMessageIn(id, message.PackedSize(len(payload)))

		if err := p.registry.Invoke(connId, id, payload); err != nil {
			var unknown *errors.UnknownMessageId
			if goerrors.As(err, &unknown) {
				p.diagnostics.onUnknown()
			}
			p.log.Warn("Failed to handle message",
				zap.Uint32("connId", connId),
				zap.String("message", p.registry.Name(id)),
				zap.Error(err))
		}
	}
}

func (p *peer) handlePing(connId uint32, ping message.PingMessage) {
	if err := p.SendTo(connId, message.PongMessage{LocalTime: ping.LocalTime, RemoteTime: p.localTime}, transport.Channel_Unreliable); err != nil {
		p.log.Debug("Failed to send pong", zap.Uint32("connId", connId), zap.Error(err))
	}
}

func (p *peer) handlePong(connId uint32, pong message.PongMessage) {
	c, has := p.connections[connId]
	if !has {
		return
	}
	c.rtt.Add(p.localTime - pong.LocalTime)
}

// stop drops every connection through the transport and stops it.
func (p *peer) stop() {
	p.flush()
	p.params.Transport.Stop()
	p.params.Transport.Poll(p.handlers)

	for _, connId := range p.ConnectionIds() {
		p.handleDisconnected(connId)
	}
}
