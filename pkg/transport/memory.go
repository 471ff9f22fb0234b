package transport

import (
	"math/rand"
	"sync"

	"github.com/sessamekesh/netsync/internal/connstore"
	"github.com/sessamekesh/netsync/pkg/errors"
)

type MemoryParams struct {
	MaxMessageSize           int
	UnreliableMaxMessageSize int

	// Fraction of unreliable batches silently dropped, in [0, 1]
	UnreliableDropRate float64
	Seed               int64
}

// MemoryServer is an in-process transport. Clients are created with Dial;
// delivery happens on the next Poll of the receiving side.
type MemoryServer struct {
	params MemoryParams
	events *EventQueue
	store  *connstore.ConnectionStore

	mut_clients sync.RWMutex
	clients     map[uint32]*MemoryClient
	stopped     bool

	mut_rand sync.Mutex
	rand     *rand.Rand
}

type MemoryClient struct {
	connId uint32
	server *MemoryServer
	events *EventQueue

	mut_closed sync.Mutex
	closed     bool
}

func CreateMemoryServer(params MemoryParams) *MemoryServer {
	if params.MaxMessageSize <= 0 {
		params.MaxMessageSize = defaultMaxReadMessageSize - 1
	}
	if params.UnreliableMaxMessageSize <= 0 {
		params.UnreliableMaxMessageSize = unreliableMaxMessageSize
	}

	return &MemoryServer{
		params:      params,
		events:      CreateEventQueue(),
		store:       connstore.CreateConnectionStore(0),
		mut_clients: sync.RWMutex{},
		clients:     make(map[uint32]*MemoryClient),
		rand:        rand.New(rand.NewSource(params.Seed)),
	}
}

func (s *MemoryServer) dropUnreliable(channel Channel) bool {
	if channel != Channel_Unreliable || s.params.UnreliableDropRate <= 0 {
		return false
	}
	s.mut_rand.Lock()
	defer s.mut_rand.Unlock()
	return s.rand.Float64() < s.params.UnreliableDropRate
}

// Dial opens a new connection. Both sides get a Connected event.
func (s *MemoryServer) Dial(name string) (*MemoryClient, error) {
	s.mut_clients.Lock()
	defer s.mut_clients.Unlock()

	if s.stopped {
		return nil, &TransportStopped{}
	}

	connId := s.store.GetNewConnectionId()
	if err := s.store.CreateConnection(connId, "Memory", "memory", nowTimestamp()); err != nil {
		return nil, err
	}
	s.store.Connect(connId, name)

	client := &MemoryClient{
		connId: connId,
		server: s,
		events: CreateEventQueue(),
	}
	s.clients[connId] = client

	s.events.Push(Event{Kind: EventKind_Connected, ConnId: connId})
	client.events.Push(Event{Kind: EventKind_Connected, ConnId: connId})

	return client, nil
}

func (s *MemoryServer) checkSize(data []byte, channel Channel) error {
	if len(data) > s.MaxMessageSize(channel) {
		return &errors.MessageTooLarge{
			MessageName: "Batch::" + channel.String(),
			Size:        len(data),
			MaxSize:     s.MaxMessageSize(channel),
		}
	}
	return nil
}

func (s *MemoryServer) Send(connId uint32, data []byte, channel Channel) error {
	s.mut_clients.RLock()
	client, has := s.clients[connId]
	s.mut_clients.RUnlock()

	if !has {
		return &UnknownConnection{ConnId: connId}
	}
	if err := s.checkSize(data, channel); err != nil {
		return err
	}

	s.store.SetSendTimestamp(connId, nowTimestamp())
	if s.dropUnreliable(channel) {
		return nil
	}

	client.events.Push(Event{
		Kind:    EventKind_Data,
		ConnId:  connId,
		Data:    append([]byte(nil), data...),
		Channel: channel,
	})
	return nil
}

func (s *MemoryServer) Disconnect(connId uint32) error {
	s.mut_clients.Lock()
	client, has := s.clients[connId]
	delete(s.clients, connId)
	s.mut_clients.Unlock()

	if !has {
		return &UnknownConnection{ConnId: connId}
	}

	s.store.RemoveConnection(connId)
	client.markClosed()
	s.events.Push(Event{Kind: EventKind_Disconnected, ConnId: connId})
	client.events.Push(Event{Kind: EventKind_Disconnected, ConnId: connId})
	return nil
}

func (s *MemoryServer) Poll(handlers Handlers) int {
	return s.events.Drain(func(e Event) {
		Dispatch(e, handlers)
	})
}

func (s *MemoryServer) MaxMessageSize(channel Channel) int {
	if channel == Channel_Unreliable {
		return s.params.UnreliableMaxMessageSize
	}
	return s.params.MaxMessageSize
}

func (s *MemoryServer) ConnectionCount() int {
	return s.store.Count()
}

func (s *MemoryServer) Stop() {
	s.mut_clients.Lock()
	s.stopped = true
	connIds := make([]uint32, 0, len(s.clients))
	for connId := range s.clients {
		connIds = append(connIds, connId)
	}
	s.mut_clients.Unlock()

	for _, connId := range connIds {
		s.Disconnect(connId)
	}
}

func (c *MemoryClient) markClosed() bool {
	c.mut_closed.Lock()
	defer c.mut_closed.Unlock()
	wasClosed := c.closed
	c.closed = true
	return wasClosed
}

func (c *MemoryClient) isClosed() bool {
	c.mut_closed.Lock()
	defer c.mut_closed.Unlock()
	return c.closed
}

func (c *MemoryClient) ConnectionId() uint32 {
	return c.connId
}

func (c *MemoryClient) Send(connId uint32, data []byte, channel Channel) error {
	if connId != c.connId || c.isClosed() {
		return &UnknownConnection{ConnId: connId}
	}
	if err := c.server.checkSize(data, channel); err != nil {
		return err
	}

	c.server.store.SetRecvTimestamp(c.connId, nowTimestamp())
	if c.server.dropUnreliable(channel) {
		return nil
	}

	c.server.events.Push(Event{
		Kind:    EventKind_Data,
		ConnId:  c.connId,
		Data:    append([]byte(nil), data...),
		Channel: channel,
	})
	return nil
}

func (c *MemoryClient) Disconnect(connId uint32) error {
	if connId != c.connId {
		return &UnknownConnection{ConnId: connId}
	}
	return c.server.Disconnect(connId)
}

func (c *MemoryClient) Poll(handlers Handlers) int {
	return c.events.Drain(func(e Event) {
		Dispatch(e, handlers)
	})
}

func (c *MemoryClient) MaxMessageSize(channel Channel) int {
	return c.server.MaxMessageSize(channel)
}

func (c *MemoryClient) Stop() {
	if c.isClosed() {
		return
	}
	c.server.Disconnect(c.connId)
}
