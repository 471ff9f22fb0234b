package connstore

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type DuplicateConnectionIdError struct {
	Id uint32
}

func (e *DuplicateConnectionIdError) Error() string {
	return fmt.Sprintf("Attempted to create connection with duplicate ID %d", e.Id)
}

type MissingConnectionIdError struct {
	Id uint32
}

func (e *MissingConnectionIdError) Error() string {
	return fmt.Sprintf("Missing connection with id=%d", e.Id)
}

type TooManyConnectionsError struct {
	MaxConnections int
}

func (e *TooManyConnectionsError) Error() string {
	return fmt.Sprintf("Too many connections (max %d) - cannot create new connection", e.MaxConnections)
}

type ConnectionMetadata struct {
	Mut sync.RWMutex
	// Set once the handshake completed
	IsConnected   bool
	TransportName string
	RemoteName    string
	RemoteAddress string
	CreatedTime   int64
	LastRecvTime  int64
	LastSendTime  int64
}

// ConnectionStore tracks every open connection of one transport, with
// timestamps (unix microseconds) used for idle and handshake timeouts.
type ConnectionStore struct {
	MaxConnections int

	nextConnectionId atomic.Uint32

	mut_connections sync.RWMutex
	connections     map[uint32]*ConnectionMetadata
}

func CreateConnectionStore(maxConnections int) *ConnectionStore {
	if maxConnections <= 0 {
		maxConnections = 1024
	}

	return &ConnectionStore{
		MaxConnections:   maxConnections,
		nextConnectionId: atomic.Uint32{},
		mut_connections:  sync.RWMutex{},
		connections:      make(map[uint32]*ConnectionMetadata),
	}
}

// GetNewConnectionId never returns 0; ids start at 1.
func (store *ConnectionStore) GetNewConnectionId() uint32 {
	return store.nextConnectionId.Add(1)
}

func (store *ConnectionStore) Count() int {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()
	return len(store.connections)
}

func (store *ConnectionStore) HasConnection(connId uint32) bool {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	_, has := store.connections[connId]
	return has
}

func (store *ConnectionStore) CreateConnection(connId uint32, transportName, remoteAddress string, timestamp int64) error {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()

	if _, has := store.connections[connId]; has {
		return &DuplicateConnectionIdError{Id: connId}
	}

	if len(store.connections) >= store.MaxConnections {
		return &TooManyConnectionsError{MaxConnections: store.MaxConnections}
	}

	store.connections[connId] = &ConnectionMetadata{
		Mut:           sync.RWMutex{},
		IsConnected:   false,
		TransportName: transportName,
		RemoteAddress: remoteAddress,
		CreatedTime:   timestamp,
		LastRecvTime:  timestamp,
		LastSendTime:  timestamp,
	}

	return nil
}

func (store *ConnectionStore) RemoveConnection(connId uint32) {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()
	delete(store.connections, connId)
}

func (store *ConnectionStore) withConnection(connId uint32, fn func(*ConnectionMetadata)) error {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connection, has := store.connections[connId]
	if !has {
		return &MissingConnectionIdError{Id: connId}
	}

	connection.Mut.Lock()
	defer connection.Mut.Unlock()

	fn(connection)
	return nil
}

// Connect marks the handshake of connId complete.
func (store *ConnectionStore) Connect(connId uint32, remoteName string) error {
	return store.withConnection(connId, func(c *ConnectionMetadata) {
		c.IsConnected = true
		c.RemoteName = remoteName
	})
}

func (store *ConnectionStore) IsConnected(connId uint32) bool {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connection, has := store.connections[connId]
	if !has {
		return false
	}

	connection.Mut.RLock()
	defer connection.Mut.RUnlock()

	return connection.IsConnected
}

func (store *ConnectionStore) GetRemoteName(connId uint32) (string, error) {
	name := ""
	err := store.withConnection(connId, func(c *ConnectionMetadata) {
		name = c.RemoteName
	})
	return name, err
}

func (store *ConnectionStore) SetRecvTimestamp(connId uint32, timestamp int64) error {
	return store.withConnection(connId, func(c *ConnectionMetadata) {
		c.LastRecvTime = timestamp
	})
}

func (store *ConnectionStore) SetSendTimestamp(connId uint32, timestamp int64) error {
	return store.withConnection(connId, func(c *ConnectionMetadata) {
		c.LastSendTime = timestamp
	})
}

// GetTimeoutConnectionList returns connections that have not received
// anything since recvDeadline.
func (store *ConnectionStore) GetTimeoutConnectionList(recvDeadline int64) []uint32 {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connectionsToKick := []uint32{}

	for connId, connection := range store.connections {
		connection.Mut.RLock()
		shouldKick := connection.IsConnected && connection.LastRecvTime < recvDeadline
		connection.Mut.RUnlock()

		if shouldKick {
			connectionsToKick = append(connectionsToKick, connId)
		}
	}

	return connectionsToKick
}

// GetHandshakeTimeoutList returns connections created before connectDeadline
// that never completed their handshake.
func (store *ConnectionStore) GetHandshakeTimeoutList(connectDeadline int64) []uint32 {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connectionsToKick := []uint32{}

	for connId, connection := range store.connections {
		connection.Mut.RLock()
		shouldKick := !connection.IsConnected && connection.CreatedTime < connectDeadline
		connection.Mut.RUnlock()

		if shouldKick {
			connectionsToKick = append(connectionsToKick, connId)
		}
	}

	return connectionsToKick
}
