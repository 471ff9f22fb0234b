package message

import (
	"testing"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/netbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopesConcatenate(t *testing.T) {
	w := netbuf.NewWriter(0)
	Pack(w, MessageId_FirstUser, []byte{1, 2, 3})
	Pack(w, MessageId_FirstUser+1, []byte{})
	Pack(w, MessageId_Ping, make([]byte, 300))

	r := netbuf.NewReader(w.Bytes())

	id, payload, err := Unpack(r)
	require.NoError(t, err)
	assert.Equal(t, MessageId_FirstUser, id)
	assert.Equal(t, []byte{1, 2, 3}, payload)

	id, payload, err = Unpack(r)
	require.NoError(t, err)
	assert.Equal(t, MessageId_FirstUser+1, id)
	assert.Empty(t, payload)

	id, payload, err = Unpack(r)
	require.NoError(t, err)
	assert.Equal(t, MessageId_Ping, id)
	assert.Len(t, payload, 300)

	assert.Equal(t, 0, r.Remaining())
}

func TestPackedSize(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 300, 16384} {
		w := netbuf.NewWriter(0)
		Pack(w, MessageId_FirstUser, make([]byte, n))
		assert.Equal(t, w.Position(), PackedSize(n), "payload %d", n)
	}
}

func TestUnpackTruncatedRewinds(t *testing.T) {
	w := netbuf.NewWriter(0)
	Pack(w, MessageId_FirstUser, []byte{1, 2, 3, 4})
	truncated := w.Bytes()[:w.Position()-1]

	r := netbuf.NewReader(truncated)
	_, _, err := Unpack(r)

	var underflow *errors.Underflow
	assert.ErrorAs(t, err, &underflow)
	assert.Equal(t, 0, r.Position())
}

func TestRegistryDispatch(t *testing.T) {
	registry := CreateRegistry()

	var gotConn uint32
	var gotPing PingMessage
	require.NoError(t, Handle(registry, MessageId_Ping, "Ping", ParsePingMessage, func(connId uint32, msg PingMessage) {
		gotConn = connId
		gotPing = msg
	}))

	r := netbuf.NewReader(Marshal(PingMessage{LocalTime: 12.5}))
	id, err := registry.Dispatch(7, r)
	require.NoError(t, err)

	assert.Equal(t, MessageId_Ping, id)
	assert.Equal(t, uint32(7), gotConn)
	assert.Equal(t, 12.5, gotPing.LocalTime)
	assert.Equal(t, "Ping", registry.Name(MessageId_Ping))
}

func TestRegistryCollisions(t *testing.T) {
	registry := CreateRegistry()
	noop := func(uint32, []byte) error { return nil }

	require.NoError(t, registry.Register(MessageId_FirstUser, "Chat", noop))

	var collision *errors.NameCollision
	assert.ErrorAs(t, registry.Register(MessageId_FirstUser, "Other", noop), &collision)
	assert.ErrorAs(t, registry.Register(MessageId_FirstUser+1, "Chat", noop), &collision)

	registry.Replace(MessageId_FirstUser, "Chat2", noop)
	_, has := registry.IdOf("Chat")
	assert.False(t, has)
	id, has := registry.IdOf("Chat2")
	assert.True(t, has)
	assert.Equal(t, MessageId_FirstUser, id)

	registry.Unregister(MessageId_FirstUser)
	assert.Equal(t, "Unknown(64)", registry.Name(MessageId_FirstUser))
}

func TestDispatchUnknownConsumesEnvelope(t *testing.T) {
	registry := CreateRegistry()

	w := netbuf.NewWriter(0)
	Pack(w, 999, []byte{1, 2})
	w.WriteBytes(Marshal(ResyncRequestMessage{NetId: 3}))

	var resync ResyncRequestMessage
	require.NoError(t, Handle(registry, MessageId_ResyncRequest, "ResyncRequest", ParseResyncRequestMessage, func(connId uint32, msg ResyncRequestMessage) {
		resync = msg
	}))

	r := netbuf.NewReader(w.Bytes())

	_, err := registry.Dispatch(1, r)
	var unknown *errors.UnknownMessageId
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, uint16(999), unknown.Id)

	_, err = registry.Dispatch(1, r)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), resync.NetId)
}

func TestDispatchParseError(t *testing.T) {
	registry := CreateRegistry()
	require.NoError(t, Handle(registry, MessageId_Pong, "Pong", ParsePongMessage, func(uint32, PongMessage) {
		t.Fatal("handler must not run for a malformed payload")
	}))

	w := netbuf.NewWriter(0)
	Pack(w, MessageId_Pong, []byte{1, 2, 3})

	_, err := registry.Dispatch(1, netbuf.NewReader(w.Bytes()))
	var underflow *errors.Underflow
	assert.ErrorAs(t, err, &underflow)
}

func TestBuiltinMessages(t *testing.T) {
	roundTrip := func(msg Serializable) *netbuf.Reader {
		id, payload, err := Unpack(netbuf.NewReader(Marshal(msg)))
		require.NoError(t, err)
		require.Equal(t, msg.MessageId(), id)
		return netbuf.NewReader(payload)
	}

	pong, err := ParsePongMessage(roundTrip(PongMessage{LocalTime: 1.5, RemoteTime: 99}))
	require.NoError(t, err)
	assert.Equal(t, PongMessage{LocalTime: 1.5, RemoteTime: 99}, pong)

	sync, err := ParseTransformSyncMessage(roundTrip(TransformSyncMessage{NetId: 42, Full: true, Payload: []byte{9, 8, 7}}))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), sync.NetId)
	assert.True(t, sync.Full)
	assert.Equal(t, []byte{9, 8, 7}, sync.Payload)
}
