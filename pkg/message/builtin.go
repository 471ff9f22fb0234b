package message

import (
	"github.com/sessamekesh/netsync/pkg/netbuf"
)

type Serializable interface {
	MessageId() MessageId
	Serialize(w *netbuf.Writer)
}

// Marshal returns msg wrapped in an envelope, ready for a batcher.
func Marshal(msg Serializable) []byte {
	payload := netbuf.NewWriter(64)
	msg.Serialize(payload)

	w := netbuf.NewWriter(PackedSize(payload.Position()))
	Pack(w, msg.MessageId(), payload.Bytes())
	return w.Bytes()
}

// PingMessage carries the sender's local time; the peer echoes it back in a
// PongMessage so the sender can measure round trip time.
type PingMessage struct {
	LocalTime float64
}

func (m PingMessage) MessageId() MessageId { return MessageId_Ping }

func (m PingMessage) Serialize(w *netbuf.Writer) {
	w.WriteFloat64(m.LocalTime)
}

func ParsePingMessage(r *netbuf.Reader) (PingMessage, error) {
	t, err := r.ReadFloat64()
	if err != nil {
		return PingMessage{}, err
	}
	return PingMessage{LocalTime: t}, nil
}

type PongMessage struct {
	// Echo of PingMessage.LocalTime
	LocalTime float64
	// Responder's clock when the ping was handled
	RemoteTime float64
}

func (m PongMessage) MessageId() MessageId { return MessageId_Pong }

func (m PongMessage) Serialize(w *netbuf.Writer) {
	w.WriteFloat64(m.LocalTime)
	w.WriteFloat64(m.RemoteTime)
}

func ParsePongMessage(r *netbuf.Reader) (PongMessage, error) {
	local, err := r.ReadFloat64()
	if err != nil {
		return PongMessage{}, err
	}
	remote, err := r.ReadFloat64()
	if err != nil {
		return PongMessage{}, err
	}
	return PongMessage{LocalTime: local, RemoteTime: remote}, nil
}

// ResyncRequestMessage asks the owner of an object for a full state update,
// e.g. after a delta arrived with no baseline to apply it to.
type ResyncRequestMessage struct {
	NetId uint32
}

func (m ResyncRequestMessage) MessageId() MessageId { return MessageId_ResyncRequest }

func (m ResyncRequestMessage) Serialize(w *netbuf.Writer) {
	w.WriteUint32(m.NetId)
}

func ParseResyncRequestMessage(r *netbuf.Reader) (ResyncRequestMessage, error) {
	netId, err := r.ReadUint32()
	if err != nil {
		return ResyncRequestMessage{}, err
	}
	return ResyncRequestMessage{NetId: netId}, nil
}

// TransformSyncMessage carries one transform update. Full updates replace the
// receiver's baseline; deltas are relative to it.
type TransformSyncMessage struct {
	NetId   uint32
	Full    bool
	Payload []byte
}

func (m TransformSyncMessage) MessageId() MessageId { return MessageId_TransformSync }

func (m TransformSyncMessage) Serialize(w *netbuf.Writer) {
	w.WriteUint32(m.NetId)
	w.WriteBool(m.Full)
	w.WriteBytesAndSize(m.Payload)
}

func ParseTransformSyncMessage(r *netbuf.Reader) (TransformSyncMessage, error) {
	netId, err := r.ReadUint32()
	if err != nil {
		return TransformSyncMessage{}, err
	}
	full, err := r.ReadBool()
	if err != nil {
		return TransformSyncMessage{}, err
	}
	payload, err := r.ReadBytesAndSize()
	if err != nil {
		return TransformSyncMessage{}, err
	}
	return TransformSyncMessage{NetId: netId, Full: full, Payload: payload}, nil
}
