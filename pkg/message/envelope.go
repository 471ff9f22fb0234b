// Package message frames individual messages so they can be concatenated into
// a batch, and dispatches received messages to registered handlers.
//
// An envelope is [uint16 LE id][uvarint payload length][payload].
package message

import (
	"fmt"

	"github.com/sessamekesh/netsync/pkg/netbuf"
)

type MessageId uint16

const (
	MessageId_Ping MessageId = iota + 1
	MessageId_Pong
	MessageId_ResyncRequest
	MessageId_TransformSync

	// Application messages should use ids at or above this value.
	MessageId_FirstUser MessageId = 64
)

// Pack appends one envelope to w.
func Pack(w *netbuf.Writer, id MessageId, payload []byte) {
	w.WriteUint16(uint16(id))
	w.WriteBytesAndSize(payload)
}

// PackedSize is the number of bytes Pack writes for a payload of the given
// length.
func PackedSize(payloadLen int) int {
	size := 2 + 1
	for v := uint64(payloadLen); v >= 0x80; v >>= 7 {
		size++
	}
	return size + payloadLen
}

// Unpack reads one envelope. The payload aliases the reader's buffer. On error
// the reader is left where the envelope started.
func Unpack(r *netbuf.Reader) (MessageId, []byte, error) {
	start := r.Position()

	id, err := r.ReadUint16()
	if err != nil {
		return 0, nil, err
	}

	payload, err := r.ReadBytesAndSize()
	if err != nil {
		r.Seek(start)
		return 0, nil, fmt.Errorf("envelope id=%d: %w", id, err)
	}

	return MessageId(id), payload, nil
}
