// Package netbuf implements the little-endian byte writer and reader shared by
// the batching, compression and message layers.
package netbuf

import (
	"encoding/binary"
	"math"

	"github.com/sessamekesh/netsync/pkg/geom"
)

const DefaultCapacity = 1500

// Writer appends values to a growable byte buffer. A Writer is not safe for
// concurrent use; use a WriterPool to hand writers across goroutines.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Position() int {
	return len(w.buf)
}

// Reset rewinds the writer to position zero, keeping the allocated capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Bytes returns the written bytes. The slice aliases the writer's buffer and
// is only valid until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// CopyBytes returns a copy of the written bytes that is safe to retain.
func (w *Writer) CopyBytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteVarInt writes a zig-zag encoded variable length signed integer.
func (w *Writer) WriteVarInt(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

func (w *Writer) WriteVarUint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteBytesAndSize writes a varint length prefix followed by the bytes.
func (w *Writer) WriteBytesAndSize(b []byte) {
	w.WriteVarUint(uint64(len(b)))
	w.WriteBytes(b)
}

func (w *Writer) WriteString(s string) {
	w.WriteVarUint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) WriteVector3(v geom.Vector3) {
	w.WriteFloat64(v.X)
	w.WriteFloat64(v.Y)
	w.WriteFloat64(v.Z)
}

func (w *Writer) WriteQuaternion(q geom.Quaternion) {
	w.WriteFloat64(q.X)
	w.WriteFloat64(q.Y)
	w.WriteFloat64(q.Z)
	w.WriteFloat64(q.W)
}
