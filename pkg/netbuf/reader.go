package netbuf

import (
	"encoding/binary"
	"math"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/geom"
)

// Reader consumes values from a byte slice. Reads never panic: running past
// the end of the buffer returns an *errors.Underflow and leaves the position
// unchanged.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// SetBuffer points the reader at a new slice and rewinds it.
func (r *Reader) SetBuffer(b []byte) {
	r.buf = b
	r.pos = 0
}

func (r *Reader) Position() int {
	return r.pos
}

func (r *Reader) Length() int {
	return len(r.buf)
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Seek moves to an absolute position, clamped to the buffer.
func (r *Reader) Seek(pos int) {
	r.pos = max(0, min(pos, len(r.buf)))
}

// SkipRemaining moves to the end of the buffer.
func (r *Reader) SkipRemaining() {
	r.pos = len(r.buf)
}

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, &errors.Underflow{
			MessageName: field,
			MsgSize:     r.Remaining(),
			MinimumSize: n,
		}
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadVarInt() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n == 0 {
		return 0, &errors.Underflow{
			MessageName: "varint",
			MsgSize:     r.Remaining(),
			MinimumSize: r.Remaining() + 1,
		}
	}
	if n < 0 {
		return 0, &errors.MalformedField{
			MessageName: "varint",
			Reason:      "value overflows 64 bits",
		}
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadVarUint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n == 0 {
		return 0, &errors.Underflow{
			MessageName: "uvarint",
			MsgSize:     r.Remaining(),
			MinimumSize: r.Remaining() + 1,
		}
	}
	if n < 0 {
		return 0, &errors.MalformedField{
			MessageName: "uvarint",
			Reason:      "value overflows 64 bits",
		}
	}
	r.pos += n
	return v, nil
}

// ReadBytes returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n, "bytes")
}

func (r *Reader) ReadBytesAndSize() ([]byte, error) {
	start := r.pos
	size, err := r.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if size > uint64(r.Remaining()) {
		remaining := r.Remaining()
		r.pos = start
		return nil, &errors.Underflow{
			MessageName: "bytesAndSize",
			MsgSize:     remaining,
			MinimumSize: int(min(size, math.MaxInt32)),
		}
	}
	return r.take(int(size), "bytesAndSize")
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytesAndSize()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadVector3() (geom.Vector3, error) {
	b, err := r.take(24, "vector3")
	if err != nil {
		return geom.Vector3{}, err
	}
	return geom.Vector3{
		X: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
	}, nil
}

func (r *Reader) ReadQuaternion() (geom.Quaternion, error) {
	b, err := r.take(32, "quaternion")
	if err != nil {
		return geom.Quaternion{}, err
	}
	return geom.Quaternion{
		X: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(b[8:16])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		W: math.Float64frombits(binary.LittleEndian.Uint64(b[24:32])),
	}, nil
}
