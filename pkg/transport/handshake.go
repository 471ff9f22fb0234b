package transport

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/sessamekesh/netsync/pkg/errors"
)

// The first frame in each direction of a WebSocket connection is a
// flatbuffers table:
//
//	table Hello   { magic:uint32; version:uint8; name:string; }
//	table Welcome { accepted:bool; connection_id:uint32; send_rate:uint16; reason:string; }

const (
	HandshakeMagicNumber uint32 = 0x4E53594E
	HandshakeVersion     uint8  = 1
)

func fieldSlot(i int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*i)
}

type Hello struct {
	MagicNumber uint32
	Version     uint8
	Name        string
}

type Welcome struct {
	Accepted     bool
	ConnectionId uint32
	SendRate     uint16
	Reason       string
}

func BuildHello(h Hello) []byte {
	b := flatbuffers.NewBuilder(64)
	pName := b.CreateString(h.Name)

	b.StartObject(3)
	b.PrependUint32Slot(0, h.MagicNumber, 0)
	b.PrependUint8Slot(1, h.Version, 0)
	b.PrependUOffsetTSlot(2, pName, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

func BuildWelcome(w Welcome) []byte {
	b := flatbuffers.NewBuilder(64)
	var pReason flatbuffers.UOffsetT
	if w.Reason != "" {
		pReason = b.CreateString(w.Reason)
	}

	b.StartObject(4)
	b.PrependBoolSlot(0, w.Accepted, false)
	b.PrependUint32Slot(1, w.ConnectionId, 0)
	b.PrependUint16Slot(2, w.SendRate, 0)
	if w.Reason != "" {
		b.PrependUOffsetTSlot(3, pReason, 0)
	}
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// rootTable validates enough of the buffer that field reads cannot index out
// of range; anything else malformed is caught by the recover in the callers.
func rootTable(payload []byte, name string) (flatbuffers.Table, error) {
	if len(payload) < flatbuffers.SizeUOffsetT {
		return flatbuffers.Table{}, &errors.Underflow{
			MessageName: name,
			MsgSize:     len(payload),
			MinimumSize: flatbuffers.SizeUOffsetT,
		}
	}

	pos := flatbuffers.GetUOffsetT(payload)
	if int(pos) >= len(payload) {
		return flatbuffers.Table{}, &errors.MalformedField{
			MessageName: name,
			Reason:      "root offset out of range",
		}
	}

	return flatbuffers.Table{Bytes: payload, Pos: pos}, nil
}

func ParseHello(payload []byte) (hello Hello, err error) {
	defer func() {
		if r := recover(); r != nil {
			hello = Hello{}
			err = &errors.MalformedField{MessageName: "Hello", Reason: fmt.Sprintf("%v", r)}
		}
	}()

	t, err := rootTable(payload, "Hello")
	if err != nil {
		return Hello{}, err
	}

	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(0))); o != 0 {
		hello.MagicNumber = t.GetUint32(o + t.Pos)
	}
	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(1))); o != 0 {
		hello.Version = t.GetUint8(o + t.Pos)
	}
	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(2))); o != 0 {
		hello.Name = string(t.ByteVector(o + t.Pos))
	}

	if hello.MagicNumber != HandshakeMagicNumber || hello.Version != HandshakeVersion {
		return hello, &errors.InvalidHeaderVersion{
			ExpectedMagicNumber: HandshakeMagicNumber,
			ActualMagicNumber:   hello.MagicNumber,
			ExpectedVersion:     HandshakeVersion,
			ActualVersion:       hello.Version,
		}
	}

	return hello, nil
}

func ParseWelcome(payload []byte) (welcome Welcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			welcome = Welcome{}
			err = &errors.MalformedField{MessageName: "Welcome", Reason: fmt.Sprintf("%v", r)}
		}
	}()

	t, err := rootTable(payload, "Welcome")
	if err != nil {
		return Welcome{}, err
	}

	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(0))); o != 0 {
		welcome.Accepted = t.GetBool(o + t.Pos)
	}
	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(1))); o != 0 {
		welcome.ConnectionId = t.GetUint32(o + t.Pos)
	}
	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(2))); o != 0 {
		welcome.SendRate = t.GetUint16(o + t.Pos)
	}
	if o := flatbuffers.UOffsetT(t.Offset(fieldSlot(3))); o != 0 {
		welcome.Reason = string(t.ByteVector(o + t.Pos))
	}

	return welcome, nil
}
