package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type InvalidHeaderVersion struct {
	ExpectedMagicNumber uint32
	ActualMagicNumber   uint32
	ExpectedVersion     uint8
	ActualVersion       uint8
}

func (e *InvalidHeaderVersion) Error() string {
	return fmt.Sprintf("Invalid header: expected MagicNumber=%d, got MagicNumber=%d. Expected version %d, got %d", e.ExpectedMagicNumber, e.ActualMagicNumber, e.ExpectedVersion, e.ActualVersion)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

// MessageTooLarge is returned before a message enters a batcher when it
// exceeds the transport's hard maximum for the channel.
type MessageTooLarge struct {
	MessageName string
	Size        int
	MaxSize     int
}

func (e *MessageTooLarge) Error() string {
	return fmt.Sprintf("Message too large (type=%s): %d bytes exceeds maximum of %d", e.MessageName, e.Size, e.MaxSize)
}

type InvalidPrecision struct {
	Precision float64
}

func (e *InvalidPrecision) Error() string {
	return fmt.Sprintf("Invalid quantization precision %v, must be > 0", e.Precision)
}

type QuantizationOverflow struct {
	Value     float64
	Precision float64
}

func (e *QuantizationOverflow) Error() string {
	return fmt.Sprintf("Value %v cannot be quantized with precision %v without overflowing int64", e.Value, e.Precision)
}

// DirtyWriter is a usage error: batches must be written into a freshly reset writer.
type DirtyWriter struct {
	Position int
}

func (e *DirtyWriter) Error() string {
	return fmt.Sprintf("Batch writer must be reset before use, position=%d", e.Position)
}

type UnknownMessageId struct {
	Id uint16
}

func (e *UnknownMessageId) Error() string {
	return fmt.Sprintf("No handler registered for message id=%d", e.Id)
}

type MalformedField struct {
	MessageName string
	Reason      string
}

func (e *MalformedField) Error() string {
	return fmt.Sprintf("Malformed field in %s: %s", e.MessageName, e.Reason)
}

// MissingBaseline means a delta arrived before any full update for the
// object, so there is nothing to apply it to.
type MissingBaseline struct {
	NetId uint32
}

func (e *MissingBaseline) Error() string {
	return fmt.Sprintf("Delta for netId=%d arrived without a baseline", e.NetId)
}

type UnknownNetId struct {
	NetId uint32
}

func (e *UnknownNetId) Error() string {
	return fmt.Sprintf("No synced object with netId=%d", e.NetId)
}

type UnauthorizedSync struct {
	NetId  uint32
	ConnId uint32
	Reason string
}

func (e *UnauthorizedSync) Error() string {
	return fmt.Sprintf("Connection %d may not sync netId=%d: %s", e.ConnId, e.NetId, e.Reason)
}
