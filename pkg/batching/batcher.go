// Package batching packs many small outbound messages into timestamped
// batches and splits received batches back into a message stream.
//
// A batch on the wire is the remote send time as a little-endian float64
// followed by whole messages back to back. Messages carry no framing of their
// own at this layer.
package batching

import (
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/netbuf"
)

// HeaderSize is the size of the timestamp that prefixes every batch.
const HeaderSize = 8

// Batcher is not safe for concurrent use. It is owned by the main loop.
type Batcher struct {
	threshold int
	pool      *netbuf.WriterPool

	// FIFO; head is the index of the next message to batch
	messages []*netbuf.Writer
	head     int
}

// CreateBatcher builds a batcher that produces batches of at most threshold
// bytes, except when a single message alone is larger than that.
func CreateBatcher(threshold int, pool *netbuf.WriterPool) *Batcher {
	if pool == nil {
		pool = netbuf.CreateWriterPool(0, 0)
	}
	return &Batcher{
		threshold: threshold,
		pool:      pool,
		messages:  []*netbuf.Writer{},
	}
}

func (b *Batcher) Threshold() int {
	return b.threshold
}

// Count returns the number of messages waiting for a batch.
func (b *Batcher) Count() int {
	return len(b.messages) - b.head
}

// AddMessage copies message into the queue. Every size is accepted, including
// zero length messages; guarding against oversized messages is the caller's
// job.
func (b *Batcher) AddMessage(message []byte) {
	w := b.pool.Take()
	w.WriteBytes(message)
	b.messages = append(b.messages, w)
}

// MakeNextBatch writes the next batch into w and reports whether there was
// anything to write. w must be freshly reset.
func (b *Batcher) MakeNextBatch(w *netbuf.Writer, timestamp float64) (bool, error) {
	if b.Count() == 0 {
		return false, nil
	}

	if w.Position() != 0 {
		return false, &errors.DirtyWriter{Position: w.Position()}
	}

	w.WriteFloat64(timestamp)

	// The first message is always written so an oversized message still goes
	// out, alone, instead of blocking the queue forever.
	for {
		message := b.dequeue()
		w.WriteBytes(message.Bytes())
		b.pool.Return(message)

		if b.Count() == 0 || w.Position()+b.peek().Position() > b.threshold {
			break
		}
	}

	return true, nil
}

// Clear drops every queued message.
func (b *Batcher) Clear() {
	for b.Count() > 0 {
		b.pool.Return(b.dequeue())
	}
}

func (b *Batcher) peek() *netbuf.Writer {
	return b.messages[b.head]
}

func (b *Batcher) dequeue() *netbuf.Writer {
	w := b.messages[b.head]
	b.messages[b.head] = nil
	b.head++

	if b.head == len(b.messages) {
		b.messages = b.messages[:0]
		b.head = 0
	}
	return w
}
