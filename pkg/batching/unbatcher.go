package batching

import (
	"github.com/sessamekesh/netsync/pkg/netbuf"
)

// Unbatcher queues received batches and exposes them as a single reader
// positioned at the next unread message. The caller reads exactly one message
// from the reader per GetNextMessage call.
type Unbatcher struct {
	pool *netbuf.WriterPool

	batches []*netbuf.Writer
	head    int

	reader                *netbuf.Reader
	readerRemoteTimeStamp float64
}

func CreateUnbatcher(pool *netbuf.WriterPool) *Unbatcher {
	if pool == nil {
		pool = netbuf.CreateWriterPool(0, 0)
	}
	return &Unbatcher{
		pool:    pool,
		batches: []*netbuf.Writer{},
		reader:  netbuf.NewReader(nil),
	}
}

// BatchesCount returns the number of batches not yet fully read.
func (u *Unbatcher) BatchesCount() int {
	return len(u.batches) - u.head
}

// AddBatch copies batch into the queue. Batches too short to hold the
// timestamp header are refused and nothing is queued; the caller should
// treat that as a protocol violation by the sender.
func (u *Unbatcher) AddBatch(batch []byte) bool {
	if len(batch) < HeaderSize {
		return false
	}

	w := u.pool.Take()
	w.WriteBytes(batch)

	if u.BatchesCount() == 0 {
		u.startReadingBatch(w)
	}
	u.batches = append(u.batches, w)
	return true
}

// GetNextMessage returns the reader positioned at the next message together
// with the timestamp of the batch it came from. ok is false when every queued
// batch has been fully read.
func (u *Unbatcher) GetNextMessage() (reader *netbuf.Reader, remoteTimeStamp float64, ok bool) {
	for u.BatchesCount() > 0 {
		if u.reader.Remaining() > 0 {
			return u.reader, u.readerRemoteTimeStamp, true
		}

		// current batch is exhausted, retire it before looking at the next
		u.pool.Return(u.dequeue())
		if u.BatchesCount() > 0 {
			u.startReadingBatch(u.batches[u.head])
		}
	}

	u.reader.SetBuffer(nil)
	return nil, 0, false
}

func (u *Unbatcher) startReadingBatch(batch *netbuf.Writer) {
	u.reader.SetBuffer(batch.Bytes())
	// AddBatch guarantees the header is present
	u.readerRemoteTimeStamp, _ = u.reader.ReadFloat64()
}

func (u *Unbatcher) dequeue() *netbuf.Writer {
	w := u.batches[u.head]
	u.batches[u.head] = nil
	u.head++

	if u.head == len(u.batches) {
		u.batches = u.batches[:0]
		u.head = 0
	}
	return w
}
