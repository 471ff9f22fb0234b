package peer

import (
	"sync"

	"github.com/sessamekesh/netsync/pkg/message"
)

type MessageStats struct {
	Count int
	Bytes int
}

// Diagnostics counts traffic per message id. Reads may come from any
// goroutine, e.g. a metrics endpoint.
type Diagnostics struct {
	mut_stats sync.RWMutex
	in        map[message.MessageId]MessageStats
	out       map[message.MessageId]MessageStats

	batchesIn    int
	batchesOut   int
	bytesIn      int
	bytesOut     int
	invalidIn    int
	unknownIn    int
	rejectedSend int
}

type DiagnosticsSnapshot struct {
	In  map[message.MessageId]MessageStats
	Out map[message.MessageId]MessageStats

	BatchesIn  int
	BatchesOut int
	BytesIn    int
	BytesOut   int
	// Truncated batches or envelopes that were dropped
	InvalidIn int
	// Envelopes with no registered handler
	UnknownIn int
	// Messages refused before batching, e.g. too large
	RejectedSend int
}

func createDiagnostics() *Diagnostics {
	return &Diagnostics{
		mut_stats: sync.RWMutex{},
		in:        make(map[message.MessageId]MessageStats),
		out:       make(map[message.MessageId]MessageStats),
	}
}

func (d *Diagnostics) onMessageIn(id message.MessageId, size int) {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	s := d.in[id]
	s.Count++
	s.Bytes += size
	d.in[id] = s
}

func (d *Diagnostics) onMessageOut(id message.MessageId, size int) {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	s := d.out[id]
	s.Count++
	s.Bytes += size
	d.out[id] = s
}

func (d *Diagnostics) onBatchIn(size int) {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	d.batchesIn++
	d.bytesIn += size
}

func (d *Diagnostics) onBatchOut(size int) {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	d.batchesOut++
	d.bytesOut += size
}

func (d *Diagnostics) onInvalid() {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	d.invalidIn++
}

func (d *Diagnostics) onUnknown() {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	d.unknownIn++
}

func (d *Diagnostics) onRejectedSend() {
	d.mut_stats.Lock()
	defer d.mut_stats.Unlock()
	d.rejectedSend++
}

// Snapshot copies the current counters.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	d.mut_stats.RLock()
	defer d.mut_stats.RUnlock()

	out := DiagnosticsSnapshot{
		In:           make(map[message.MessageId]MessageStats, len(d.in)),
		Out:          make(map[message.MessageId]MessageStats, len(d.out)),
		BatchesIn:    d.batchesIn,
		BatchesOut:   d.batchesOut,
		BytesIn:      d.bytesIn,
		BytesOut:     d.bytesOut,
		InvalidIn:    d.invalidIn,
		UnknownIn:    d.unknownIn,
		RejectedSend: d.rejectedSend,
	}
	for id, s := range d.in {
		out.In[id] = s
	}
	for id, s := range d.out {
		out.Out[id] = s
	}
	return out
}
