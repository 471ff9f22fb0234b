package netbuf

import "sync"

// WriterPool is a bounded, mutex guarded pool of writers. Writers may be taken
// on transport goroutines and returned from the main loop, so every access is
// locked.
type WriterPool struct {
	mut_writers sync.Mutex
	writers     []*Writer

	capacity       int
	writerCapacity int
}

func CreateWriterPool(capacity, writerCapacity int) *WriterPool {
	if capacity <= 0 {
		capacity = 1000
	}
	if writerCapacity <= 0 {
		writerCapacity = DefaultCapacity
	}

	return &WriterPool{
		mut_writers:    sync.Mutex{},
		writers:        make([]*Writer, 0, capacity),
		capacity:       capacity,
		writerCapacity: writerCapacity,
	}
}

// Take returns a reset writer, allocating one if the pool is empty.
func (p *WriterPool) Take() *Writer {
	p.mut_writers.Lock()
	defer p.mut_writers.Unlock()

	n := len(p.writers)
	if n == 0 {
		return NewWriter(p.writerCapacity)
	}

	w := p.writers[n-1]
	p.writers[n-1] = nil
	p.writers = p.writers[:n-1]
	return w
}

// Return resets w and keeps it for reuse. Writers beyond the pool capacity
// are dropped for the garbage collector.
func (p *WriterPool) Return(w *Writer) {
	if w == nil {
		return
	}
	w.Reset()

	p.mut_writers.Lock()
	defer p.mut_writers.Unlock()

	if len(p.writers) >= p.capacity {
		return
	}
	p.writers = append(p.writers, w)
}

func (p *WriterPool) Count() int {
	p.mut_writers.Lock()
	defer p.mut_writers.Unlock()
	return len(p.writers)
}
