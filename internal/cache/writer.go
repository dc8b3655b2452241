package cache

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"pagelink/internal/codec"
	"pagelink/internal/session"
)

const DefaultQueueSize = 16

var (
	ErrQueueFull = errors.New("cache: write queue full")
	ErrClosed    = errors.New("cache: writer closed")
)

// Sink is what a Writer writes through to, normally a *Cache.
type Sink interface {
	session.CatalogSink
	session.PageSink
}

// Writer moves cache writes off the caller's goroutine. Puts only queue; a
// single goroutine applies them to the sink in order. When the queue is full
// the write is dropped and ErrQueueFull returned.
type Writer struct {
	sink  Sink
	queue chan func() error
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var (
	_ session.CatalogSink = (*Writer)(nil)
	_ session.PageSink    = (*Writer)(nil)
)

// NewWriter starts the write goroutine. Call Close to flush and stop it.
func NewWriter(sink Sink, size int) *Writer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	w := &Writer{
		sink:  sink,
		queue: make(chan func() error, size),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.queue {
		if err := job(); err != nil {
			w.failed.Add(1)
			cachelog.Warn("cache write failed", "err", err)
			continue
		}
		w.written.Add(1)
	}
}

// PutCatalog queues a copy of entries.
func (w *Writer) PutCatalog(entries []codec.Entry) error {
	cp := slices.Clone(entries)
	return w.enqueue(func() error { return w.sink.PutCatalog(cp) })
}

// PutPage queues a copy of data.
func (w *Writer) PutPage(ref session.PageRef, data []byte) error {
	cp := slices.Clone(data)
	return w.enqueue(func() error { return w.sink.PutPage(ref, cp) })
}

func (w *Writer) enqueue(job func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	select {
	case w.queue <- job:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting writes and waits for the queued ones to land.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

// Counts reports writes applied, dropped on a full queue, and failed in the sink.
func (w *Writer) Counts() (written, dropped, failed uint64) {
	return w.written.Load(), w.dropped.Load(), w.failed.Load()
}
