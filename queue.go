package norfs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/norfs/internal/layout"
)

// pageWrite is one page waiting to be programmed.
type pageWrite struct {
	address uint32
	data    [layout.PageSize]byte
	sink    *writeSink
}

// writeSink collects the outcome of one writer's queued pages.
type writeSink struct {
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

func (s *writeSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first executor error, if any.
func (s *writeSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// writeQueue is a bounded page queue drained by one executor goroutine.
type writeQueue struct {
	ch chan *pageWrite

	mu     sync.RWMutex // guards closed against sends on a closed channel
	closed bool

	g errgroup.Group
}

func newWriteQueue(size int) *writeQueue {
	return &writeQueue{ch: make(chan *pageWrite, size)}
}

func (q *writeQueue) start(exec func(*pageWrite)) {
	q.g.Go(func() error {
		for pw := range q.ch {
			exec(pw)
		}
		return nil
	})
}

// submit queues pw without blocking.
func (q *writeQueue) submit(pw *pageWrite) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	pw.sink.wg.Add(1)
	select {
	case q.ch <- pw:
		return nil
	default:
		pw.sink.wg.Done()
		return ErrWriteQueueFull
	}
}

func (q *writeQueue) depth() int {
	return len(q.ch)
}

// close stops accepting pages and waits until the queue is drained.
func (q *writeQueue) close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	return q.g.Wait()
}

// programPage is the executor body. Pages of a writer that already failed
// are dropped.
func (fs *FS) programPage(pw *pageWrite) {
	defer pw.sink.wg.Done()
	if pw.sink.Err() != nil {
		return
	}

	start := time.Now()
	fs.flashMu.Lock()
	err := fs.dev.WritePage(pw.address, pw.data[:])
	fs.flashMu.Unlock()
	fs.metrics.RecordPageWrite(time.Since(start), err)

	if err != nil {
		fs.log.ErrorContext(context.Background(), "page write failed",
			"address", pw.address,
			"error", err,
		)
		pw.sink.fail(err)
	}
}
