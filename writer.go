package norfs

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/leak"
	"github.com/hupe1980/norfs/internal/quad"
)

// FileWriter appends to a file. Pages are built in memory and programmed
// asynchronously by the write executor.
//
// The next sector of the chain is claimed when the terminal page of the
// current one fills, since the tail must name it. Claimed sectors come from
// the allocator's erase-ahead pool. When the pool is empty the claim erases
// a fresh region synchronously under the flash lock, so erases do not pass
// through the write queue.
//
// A FileWriter must be closed. Dropping it without Close triggers the leak
// handler. It is not safe for concurrent use.
type FileWriter struct {
	fs  *FS
	id  FileID
	log *Logger

	buf       [layout.PageSize]byte
	off       int // data bytes in buf
	sectorLen int // data bytes in the current sector, including buf
	sector    uint16

	pending []*pageWrite
	sink    *writeSink

	terminated bool
	closed     bool
	guard      leak.Guard
}

func newFileWriter(fs *FS, id FileID, sector uint16) *FileWriter {
	w := &FileWriter{
		fs:     fs,
		id:     id,
		log:    fs.log.WithFileID(id),
		sector: sector,
		sink:   &writeSink{},
	}
	resetPage(w.buf[:])
	w.guard = leak.Watch(w, "file writer")
	return w
}

// ID returns the id of the file being written.
func (w *FileWriter) ID() FileID {
	return w.id
}

// Write appends p. When the write queue is full it returns
// ErrWriteQueueFull and the number of bytes accepted; the rest may be
// retried later.
func (w *FileWriter) Write(p []byte) (int, error) {
	if err := w.usable(); err != nil {
		return 0, err
	}
	if err := w.submitPending(); err != nil {
		return 0, err
	}

	n := 0
	for len(p) > 0 {
		terminal := w.sectorLen-w.off >= (layout.PagesPerSector-1)*layout.MaxPageData
		room := layout.MaxPageData - w.off
		if terminal {
			room = layout.MaxTerminalPageData - w.off
		}

		if len(p) < room {
			copy(w.buf[w.off:], p)
			w.off += len(p)
			w.sectorLen += len(p)
			return n + len(p), nil
		}

		var next uint16
		if terminal {
			var err error
			if next, err = w.fs.alloc.claim(); err != nil {
				return n, err
			}
		}

		copy(w.buf[w.off:], p[:room])
		w.off += room
		w.sectorLen += room
		p = p[room:]
		n += room

		addr := layout.PageAddress(layout.SectorAddress(w.sector), w.sectorLen)
		if terminal {
			w.putTail(next)
			w.queuePage(addr, true)
			w.sectorLen = 0
			w.sector = next
		} else {
			w.queuePage(addr, true)
		}

		if err := w.submitPending(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush terminates the current sector and moves on to a fresh one, then
// waits until every page of this writer has been programmed. It is a no-op
// for the sector when it holds no data.
func (w *FileWriter) Flush() error {
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.submitPending(); err != nil {
		return err
	}

	if w.sectorLen > 0 {
		next, err := w.fs.alloc.claim()
		if err != nil {
			return err
		}
		w.terminate(next)
		w.sector = next
		if err := w.submitPending(); err != nil {
			return err
		}
	}

	w.sink.wg.Wait()
	return w.sink.Err()
}

// Close terminates the file and waits until its pages are programmed.
//
// If the write queue is full Close returns ErrWriteQueueFull and the writer
// stays open; call Close again later. Any other outcome closes the writer.
func (w *FileWriter) Close() error {
	if w.closed {
		return ErrFileClosed
	}
	if err := w.sink.Err(); err != nil {
		w.release(err)
		return err
	}

	if !w.terminated {
		w.terminate(layout.NoSector)
		w.terminated = true
	}
	if err := w.submitPending(); err != nil {
		if errors.Is(err, ErrWriteQueueFull) {
			return err
		}
		w.release(err)
		return err
	}

	w.sink.wg.Wait()
	err := w.sink.Err()
	w.release(err)
	return err
}

func (w *FileWriter) usable() error {
	if w.closed || w.terminated {
		return ErrFileClosed
	}
	return w.sink.Err()
}

func (w *FileWriter) release(err error) {
	w.sink.wg.Wait()
	w.closed = true
	w.pending = nil
	w.fs.releaseHandle(w.id)
	w.guard.Release()
	w.log.LogWriterClose(context.Background(), err)
}

// terminate writes the tail of the current sector.
func (w *FileWriter) terminate(next uint16) {
	sectorAddr := layout.SectorAddress(w.sector)

	switch {
	case w.sectorLen == 0:
		w.putTail(next)
		w.queuePage(sectorAddr+layout.TerminalPageOffset, false)
	case layout.IsTerminalPage(w.sectorLen):
		w.putTail(next)
		w.queuePage(layout.PageAddress(sectorAddr, w.sectorLen), true)
	default:
		if w.off > 0 {
			w.queuePage(layout.PageAddress(sectorAddr, w.sectorLen), true)
		}
		w.putTail(next)
		w.queuePage(sectorAddr+layout.TerminalPageOffset, false)
	}
	w.sectorLen = 0
}

func (w *FileWriter) putTail(next uint16) {
	quad.Put(w.buf[layout.PageSize-layout.TailSize:], uint16(w.sectorLen))
	quad.Put(w.buf[layout.PageSize-layout.TailSize/2:], next)
}

// queuePage seals buf into a pending page write and resets it.
func (w *FileWriter) queuePage(address uint32, withCRC bool) {
	if withCRC {
		padded := layout.Pad4(w.off)
		w.fs.sumMu.Lock()
		crc := checksum.Calculate(w.fs.sum, w.buf[:padded])
		w.fs.sumMu.Unlock()
		binary.BigEndian.PutUint32(w.buf[padded:], crc)
	}

	pw := &pageWrite{address: address, data: w.buf, sink: w.sink}
	w.pending = append(w.pending, pw)

	resetPage(w.buf[:])
	w.off = 0
}

func (w *FileWriter) submitPending() error {
	for len(w.pending) > 0 {
		if err := w.fs.queue.submit(w.pending[0]); err != nil {
			return err
		}
		w.pending[0] = nil
		w.pending = w.pending[1:]
	}
	return nil
}

func resetPage(p []byte) {
	for i := range p {
		p[i] = flash.Erased
	}
}
