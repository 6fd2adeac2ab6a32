package norfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/alloctable"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/rwlock"
)

// FS is a mounted filesystem.
//
// Lock order: table lock, allocator, flashMu, sumMu. The write executor only
// takes flashMu.
type FS struct {
	dev         flash.Flash
	dataSectors int

	log     *Logger
	metrics MetricsCollector

	flashMu sync.Mutex

	sumMu sync.Mutex
	sum   checksum.Checksum

	tableLock rwlock.RWLock
	table     alloctable.Table // guarded by tableLock
	closed    bool             // guarded by tableLock

	alloc       *allocator
	queue       *writeQueue
	handles     *semaphore.Weighted
	openHandles atomic.Int64
}

// Mount resets dev, recovers the newest allocation table and starts the
// page write executor. A blank device is initialized with an empty table.
//
// The device size must be a multiple of 64 KiB, larger than the table head
// region, and hold at most 65535 data sectors.
func Mount(ctx context.Context, dev flash.Flash, optFns ...Option) (*FS, error) {
	o := applyOptions(optFns)

	dataSectors, err := checkGeometry(dev.Size())
	if err != nil {
		o.logger.LogMount(ctx, 0, 0, 0, err)
		return nil, err
	}

	fs := &FS{
		dev:         device{Flash: dev},
		dataSectors: dataSectors,
		log:         o.logger,
		metrics:     o.metricsCollector,
		sum:         o.checksum,
		queue:       newWriteQueue(o.writeQueueSize),
		handles:     semaphore.NewWeighted(int64(o.maxOpenFiles)),
	}
	fs.alloc = newAllocator(fs.dev, &fs.flashMu, dataSectors, o.seed, fs.metrics)

	if err := fs.mount(ctx); err != nil {
		fs.log.LogMount(ctx, 0, 0, 0, err)
		return nil, err
	}

	fs.queue.start(fs.programPage)
	fs.log.LogMount(ctx, fs.table.Sequence, fs.table.Len(), fs.alloc.freeSectors(), nil)
	return fs, nil
}

func checkGeometry(size uint32) (int, error) {
	if size%layout.Block64K != 0 || size <= layout.HeadSize {
		return 0, fmt.Errorf("%w: size %d", ErrInvalidGeometry, size)
	}
	n := layout.DataSectors(size)
	if n > layout.MaxDataSectors {
		return 0, fmt.Errorf("%w: %d data sectors exceed %d", ErrInvalidGeometry, n, layout.MaxDataSectors)
	}
	return n, nil
}

func (fs *FS) mount(ctx context.Context) error {
	if err := fs.dev.Reset(); err != nil {
		return err
	}

	table, report, err := alloctable.Recover(fs.dev, fs.sum, fs.dataSectors)
	if err != nil {
		return err
	}
	for _, s := range report.Slots {
		if !s.Valid() {
			fs.log.DebugContext(ctx, "table slot skipped", "slot", s.Slot, "error", s.Err)
		}
	}
	fs.table = table

	if !report.Found {
		fs.log.InfoContext(ctx, "no allocation table found, initializing")
		if err := fs.bootstrap(ctx); err != nil {
			return err
		}
	}

	return fs.rebuildSectorMap()
}

// bootstrap commits an empty generation.
func (fs *FS) bootstrap(ctx context.Context) error {
	start := time.Now()
	b, err := alloctable.Begin(fs.dev, fs.sum, &fs.table, fs.dataSectors, false)
	if err != nil {
		fs.metrics.RecordTableCommit(time.Since(start), err)
		return err
	}
	gen, err := b.Commit()
	if err != nil {
		b.Abort()
	}
	fs.metrics.RecordTableCommit(time.Since(start), err)
	fs.log.LogTableCommit(ctx, gen.Sequence, gen.Slot, gen.Count, err)
	if err != nil {
		return err
	}
	fs.table.Advance(gen)
	return nil
}

// Format erases the table head region of dev. Every file is lost; data
// sectors are erased again when they are allocated.
func Format(dev flash.Flash) error {
	if _, err := checkGeometry(dev.Size()); err != nil {
		return err
	}
	return flash.Erase(device{Flash: dev}, 0, layout.HeadSize)
}

// lockTable takes the table write lock.
func (fs *FS) lockTable(ctx context.Context) error {
	if err := fs.tableLock.Lock(ctx); err != nil {
		return err
	}
	if fs.closed {
		fs.tableLock.Unlock()
		return ErrClosed
	}
	return nil
}

// rlockTable takes the table read lock.
func (fs *FS) rlockTable(ctx context.Context) error {
	if err := fs.tableLock.RLock(ctx); err != nil {
		return err
	}
	if fs.closed {
		fs.tableLock.RUnlock()
		return ErrClosed
	}
	return nil
}

// rewriteTableLocked writes a new generation. build streams the current
// generation into the builder; apply mirrors the change on the in-memory
// table after a successful commit.
//
// The caller must hold the table write lock.
func (fs *FS) rewriteTableLocked(ctx context.Context, build func(*alloctable.Builder) error, apply func(*alloctable.Table)) error {
	start := time.Now()

	fs.flashMu.Lock()
	fs.sumMu.Lock()
	gen, err := fs.buildGeneration(build)
	fs.sumMu.Unlock()
	fs.flashMu.Unlock()

	fs.metrics.RecordTableCommit(time.Since(start), err)
	fs.log.LogTableCommit(ctx, gen.Sequence, gen.Slot, gen.Count, err)
	if err != nil {
		return translateError(err)
	}

	fs.table.Advance(gen)
	apply(&fs.table)
	return nil
}

func (fs *FS) buildGeneration(build func(*alloctable.Builder) error) (alloctable.Generation, error) {
	b, err := alloctable.Begin(fs.dev, fs.sum, &fs.table, fs.dataSectors, true)
	if err != nil {
		return alloctable.Generation{}, err
	}
	if err := build(b); err != nil {
		b.Abort()
		return alloctable.Generation{}, err
	}
	gen, err := b.Commit()
	if err != nil {
		b.Abort()
		return alloctable.Generation{}, err
	}
	return gen, nil
}

// openLocked marks id opened and takes a handle slot.
// The caller must hold the table write lock.
func (fs *FS) openLocked(id FileID) (alloctable.Entry, error) {
	e := fs.table.Get(uint64(id))
	if e == nil {
		return alloctable.Entry{}, ErrFileDoesNotExist
	}
	if e.Opened {
		return alloctable.Entry{}, ErrFileInUse
	}
	if !fs.handles.TryAcquire(1) {
		return alloctable.Entry{}, ErrTooManyFilesOpen
	}
	e.Opened = true
	fs.openHandles.Add(1)
	return *e, nil
}

// closeLocked undoes openLocked.
func (fs *FS) closeLocked(id FileID) {
	if e := fs.table.Get(uint64(id)); e != nil {
		e.Opened = false
	}
	fs.handles.Release(1)
	fs.openHandles.Add(-1)
}

// releaseHandle is called by readers and writers on Close. It is not
// cancelable.
func (fs *FS) releaseHandle(id FileID) {
	_ = fs.tableLock.Lock(context.Background())
	fs.closeLocked(id)
	fs.tableLock.Unlock()
}

// Stats is a point-in-time view of the filesystem.
type Stats struct {
	Sequence    uint32
	Slot        int
	Files       int
	DataSectors int
	FreeSectors int
	OpenHandles int
	QueueDepth  int
}

// Stats returns current statistics.
func (fs *FS) Stats() Stats {
	_ = fs.tableLock.RLock(context.Background())
	s := Stats{
		Sequence: fs.table.Sequence,
		Slot:     fs.table.Slot,
		Files:    fs.table.Len(),
	}
	fs.tableLock.RUnlock()

	s.DataSectors = fs.dataSectors
	s.FreeSectors = fs.alloc.freeSectors()
	s.OpenHandles = int(fs.openHandles.Load())
	s.QueueDepth = fs.queue.depth()
	return s
}

// Free returns the number of data bytes that can still be written.
func (fs *FS) Free() int64 {
	return int64(fs.alloc.freeSectors()) * layout.MaxSectorData
}

// Close stops the write executor after draining it. Every reader and writer
// must be closed first. Later calls return ErrClosed.
func (fs *FS) Close(ctx context.Context) error {
	if err := fs.lockTable(ctx); err != nil {
		return err
	}
	if n := fs.openHandles.Load(); n > 0 {
		fs.tableLock.Unlock()
		return fmt.Errorf("%w: %d", ErrHandlesOpen, n)
	}
	fs.closed = true
	fs.tableLock.Unlock()

	err := fs.queue.close()
	fs.log.InfoContext(ctx, "closed", "sequence", fs.table.Sequence)
	return err
}
