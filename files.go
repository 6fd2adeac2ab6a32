package norfs

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/norfs/internal/alloctable"
	"github.com/hupe1980/norfs/internal/layout"
)

// Create adds an empty file of type typ and returns its id.
func (fs *FS) Create(ctx context.Context, typ FileType) (FileID, error) {
	if typ == reservedFileType {
		return 0, ErrReservedFileType
	}
	if err := fs.lockTable(ctx); err != nil {
		return 0, err
	}
	defer fs.tableLock.Unlock()

	e, err := fs.createLocked(ctx, typ, layout.NoSector, false)
	fs.log.LogCreate(ctx, FileID(e.ID), typ, err)
	return FileID(e.ID), err
}

func (fs *FS) createLocked(ctx context.Context, typ FileType, firstSector uint16, opened bool) (alloctable.Entry, error) {
	if fs.table.Len() >= alloctable.MaxFiles {
		return alloctable.Entry{}, ErrMaxFilesReached
	}

	var created alloctable.Entry
	err := fs.rewriteTableLocked(ctx, func(b *alloctable.Builder) error {
		if err := b.CopyRest(nil); err != nil {
			return err
		}
		e, err := b.WriteNewFile(uint16(typ), firstSector)
		created = e
		return err
	}, func(t *alloctable.Table) {
		created.Opened = opened
		t.Insert(created)
	})
	return created, err
}

// CreateAndOpenForWrite creates a file of type typ and opens it for
// writing with a single table rewrite.
func (fs *FS) CreateAndOpenForWrite(ctx context.Context, typ FileType) (*FileWriter, error) {
	if typ == reservedFileType {
		return nil, ErrReservedFileType
	}
	if err := fs.lockTable(ctx); err != nil {
		return nil, err
	}
	defer fs.tableLock.Unlock()

	if !fs.handles.TryAcquire(1) {
		fs.log.LogCreate(ctx, 0, typ, ErrTooManyFilesOpen)
		return nil, ErrTooManyFilesOpen
	}
	sector, err := fs.alloc.claim()
	if err != nil {
		fs.handles.Release(1)
		fs.log.LogCreate(ctx, 0, typ, err)
		return nil, err
	}

	e, err := fs.createLocked(ctx, typ, sector, true)
	fs.log.LogCreate(ctx, FileID(e.ID), typ, err)
	if err != nil {
		fs.alloc.release(sector)
		fs.handles.Release(1)
		return nil, err
	}
	fs.openHandles.Add(1)
	return newFileWriter(fs, FileID(e.ID), sector), nil
}

// OpenForWrite opens an existing file for appending.
//
// A file that already holds data has its last sector relocated so that its
// tail points at the newly claimed sector.
func (fs *FS) OpenForWrite(ctx context.Context, id FileID) (*FileWriter, error) {
	if err := fs.lockTable(ctx); err != nil {
		return nil, err
	}
	defer fs.tableLock.Unlock()

	w, err := fs.openForWriteLocked(ctx, id)
	fs.log.LogOpen(ctx, id, "write", err)
	return w, err
}

func (fs *FS) openForWriteLocked(ctx context.Context, id FileID) (*FileWriter, error) {
	e, err := fs.openLocked(id)
	if err != nil {
		return nil, err
	}
	sector, err := fs.alloc.claim()
	if err != nil {
		fs.closeLocked(id)
		return nil, err
	}

	if e.HasSector() {
		var last uint16
		if last, err = fs.lastSector(e.FirstSector); err == nil {
			err = fs.relocateTail(ctx, last, sector)
		}
	} else {
		err = fs.setFirstSectorLocked(ctx, id, sector)
	}
	if err != nil {
		fs.alloc.release(sector)
		fs.closeLocked(id)
		return nil, err
	}
	return newFileWriter(fs, id, sector), nil
}

func (fs *FS) setFirstSectorLocked(ctx context.Context, id FileID, sector uint16) error {
	return fs.rewriteTableLocked(ctx, func(b *alloctable.Builder) error {
		return b.CopyRest(func(e alloctable.Entry) (alloctable.Entry, bool) {
			if e.ID == uint64(id) {
				e.FirstSector = sector
			}
			return e, true
		})
	}, func(t *alloctable.Table) {
		if e := t.Get(uint64(id)); e != nil {
			e.FirstSector = sector
		}
	})
}

// OpenForRead opens a file for reading from its start.
func (fs *FS) OpenForRead(ctx context.Context, id FileID) (*FileReader, error) {
	if err := fs.lockTable(ctx); err != nil {
		return nil, err
	}
	defer fs.tableLock.Unlock()

	e, err := fs.openLocked(id)
	fs.log.LogOpen(ctx, id, "read", err)
	if err != nil {
		return nil, err
	}
	return newFileReader(fs, id, e.FirstSector), nil
}

// Remove deletes a file and frees its sectors. The file must not be open.
func (fs *FS) Remove(ctx context.Context, id FileID) error {
	if err := fs.lockTable(ctx); err != nil {
		return err
	}
	defer fs.tableLock.Unlock()

	n, err := fs.removeLocked(ctx, id)
	fs.log.LogRemove(ctx, id, n, err)
	return err
}

func (fs *FS) removeLocked(ctx context.Context, id FileID) (int, error) {
	e := fs.table.Get(uint64(id))
	if e == nil {
		return 0, ErrFileDoesNotExist
	}
	if e.Opened {
		return 0, ErrFileInUse
	}

	sectors := roaring.New()
	if e.HasSector() {
		if err := fs.collectChain(id, e.FirstSector, sectors); err != nil {
			return 0, err
		}
	}

	err := fs.rewriteTableLocked(ctx, func(b *alloctable.Builder) error {
		return b.CopyRest(func(e alloctable.Entry) (alloctable.Entry, bool) {
			return e, e.ID != uint64(id)
		})
	}, func(t *alloctable.Table) {
		t.Remove(uint64(id))
	})
	if err != nil {
		return 0, err
	}
	return fs.alloc.releaseAll(sectors), nil
}

// RemoveMatching deletes every file selected by filter with one table
// rewrite and returns how many were removed. Open files are skipped.
func (fs *FS) RemoveMatching(ctx context.Context, filter FileFilter) (int, error) {
	if err := fs.lockTable(ctx); err != nil {
		return 0, err
	}
	defer fs.tableLock.Unlock()

	victims := roaring64.New()
	sectors := roaring.New()
	for _, e := range fs.table.Entries {
		if !filter.matches(e) {
			continue
		}
		if e.Opened {
			fs.log.InfoContext(ctx, "open file kept", "file_id", e.ID)
			continue
		}
		if e.HasSector() {
			if err := fs.collectChain(FileID(e.ID), e.FirstSector, sectors); err != nil {
				return 0, err
			}
		}
		victims.Add(e.ID)
	}
	if victims.IsEmpty() {
		return 0, nil
	}

	err := fs.rewriteTableLocked(ctx, func(b *alloctable.Builder) error {
		return b.CopyRest(func(e alloctable.Entry) (alloctable.Entry, bool) {
			return e, !victims.Contains(e.ID)
		})
	}, func(t *alloctable.Table) {
		it := victims.Iterator()
		for it.HasNext() {
			t.Remove(it.Next())
		}
	})
	if err != nil {
		fs.log.ErrorContext(ctx, "remove matching failed", "error", err)
		return 0, err
	}

	freed := fs.alloc.releaseAll(sectors)
	fs.log.DebugContext(ctx, "remove matching completed",
		"files", victims.GetCardinality(),
		"sectors", freed,
	)
	return int(victims.GetCardinality()), nil
}

// Exists reports whether id is a file.
func (fs *FS) Exists(ctx context.Context, id FileID) (bool, error) {
	if err := fs.rlockTable(ctx); err != nil {
		return false, err
	}
	defer fs.tableLock.RUnlock()
	_, ok := fs.table.Find(uint64(id))
	return ok, nil
}

// FileSize walks the sector chain of id. Sectors that were never
// terminated, such as the one an open writer is filling, count zero bytes.
func (fs *FS) FileSize(ctx context.Context, id FileID) (FileSize, error) {
	if err := fs.rlockTable(ctx); err != nil {
		return FileSize{}, err
	}
	e := fs.table.Get(uint64(id))
	if e == nil {
		fs.tableLock.RUnlock()
		return FileSize{}, ErrFileDoesNotExist
	}
	first, hasSector := e.FirstSector, e.HasSector()
	fs.tableLock.RUnlock()

	var size FileSize
	if !hasSector {
		return size, nil
	}
	// No table lock is held while reading flash.
	err := fs.walkChain(first, func(l chainLink) error {
		size.Sectors++
		if l.terminated() {
			size.Bytes += int64(l.length)
		}
		return nil
	})
	return size, err
}

// FindByType returns the newest file of type typ.
func (fs *FS) FindByType(ctx context.Context, typ FileType) (FileEntry, bool, error) {
	if err := fs.rlockTable(ctx); err != nil {
		return FileEntry{}, false, err
	}
	defer fs.tableLock.RUnlock()

	for i := len(fs.table.Entries) - 1; i >= 0; i-- {
		if e := fs.table.Entries[i]; FileType(e.Type) == typ {
			return entryFrom(e), true, nil
		}
	}
	return FileEntry{}, false, nil
}

// Entry returns the entry of id.
func (fs *FS) Entry(ctx context.Context, id FileID) (FileEntry, error) {
	if err := fs.rlockTable(ctx); err != nil {
		return FileEntry{}, err
	}
	defer fs.tableLock.RUnlock()

	e := fs.table.Get(uint64(id))
	if e == nil {
		return FileEntry{}, ErrFileDoesNotExist
	}
	return entryFrom(*e), nil
}
