package norfs

import (
	"context"
	"iter"
)

// Files returns a snapshot of the files selected by filter, ascending by id.
func (fs *FS) Files(ctx context.Context, filter FileFilter) ([]FileEntry, error) {
	if err := fs.rlockTable(ctx); err != nil {
		return nil, err
	}
	snap := fs.table.Clone()
	fs.tableLock.RUnlock()

	var out []FileEntry
	for _, e := range snap.Entries {
		if filter.matches(e) {
			out = append(out, entryFrom(e))
		}
	}
	return out, nil
}

// FilesSeq iterates over a snapshot of the files selected by filter. A lock
// error is yielded once and ends the sequence.
func (fs *FS) FilesSeq(ctx context.Context, filter FileFilter) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		files, err := fs.Files(ctx, filter)
		if err != nil {
			yield(FileEntry{}, err)
			return
		}
		for _, e := range files {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ConcurrentFilesIterator walks the table without holding a lock between
// steps, so files may be created and removed while it runs.
//
// Each file that exists for the whole iteration and matches the filter is
// yielded exactly once. Files are yielded in ascending id order; files
// created during the iteration are yielded if their id is above the last
// one yielded. A removed file is not yielded after its removal.
type ConcurrentFilesIterator struct {
	fs     *FS
	filter FileFilter
	last   uint64
}

// ConcurrentFiles returns an iterator over the files selected by filter.
func (fs *FS) ConcurrentFiles(filter FileFilter) *ConcurrentFilesIterator {
	return &ConcurrentFilesIterator{fs: fs, filter: filter}
}

// Next returns the next file. ok is false when no file above the last one
// yielded matches; files created later are still found by later calls.
func (it *ConcurrentFilesIterator) Next(ctx context.Context) (FileEntry, bool, error) {
	if err := it.fs.rlockTable(ctx); err != nil {
		return FileEntry{}, false, err
	}
	e, ok := it.fs.table.NextAfter(it.last, it.filter.matches)
	it.fs.tableLock.RUnlock()

	if !ok {
		return FileEntry{}, false, nil
	}
	it.last = e.ID
	return entryFrom(e), true, nil
}

// All adapts the iterator to a range-over-func sequence. An error is
// yielded once and ends the sequence.
func (it *ConcurrentFilesIterator) All(ctx context.Context) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		for {
			e, ok, err := it.Next(ctx)
			if err != nil {
				yield(FileEntry{}, err)
				return
			}
			if !ok || !yield(e, nil) {
				return
			}
		}
	}
}
