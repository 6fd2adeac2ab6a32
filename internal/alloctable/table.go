package alloctable

import (
	"slices"

	"github.com/hupe1980/norfs/internal/layout"
)

// Entry is one file in the table. Opened is session state and never persisted.
type Entry struct {
	ID          uint64
	Type        uint16
	FirstSector uint16
	Opened      bool
}

// HasSector reports whether the file owns a sector chain.
func (e Entry) HasSector() bool {
	return e.FirstSector != layout.NoSector
}

// Table is the in-memory copy of the current generation.
type Table struct {
	Sequence  uint32
	Slot      int
	MaxFileID uint64
	Entries   []Entry // ascending by ID
}

// Empty returns the table used before the first generation is written.
// Its slot is the last one so the first commit lands in slot 0.
func Empty() Table {
	return Table{Slot: layout.TableSlots - 1}
}

// Len returns the number of files.
func (t *Table) Len() int {
	return len(t.Entries)
}

func cmpID(e Entry, id uint64) int {
	switch {
	case e.ID < id:
		return -1
	case e.ID > id:
		return 1
	}
	return 0
}

// Find returns the index of id.
func (t *Table) Find(id uint64) (int, bool) {
	return slices.BinarySearchFunc(t.Entries, id, cmpID)
}

// Get returns a pointer to the entry for id, or nil.
func (t *Table) Get(id uint64) *Entry {
	if i, ok := t.Find(id); ok {
		return &t.Entries[i]
	}
	return nil
}

// Insert adds e keeping the ascending order. It reports false if the id is
// already present.
func (t *Table) Insert(e Entry) bool {
	i, ok := t.Find(e.ID)
	if ok {
		return false
	}
	t.Entries = slices.Insert(t.Entries, i, e)
	t.MaxFileID = max(t.MaxFileID, e.ID)
	return true
}

// Remove deletes id. It reports false if the id was not present.
func (t *Table) Remove(id uint64) bool {
	i, ok := t.Find(id)
	if !ok {
		return false
	}
	t.Entries = slices.Delete(t.Entries, i, i+1)
	return true
}

// NextAfter returns the entry with the smallest id greater than after that
// satisfies match. A nil match accepts every entry.
func (t *Table) NextAfter(after uint64, match func(Entry) bool) (Entry, bool) {
	i, found := t.Find(after)
	if found {
		i++
	}
	for ; i < len(t.Entries); i++ {
		if match == nil || match(t.Entries[i]) {
			return t.Entries[i], true
		}
	}
	return Entry{}, false
}

// Clone returns a deep copy.
func (t *Table) Clone() Table {
	c := *t
	c.Entries = slices.Clone(t.Entries)
	return c
}

// Advance records a committed generation.
func (t *Table) Advance(g Generation) {
	t.Slot = g.Slot
	t.Sequence = g.Sequence
	t.MaxFileID = g.MaxFileID
}
