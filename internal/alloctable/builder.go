package alloctable

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/leak"
)

// Generation identifies a committed table generation.
type Generation struct {
	Slot      int
	Sequence  uint32
	MaxFileID uint64
	Count     int
}

// Builder streams a new generation into the next slot while reading the
// current one.
//
// A Builder must end with Commit or Abort. Dropping it without either
// triggers the leak handler.
//
// The builder does not lock anything itself; the caller must hold exclusive
// access to the table, the flash device and the checksum for its lifetime.
type Builder struct {
	dev         flash.Flash
	sum         checksum.Checksum
	dataSectors int

	// source stream
	src          *slotReader
	srcRemaining int
	srcPrev      uint64
	srcDone      bool
	srcErr       error

	// destination
	gen    Generation
	prevID uint64
	first  [layout.PageSize]byte
	page   [layout.PageSize]byte
	off    int
	err    error
	done   bool
	guard  leak.Guard
}

// Begin starts a new generation after cur. The target slot is erased
// immediately. When withSource is true, ReadNext streams cur's entries from
// flash; otherwise the builder starts from an empty table.
func Begin(dev flash.Flash, sum checksum.Checksum, cur *Table, dataSectors int, withSource bool) (*Builder, error) {
	b := &Builder{
		dev:         dev,
		sum:         sum,
		dataSectors: dataSectors,
		gen: Generation{
			Slot:      (cur.Slot + 1) % layout.TableSlots,
			Sequence:  cur.Sequence + 1,
			MaxFileID: cur.MaxFileID,
		},
		off:     HeaderSize,
		srcDone: !withSource,
	}
	fillErased(b.first[:])
	fillErased(b.page[:])

	if withSource {
		b.src = newSlotReader(dev, cur.Slot)
		var hdr [HeaderSize]byte
		if err := b.src.read(hdr[:]); err != nil {
			b.srcErr = err
		} else {
			h := parseHeader(hdr[:])
			if err := h.validate(); err != nil {
				b.srcErr = fmt.Errorf("%w: source header: %w", ErrCorruptedEntry, err)
			}
			b.srcRemaining = int(h.count)
		}
	}

	if err := dev.EraseBlock32K(layout.SlotAddress(b.gen.Slot)); err != nil {
		return nil, err
	}

	sum.Reset()
	b.guard = leak.Watch(b, "allocation table builder")
	return b, nil
}

// Generation returns the generation being written.
func (b *Builder) Generation() Generation {
	return b.gen
}

// ReadNext returns the next entry of the source table. ok is false once the
// source footer has been reached. After an error every further call returns
// the same error.
func (b *Builder) ReadNext() (e Entry, ok bool, err error) {
	if b.srcErr != nil {
		return Entry{}, false, b.srcErr
	}
	if b.srcDone {
		return Entry{}, false, nil
	}

	var raw [RecordSize]byte
	if err := b.src.read(raw[:]); err != nil {
		b.srcErr = err
		return Entry{}, false, err
	}
	rec := parseRecord(raw[:])

	if rec.footer {
		if b.srcRemaining != 0 {
			b.srcErr = fmt.Errorf("%w: footer with %d entries missing", ErrCorruptedEntry, b.srcRemaining)
			return Entry{}, false, b.srcErr
		}
		b.srcDone = true
		return Entry{}, false, nil
	}
	if b.srcRemaining == 0 {
		b.srcErr = fmt.Errorf("%w: missing footer", ErrCorruptedEntry)
		return Entry{}, false, b.srcErr
	}
	if err := validateEntry(rec.entry, b.srcPrev, b.dataSectors); err != nil {
		b.srcErr = err
		return Entry{}, false, err
	}

	b.srcRemaining--
	b.srcPrev = rec.entry.ID
	return rec.entry, true, nil
}

// Write appends e to the new generation. Entries must be written in
// ascending id order.
func (b *Builder) Write(e Entry) error {
	if b.done {
		return ErrBuilderDone
	}
	if b.err != nil {
		return b.err
	}
	if e.ID <= b.prevID {
		return fmt.Errorf("%w: %d after %d", ErrUnordered, e.ID, b.prevID)
	}
	if b.gen.Count >= MaxFiles {
		return ErrTableFull
	}

	var raw [RecordSize]byte
	putEntry(raw[:], e)
	b.sum.Update(raw[:])
	if err := b.append(raw[:]); err != nil {
		return err
	}

	b.prevID = e.ID
	b.gen.Count++
	b.gen.MaxFileID = max(b.gen.MaxFileID, e.ID)
	return nil
}

// WriteNewFile appends a file with the next unused id.
func (b *Builder) WriteNewFile(typ uint16, firstSector uint16) (Entry, error) {
	e := Entry{ID: b.gen.MaxFileID + 1, Type: typ, FirstSector: firstSector}
	if err := b.Write(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// CopyRest copies every remaining source entry, applying fn to each. fn
// returns the entry to write and whether to keep it.
func (b *Builder) CopyRest(fn func(Entry) (Entry, bool)) error {
	for {
		e, ok, err := b.ReadNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if fn != nil {
			var keep bool
			if e, keep = fn(e); !keep {
				continue
			}
		}
		if err := b.Write(e); err != nil {
			return err
		}
	}
}

// Commit writes the footer and checksum, then programs the header page.
func (b *Builder) Commit() (Generation, error) {
	if b.done {
		return Generation{}, ErrBuilderDone
	}
	if b.err != nil {
		return Generation{}, b.err
	}

	var footer [RecordSize]byte
	putFooter(footer[:], b.gen.MaxFileID, b.gen.Count)
	b.sum.Update(footer[:])
	if err := b.append(footer[:]); err != nil {
		return Generation{}, err
	}

	putHeader(b.first[:], header{version: FormatVersion, sequence: b.gen.Sequence, count: uint32(b.gen.Count)})
	b.sum.Update(b.first[:HeaderSize])

	var crc [ChecksumSize]byte
	binary.BigEndian.PutUint32(crc[:], b.sum.Sum32())
	if err := b.append(crc[:]); err != nil {
		return Generation{}, err
	}

	if idx := b.off / layout.PageSize; idx > 0 && b.off%layout.PageSize != 0 {
		if err := b.flushPage(idx); err != nil {
			return Generation{}, err
		}
	}
	if err := b.dev.WritePage(layout.SlotAddress(b.gen.Slot), b.first[:]); err != nil {
		b.err = err
		return Generation{}, err
	}

	b.finish()
	return b.gen, nil
}

// Abort abandons the generation. The target slot keeps an erased header and
// stays invalid.
func (b *Builder) Abort() {
	if !b.done {
		b.finish()
	}
}

func (b *Builder) finish() {
	b.done = true
	b.guard.Release()
}

// append writes p at the current offset. The first page stays in memory;
// later pages are programmed as they fill.
func (b *Builder) append(p []byte) error {
	for len(p) > 0 {
		idx := b.off / layout.PageSize
		if idx >= layout.TableSlotSize/layout.PageSize {
			b.err = ErrTableFull
			return b.err
		}
		buf := b.page[:]
		if idx == 0 {
			buf = b.first[:]
		}
		n := copy(buf[b.off%layout.PageSize:], p)
		b.off += n
		p = p[n:]

		if idx > 0 && b.off%layout.PageSize == 0 {
			if err := b.flushPage(idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) flushPage(idx int) error {
	addr := layout.SlotAddress(b.gen.Slot) + uint32(idx*layout.PageSize)
	if err := b.dev.WritePage(addr, b.page[:]); err != nil {
		b.err = err
		return err
	}
	fillErased(b.page[:])
	return nil
}

func fillErased(p []byte) {
	for i := range p {
		p[i] = flash.Erased
	}
}
