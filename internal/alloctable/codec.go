package alloctable

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
)

const (
	// FormatVersion is the on-flash format version.
	FormatVersion = 1

	HeaderSize   = 12
	RecordSize   = 12
	ChecksumSize = 4

	// MaxFiles is the number of entries that fit in one slot.
	MaxFiles = (layout.TableSlotSize - HeaderSize - RecordSize - ChecksumSize) / RecordSize

	// FooterMarker is the file type value reserved for the footer record.
	FooterMarker uint16 = 0xFFFF
)

type header struct {
	version  uint32
	sequence uint32
	count    uint32
}

func putHeader(b []byte, h header) {
	binary.BigEndian.PutUint32(b[0:], h.version)
	binary.BigEndian.PutUint32(b[4:], h.sequence)
	binary.BigEndian.PutUint32(b[8:], h.count)
}

func parseHeader(b []byte) header {
	return header{
		version:  binary.BigEndian.Uint32(b[0:]),
		sequence: binary.BigEndian.Uint32(b[4:]),
		count:    binary.BigEndian.Uint32(b[8:]),
	}
}

func (h header) validate() error {
	if h.version != FormatVersion {
		return fmt.Errorf("%w: %#x", errVersion, h.version)
	}
	if h.count > MaxFiles {
		return fmt.Errorf("%w: %d", errCount, h.count)
	}
	return nil
}

func putEntry(b []byte, e Entry) {
	binary.BigEndian.PutUint64(b[0:], e.ID)
	binary.BigEndian.PutUint16(b[8:], e.Type)
	binary.BigEndian.PutUint16(b[10:], e.FirstSector)
}

func putFooter(b []byte, maxFileID uint64, count int) {
	binary.BigEndian.PutUint64(b[0:], maxFileID)
	binary.BigEndian.PutUint16(b[8:], FooterMarker)
	binary.BigEndian.PutUint16(b[10:], uint16(count))
}

// record is a decoded 12-byte record: either an entry or the footer.
type record struct {
	entry     Entry
	footer    bool
	maxFileID uint64
	count     int
}

func parseRecord(b []byte) record {
	id := binary.BigEndian.Uint64(b[0:])
	typ := binary.BigEndian.Uint16(b[8:])
	last := binary.BigEndian.Uint16(b[10:])
	if typ == FooterMarker {
		return record{footer: true, maxFileID: id, count: int(last)}
	}
	return record{entry: Entry{ID: id, Type: typ, FirstSector: last}}
}

// validateEntry checks the structural invariants of an entry that follows
// an entry with id prev.
func validateEntry(e Entry, prev uint64, dataSectors int) error {
	if e.ID == 0 {
		return fmt.Errorf("%w: zero file id", ErrCorruptedEntry)
	}
	if e.ID <= prev {
		return fmt.Errorf("%w: file id %d after %d", ErrCorruptedEntry, e.ID, prev)
	}
	if e.HasSector() && int(e.FirstSector) >= dataSectors {
		return fmt.Errorf("%w: file %d first sector %d out of range", ErrCorruptedEntry, e.ID, e.FirstSector)
	}
	return nil
}

// slotReader streams a slot in bus-sized chunks.
type slotReader struct {
	dev  flash.Flash
	addr uint32
	end  uint32
	buf  [flash.MaxReadLength]byte
	pos  int
	n    int
}

func newSlotReader(dev flash.Flash, slot int) *slotReader {
	addr := layout.SlotAddress(slot)
	return &slotReader{dev: dev, addr: addr, end: addr + layout.TableSlotSize}
}

// read fills p from the slot.
func (r *slotReader) read(p []byte) error {
	for len(p) > 0 {
		if r.pos == r.n {
			if r.addr >= r.end {
				return fmt.Errorf("%w: record past end of slot", ErrCorruptedEntry)
			}
			n := min(len(r.buf), int(r.end-r.addr))
			if err := r.dev.ReadBlock(r.addr, r.buf[:n]); err != nil {
				return err
			}
			r.addr += uint32(n)
			r.pos, r.n = 0, n
		}
		c := copy(p, r.buf[r.pos:r.n])
		r.pos += c
		p = p[c:]
	}
	return nil
}
