package alloctable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
)

// SlotStatus describes one probed slot.
type SlotStatus struct {
	Slot     int
	Sequence uint32
	Files    int
	// Err is nil for a valid slot.
	Err error
}

// Valid reports whether the slot holds a complete generation.
func (s SlotStatus) Valid() bool {
	return s.Err == nil
}

// Report is the outcome of probing every slot.
type Report struct {
	Slots []SlotStatus
	// Found is false when no slot validated and an empty table was returned.
	Found bool
}

// Recover probes every slot and returns the valid generation with the highest
// sequence number. When no slot is valid it returns Empty() with
// Report.Found false; the caller is expected to bootstrap a generation.
//
// Only flash errors are returned as errors. Invalid slots are reported in
// the Report.
func Recover(dev flash.Flash, sum checksum.Checksum, dataSectors int) (Table, Report, error) {
	best := Empty()
	report := Report{Slots: make([]SlotStatus, 0, layout.TableSlots)}

	for slot := 0; slot < layout.TableSlots; slot++ {
		t, err := ReadSlot(dev, sum, slot, dataSectors)
		status := SlotStatus{Slot: slot, Sequence: t.Sequence, Files: t.Len(), Err: err}
		if err != nil && !isFormatError(err) {
			return Table{}, report, err
		}
		report.Slots = append(report.Slots, status)
		if err != nil {
			continue
		}
		if !report.Found || t.Sequence > best.Sequence {
			best = t
			report.Found = true
		}
	}
	return best, report, nil
}

func isFormatError(err error) bool {
	return errors.Is(err, ErrCorruptedEntry) ||
		errors.Is(err, errVersion) ||
		errors.Is(err, errCount) ||
		errors.Is(err, errFooter) ||
		errors.Is(err, errChecksum)
}

// ReadSlot decodes and validates one slot.
func ReadSlot(dev flash.Flash, sum checksum.Checksum, slot int, dataSectors int) (Table, error) {
	r := newSlotReader(dev, slot)

	var hdrBuf [HeaderSize]byte
	if err := r.read(hdrBuf[:]); err != nil {
		return Table{}, err
	}
	h := parseHeader(hdrBuf[:])
	if err := h.validate(); err != nil {
		return Table{}, err
	}

	t := Table{
		Sequence: h.sequence,
		Slot:     slot,
		Entries:  make([]Entry, 0, h.count),
	}

	sum.Reset()
	var rec [RecordSize]byte
	var prev uint64
	for i := uint32(0); i < h.count; i++ {
		if err := r.read(rec[:]); err != nil {
			return Table{}, err
		}
		sum.Update(rec[:])
		parsed := parseRecord(rec[:])
		if parsed.footer {
			return Table{}, fmt.Errorf("%w: footer after %d of %d entries", errFooter, i, h.count)
		}
		if err := validateEntry(parsed.entry, prev, dataSectors); err != nil {
			return Table{}, err
		}
		prev = parsed.entry.ID
		t.Entries = append(t.Entries, parsed.entry)
	}

	if err := r.read(rec[:]); err != nil {
		return Table{}, err
	}
	sum.Update(rec[:])
	footer := parseRecord(rec[:])
	if !footer.footer || footer.count != int(h.count) {
		return Table{}, errFooter
	}
	if footer.maxFileID < prev {
		return Table{}, fmt.Errorf("%w: max file id %d below %d", errFooter, footer.maxFileID, prev)
	}
	t.MaxFileID = footer.maxFileID

	var crcBuf [ChecksumSize]byte
	if err := r.read(crcBuf[:]); err != nil {
		return Table{}, err
	}
	sum.Update(hdrBuf[:])
	if got, want := sum.Sum32(), binary.BigEndian.Uint32(crcBuf[:]); got != want {
		return Table{}, fmt.Errorf("%w: got %#08x want %#08x", errChecksum, got, want)
	}

	return t, nil
}

// IsErased reports whether the slot has never been written since its last
// erase. It only inspects the header.
func IsErased(dev flash.Flash, slot int) (bool, error) {
	var hdr [HeaderSize]byte
	if err := dev.ReadBlock(layout.SlotAddress(slot), hdr[:]); err != nil {
		return false, err
	}
	return bytes.Equal(hdr[:], bytes.Repeat([]byte{flash.Erased}, HeaderSize)), nil
}
