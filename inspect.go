package norfs

import (
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/alloctable"
)

// SlotInfo describes one allocation table slot.
type SlotInfo struct {
	Slot     int
	Sequence uint32
	Files    int
	// Current marks the slot Mount would recover.
	Current bool
	// Erased marks an invalid slot that was never written since its last
	// erase, as opposed to a damaged one.
	Erased bool
	// Err explains why the slot is invalid. It is nil for valid slots.
	Err error
}

// Valid reports whether the slot holds a complete table generation.
func (s SlotInfo) Valid() bool {
	return s.Err == nil
}

// Inspect probes every allocation table slot of dev without mounting it.
// Only the checksum option is used. Flash errors are returned as *FlashError.
func Inspect(dev flash.Flash, optFns ...Option) ([]SlotInfo, error) {
	o := applyOptions(optFns)

	dataSectors, err := checkGeometry(dev.Size())
	if err != nil {
		return nil, err
	}

	table, report, err := alloctable.Recover(device{Flash: dev}, o.checksum, dataSectors)
	if err != nil {
		return nil, translateError(err)
	}

	slots := make([]SlotInfo, 0, len(report.Slots))
	for _, s := range report.Slots {
		info := SlotInfo{
			Slot:     s.Slot,
			Sequence: s.Sequence,
			Files:    s.Files,
			Current:  report.Found && s.Valid() && s.Slot == table.Slot,
			Err:      s.Err,
		}
		if !s.Valid() {
			erased, err := alloctable.IsErased(device{Flash: dev}, s.Slot)
			if err != nil {
				return nil, translateError(err)
			}
			info.Erased = erased
		}
		slots = append(slots, info)
	}
	return slots, nil
}
