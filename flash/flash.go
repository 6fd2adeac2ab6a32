package flash

import (
	"errors"
	"fmt"
)

const (
	// PageSize is the program unit.
	PageSize = 256
	// SectorSize is the 4 KiB erase unit.
	SectorSize = 4 * 1024
	// Block32KSize is the 32 KiB erase unit.
	Block32KSize = 32 * 1024
	// Block64KSize is the 64 KiB erase unit.
	Block64KSize = 64 * 1024
	// MaxReadLength is the largest single bus read.
	MaxReadLength = 4 * 1024

	// Erased is the value of every byte after an erase.
	Erased = 0xFF
)

var (
	// ErrOutOfRange is returned for accesses beyond the device size.
	ErrOutOfRange = errors.New("flash: address out of range")
	// ErrUnaligned is returned for misaligned erases and page-crossing writes.
	ErrUnaligned = errors.New("flash: unaligned access")
	// ErrTooLong is returned for reads above MaxReadLength.
	ErrTooLong = errors.New("flash: transfer too long")
	// ErrUnsupported is returned by devices unavailable on this platform.
	ErrUnsupported = errors.New("flash: unsupported on this platform")
)

// Flash is a NOR flash device.
type Flash interface {
	// Size returns the device size in bytes.
	Size() uint32
	// Reset brings the device into a known state.
	Reset() error
	// EraseSector4K erases the 4 KiB sector at address.
	EraseSector4K(address uint32) error
	// EraseBlock32K erases the 32 KiB block at address.
	EraseBlock32K(address uint32) error
	// EraseBlock64K erases the 64 KiB block at address.
	EraseBlock64K(address uint32) error
	// ReadBlock reads len(p) <= MaxReadLength bytes at address.
	ReadBlock(address uint32, p []byte) error
	// WritePage programs p at address. The write must not cross a page boundary.
	WritePage(address uint32, p []byte) error
}

// Read reads len(p) bytes at address, splitting the transfer into
// MaxReadLength chunks.
func Read(dev Flash, address uint32, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), MaxReadLength)
		if err := dev.ReadBlock(address, p[:n]); err != nil {
			return err
		}
		address += uint32(n)
		p = p[n:]
	}
	return nil
}

// Write programs len(p) bytes at address, splitting the transfer at page
// boundaries.
func Write(dev Flash, address uint32, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), PageSize-int(address%PageSize))
		if err := dev.WritePage(address, p[:n]); err != nil {
			return err
		}
		address += uint32(n)
		p = p[n:]
	}
	return nil
}

// Erase erases [address, address+length) using the largest erase granularity
// that fits at each step. Both bounds must be sector aligned.
func Erase(dev Flash, address, length uint32) error {
	if address%SectorSize != 0 || length%SectorSize != 0 {
		return fmt.Errorf("%w: erase %#x+%#x", ErrUnaligned, address, length)
	}
	end := address + length
	for address < end {
		var err error
		switch {
		case address%Block64KSize == 0 && end-address >= Block64KSize:
			err = dev.EraseBlock64K(address)
			address += Block64KSize
		case address%Block32KSize == 0 && end-address >= Block32KSize:
			err = dev.EraseBlock32K(address)
			address += Block32KSize
		default:
			err = dev.EraseSector4K(address)
			address += SectorSize
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checkErase(size, address, unit uint32) error {
	if address%unit != 0 {
		return fmt.Errorf("%w: erase %#x not aligned to %#x", ErrUnaligned, address, unit)
	}
	if uint64(address)+uint64(unit) > uint64(size) {
		return fmt.Errorf("%w: erase %#x+%#x", ErrOutOfRange, address, unit)
	}
	return nil
}

func checkRead(size, address uint32, n int) error {
	if n > MaxReadLength {
		return fmt.Errorf("%w: read of %d bytes", ErrTooLong, n)
	}
	if uint64(address)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: read %#x+%d", ErrOutOfRange, address, n)
	}
	return nil
}

func checkWrite(size, address uint32, n int) error {
	if int(address%PageSize)+n > PageSize {
		return fmt.Errorf("%w: write %#x+%d crosses a page", ErrUnaligned, address, n)
	}
	if uint64(address)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: write %#x+%d", ErrOutOfRange, address, n)
	}
	return nil
}

// program applies NOR program semantics: bits can only be cleared.
func program(dst, src []byte) {
	for i, b := range src {
		dst[i] &= b
	}
}

func fill(dst []byte, v byte) {
	for i := range dst {
		dst[i] = v
	}
}
