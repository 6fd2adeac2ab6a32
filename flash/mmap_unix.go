//go:build !windows

package flash

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapFile is a flash device backed by a shared memory mapping of an image
// file. Changes reach the file through the page cache; call Sync to force
// them to disk.
type MmapFile struct {
	mu   sync.RWMutex
	f    *os.File
	data []byte
}

// OpenMmapFile maps the image at path, creating it with erased contents if
// it is missing or shorter than size.
func OpenMmapFile(path string, size uint32) (*MmapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() < int64(size) {
		if err := extendErased(f, info.Size(), int64(size)); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	return &MmapFile{f: f, data: data}, nil
}

// Size implements Flash.
func (m *MmapFile) Size() uint32 {
	return uint32(len(m.data))
}

// Reset implements Flash.
func (m *MmapFile) Reset() error {
	return nil
}

// EraseSector4K implements Flash.
func (m *MmapFile) EraseSector4K(address uint32) error {
	return m.erase(address, SectorSize)
}

// EraseBlock32K implements Flash.
func (m *MmapFile) EraseBlock32K(address uint32) error {
	return m.erase(address, Block32KSize)
}

// EraseBlock64K implements Flash.
func (m *MmapFile) EraseBlock64K(address uint32) error {
	return m.erase(address, Block64KSize)
}

func (m *MmapFile) erase(address, unit uint32) error {
	if err := checkErase(m.Size(), address, unit); err != nil {
		return err
	}
	m.mu.Lock()
	fill(m.data[address:address+unit], Erased)
	m.mu.Unlock()
	return nil
}

// ReadBlock implements Flash.
func (m *MmapFile) ReadBlock(address uint32, p []byte) error {
	if err := checkRead(m.Size(), address, len(p)); err != nil {
		return err
	}
	m.mu.RLock()
	copy(p, m.data[address:])
	m.mu.RUnlock()
	return nil
}

// WritePage implements Flash.
func (m *MmapFile) WritePage(address uint32, p []byte) error {
	if err := checkWrite(m.Size(), address, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	program(m.data[address:], p)
	m.mu.Unlock()
	return nil
}

// Sync flushes dirty pages of the mapping to the file.
func (m *MmapFile) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps and closes the image.
func (m *MmapFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
