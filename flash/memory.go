package flash

import "sync"

// Memory is an in-memory NOR flash device.
//
// A fresh device is fully erased. Programming ANDs the new bytes into the
// existing contents, so writing a page twice without an erase behaves like
// real hardware: the result is the bitwise AND of both writes.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory creates an erased device of the given size.
func NewMemory(size uint32) *Memory {
	data := make([]byte, size)
	fill(data, Erased)
	return &Memory{data: data}
}

// NewMemoryFrom creates a device holding a copy of image.
func NewMemoryFrom(image []byte) *Memory {
	data := make([]byte, len(image))
	copy(data, image)
	return &Memory{data: data}
}

// Size implements Flash.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Reset implements Flash.
func (m *Memory) Reset() error {
	return nil
}

// EraseSector4K implements Flash.
func (m *Memory) EraseSector4K(address uint32) error {
	return m.erase(address, SectorSize)
}

// EraseBlock32K implements Flash.
func (m *Memory) EraseBlock32K(address uint32) error {
	return m.erase(address, Block32KSize)
}

// EraseBlock64K implements Flash.
func (m *Memory) EraseBlock64K(address uint32) error {
	return m.erase(address, Block64KSize)
}

func (m *Memory) erase(address, unit uint32) error {
	if err := checkErase(m.Size(), address, unit); err != nil {
		return err
	}
	m.mu.Lock()
	fill(m.data[address:address+unit], Erased)
	m.mu.Unlock()
	return nil
}

// ReadBlock implements Flash.
func (m *Memory) ReadBlock(address uint32, p []byte) error {
	if err := checkRead(m.Size(), address, len(p)); err != nil {
		return err
	}
	m.mu.RLock()
	copy(p, m.data[address:])
	m.mu.RUnlock()
	return nil
}

// WritePage implements Flash.
func (m *Memory) WritePage(address uint32, p []byte) error {
	if err := checkWrite(m.Size(), address, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	program(m.data[address:], p)
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the whole device contents.
func (m *Memory) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Poke overwrites raw bytes at address, bypassing NOR semantics.
// It exists to simulate bit rot in tests.
func (m *Memory) Poke(address uint32, p []byte) {
	m.mu.Lock()
	copy(m.data[address:], p)
	m.mu.Unlock()
}
