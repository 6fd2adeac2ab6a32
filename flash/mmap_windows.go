//go:build windows

package flash

// MmapFile is not available on windows.
type MmapFile struct {
	Memory
}

// OpenMmapFile returns ErrUnsupported on windows.
func OpenMmapFile(path string, size uint32) (*MmapFile, error) {
	return nil, ErrUnsupported
}

// Sync is a no-op.
func (m *MmapFile) Sync() error { return nil }

// Close is a no-op.
func (m *MmapFile) Close() error { return nil }
