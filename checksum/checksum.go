package checksum

import (
	"hash"
	"hash/crc32"
)

// Checksum is a streaming 32-bit checksum.
type Checksum interface {
	// Reset clears the running state.
	Reset()
	// Update feeds p into the running checksum.
	Update(p []byte)
	// Sum32 returns the checksum of everything fed since the last Reset.
	Sum32() uint32
}

// Calculate resets c and returns the checksum of p.
func Calculate(c Checksum, p []byte) uint32 {
	c.Reset()
	c.Update(p)
	return c.Sum32()
}

// crc32cTable is pre-computed for CRC32-Castagnoli polynomial.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

type crc32c struct {
	h hash.Hash32
}

// NewCRC32C returns a CRC32-Castagnoli Checksum.
func NewCRC32C() Checksum {
	return &crc32c{h: crc32.New(crc32cTable)}
}

func (c *crc32c) Reset() { c.h.Reset() }

func (c *crc32c) Update(p []byte) { _, _ = c.h.Write(p) }

func (c *crc32c) Sum32() uint32 { return c.h.Sum32() }

// DummyValue is the constant returned by Dummy.
const DummyValue = 0x69696969

// Dummy is a Checksum that ignores its input.
type Dummy struct{}

func (Dummy) Reset() {}

func (Dummy) Update([]byte) {}

func (Dummy) Sum32() uint32 { return DummyValue }
