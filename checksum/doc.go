// Package checksum provides the checksum capability used to protect pages and
// allocation table generations.
//
// On the flight computer the checksum is computed by a hardware CRC unit that
// is shared between tasks, so the interface is stateful and streaming:
//
//	c.Reset()
//	c.Update(chunk1)
//	c.Update(chunk2)
//	sum := c.Sum32()
//
// Implementations need not be safe for concurrent use. The filesystem
// serializes access with its own lock.
//
// # CRC32-Castagnoli (CRC32C)
//
// [NewCRC32C] is the default. Go's hash/crc32 uses hardware instructions
// (SSE4.2, ARM CRC) when available.
//
// # Dummy
//
// [Dummy] returns a constant. It is useful for board bring-up when the
// hardware CRC unit is not yet configured, and it disables corruption
// detection entirely.
package checksum
