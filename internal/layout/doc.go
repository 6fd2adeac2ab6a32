// Package layout defines the on-flash geometry.
//
// The address space is split into a head region holding the allocation table
// slots and a data region of 4 KiB sectors:
//
//	0        32K      64K      96K      128K                          Size
//	+--------+--------+--------+--------+-----------------------------+
//	| slot 0 | slot 1 | slot 2 | slot 3 | sector 0 | sector 1 | ...   |
//	+--------+--------+--------+--------+-----------------------------+
//
// Each sector holds 16 pages of 256 bytes. Pages 0..14 carry up to 252 data
// bytes followed by a CRC. Page 15 (the terminal page) carries up to 236 data
// bytes, a CRC, and the sector tail:
//
//	... data | crc | 0xFF padding | length x4 (8B) | next x4 (8B)
//
// The tail fields are decoded by majority vote (package quad).
package layout
