// Package quad encodes small integers as four redundant copies and decodes
// them by majority vote.
//
// Sector metadata lives in the last bytes of a sector and cannot be protected
// by a page checksum (it is written together with, or after, the data the
// checksum covers). Instead each 16-bit field is stored four times:
//
//	+--------+--------+--------+--------+
//	| copy 0 | copy 1 | copy 2 | copy 3 |   8 bytes, big-endian u16 each
//	+--------+--------+--------+--------+
//
// Any two agreeing copies win. A single corrupted copy is always tolerated.
// Two copies corrupted to disagree with each other and with the rest yield
// "unknown" instead of a silently wrong value.
package quad
