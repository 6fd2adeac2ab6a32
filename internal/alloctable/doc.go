// Package alloctable implements the allocation table: the persisted directory
// of files, its on-flash codec, mount-time recovery, and the streaming builder
// used to write a new generation.
//
// # Slots and generations
//
// The head region holds TableSlots slots of TableSlotSize bytes. Every
// structural change writes a complete new generation into the next slot
// (round robin) with a sequence number one higher than the current one. At
// mount the valid generation with the highest sequence number wins.
//
// # Binary format
//
// All integers are big-endian.
//
//	Header (12 bytes):
//	  Version    u32
//	  Sequence   u32
//	  Count      u32
//	Entries (Count x 12 bytes):
//	  FileID     u64
//	  FileType   u16
//	  FirstSector u16   (0xFFFF: no sector)
//	Footer (12 bytes):
//	  MaxFileID  u64
//	  Marker     u16    (0xFFFF)
//	  Count      u16
//	Checksum (4 bytes): over Entries, Footer, then Header.
//
// The footer has the size of an entry and carries the reserved file type as
// its marker, so a stream of 12-byte records ends at the first record whose
// type is 0xFFFF.
//
// # Crash safety
//
// The builder buffers the first page (which holds the header) and programs
// it last, after the checksum. Until then the slot's version field reads as
// erased flash and the slot is invalid, so an interrupted rewrite can never
// be mistaken for a complete generation.
package alloctable
