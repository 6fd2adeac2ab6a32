// Package sectormap tracks which data sectors are in use.
//
// The map is session-local: it is never persisted, and the filesystem rebuilds
// it at mount by walking every file's sector chain.
//
// Three levels are kept in sync:
//
//   - a roaring bitmap of used 4 KiB sectors,
//   - a bitset of 32 KiB blocks holding at least one used sector,
//   - a bitset of 64 KiB blocks holding at least one used sector.
//
// The coarse levels let [Map.FindRegion] hand out whole free blocks, so the
// caller can erase 16 sectors with one 64 KiB erase instead of sixteen 4 KiB
// erases.
package sectormap
