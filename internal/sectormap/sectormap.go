package sectormap

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
)

const (
	sectorsPer32K = 8
	sectorsPer64K = 16
)

// Region is a run of free sectors aligned to its own size.
type Region struct {
	Start uint16
	Count int // 1, 8 or 16
}

// Map is a used-sector map. It is not safe for concurrent use.
type Map struct {
	used   *roaring.Bitmap
	used32 *bitset.BitSet
	used64 *bitset.BitSet
	total  uint32
}

// New returns a map of total free sectors. total should be a multiple of 16;
// a trailing partial block is only handed out sector by sector.
func New(total int) *Map {
	return &Map{
		used:   roaring.New(),
		used32: bitset.New(uint(total / sectorsPer32K)),
		used64: bitset.New(uint(total / sectorsPer64K)),
		total:  uint32(total),
	}
}

// Total returns the number of sectors tracked.
func (m *Map) Total() int {
	return int(m.total)
}

// Free returns the number of free sectors.
func (m *Map) Free() int {
	return int(uint64(m.total) - m.used.GetCardinality())
}

// IsUsed reports whether idx is in use.
func (m *Map) IsUsed(idx uint16) bool {
	return m.used.Contains(uint32(idx))
}

// InRange reports whether idx is a valid sector index.
func (m *Map) InRange(idx uint16) bool {
	return uint32(idx) < m.total
}

// SetUsed marks idx as used. It reports false if it already was.
func (m *Map) SetUsed(idx uint16) bool {
	if !m.used.CheckedAdd(uint32(idx)) {
		return false
	}
	m.used32.Set(uint(idx) / sectorsPer32K)
	m.used64.Set(uint(idx) / sectorsPer64K)
	return true
}

// SetFree marks idx as free and clears the block summaries that became free.
func (m *Map) SetFree(idx uint16) {
	if !m.used.CheckedRemove(uint32(idx)) {
		return
	}
	b32 := uint32(idx) / sectorsPer32K
	if !m.anyUsed(b32*sectorsPer32K, (b32+1)*sectorsPer32K) {
		m.used32.Clear(uint(b32))
	}
	b64 := uint32(idx) / sectorsPer64K
	if !m.anyUsed(b64*sectorsPer64K, (b64+1)*sectorsPer64K) {
		m.used64.Clear(uint(b64))
	}
}

// SetRegionUsed marks every sector of r as used.
func (m *Map) SetRegionUsed(r Region) {
	for i := 0; i < r.Count; i++ {
		m.SetUsed(r.Start + uint16(i))
	}
}

// anyUsed reports whether any sector in [lo, hi) is used.
func (m *Map) anyUsed(lo, hi uint32) bool {
	n := m.used.Rank(hi - 1)
	if lo > 0 {
		n -= m.used.Rank(lo - 1)
	}
	return n > 0
}

// FindRegion returns a free region, preferring a whole 64 KiB block, then a
// 32 KiB block, then a single sector. The search starts at sector start and
// wraps around, which spreads wear when start is randomized.
func (m *Map) FindRegion(start uint32) (Region, bool) {
	if m.total == 0 || m.Free() == 0 {
		return Region{}, false
	}
	start %= m.total

	if b, ok := nextClear(m.used64, uint(start/sectorsPer64K), uint(m.total/sectorsPer64K)); ok {
		return Region{Start: uint16(b * sectorsPer64K), Count: sectorsPer64K}, true
	}
	if b, ok := nextClear(m.used32, uint(start/sectorsPer32K), uint(m.total/sectorsPer32K)); ok {
		return Region{Start: uint16(b * sectorsPer32K), Count: sectorsPer32K}, true
	}

	for i := uint32(0); i < m.total; i++ {
		idx := (start + i) % m.total
		if !m.used.Contains(idx) {
			return Region{Start: uint16(idx), Count: 1}, true
		}
	}
	return Region{}, false
}

// nextClear finds the first clear bit at or after from, wrapping around once.
func nextClear(b *bitset.BitSet, from, n uint) (uint, bool) {
	if n == 0 {
		return 0, false
	}
	if idx, ok := b.NextClear(from); ok && idx < n {
		return idx, true
	}
	if idx, ok := b.NextClear(0); ok && idx < n && idx < from {
		return idx, true
	}
	return 0, false
}

// Used returns an iterator over used sectors in ascending order.
func (m *Map) Used() iter.Seq[uint16] {
	return func(yield func(uint16) bool) {
		it := m.used.Iterator()
		for it.HasNext() {
			if !yield(uint16(it.Next())) {
				return
			}
		}
	}
}

// Clear marks every sector free.
func (m *Map) Clear() {
	m.used.Clear()
	m.used32.ClearAll()
	m.used64.ClearAll()
}
