package sectormap

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMapIsFree(t *testing.T) {
	m := New(64)
	assert.Equal(t, 64, m.Total())
	assert.Equal(t, 64, m.Free())
	assert.False(t, m.IsUsed(0))
	assert.True(t, m.InRange(63))
	assert.False(t, m.InRange(64))
}

func TestSetUsedAndFree(t *testing.T) {
	m := New(64)

	assert.True(t, m.SetUsed(5))
	assert.False(t, m.SetUsed(5))
	assert.True(t, m.IsUsed(5))
	assert.Equal(t, 63, m.Free())

	m.SetFree(5)
	assert.False(t, m.IsUsed(5))
	assert.Equal(t, 64, m.Free())

	// Freeing a free sector is a no-op.
	m.SetFree(5)
	assert.Equal(t, 64, m.Free())
}

func TestFindRegionPrefers64K(t *testing.T) {
	m := New(64)
	m.SetUsed(3) // dirties block 0

	r, ok := m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 16, Count: 16}, r)
}

func TestFindRegionFallsBackTo32KThenSector(t *testing.T) {
	m := New(32)
	m.SetUsed(0)  // dirties 64K block 0 and 32K block 0
	m.SetUsed(16) // dirties 64K block 1 and 32K block 2

	r, ok := m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 8, Count: 8}, r)
	m.SetRegionUsed(r)

	r, ok = m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 24, Count: 8}, r)
	m.SetRegionUsed(r)

	r, ok = m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 1, Count: 1}, r)
}

func TestFindRegionWrapsAround(t *testing.T) {
	m := New(48)
	m.SetUsed(40)

	r, ok := m.FindRegion(40)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 0, Count: 16}, r)
}

func TestFreeingLastSectorRestoresBlock(t *testing.T) {
	m := New(16)
	m.SetUsed(2)
	m.SetUsed(9)

	m.SetFree(2)
	r, ok := m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 0, Count: 8}, r)

	m.SetFree(9)
	r, ok = m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 0, Count: 16}, r)
}

func TestExhaustion(t *testing.T) {
	m := New(16)
	for {
		r, ok := m.FindRegion(7)
		if !ok {
			break
		}
		m.SetRegionUsed(r)
	}
	assert.Equal(t, 0, m.Free())

	m.SetFree(11)
	r, ok := m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, Region{Start: 11, Count: 1}, r)
}

func TestUsedIteratesAscending(t *testing.T) {
	m := New(64)
	for _, idx := range []uint16{40, 2, 17} {
		m.SetUsed(idx)
	}
	assert.Equal(t, []uint16{2, 17, 40}, slices.Collect(m.Used()))

	m.Clear()
	assert.Equal(t, 64, m.Free())
	r, ok := m.FindRegion(0)
	require.True(t, ok)
	assert.Equal(t, 16, r.Count)
}
