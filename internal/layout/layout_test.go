package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapacities(t *testing.T) {
	assert.Equal(t, 252, MaxPageData)
	assert.Equal(t, 236, MaxTerminalPageData)
	assert.Equal(t, 4016, MaxSectorData)
	assert.Equal(t, 128*1024, HeadSize)
}

func TestDataSectors(t *testing.T) {
	assert.Equal(t, 16352, DataSectors(64*1024*1024))
	assert.Equal(t, 0, DataSectors(HeadSize))
	assert.Equal(t, 0, DataSectors(0))
}

func TestPageAddress(t *testing.T) {
	base := SectorAddress(3)
	assert.Equal(t, uint32(HeadSize+3*SectorSize), base)

	assert.Equal(t, base, PageAddress(base, 0))
	assert.Equal(t, base, PageAddress(base, 1))
	assert.Equal(t, base, PageAddress(base, 252))
	assert.Equal(t, base+PageSize, PageAddress(base, 253))
	assert.Equal(t, base+TerminalPageOffset, PageAddress(base, 3781))
	assert.Equal(t, base+TerminalPageOffset, PageAddress(base, MaxSectorData))
}

func TestIsTerminalPage(t *testing.T) {
	assert.False(t, IsTerminalPage(0))
	assert.False(t, IsTerminalPage(3780))
	assert.True(t, IsTerminalPage(3781))
}

func TestPad4(t *testing.T) {
	for in, want := range map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8, 252: 252, 233: 236} {
		assert.Equal(t, want, Pad4(in), "pad4(%d)", in)
	}
}
