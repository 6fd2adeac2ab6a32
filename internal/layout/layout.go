package layout

const (
	// PageSize is the flash program unit.
	PageSize = 256
	// SectorSize is the smallest erase unit and the unit of file chaining.
	SectorSize = 4096
	// PagesPerSector is the number of pages in a sector.
	PagesPerSector = SectorSize / PageSize

	// Block32K and Block64K are the coarse erase granularities.
	Block32K = 32 * 1024
	Block64K = 64 * 1024

	// SectorsPer32K and SectorsPer64K are erase block sizes in sectors.
	SectorsPer32K = Block32K / SectorSize
	SectorsPer64K = Block64K / SectorSize

	// TableSlots is the number of allocation table slots.
	TableSlots = 4
	// TableSlotSize is the size of one slot. Slots are erased as 32 KiB blocks.
	TableSlotSize = Block32K
	// HeadSize is the size of the head region holding all table slots.
	HeadSize = TableSlots * TableSlotSize

	// CRCSize is the size of the per-page checksum.
	CRCSize = 4
	// TailSize is the size of the sector tail (length x4, next x4).
	TailSize = 16

	// MaxPageData is the data capacity of a non-terminal page.
	MaxPageData = PageSize - CRCSize
	// MaxTerminalPageData is the data capacity of the terminal page.
	MaxTerminalPageData = PageSize - CRCSize - TailSize
	// MaxSectorData is the data capacity of a sector.
	MaxSectorData = (PagesPerSector-1)*MaxPageData + MaxTerminalPageData

	// TerminalPageOffset is the offset of the terminal page within a sector.
	TerminalPageOffset = SectorSize - PageSize
	// LengthOffset is the offset of the data length field within a sector.
	LengthOffset = SectorSize - TailSize
	// NextOffset is the offset of the next sector field within a sector.
	NextOffset = SectorSize - TailSize/2

	// NoSector marks an absent sector pointer and the end of a chain.
	NoSector uint16 = 0xFFFF
	// MaxDataSectors is the largest data region addressable with 16-bit indexes.
	MaxDataSectors = int(NoSector)
)

// SectorAddress returns the flash address of data sector idx.
func SectorAddress(idx uint16) uint32 {
	return HeadSize + uint32(idx)*SectorSize
}

// SlotAddress returns the flash address of table slot i.
func SlotAddress(slot int) uint32 {
	return uint32(slot) * TableSlotSize
}

// DataSectors returns the number of data sectors on a device of the given size.
func DataSectors(size uint32) int {
	if size <= HeadSize {
		return 0
	}
	return int((size - HeadSize) / SectorSize)
}

// Pad4 rounds n up to a multiple of four.
func Pad4(n int) int {
	return (n + 3) &^ 3
}

// IsTerminalPage reports whether a sector holding length data bytes has
// spilled into its terminal page.
func IsTerminalPage(length int) bool {
	return length > (PagesPerSector-1)*MaxPageData
}

// PageAddress returns the address of the page that holds the last of length
// data bytes in the sector at sectorAddr.
func PageAddress(sectorAddr uint32, length int) uint32 {
	if length == 0 {
		return sectorAddr
	}
	return sectorAddr + uint32((length-1)/MaxPageData)*PageSize
}
