package norfs

import (
	"fmt"

	"github.com/hupe1980/norfs/internal/alloctable"
	"github.com/hupe1980/norfs/internal/layout"
)

// FileID identifies a file. IDs are assigned in ascending order and never reused.
type FileID uint64

// FileType is an application-defined file category.
type FileType uint16

// reservedFileType collides with the table footer marker.
const reservedFileType FileType = FileType(alloctable.FooterMarker)

// FileEntry describes one file.
type FileEntry struct {
	ID     FileID
	Type   FileType
	Opened bool

	firstSector uint16
}

// FirstSector returns the first data sector of the file. ok is false for a
// file that has never been opened for writing.
func (e FileEntry) FirstSector() (sector uint16, ok bool) {
	return e.firstSector, e.firstSector != layout.NoSector
}

func (e FileEntry) String() string {
	if s, ok := e.FirstSector(); ok {
		return fmt.Sprintf("file %d (type %#04x, sector %d)", e.ID, uint16(e.Type), s)
	}
	return fmt.Sprintf("file %d (type %#04x, empty)", e.ID, uint16(e.Type))
}

func entryFrom(e alloctable.Entry) FileEntry {
	return FileEntry{
		ID:          FileID(e.ID),
		Type:        FileType(e.Type),
		Opened:      e.Opened,
		firstSector: e.FirstSector,
	}
}

// FileFilter selects files. A nil filter selects every file.
type FileFilter func(FileEntry) bool

// ByType selects files of type typ.
func ByType(typ FileType) FileFilter {
	return func(e FileEntry) bool {
		return e.Type == typ
	}
}

func (f FileFilter) matches(e alloctable.Entry) bool {
	return f == nil || f(entryFrom(e))
}

// FileSize is the result of walking a file's sector chain.
type FileSize struct {
	Bytes   int64
	Sectors int
}

// ReadStatusKind classifies how a read ended.
type ReadStatusKind int

const (
	// StatusOK means the buffer was filled.
	StatusOK ReadStatusKind = iota
	// StatusEndOfFile means the file ended; the read may be short.
	StatusEndOfFile
	// StatusCorruptedPage means a page failed its checksum. The reader has
	// moved past it and the next read continues with the following page.
	StatusCorruptedPage
)

func (k ReadStatusKind) String() string {
	switch k {
	case StatusOK:
		return "ok"
	case StatusEndOfFile:
		return "end of file"
	case StatusCorruptedPage:
		return "corrupted page"
	default:
		return fmt.Sprintf("ReadStatusKind(%d)", int(k))
	}
}

// ReadStatus is returned by FileReader.ReadFull. Address is set for
// StatusCorruptedPage.
type ReadStatus struct {
	Kind    ReadStatusKind
	Address uint32
}
