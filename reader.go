package norfs

import (
	"encoding/binary"
	"io"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/leak"
	"github.com/hupe1980/norfs/internal/quad"
)

// FileReader reads a file from its start.
//
// A FileReader must be closed. Dropping it without Close triggers the leak
// handler. It is not safe for concurrent use.
type FileReader struct {
	fs *FS
	id FileID

	sector     uint16 // NoSector at end of file
	page       int
	sectorLen  int // -1 until the tail has been read
	sectorRead int
	visited    int

	buf        [layout.PageSize]byte
	start, end int

	closed bool
	guard  leak.Guard
}

func newFileReader(fs *FS, id FileID, first uint16) *FileReader {
	r := &FileReader{fs: fs, id: id}
	r.enter(first)
	r.guard = leak.Watch(r, "file reader")
	return r
}

// ID returns the id of the file being read.
func (r *FileReader) ID() FileID {
	return r.id
}

func (r *FileReader) enter(sector uint16) {
	r.sector = sector
	r.page = 0
	r.sectorLen = -1
	r.sectorRead = 0
	r.start, r.end = 0, 0
	if sector != layout.NoSector {
		r.visited++
	}
}

// ReadFull fills p. The status tells why a read came back short; err only
// carries flash errors.
func (r *FileReader) ReadFull(p []byte) (int, ReadStatus, error) {
	if r.closed {
		return 0, ReadStatus{}, ErrFileClosed
	}

	n := 0
	for n < len(p) {
		if r.start == r.end {
			status, err := r.nextPage()
			if err != nil {
				return n, ReadStatus{}, err
			}
			if status.Kind != StatusOK {
				return n, status, nil
			}
			continue
		}
		c := copy(p[n:], r.buf[r.start:r.end])
		r.start += c
		n += c
	}
	return n, ReadStatus{Kind: StatusOK}, nil
}

// Read implements io.Reader. A page that fails its checksum is reported as
// *CorruptedPageError; reading may continue after it.
func (r *FileReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrFileClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for r.start == r.end {
		status, err := r.nextPage()
		if err != nil {
			return 0, err
		}
		switch status.Kind {
		case StatusEndOfFile:
			return 0, io.EOF
		case StatusCorruptedPage:
			return 0, &CorruptedPageError{Address: status.Address}
		}
	}
	c := copy(p, r.buf[r.start:r.end])
	r.start += c
	return c, nil
}

// Close releases the file.
func (r *FileReader) Close() error {
	if r.closed {
		return ErrFileClosed
	}
	r.closed = true
	r.fs.releaseHandle(r.id)
	r.guard.Release()
	return nil
}

// nextPage loads the next page into buf, or moves to the next sector.
// StatusOK may leave buf empty; callers loop.
func (r *FileReader) nextPage() (ReadStatus, error) {
	if r.sector == layout.NoSector {
		return ReadStatus{Kind: StatusEndOfFile}, nil
	}
	sectorAddr := layout.SectorAddress(r.sector)

	if r.sectorLen < 0 {
		var raw [quad.Size]byte
		if err := r.read(sectorAddr+layout.LengthOffset, raw[:]); err != nil {
			return ReadStatus{}, err
		}
		n, ok := quad.Decode(raw[:])
		switch {
		case ok && n == layout.NoSector:
			r.fs.log.Warn("sector never terminated, file ends here",
				"file_id", uint64(r.id),
				"sector", r.sector,
			)
			r.enter(layout.NoSector)
			return ReadStatus{Kind: StatusEndOfFile}, nil
		case !ok || int(n) > layout.MaxSectorData:
			return r.corrupted(sectorAddr+layout.TerminalPageOffset, true), nil
		}
		r.sectorLen = int(n)
	}

	unread := r.sectorLen - r.sectorRead
	if unread == 0 {
		var raw [quad.Size]byte
		if err := r.read(sectorAddr+layout.NextOffset, raw[:]); err != nil {
			return ReadStatus{}, err
		}
		next, ok := quad.Decode(raw[:])
		if !ok || !r.follow(next) {
			return r.corrupted(sectorAddr+layout.TerminalPageOffset, true), nil
		}
		return ReadStatus{Kind: StatusOK}, nil
	}

	terminal := r.page == layout.PagesPerSector-1
	n := min(unread, layout.MaxPageData)
	if terminal {
		n = min(unread, layout.MaxTerminalPageData)
	}
	padded := layout.Pad4(n)
	readLen := padded + layout.CRCSize
	if terminal {
		readLen = layout.PageSize
	}

	pageAddr := sectorAddr + uint32(r.page*layout.PageSize)
	if err := r.read(pageAddr, r.buf[:readLen]); err != nil {
		return ReadStatus{}, err
	}
	r.sectorRead += n

	r.fs.sumMu.Lock()
	actual := checksum.Calculate(r.fs.sum, r.buf[:padded])
	r.fs.sumMu.Unlock()
	expected := binary.BigEndian.Uint32(r.buf[padded:])

	if terminal {
		next, ok := quad.Decode(r.buf[layout.PageSize-quad.Size:])
		if !ok || !r.follow(next) {
			return r.corrupted(pageAddr, true), nil
		}
	} else {
		r.page++
	}

	if actual != expected {
		return r.corrupted(pageAddr, false), nil
	}
	r.start, r.end = 0, n
	return ReadStatus{Kind: StatusOK}, nil
}

// follow moves to next. It reports false when next cannot be part of this
// file's chain.
func (r *FileReader) follow(next uint16) bool {
	if next != layout.NoSector && (int(next) >= r.fs.dataSectors || r.visited > r.fs.dataSectors) {
		return false
	}
	r.enter(next)
	return true
}

// corrupted reports a bad page at address. When final is set the chain
// cannot be followed past it and the file ends.
func (r *FileReader) corrupted(address uint32, final bool) ReadStatus {
	r.fs.metrics.RecordCorruptedPage()
	r.fs.log.Warn("corrupted page",
		"file_id", uint64(r.id),
		"address", address,
	)
	r.start, r.end = 0, 0
	if final {
		r.enter(layout.NoSector)
	}
	return ReadStatus{Kind: StatusCorruptedPage, Address: address}
}

func (r *FileReader) read(address uint32, p []byte) error {
	r.fs.flashMu.Lock()
	defer r.fs.flashMu.Unlock()
	return r.fs.dev.ReadBlock(address, p)
}
