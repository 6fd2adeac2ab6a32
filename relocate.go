package norfs

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/quad"
)

// relocationStep is a state of the tail relocation protocol.
//
// A file's last sector is rewritten so that its next pointer names the
// sector a new writer starts in. The sector is copied to a temporary
// sector with the pointer patched, erased, and copied back.
//
// Failure windows:
//   - copyToTemp: the original is intact; temp is released.
//   - eraseOriginal, copyBack: temp holds the only complete copy and stays
//     claimed for the rest of the session. The file's chain is broken at
//     the original sector until it is removed.
//   - releaseTemp cannot fail.
type relocationStep int

const (
	stepCopyToTemp relocationStep = iota
	stepEraseOriginal
	stepCopyBack
	stepReleaseTemp
)

func (s relocationStep) String() string {
	switch s {
	case stepCopyToTemp:
		return "copy to temp"
	case stepEraseOriginal:
		return "erase original"
	case stepCopyBack:
		return "copy back"
	case stepReleaseTemp:
		return "release temp"
	default:
		return fmt.Sprintf("relocationStep(%d)", int(s))
	}
}

// relocateTail points the tail of sector at next.
func (fs *FS) relocateTail(ctx context.Context, sector, next uint16) error {
	start := time.Now()
	temp, err := fs.alloc.claim()
	if err == nil {
		err = fs.runRelocation(ctx, sector, temp, next)
	}
	fs.metrics.RecordRelocation(time.Since(start), err)
	return err
}

func (fs *FS) runRelocation(ctx context.Context, sector, temp, next uint16) error {
	for step := stepCopyToTemp; step <= stepReleaseTemp; step++ {
		var err error
		switch step {
		case stepCopyToTemp:
			err = fs.copySector(sector, temp, &next)
		case stepEraseOriginal:
			fs.flashMu.Lock()
			err = fs.dev.EraseSector4K(layout.SectorAddress(sector))
			fs.flashMu.Unlock()
		case stepCopyBack:
			err = fs.copySector(temp, sector, nil)
		case stepReleaseTemp:
			fs.alloc.release(temp)
		}
		fs.log.LogRelocation(ctx, step, sector, temp, err)

		if err != nil {
			if step == stepCopyToTemp {
				fs.alloc.release(temp)
			}
			return err
		}
	}
	return nil
}

// copySector copies every programmed page of src to the erased sector dst.
// When next is set the tail of the copy points at *next. A tail whose length
// was never written gets length zero so the chain stays readable past it.
func (fs *FS) copySector(src, dst uint16, next *uint16) error {
	srcAddr := layout.SectorAddress(src)
	dstAddr := layout.SectorAddress(dst)

	fs.flashMu.Lock()
	defer fs.flashMu.Unlock()

	var page [layout.PageSize]byte
	for i := 0; i < layout.PagesPerSector; i++ {
		off := uint32(i * layout.PageSize)
		if err := fs.dev.ReadBlock(srcAddr+off, page[:]); err != nil {
			return err
		}
		if next != nil && off == layout.TerminalPageOffset {
			tail := page[layout.PageSize-layout.TailSize:]
			if n, ok := quad.Decode(tail[:quad.Size]); ok && n == layout.NoSector {
				quad.Put(tail[:quad.Size], 0)
			}
			quad.Put(tail[quad.Size:], *next)
		}
		if isErased(page[:]) {
			continue
		}
		if err := fs.dev.WritePage(dstAddr+off, page[:]); err != nil {
			return err
		}
	}
	return nil
}

var erasedPage = bytes.Repeat([]byte{flash.Erased}, layout.PageSize)

func isErased(p []byte) bool {
	return bytes.Equal(p, erasedPage[:len(p)])
}
