package norfs

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/internal/quad"
	"github.com/hupe1980/norfs/internal/sectormap"
)

// allocator hands out erased data sectors.
//
// Sectors are erased ahead in the largest free region available and parked
// in a pool. Pool sectors are marked used in the map but still count as
// free space.
type allocator struct {
	mu      sync.Mutex
	sectors *sectormap.Map
	pool    []uint16
	rng     *rand.Rand

	dev     flash.Flash
	flashMu *sync.Mutex
	metrics MetricsCollector
}

func newAllocator(dev flash.Flash, flashMu *sync.Mutex, total int, seed uint64, metrics MetricsCollector) *allocator {
	return &allocator{
		sectors: sectormap.New(total),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		dev:     dev,
		flashMu: flashMu,
		metrics: metrics,
	}
}

// markUsed is used while rebuilding the map at mount.
func (a *allocator) markUsed(idx uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sectors.SetUsed(idx)
}

// claim returns an erased sector.
func (a *allocator) claim() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pool) == 0 {
		if err := a.refill(); err != nil {
			return 0, err
		}
	}
	idx := a.pool[0]
	a.pool = a.pool[1:]
	return idx, nil
}

func (a *allocator) refill() error {
	start := a.rng.Uint32N(uint32(max(a.sectors.Total(), 1)))
	r, ok := a.sectors.FindRegion(start)
	if !ok {
		return ErrDeviceFull
	}
	a.sectors.SetRegionUsed(r)

	t := time.Now()
	a.flashMu.Lock()
	err := eraseRegion(a.dev, r)
	a.flashMu.Unlock()
	a.metrics.RecordSectorClaim(r.Count, time.Since(t), err)

	if err != nil {
		for i := 0; i < r.Count; i++ {
			a.sectors.SetFree(r.Start + uint16(i))
		}
		return err
	}
	for i := 0; i < r.Count; i++ {
		a.pool = append(a.pool, r.Start+uint16(i))
	}
	return nil
}

func eraseRegion(dev flash.Flash, r sectormap.Region) error {
	addr := layout.SectorAddress(r.Start)
	switch r.Count {
	case layout.SectorsPer64K:
		return dev.EraseBlock64K(addr)
	case layout.SectorsPer32K:
		return dev.EraseBlock32K(addr)
	default:
		return dev.EraseSector4K(addr)
	}
}

func (a *allocator) release(idx uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sectors.SetFree(idx)
}

// releaseAll frees every sector in set and returns how many there were.
func (a *allocator) releaseAll(set *roaring.Bitmap) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	it := set.Iterator()
	for it.HasNext() {
		a.sectors.SetFree(uint16(it.Next()))
	}
	return int(set.GetCardinality())
}

func (a *allocator) freeSectors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sectors.Free() + len(a.pool)
}

// chainLink is one decoded sector tail.
type chainLink struct {
	sector   uint16
	length   uint16
	lengthOK bool
	next     uint16
}

// terminated reports whether the sector's tail carries a usable length.
func (l chainLink) terminated() bool {
	return l.lengthOK && l.length != layout.NoSector && int(l.length) <= layout.MaxSectorData
}

// walkChain visits every sector of the chain starting at first. A chain
// that leaves the data region, loops or has an undecodable pointer ends
// with an error wrapping ErrCorruptedFileSystem after visiting the sectors
// reached so far.
//
// The caller must not hold flashMu.
func (fs *FS) walkChain(first uint16, visit func(chainLink) error) error {
	seen := roaring.New()
	for s := first; s != layout.NoSector; {
		if int(s) >= fs.dataSectors {
			return fmt.Errorf("%w: sector %d outside the data region", ErrCorruptedFileSystem, s)
		}
		if !seen.CheckedAdd(uint32(s)) {
			return fmt.Errorf("%w: chain loops at sector %d", ErrCorruptedFileSystem, s)
		}

		link, err := fs.readTail(s)
		if err != nil {
			return err
		}
		if err := visit(link); err != nil {
			return err
		}
		s = link.next
	}
	return nil
}

func (fs *FS) readTail(s uint16) (chainLink, error) {
	var tail [layout.TailSize]byte
	fs.flashMu.Lock()
	err := fs.dev.ReadBlock(layout.SectorAddress(s)+layout.LengthOffset, tail[:])
	fs.flashMu.Unlock()
	if err != nil {
		return chainLink{}, err
	}

	link := chainLink{sector: s}
	link.length, link.lengthOK = quad.Decode(tail[:quad.Size])
	next, ok := quad.Decode(tail[quad.Size:])
	if !ok {
		return chainLink{}, fmt.Errorf("%w: undecodable next pointer in sector %d", ErrCorruptedFileSystem, s)
	}
	link.next = next
	return link, nil
}

// collectChain adds the sectors of the chain to set. A broken chain is
// logged and collection stops there.
func (fs *FS) collectChain(id FileID, first uint16, set *roaring.Bitmap) error {
	err := fs.walkChain(first, func(l chainLink) error {
		set.Add(uint32(l.sector))
		return nil
	})
	if errors.Is(err, ErrCorruptedFileSystem) {
		fs.log.Warn("sector chain broken", "file_id", uint64(id), "error", err)
		return nil
	}
	return err
}

// lastSector returns the final sector of the chain.
func (fs *FS) lastSector(first uint16) (uint16, error) {
	last := first
	err := fs.walkChain(first, func(l chainLink) error {
		last = l.sector
		return nil
	})
	return last, err
}

// rebuildSectorMap marks every sector reachable from the table as used.
// The caller must hold the table lock or be the only user of fs.
func (fs *FS) rebuildSectorMap() error {
	for _, e := range fs.table.Entries {
		if !e.HasSector() {
			continue
		}
		err := fs.walkChain(e.FirstSector, func(l chainLink) error {
			fs.alloc.markUsed(l.sector)
			return nil
		})
		if errors.Is(err, ErrCorruptedFileSystem) {
			fs.log.Warn("sector chain broken", "file_id", e.ID, "error", err)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
