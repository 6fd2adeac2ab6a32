package flash

import (
	"sync/atomic"
	"time"
)

// Stats is a Flash decorator that counts operations and the time spent in
// each of them.
type Stats struct {
	Flash

	erase4K  opCounter
	erase32K opCounter
	erase64K opCounter
	read     opCounter
	write    opCounter
}

type opCounter struct {
	count atomic.Int64
	bytes atomic.Int64
	nanos atomic.Int64
}

func (c *opCounter) record(n int, start time.Time) {
	c.count.Add(1)
	c.bytes.Add(int64(n))
	c.nanos.Add(time.Since(start).Nanoseconds())
}

func (c *opCounter) snapshot() OpStats {
	return OpStats{
		Count:    c.count.Load(),
		Bytes:    c.bytes.Load(),
		Duration: time.Duration(c.nanos.Load()),
	}
}

// OpStats summarizes one operation kind.
type OpStats struct {
	Count    int64
	Bytes    int64
	Duration time.Duration
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Erase4K  OpStats
	Erase32K OpStats
	Erase64K OpStats
	Read     OpStats
	Write    OpStats
}

// NewStats wraps dev.
func NewStats(dev Flash) *Stats {
	return &Stats{Flash: dev}
}

// EraseSector4K implements Flash.
func (s *Stats) EraseSector4K(address uint32) error {
	start := time.Now()
	err := s.Flash.EraseSector4K(address)
	s.erase4K.record(SectorSize, start)
	return err
}

// EraseBlock32K implements Flash.
func (s *Stats) EraseBlock32K(address uint32) error {
	start := time.Now()
	err := s.Flash.EraseBlock32K(address)
	s.erase32K.record(Block32KSize, start)
	return err
}

// EraseBlock64K implements Flash.
func (s *Stats) EraseBlock64K(address uint32) error {
	start := time.Now()
	err := s.Flash.EraseBlock64K(address)
	s.erase64K.record(Block64KSize, start)
	return err
}

// ReadBlock implements Flash.
func (s *Stats) ReadBlock(address uint32, p []byte) error {
	start := time.Now()
	err := s.Flash.ReadBlock(address, p)
	s.read.record(len(p), start)
	return err
}

// WritePage implements Flash.
func (s *Stats) WritePage(address uint32, p []byte) error {
	start := time.Now()
	err := s.Flash.WritePage(address, p)
	s.write.record(len(p), start)
	return err
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Erase4K:  s.erase4K.snapshot(),
		Erase32K: s.erase32K.snapshot(),
		Erase64K: s.erase64K.snapshot(),
		Read:     s.read.snapshot(),
		Write:    s.write.snapshot(),
	}
}
