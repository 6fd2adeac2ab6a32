package flash

import (
	"context"

	"golang.org/x/time/rate"
)

// Timing describes the bus bandwidth and erase cost of a chip.
type Timing struct {
	// BytesPerSecond limits reads and page programs. Zero means unlimited.
	BytesPerSecond int
	// EraseBytesPerSecond limits erases, measured in erased bytes. Zero means unlimited.
	EraseBytesPerSecond int
}

// Throttled is a Flash decorator that approximates real chip timing on the
// host. Useful to surface write-queue backpressure in simulations.
type Throttled struct {
	Flash

	io    *rate.Limiter
	erase *rate.Limiter
}

// NewThrottled wraps dev with the given timing.
func NewThrottled(dev Flash, t Timing) *Throttled {
	th := &Throttled{Flash: dev}
	if t.BytesPerSecond > 0 {
		th.io = rate.NewLimiter(rate.Limit(t.BytesPerSecond), max(t.BytesPerSecond, MaxReadLength))
	}
	if t.EraseBytesPerSecond > 0 {
		th.erase = rate.NewLimiter(rate.Limit(t.EraseBytesPerSecond), max(t.EraseBytesPerSecond, Block64KSize))
	}
	return th
}

func wait(l *rate.Limiter, n int) {
	if l == nil {
		return
	}
	// The burst always covers a single transfer, so WaitN cannot fail here.
	_ = l.WaitN(context.Background(), n)
}

// EraseSector4K implements Flash.
func (t *Throttled) EraseSector4K(address uint32) error {
	wait(t.erase, SectorSize)
	return t.Flash.EraseSector4K(address)
}

// EraseBlock32K implements Flash.
func (t *Throttled) EraseBlock32K(address uint32) error {
	wait(t.erase, Block32KSize)
	return t.Flash.EraseBlock32K(address)
}

// EraseBlock64K implements Flash.
func (t *Throttled) EraseBlock64K(address uint32) error {
	wait(t.erase, Block64KSize)
	return t.Flash.EraseBlock64K(address)
}

// ReadBlock implements Flash.
func (t *Throttled) ReadBlock(address uint32, p []byte) error {
	wait(t.io, len(p))
	return t.Flash.ReadBlock(address, p)
}

// WritePage implements Flash.
func (t *Throttled) WritePage(address uint32, p []byte) error {
	wait(t.io, len(p))
	return t.Flash.WritePage(address, p)
}
