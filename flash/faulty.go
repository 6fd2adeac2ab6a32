package flash

import (
	"errors"
	"sync"
)

// ErrInjected is the default error returned by Faulty.
var ErrInjected = errors.New("flash: injected fault")

// Op identifies a flash operation.
type Op int

const (
	OpReset Op = iota
	OpErase4K
	OpErase32K
	OpErase64K
	OpRead
	OpWrite
)

// Fault defines the failure behavior for one operation kind.
type Fault struct {
	// FailAfter lets this many calls succeed before failing. -1 disables.
	FailAfter int64
	// Address restricts the fault to calls touching this address. Zero means any.
	Address uint32
	Err     error
}

// Faulty is a Flash wrapper that can inject errors.
type Faulty struct {
	Flash

	mu          sync.Mutex
	rules       map[Op]Fault
	calls       map[Op]int64
	written     int64
	globalLimit int64

	// Err is returned when a rule has no error of its own.
	Err error
}

// NewFaulty wraps dev with no faults configured.
func NewFaulty(dev Flash) *Faulty {
	return &Faulty{
		Flash:       dev,
		rules:       make(map[Op]Fault),
		calls:       make(map[Op]int64),
		globalLimit: -1,
		Err:         ErrInjected,
	}
}

// SetLimit fails every write once more than limit bytes have been programmed.
// A negative limit disables the check.
func (f *Faulty) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalLimit = limit
}

// Written returns the number of bytes programmed so far.
func (f *Faulty) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// AddRule installs a fault for op, replacing any previous rule.
func (f *Faulty) AddRule(op Op, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[op] = fault
	f.calls[op] = 0
}

// ClearRules removes every rule and the write limit.
func (f *Faulty) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[Op]Fault)
	f.calls = make(map[Op]int64)
	f.globalLimit = -1
}

func (f *Faulty) check(op Op, address uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rule, ok := f.rules[op]
	if !ok || rule.FailAfter < 0 {
		return nil
	}
	if rule.Address != 0 && rule.Address != address {
		return nil
	}
	f.calls[op]++
	if f.calls[op] <= rule.FailAfter {
		return nil
	}
	if rule.Err != nil {
		return rule.Err
	}
	return f.Err
}

// Reset implements Flash.
func (f *Faulty) Reset() error {
	if err := f.check(OpReset, 0); err != nil {
		return err
	}
	return f.Flash.Reset()
}

// EraseSector4K implements Flash.
func (f *Faulty) EraseSector4K(address uint32) error {
	if err := f.check(OpErase4K, address); err != nil {
		return err
	}
	return f.Flash.EraseSector4K(address)
}

// EraseBlock32K implements Flash.
func (f *Faulty) EraseBlock32K(address uint32) error {
	if err := f.check(OpErase32K, address); err != nil {
		return err
	}
	return f.Flash.EraseBlock32K(address)
}

// EraseBlock64K implements Flash.
func (f *Faulty) EraseBlock64K(address uint32) error {
	if err := f.check(OpErase64K, address); err != nil {
		return err
	}
	return f.Flash.EraseBlock64K(address)
}

// ReadBlock implements Flash.
func (f *Faulty) ReadBlock(address uint32, p []byte) error {
	if err := f.check(OpRead, address); err != nil {
		return err
	}
	return f.Flash.ReadBlock(address, p)
}

// WritePage implements Flash.
func (f *Faulty) WritePage(address uint32, p []byte) error {
	if err := f.check(OpWrite, address); err != nil {
		return err
	}

	f.mu.Lock()
	exceeded := f.globalLimit >= 0 && f.written+int64(len(p)) > f.globalLimit
	if !exceeded {
		f.written += int64(len(p))
	}
	err := f.Err
	f.mu.Unlock()

	if exceeded {
		return err
	}
	return f.Flash.WritePage(address, p)
}
