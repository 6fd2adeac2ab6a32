package rwlock

import (
	"context"
	"sync"
)

// State is the lock state.
type State int

const (
	Unlocked State = iota
	ReadLocked
	WriteLocked
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case ReadLocked:
		return "read-locked"
	case WriteLocked:
		return "write-locked"
	default:
		return "unknown"
	}
}

// RWLock is a reader-writer lock with writer preference. The zero value is
// an unlocked lock.
type RWLock struct {
	mu             sync.Mutex
	state          State
	readers        int
	writersPending int
	wake           chan struct{}
}

// waiter returns the channel closed on the next release. Caller holds mu.
func (l *RWLock) waiter() <-chan struct{} {
	if l.wake == nil {
		l.wake = make(chan struct{})
	}
	return l.wake
}

// broadcast wakes every parked waiter. Caller holds mu.
func (l *RWLock) broadcast() {
	if l.wake != nil {
		close(l.wake)
		l.wake = nil
	}
}

// RLock acquires a read lock. It returns ctx.Err() if ctx is done before the
// lock is acquired, in which case the lock is not held.
func (l *RWLock) RLock(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.writersPending == 0 && l.state != WriteLocked {
			l.state = ReadLocked
			l.readers++
			l.mu.Unlock()
			return nil
		}
		ch := l.waiter()
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryRLock acquires a read lock without waiting.
func (l *RWLock) TryRLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writersPending == 0 && l.state != WriteLocked {
		l.state = ReadLocked
		l.readers++
		return true
	}
	return false
}

// RUnlock releases a read lock.
func (l *RWLock) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != ReadLocked {
		panic("rwlock: RUnlock of a lock that is not read-locked")
	}
	l.readers--
	if l.readers == 0 {
		l.state = Unlocked
		l.broadcast()
	}
}

// Lock acquires the write lock. It returns ctx.Err() if ctx is done before the
// lock is acquired; the pending registration is then withdrawn.
func (l *RWLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	l.writersPending++
	for l.state != Unlocked {
		ch := l.waiter()
		l.mu.Unlock()

		select {
		case <-ch:
			l.mu.Lock()
		case <-ctx.Done():
			l.mu.Lock()
			l.writersPending--
			// Readers parked behind this writer may proceed now.
			l.broadcast()
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	l.writersPending--
	l.state = WriteLocked
	l.mu.Unlock()
	return nil
}

// Unlock releases the write lock.
func (l *RWLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != WriteLocked {
		panic("rwlock: Unlock of a lock that is not write-locked")
	}
	l.state = Unlocked
	l.broadcast()
}

// Snapshot returns the state, the number of readers and the number of
// pending writers.
func (l *RWLock) Snapshot() (state State, readers, writersPending int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.readers, l.writersPending
}
