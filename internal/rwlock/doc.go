// Package rwlock provides a context-aware reader-writer lock with writer
// preference.
//
// A writer registers as pending the moment it asks for the lock, even while
// it has to wait. No new reader is admitted while any writer is pending, so a
// steady stream of short reads cannot starve structural changes.
//
// States and transitions:
//
//	Unlocked       -> ReadLocked(1) | WriteLocked
//	ReadLocked(n)  -> ReadLocked(n+1) | ReadLocked(n-1) | Unlocked (at zero)
//	WriteLocked    -> Unlocked
//
// Every release wakes all parked waiters, which then re-check the state.
//
// The lock is not reentrant. A goroutine holding a read lock that asks for
// another read lock while a writer is pending deadlocks, exactly like
// sync.RWMutex.
package rwlock
