// Package leak detects resources that are garbage collected without their
// terminal call (Close, Commit or Abort).
//
// A leaked writer, reader or table builder means a caller bug that can lose
// durability, so the default handler panics. Because the handler runs on the
// runtime's cleanup goroutine, the panic terminates the process.
package leak

import (
	"fmt"
	"runtime"
	"sync"
)

// Handler is called with a description of the leaked resource.
type Handler func(resource string)

var (
	mu      sync.RWMutex
	handler Handler = defaultHandler
)

func defaultHandler(resource string) {
	panic(fmt.Sprintf("norfs: %s released without its terminal call", resource))
}

// SetHandler installs h and returns a function restoring the previous handler.
// A nil h restores the default.
func SetHandler(h Handler) (restore func()) {
	if h == nil {
		h = defaultHandler
	}
	mu.Lock()
	prev := handler
	handler = h
	mu.Unlock()
	return func() {
		mu.Lock()
		handler = prev
		mu.Unlock()
	}
}

func report(resource string) {
	mu.RLock()
	h := handler
	mu.RUnlock()
	h(resource)
}

// Guard watches one resource until Release is called.
type Guard struct {
	cleanup runtime.Cleanup
}

// Watch reports resource if obj becomes unreachable before the returned
// guard is released.
func Watch[T any](obj *T, resource string) Guard {
	return Guard{cleanup: runtime.AddCleanup(obj, report, resource)}
}

// Release stops watching. It is safe to call more than once.
func (g Guard) Release() {
	g.cleanup.Stop()
}
