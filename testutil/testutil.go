package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/norfs/flash"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Fill fills dst with random bytes.
// Locks only once per call (preferred over calling Intn in a loop).
func (r *RNG) Fill(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Bytes returns n random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.Fill(b)
	return b
}

// Chunks splits data into pieces of random length in [1, maxLen].
// Useful for feeding writers with uneven write sizes.
func (r *RNG) Chunks(data []byte, maxLen int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]byte
	for len(data) > 0 {
		n := min(len(data), 1+r.rand.Intn(maxLen))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// Pattern returns n bytes of a counting pattern. The pattern never repeats
// within a sector, so misplaced pages show up in comparisons.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i ^ (i >> 8) ^ (i >> 16))
	}
	return b
}

// GatedFlash can hold page writes until Open is called. Reads and erases
// always pass through.
type GatedFlash struct {
	flash.Flash

	mu      sync.Mutex
	gate    chan struct{} // closed while open
	blocked int
}

// NewGatedFlash wraps dev with an open gate.
func NewGatedFlash(dev flash.Flash) *GatedFlash {
	g := &GatedFlash{Flash: dev, gate: make(chan struct{})}
	close(g.gate)
	return g
}

// Hold makes every following write wait until Open.
func (g *GatedFlash) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.gate:
		g.gate = make(chan struct{})
	default:
	}
}

// Open releases every held and future write.
func (g *GatedFlash) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.gate:
	default:
		close(g.gate)
	}
}

// Blocked returns the number of writes currently waiting at the gate.
func (g *GatedFlash) Blocked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked
}

// WritePage implements flash.Flash.
func (g *GatedFlash) WritePage(address uint32, p []byte) error {
	g.mu.Lock()
	g.blocked++
	gate := g.gate
	g.mu.Unlock()

	<-gate

	g.mu.Lock()
	g.blocked--
	g.mu.Unlock()
	return g.Flash.WritePage(address, p)
}
