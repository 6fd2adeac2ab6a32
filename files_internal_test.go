package norfs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
)

// stalledRead blocks the first read of one address until release is closed.
type stalledRead struct {
	flash.Flash

	mu      sync.Mutex
	address uint32
	armed   bool
	reached chan struct{}
	release chan struct{}
}

func (s *stalledRead) arm(address uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	s.armed = true
}

func (s *stalledRead) ReadBlock(address uint32, p []byte) error {
	s.mu.Lock()
	stall := s.armed && address == s.address
	if stall {
		s.armed = false
	}
	s.mu.Unlock()

	if stall {
		close(s.reached)
		<-s.release
	}
	return s.Flash.ReadBlock(address, p)
}

func TestFileSizeWalksChainWithoutTableLock(t *testing.T) {
	ctx := context.Background()
	dev := &stalledRead{
		Flash:   flash.NewMemory(1 << 20),
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	fs, err := Mount(ctx, dev)
	require.NoError(t, err)
	defer func() { require.NoError(t, fs.Close(ctx)) }()

	w, err := fs.CreateAndOpenForWrite(ctx, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte("sample"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	first := fs.table.Get(uint64(w.ID())).FirstSector
	dev.arm(layout.SectorAddress(first) + layout.LengthOffset)

	type result struct {
		size FileSize
		err  error
	}
	done := make(chan result, 1)
	go func() {
		size, err := fs.FileSize(ctx, w.ID())
		done <- result{size, err}
	}()

	<-dev.reached
	_, readers, _ := fs.tableLock.Snapshot()
	assert.Zero(t, readers)
	close(dev.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, FileSize{Bytes: 6, Sectors: 1}, res.size)
}
