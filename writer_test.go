package norfs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/testutil"
)

func TestRoundTripSizes(t *testing.T) {
	sizes := []int{
		0, 1, 2, 3, 4, 5,
		251, 252, 253,
		503, 504, 505,
		3779, 3780, 3781,
		4015, 4016, 4017,
		8031, 8032, 8033,
		1 << 20,
		3<<20 + 17,
	}

	fs, dev := mountMemory(t, 8<<20, norfs.WithWriteQueueSize(256))
	rng := testutil.NewRNG(4711)

	for _, size := range sizes {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			data := rng.Bytes(size)
			id := createFile(t, fs, 1, data)

			assert.Equal(t, data, readFile(t, fs, id), "seed %d", rng.Seed())

			fsz, err := fs.FileSize(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, int64(size), fsz.Bytes)
			assert.Equal(t, size/layout.MaxSectorData+1, fsz.Sectors)

			require.NoError(t, fs.Remove(context.Background(), id))
		})
	}

	// A second pass keeps every file and survives a remount.
	files := make(map[norfs.FileID][]byte)
	for _, size := range sizes[:len(sizes)-1] {
		data := rng.Bytes(size)
		files[createFile(t, fs, 2, data)] = data
	}
	fs = remount(t, fs, dev)
	for id, data := range files {
		assert.Equal(t, data, readFile(t, fs, id), "file %d", id)
	}
}

func TestRoundTripUnevenWrites(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)
	rng := testutil.NewRNG(1)
	data := rng.Bytes(3*layout.MaxSectorData + 77)

	w, err := fs.CreateAndOpenForWrite(context.Background(), 7)
	require.NoError(t, err)
	for _, chunk := range rng.Chunks(data, 300) {
		writeAll(t, w, chunk)
	}
	closeWriter(t, w)

	assert.Equal(t, data, readFile(t, fs, w.ID()))
}

func TestFlushBetweenAppends(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	rng := testutil.NewRNG(2)
	ctx := context.Background()

	parts := [][]byte{rng.Bytes(10), rng.Bytes(300), {}, rng.Bytes(4016), rng.Bytes(3781)}
	var want []byte

	w, err := fs.CreateAndOpenForWrite(ctx, 1)
	require.NoError(t, err)
	for _, p := range parts {
		writeAll(t, w, p)
		require.NoError(t, w.Flush())
		want = append(want, p...)
	}
	closeWriter(t, w)

	assert.Equal(t, want, readFile(t, fs, w.ID()))

	fs = remount(t, fs, dev)
	assert.Equal(t, want, readFile(t, fs, w.ID()))
}

func TestFlushOnEmptySectorIsNoop(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)
	before := fs.Free()

	w, err := fs.CreateAndOpenForWrite(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Flush())
	closeWriter(t, w)

	assert.Equal(t, before-layout.MaxSectorData, fs.Free())
	assert.Empty(t, readFile(t, fs, w.ID()))
}

func TestReopenAppendsAfterExistingData(t *testing.T) {
	sizes := []int{0, 1, 252, 3780, 4016, 5000}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("first=%d", size), func(t *testing.T) {
			fs, dev := mountMemory(t, smallDevice)
			rng := testutil.NewRNG(int64(size))

			first := rng.Bytes(size)
			id := createFile(t, fs, 3, first)

			second := rng.Bytes(700)
			appendFile(t, fs, id, second)
			third := rng.Bytes(4100)
			appendFile(t, fs, id, third)

			want := append(append(append([]byte{}, first...), second...), third...)
			assert.Equal(t, want, readFile(t, fs, id))

			fs = remount(t, fs, dev)
			assert.Equal(t, want, readFile(t, fs, id))
		})
	}
}

func TestOpenForWriteOnEmptyFile(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	ctx := context.Background()

	id, err := fs.Create(ctx, 9)
	require.NoError(t, err)

	e, err := fs.Entry(ctx, id)
	require.NoError(t, err)
	_, ok := e.FirstSector()
	assert.False(t, ok)

	data := testutil.Pattern(1000)
	appendFile(t, fs, id, data)

	e, err = fs.Entry(ctx, id)
	require.NoError(t, err)
	_, ok = e.FirstSector()
	assert.True(t, ok)

	fs = remount(t, fs, dev)
	assert.Equal(t, data, readFile(t, fs, id))
}

func TestWriterUseAfterClose(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)

	w, err := fs.CreateAndOpenForWrite(context.Background(), 1)
	require.NoError(t, err)
	closeWriter(t, w)

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, norfs.ErrFileClosed)
	assert.ErrorIs(t, w.Flush(), norfs.ErrFileClosed)
	assert.ErrorIs(t, w.Close(), norfs.ErrFileClosed)
}

func TestDeviceFull(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice, norfs.WithWriteQueueSize(1024))
	rng := testutil.NewRNG(3)

	before := rng.Bytes(5000)
	beforeID := createFile(t, fs, 2, before)

	total := int(fs.Free())
	data := rng.Bytes(total)

	w, err := fs.CreateAndOpenForWrite(context.Background(), 1)
	require.NoError(t, err)

	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n
		if errors.Is(err, norfs.ErrWriteQueueFull) {
			time.Sleep(50 * time.Microsecond)
			continue
		}
		require.ErrorIs(t, err, norfs.ErrDeviceFull)
		break
	}
	assert.Equal(t, total-layout.MaxTerminalPageData, written)
	closeWriter(t, w)

	assert.Zero(t, fs.Free())
	_, err = fs.CreateAndOpenForWrite(context.Background(), 1)
	assert.ErrorIs(t, err, norfs.ErrDeviceFull)

	fs = remount(t, fs, dev)
	assert.Equal(t, before, readFile(t, fs, beforeID))
	assert.Equal(t, data[:written], readFile(t, fs, w.ID()))
	assert.Zero(t, fs.Free())

	require.NoError(t, fs.Remove(context.Background(), w.ID()))
	assert.Equal(t, int64(total), fs.Free())
	assert.Equal(t, before, readFile(t, fs, beforeID))
}

func TestWriteBackpressure(t *testing.T) {
	gate := testutil.NewGatedFlash(flash.NewMemory(smallDevice))
	fs := mountDevice(t, gate, norfs.WithWriteQueueSize(2))

	w, err := fs.CreateAndOpenForWrite(context.Background(), 1)
	require.NoError(t, err)

	gate.Hold()
	data := testutil.Pattern(10 * layout.MaxPageData)

	n, err := w.Write(data)
	require.ErrorIs(t, err, norfs.ErrWriteQueueFull)
	assert.Positive(t, n)
	assert.Less(t, n, len(data))
	assert.Zero(t, n%layout.MaxPageData)

	// At most one page is held by the executor, so the queue stays full.
	n2, err := w.Write(data[n:])
	assert.ErrorIs(t, err, norfs.ErrWriteQueueFull)
	n += n2

	gate.Open()
	writeAll(t, w, data[n:])
	closeWriter(t, w)

	assert.Equal(t, data, readFile(t, fs, w.ID()))
}

func TestWriterSurfacesFlashError(t *testing.T) {
	faulty := flash.NewFaulty(flash.NewMemory(smallDevice))
	fs := mountDevice(t, faulty)
	ctx := context.Background()

	w, err := fs.CreateAndOpenForWrite(ctx, 1)
	require.NoError(t, err)

	faulty.AddRule(flash.OpWrite, flash.Fault{FailAfter: 0})
	writeAll(t, w, testutil.Pattern(layout.MaxPageData))

	err = w.Close()
	var fe *norfs.FlashError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "write", fe.Op)
	assert.ErrorIs(t, err, flash.ErrInjected)

	faulty.ClearRules()
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, norfs.ErrFileClosed)

	r, err := fs.OpenForRead(ctx, w.ID())
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestEraseFailureDuringClaim(t *testing.T) {
	faulty := flash.NewFaulty(flash.NewMemory(smallDevice))
	fs := mountDevice(t, faulty)
	before := fs.Free()

	faulty.AddRule(flash.OpErase64K, flash.Fault{FailAfter: 0})
	_, err := fs.CreateAndOpenForWrite(context.Background(), 1)

	var fe *norfs.FlashError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "erase 64k", fe.Op)
	assert.Equal(t, before, fs.Free())
	assert.Zero(t, fs.Stats().OpenHandles)

	faulty.ClearRules()
	createFile(t, fs, 1, []byte("ok"))
}
