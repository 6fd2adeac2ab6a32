package norfs_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flash"
	"github.com/hupe1980/norfs/internal/layout"
	"github.com/hupe1980/norfs/testutil"
)

func firstSectorAddress(t *testing.T, fs *norfs.FS, id norfs.FileID) uint32 {
	t.Helper()
	e, err := fs.Entry(context.Background(), id)
	require.NoError(t, err)
	s, ok := e.FirstSector()
	require.True(t, ok)
	return layout.SectorAddress(s)
}

func TestReadFullStatus(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)
	data := testutil.Pattern(600)
	id := createFile(t, fs, 1, data)

	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	buf := make([]byte, 500)
	n, status, err := r.ReadFull(buf)
	require.NoError(t, err)
	assert.Equal(t, 500, n)
	assert.Equal(t, norfs.StatusOK, status.Kind)
	assert.Equal(t, data[:500], buf)

	n, status, err = r.ReadFull(buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, norfs.StatusEndOfFile, status.Kind)
	assert.Equal(t, data[500:], buf[:n])

	n, status, err = r.ReadFull(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, norfs.StatusEndOfFile, status.Kind)
}

func TestOpenMissingFile(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)
	ctx := context.Background()

	_, err := fs.OpenForRead(ctx, 42)
	assert.ErrorIs(t, err, norfs.ErrFileDoesNotExist)
	_, err = fs.OpenForWrite(ctx, 42)
	assert.ErrorIs(t, err, norfs.ErrFileDoesNotExist)
	assert.ErrorIs(t, fs.Remove(ctx, 42), norfs.ErrFileDoesNotExist)
	_, err = fs.FileSize(ctx, 42)
	assert.ErrorIs(t, err, norfs.ErrFileDoesNotExist)
}

func TestCorruptedPageIsSkipped(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	metrics := &norfs.BasicMetricsCollector{}
	data := testutil.Pattern(1000)
	id := createFile(t, fs, 1, data)

	page1 := firstSectorAddress(t, fs, id) + layout.PageSize
	dev.Poke(page1+10, []byte{^data[layout.MaxPageData+10]})

	fs = remount(t, fs, dev, norfs.WithMetricsCollector(metrics))

	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	buf := make([]byte, 1000)
	n, status, err := r.ReadFull(buf)
	require.NoError(t, err)
	assert.Equal(t, layout.MaxPageData, n)
	assert.Equal(t, norfs.ReadStatus{Kind: norfs.StatusCorruptedPage, Address: page1}, status)
	assert.Equal(t, data[:n], buf[:n])

	n, status, err = r.ReadFull(buf)
	require.NoError(t, err)
	assert.Equal(t, norfs.StatusEndOfFile, status.Kind)
	assert.Equal(t, data[2*layout.MaxPageData:], buf[:n])

	assert.Equal(t, int64(1), metrics.GetStats().CorruptedPages)
}

func TestReadReportsCorruptedPageError(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	data := testutil.Pattern(300)
	id := createFile(t, fs, 1, data)

	addr := firstSectorAddress(t, fs, id)
	dev.Poke(addr, []byte{^data[0]})

	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	buf := make([]byte, 1000)
	_, err = r.Read(buf)
	var cpe *norfs.CorruptedPageError
	require.ErrorAs(t, err, &cpe)
	assert.Equal(t, addr, cpe.Address)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[layout.MaxPageData:], rest)
}

func TestTailRedundancy(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	data := testutil.Pattern(layout.MaxSectorData + 100)
	id := createFile(t, fs, 1, data)

	addr := firstSectorAddress(t, fs, id)
	// One damaged copy of the length and one of the next pointer.
	dev.Poke(addr+layout.LengthOffset+2, []byte{0x00, 0x00})
	dev.Poke(addr+layout.NextOffset+6, []byte{0x12, 0x34})

	fs = remount(t, fs, dev)
	assert.Equal(t, data, readFile(t, fs, id))

	size, err := fs.FileSize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size.Bytes)
}

func TestUndecodableLengthEndsFile(t *testing.T) {
	fs, dev := mountMemory(t, smallDevice)
	data := testutil.Pattern(500)
	id := createFile(t, fs, 1, data)

	addr := firstSectorAddress(t, fs, id)
	dev.Poke(addr+layout.LengthOffset, []byte{0, 1, 0, 2, 0, 3, 0, 4})

	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	buf := make([]byte, 100)
	n, status, err := r.ReadFull(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, norfs.ReadStatus{Kind: norfs.StatusCorruptedPage, Address: addr + layout.TerminalPageOffset}, status)

	_, status, err = r.ReadFull(buf)
	require.NoError(t, err)
	assert.Equal(t, norfs.StatusEndOfFile, status.Kind)
}

func TestUnterminatedSectorEndsFile(t *testing.T) {
	metrics := &norfs.BasicMetricsCollector{}
	fs, dev := mountMemory(t, smallDevice, norfs.WithMetricsCollector(metrics))
	ctx := context.Background()
	rng := testutil.NewRNG(5)

	first := rng.Bytes(100)
	second := rng.Bytes(400)

	w, err := fs.CreateAndOpenForWrite(ctx, 1)
	require.NoError(t, err)
	writeAll(t, w, first)
	require.NoError(t, w.Flush())
	writeAll(t, w, second)
	require.NoError(t, w.Flush())

	// Power loss after one more data page reached flash but before the
	// sector was terminated.
	programmed := metrics.GetStats().PageWriteCount
	writeAll(t, w, rng.Bytes(300))
	require.Eventually(t, func() bool {
		return metrics.GetStats().PageWriteCount == programmed+1
	}, 5*time.Second, time.Millisecond)
	crashed := flash.NewMemoryFrom(dev.Snapshot())
	closeWriter(t, w)

	fs2 := mountDevice(t, crashed)
	want := append(append([]byte{}, first...), second...)
	assert.Equal(t, want, readFile(t, fs2, w.ID()))

	// Appending seals the unterminated sector so new data stays reachable.
	tail := []byte("after power loss")
	appendFile(t, fs2, w.ID(), tail)
	assert.Equal(t, append(want, tail...), readFile(t, fs2, w.ID()))
}

func TestReaderUseAfterClose(t *testing.T) {
	fs, _ := mountMemory(t, smallDevice)
	id := createFile(t, fs, 1, []byte("abc"))

	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, norfs.ErrFileClosed)
	_, _, err = r.ReadFull(make([]byte, 1))
	assert.ErrorIs(t, err, norfs.ErrFileClosed)
	assert.ErrorIs(t, r.Close(), norfs.ErrFileClosed)
}
