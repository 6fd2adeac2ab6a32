package norfs_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/norfs"
	"github.com/hupe1980/norfs/flash"
)

const (
	smallDevice = 1 << 20
	largeDevice = 64 << 20
)

func mountMemory(t *testing.T, size uint32, opts ...norfs.Option) (*norfs.FS, *flash.Memory) {
	t.Helper()
	dev := flash.NewMemory(size)
	return mountDevice(t, dev, opts...), dev
}

// mountDevice mounts dev and closes the filesystem when the test ends.
func mountDevice(t *testing.T, dev flash.Flash, opts ...norfs.Option) *norfs.FS {
	t.Helper()
	fs, err := norfs.Mount(context.Background(), dev, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fs.Close(context.Background())
	})
	return fs
}

// writeAll writes data, retrying while the write queue is full.
func writeAll(t *testing.T, w *norfs.FileWriter, data []byte) {
	t.Helper()
	for len(data) > 0 {
		n, err := w.Write(data)
		data = data[n:]
		if errors.Is(err, norfs.ErrWriteQueueFull) {
			time.Sleep(50 * time.Microsecond)
			continue
		}
		require.NoError(t, err)
	}
}

// closeWriter closes w, retrying while the write queue is full.
func closeWriter(t *testing.T, w *norfs.FileWriter) {
	t.Helper()
	for {
		err := w.Close()
		if errors.Is(err, norfs.ErrWriteQueueFull) {
			time.Sleep(50 * time.Microsecond)
			continue
		}
		require.NoError(t, err)
		return
	}
}

func createFile(t *testing.T, fs *norfs.FS, typ norfs.FileType, data []byte) norfs.FileID {
	t.Helper()
	w, err := fs.CreateAndOpenForWrite(context.Background(), typ)
	require.NoError(t, err)
	writeAll(t, w, data)
	closeWriter(t, w)
	return w.ID()
}

func appendFile(t *testing.T, fs *norfs.FS, id norfs.FileID, data []byte) {
	t.Helper()
	w, err := fs.OpenForWrite(context.Background(), id)
	require.NoError(t, err)
	writeAll(t, w, data)
	closeWriter(t, w)
}

func readFile(t *testing.T, fs *norfs.FS, id norfs.FileID) []byte {
	t.Helper()
	r, err := fs.OpenForRead(context.Background(), id)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func remount(t *testing.T, fs *norfs.FS, dev *flash.Memory, opts ...norfs.Option) *norfs.FS {
	t.Helper()
	require.NoError(t, fs.Close(context.Background()))
	return mountDevice(t, dev, opts...)
}
