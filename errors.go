package norfs

import (
	"errors"
	"fmt"

	"github.com/hupe1980/norfs/internal/alloctable"
)

var (
	// ErrFileAlreadyExists is returned when a file id is already taken.
	ErrFileAlreadyExists = errors.New("norfs: file already exists")
	// ErrFileDoesNotExist is returned for unknown file ids.
	ErrFileDoesNotExist = errors.New("norfs: file does not exist")
	// ErrFileInUse is returned when a file already has an open handle.
	ErrFileInUse = errors.New("norfs: file in use")
	// ErrMaxFilesReached is returned when the allocation table is full.
	ErrMaxFilesReached = errors.New("norfs: max files reached")
	// ErrDeviceFull is returned when no free sector is left.
	ErrDeviceFull = errors.New("norfs: device full")
	// ErrWriteQueueFull is returned when the page write queue has no room.
	// It is a backpressure signal; the caller may retry later.
	ErrWriteQueueFull = errors.New("norfs: write queue full")
	// ErrFileClosed is returned by handles after Close.
	ErrFileClosed = errors.New("norfs: file closed")
	// ErrTooManyFilesOpen is returned when the open handle limit is reached.
	ErrTooManyFilesOpen = errors.New("norfs: too many files open")
	// ErrCorruptedFileSystem is returned when a file's sector chain cannot be followed.
	ErrCorruptedFileSystem = errors.New("norfs: corrupted file system")
	// ErrClosed is returned by a filesystem after Close.
	ErrClosed = errors.New("norfs: filesystem closed")
	// ErrHandlesOpen is returned by Close while readers or writers are open.
	ErrHandlesOpen = errors.New("norfs: handles still open")
	// ErrReservedFileType is returned for the file type reserved by the table format.
	ErrReservedFileType = errors.New("norfs: reserved file type")
	// ErrInvalidGeometry is returned for devices the layout cannot use.
	ErrInvalidGeometry = errors.New("norfs: invalid device geometry")

	// ErrCorruptedEntry is returned when a table rewrite meets an invalid
	// entry in the current generation. The rewrite is abandoned.
	ErrCorruptedEntry = alloctable.ErrCorruptedEntry
)

// FlashError wraps an error returned by the flash device.
//
// The device error is kept verbatim and can be accessed via errors.Unwrap.
type FlashError struct {
	Op      string
	Address uint32
	Err     error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("norfs: flash %s at %#x: %v", e.Op, e.Address, e.Err)
}

func (e *FlashError) Unwrap() error { return e.Err }

// CorruptedPageError reports a page whose checksum did not match. Reading
// may continue after it.
type CorruptedPageError struct {
	Address uint32
}

func (e *CorruptedPageError) Error() string {
	return fmt.Sprintf("norfs: corrupted page at %#x", e.Address)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, alloctable.ErrTableFull) {
		return fmt.Errorf("%w: %w", ErrMaxFilesReached, err)
	}
	return err
}
