package flash

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// File is a flash device backed by an image file.
//
// The image is a raw dump of the device: byte i of the file is byte i of the
// flash. Program operations read, AND and write back, so an image produced
// here has the same contents a real chip would.
type File struct {
	mu   sync.Mutex
	f    afero.File
	size uint32
	buf  []byte
}

// OpenFile opens or creates the image name on fsys. A new or short image is
// extended to size with erased bytes.
func OpenFile(fsys afero.Fs, name string, size uint32) (*File, error) {
	f, err := fsys.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if info.Size() < int64(size) {
		if err := extendErased(f, info.Size(), int64(size)); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return &File{f: f, size: size, buf: make([]byte, Block64KSize)}, nil
}

func extendErased(f io.WriterAt, from, to int64) error {
	chunk := make([]byte, Block64KSize)
	fill(chunk, Erased)
	for off := from; off < to; {
		n := min(int64(len(chunk)), to-off)
		if _, err := f.WriteAt(chunk[:n], off); err != nil {
			return fmt.Errorf("extend image: %w", err)
		}
		off += n
	}
	return nil
}

// Size implements Flash.
func (d *File) Size() uint32 {
	return d.size
}

// Reset implements Flash.
func (d *File) Reset() error {
	return nil
}

// EraseSector4K implements Flash.
func (d *File) EraseSector4K(address uint32) error {
	return d.erase(address, SectorSize)
}

// EraseBlock32K implements Flash.
func (d *File) EraseBlock32K(address uint32) error {
	return d.erase(address, Block32KSize)
}

// EraseBlock64K implements Flash.
func (d *File) EraseBlock64K(address uint32) error {
	return d.erase(address, Block64KSize)
}

func (d *File) erase(address, unit uint32) error {
	if err := checkErase(d.size, address, unit); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	block := d.buf[:unit]
	fill(block, Erased)
	_, err := d.f.WriteAt(block, int64(address))
	return err
}

// ReadBlock implements Flash.
func (d *File) ReadBlock(address uint32, p []byte) error {
	if err := checkRead(d.size, address, len(p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(p, int64(address))
	if err == io.EOF {
		err = nil
	}
	return err
}

// WritePage implements Flash.
func (d *File) WritePage(address uint32, p []byte) error {
	if err := checkWrite(d.size, address, len(p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.buf[:len(p)]
	if _, err := d.f.ReadAt(cur, int64(address)); err != nil && err != io.EOF {
		return err
	}
	program(cur, p)
	_, err := d.f.WriteAt(cur, int64(address))
	return err
}

// Sync flushes the image to stable storage.
func (d *File) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

// Close closes the image file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
