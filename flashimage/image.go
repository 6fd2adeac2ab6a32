// Package flashimage serializes the contents of a flash device into a
// portable, optionally compressed image and restores it onto another device.
//
// An image is a fixed header followed by one record per 64 KiB erase block
// and a CRC32C trailer over the raw device contents:
//
//	header:  magic "NORFSIMG" | version u8 | codec u8 | reserved u16 | size u32
//	block:   raw length u32 | stored length u32 | payload
//	trailer: crc32c u32
//
// Fully erased blocks are recorded without a payload, so images of sparsely
// used devices stay small even with CodecNone.
package flashimage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/norfs/checksum"
	"github.com/hupe1980/norfs/flash"
)

const (
	// Version is the image format version written by Export.
	Version = 1

	headerSize = 16
	blockSize  = flash.Block64KSize
)

var magic = [8]byte{'N', 'O', 'R', 'F', 'S', 'I', 'M', 'G'}

var (
	// ErrNotImage is returned when the input does not start with an image header.
	ErrNotImage = errors.New("flashimage: not an image")
	// ErrUnsupportedVersion is returned for images of a newer format.
	ErrUnsupportedVersion = errors.New("flashimage: unsupported version")
	// ErrUnknownCodec is returned for unknown codec names or ids.
	ErrUnknownCodec = errors.New("flashimage: unknown codec")
	// ErrSizeMismatch is returned when the target device size differs from the image.
	ErrSizeMismatch = errors.New("flashimage: device size mismatch")
	// ErrCorruptImage is returned for truncated or inconsistent images.
	ErrCorruptImage = errors.New("flashimage: corrupt image")
)

// Header describes an image.
type Header struct {
	Version uint8
	Codec   Codec
	Size    uint32
}

// Summary reports what Export or Import processed.
type Summary struct {
	Blocks       int
	ErasedBlocks int
	RawBytes     int64
	StoredBytes  int64
}

// Export writes the whole contents of dev to w using codec c.
// The device size must be a multiple of 64 KiB.
func Export(w io.Writer, dev flash.Flash, c Codec) (Summary, error) {
	var s Summary

	size := dev.Size()
	if size%blockSize != 0 {
		return s, fmt.Errorf("%w: size %d is not a multiple of %d", flash.ErrUnaligned, size, blockSize)
	}
	if c > CodecZstd {
		return s, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
	}

	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, Header{Version: Version, Codec: c, Size: size}); err != nil {
		return s, err
	}
	s.StoredBytes = headerSize

	sum := checksum.NewCRC32C()
	raw := make([]byte, blockSize)
	var hdr [blockHeaderSize]byte

	for addr := uint32(0); addr < size; addr += blockSize {
		if err := flash.Read(dev, addr, raw); err != nil {
			return s, fmt.Errorf("read block %#x: %w", addr, err)
		}
		sum.Update(raw)
		s.Blocks++
		s.RawBytes += blockSize

		if isErased(raw) {
			s.ErasedBlocks++
			putBlockHeader(hdr[:], blockSize, erasedBlock)
			if _, err := bw.Write(hdr[:]); err != nil {
				return s, err
			}
			s.StoredBytes += blockHeaderSize
			continue
		}

		payload, stored, err := compressBlock(raw, c)
		if err != nil {
			return s, fmt.Errorf("compress block %#x: %w", addr, err)
		}
		putBlockHeader(hdr[:], blockSize, stored)
		if _, err := bw.Write(hdr[:]); err != nil {
			return s, err
		}
		if _, err := bw.Write(payload); err != nil {
			return s, err
		}
		s.StoredBytes += blockHeaderSize + int64(len(payload))
	}

	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], sum.Sum32())
	if _, err := bw.Write(trailer[:]); err != nil {
		return s, err
	}
	s.StoredBytes += 4

	return s, bw.Flush()
}

// ReadHeader reads and validates the image header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrNotImage
		}
		return Header{}, err
	}
	if !bytes.Equal(buf[:8], magic[:]) {
		return Header{}, ErrNotImage
	}

	h := Header{
		Version: buf[8],
		Codec:   Codec(buf[9]),
		Size:    binary.BigEndian.Uint32(buf[12:]),
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Codec > CodecZstd {
		return h, fmt.Errorf("%w: %d", ErrUnknownCodec, uint8(h.Codec))
	}
	if h.Size%blockSize != 0 {
		return h, fmt.Errorf("%w: size %d", ErrCorruptImage, h.Size)
	}
	return h, nil
}

func writeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	copy(buf[:8], magic[:])
	buf[8] = h.Version
	buf[9] = uint8(h.Codec)
	binary.BigEndian.PutUint32(buf[12:], h.Size)
	_, err := w.Write(buf[:])
	return err
}

// Import restores the image read from r onto dev. Every block of dev is
// erased and non-erased blocks are programmed page by page. The device must
// have exactly the image's size.
//
// A trailer mismatch is reported after the device has been written; the
// device contents are then undefined.
func Import(r io.Reader, dev flash.Flash) (Summary, error) {
	var s Summary

	br := bufio.NewReader(r)
	h, err := ReadHeader(br)
	if err != nil {
		return s, err
	}
	if dev.Size() != h.Size {
		return s, fmt.Errorf("%w: image %d, device %d", ErrSizeMismatch, h.Size, dev.Size())
	}
	s.StoredBytes = headerSize

	sum := checksum.NewCRC32C()
	raw := make([]byte, blockSize)
	payload := make([]byte, 0, blockSize)
	var hdr [blockHeaderSize]byte

	for addr := uint32(0); addr < h.Size; addr += blockSize {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return s, fmt.Errorf("%w: block %#x header: %w", ErrCorruptImage, addr, err)
		}
		rawLen := binary.BigEndian.Uint32(hdr[0:])
		stored := binary.BigEndian.Uint32(hdr[4:])
		if rawLen != blockSize {
			return s, fmt.Errorf("%w: block %#x has length %d", ErrCorruptImage, addr, rawLen)
		}
		s.Blocks++
		s.RawBytes += blockSize
		s.StoredBytes += blockHeaderSize

		if err := flash.Erase(dev, addr, blockSize); err != nil {
			return s, fmt.Errorf("erase block %#x: %w", addr, err)
		}

		switch stored {
		case erasedBlock:
			s.ErasedBlocks++
			for i := range raw {
				raw[i] = flash.Erased
			}
			sum.Update(raw)
			continue
		case 0:
			if _, err := io.ReadFull(br, raw); err != nil {
				return s, fmt.Errorf("%w: block %#x: %w", ErrCorruptImage, addr, err)
			}
			s.StoredBytes += blockSize
		default:
			// Compressed payloads are always shorter than the block.
			if stored >= blockSize {
				return s, fmt.Errorf("%w: block %#x stored length %d", ErrCorruptImage, addr, stored)
			}
			payload = payload[:stored]
			if _, err := io.ReadFull(br, payload); err != nil {
				return s, fmt.Errorf("%w: block %#x: %w", ErrCorruptImage, addr, err)
			}
			if err := decompressBlock(raw, payload, h.Codec); err != nil {
				return s, fmt.Errorf("block %#x: %w", addr, err)
			}
			s.StoredBytes += int64(stored)
		}

		sum.Update(raw)
		if err := programBlock(dev, addr, raw); err != nil {
			return s, fmt.Errorf("program block %#x: %w", addr, err)
		}
	}

	var trailer [4]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return s, fmt.Errorf("%w: trailer: %w", ErrCorruptImage, err)
	}
	s.StoredBytes += 4
	if got, want := sum.Sum32(), binary.BigEndian.Uint32(trailer[:]); got != want {
		return s, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorruptImage, got, want)
	}
	return s, nil
}

// programBlock writes the non-erased pages of raw at addr.
func programBlock(dev flash.Flash, addr uint32, raw []byte) error {
	for off := 0; off < len(raw); off += flash.PageSize {
		page := raw[off : off+flash.PageSize]
		if isErased(page) {
			continue
		}
		if err := dev.WritePage(addr+uint32(off), page); err != nil {
			return err
		}
	}
	return nil
}

func isErased(p []byte) bool {
	for _, b := range p {
		if b != flash.Erased {
			return false
		}
	}
	return true
}
