package flashimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the block compression of an image.
type Codec uint8

const (
	// CodecNone stores blocks verbatim.
	CodecNone Codec = 0
	// CodecLZ4 compresses blocks with LZ4 (fast).
	CodecLZ4 Codec = 1
	// CodecZstd compresses blocks with zstd (smaller).
	CodecZstd Codec = 2
)

// String returns the codec name accepted by ParseCodec.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block header: [raw length u32][stored length u32].
// A stored length of 0 means the block is kept uncompressed, and
// erasedBlock means the block is all 0xFF and has no payload.
const (
	blockHeaderSize = 8
	erasedBlock     = 0xFFFFFFFF
)

func putBlockHeader(dst []byte, raw, stored uint32) {
	binary.BigEndian.PutUint32(dst[0:], raw)
	binary.BigEndian.PutUint32(dst[4:], stored)
}

// compressBlock returns the payload for data and its stored length.
// Blocks that do not shrink by at least 10% are stored verbatim.
func compressBlock(data []byte, c Codec) ([]byte, uint32, error) {
	var compressed []byte
	switch c {
	case CodecNone:
		return data, 0, nil
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		compressed = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCodec, c)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		return data, 0, nil
	}
	return compressed, uint32(len(compressed)), nil
}

// decompressBlock expands payload into dst, which has the raw block length.
func decompressBlock(dst, payload []byte, c Codec) error {
	switch c {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptImage, err)
		}
		if n != len(dst) {
			return fmt.Errorf("%w: lz4 block size mismatch", ErrCorruptImage)
		}
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(payload, dst[:0])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptImage, err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("%w: zstd block size mismatch", ErrCorruptImage)
		}
	default:
		return errors.Join(ErrCorruptImage, fmt.Errorf("%w: %s", ErrUnknownCodec, c))
	}
	return nil
}
