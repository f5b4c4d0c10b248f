package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec.
type Compression uint8

const (
	// CompressionNone stores blocks raw.
	CompressionNone Compression = 0
	// CompressionLZ4 favours speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favours ratio.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const (
	blockHeaderSize = 8
	blockSize       = 64 * 1024
	maxBlockSize    = 16 * blockSize
)

var errCorruptBlock = errors.New("snapshot: corrupt block")

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

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	// Keep incompressible blocks raw.
	if len(packed) == 0 || len(packed) >= len(data)*9/10 {
		packed = nil
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+max(len(packed), len(data)))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	if packed == nil {
		return append(out, data...), nil
	}
	return append(out, packed...), nil
}

// readBlock reads one block from r. It returns io.EOF at a clean end.
func readBlock(r io.Reader, c Compression) ([]byte, error) {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errCorruptBlock
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[0:])
	packedSize := binary.LittleEndian.Uint32(hdr[4:])
	if size > maxBlockSize || packedSize > maxBlockSize {
		return nil, errCorruptBlock
	}

	if packedSize == 0 {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errCorruptBlock
		}
		return data, nil
	}

	packed := make([]byte, packedSize)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, errCorruptBlock
	}
	out := make([]byte, size)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, errCorruptBlock
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != size {
			return nil, errCorruptBlock
		}
		return decoded, nil
	default:
		return nil, errCorruptBlock
	}
}

// writeBlocks splits data into blocks and writes them to w.
func writeBlocks(w io.Writer, data []byte, c Compression) error {
	for len(data) > 0 {
		n := min(len(data), blockSize)
		blk, err := compressBlock(data[:n], c)
		if err != nil {
			return err
		}
		if _, err := w.Write(blk); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// readBlocks reads blocks until EOF and concatenates them.
func readBlocks(r io.Reader, c Compression) ([]byte, error) {
	var out []byte
	for {
		blk, err := readBlock(r, c)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, blk...)
	}
}
