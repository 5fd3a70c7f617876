package loader

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/ktx2-transcoder/errors"
)

// Compression identifies an outer stream wrapped around the container.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionGzip
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// maxDecoded bounds the size of an unwrapped container.
const maxDecoded = 1 << 30

var (
	ktx2Magic = []byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB, '\r', '\n', 0x1A, '\n'}
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
)

// Detect reports the outer compression of data by its magic bytes.
func Detect(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// IsKTX2 reports whether data starts with the KTX2 file identifier.
func IsKTX2(data []byte) bool {
	return bytes.HasPrefix(data, ktx2Magic)
}

var (
	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func sharedZstd() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	})
	return zstdDec, zstdErr
}

// unwrap removes one outer zstd or gzip layer. Other input is returned as is.
func unwrap(data []byte) ([]byte, Compression, error) {
	c := Detect(data)
	switch c {
	case CompressionZstd:
		dec, err := sharedZstd()
		if err != nil {
			return nil, c, errors.Wrap(errors.PhaseInput, errors.KindInvalidInput, err, "zstd decoder")
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, c, errors.Wrap(errors.PhaseInput, errors.KindInvalidInput, err, "zstd stream")
		}
		return out, c, nil

	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, c, errors.Wrap(errors.PhaseInput, errors.KindInvalidInput, err, "gzip header")
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
		if err != nil {
			return nil, c, errors.Wrap(errors.PhaseInput, errors.KindInvalidInput, err, "gzip stream")
		}
		if len(out) > maxDecoded {
			return nil, c, errors.InvalidInput(errors.PhaseInput, "gzip stream exceeds 1GiB")
		}
		return out, c, nil

	default:
		return data, c, nil
	}
}
