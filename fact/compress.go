// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package fact

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression applied to a signed
// transaction payload. The tag is recorded alongside the payload so
// decoding is format-aware. Values are protocol constants.
type CompressionTag uint8

const (
	// CompressionNone stores the payload uncompressed. Selected when
	// the payload has too little redundancy to shrink.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level: better ratios
	// for text-heavy fact payloads.
	CompressionZstd CompressionTag = 2
)

// String returns the tag name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("fact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("fact: zstd decoder initialization failed: " + err.Error())
	}
}

// compressRatioThresholds: a zstd probe ratio at or above 1.5 selects
// zstd; between 1.1 and 1.5 selects LZ4 (faster, acceptable ratio);
// below 1.1 the payload is stored uncompressed.
const (
	zstdRatioThreshold = 1.5
	lz4RatioThreshold  = 1.1
)

// compress opportunistically compresses a canonical transaction
// payload. Returns the (possibly unchanged) stored bytes and the tag
// recording the format.
func compress(data []byte) ([]byte, CompressionTag) {
	if len(data) == 0 {
		return data, CompressionNone
	}

	probe := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(probe))

	switch {
	case ratio >= zstdRatioThreshold:
		return probe, CompressionZstd

	case ratio >= lz4RatioThreshold:
		compressed, ok := compressLZ4(data)
		if !ok {
			// LZ4 found the data incompressible even though zstd
			// managed a marginal ratio; keep the zstd result.
			return probe, CompressionZstd
		}
		return compressed, CompressionLZ4

	default:
		return data, CompressionNone
	}
}

// decompress reverses compress given the recorded tag. The
// uncompressed size must match exactly.
func decompress(stored []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(stored) != uncompressedSize {
			return nil, fmt.Errorf("fact: uncompressed payload is %d bytes, want %d",
				len(stored), uncompressedSize)
		}
		return stored, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("fact: lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("fact: lz4 decompress: got %d bytes, want %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("fact: zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("fact: zstd decompress: got %d bytes, want %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("fact: unsupported compression tag %d", uint8(tag))
	}
}

// compressLZ4 block-compresses data, reporting false when the output
// would not be smaller than the input.
func compressLZ4(data []byte) ([]byte, bool) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil || written == 0 || written >= len(data) {
		return nil, false
	}
	return destination[:written], true
}
