package program

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/sha3"
)

// Container layout:
//
//	offset  size  field
//	0       4     magic "BVMZ"
//	4       1     version
//	5       4     code length, big endian
//	9       32    SHA3-256 of the code
//	41      ...   zstd frame holding the code
const (
	ContainerVersion = 1
	headerSize       = 4 + 1 + 4 + 32
)

var (
	containerMagic = []byte("BVMZ")
	zstdMagic      = []byte{0x28, 0xB5, 0x2F, 0xFD}
)

// Container errors.
var (
	ErrBadMagic           = errors.New("not a bvmz container")
	ErrUnsupportedVersion = errors.New("unsupported container version")
	ErrChecksumMismatch   = errors.New("container checksum mismatch")
	ErrTruncated          = errors.New("container truncated")
	ErrCorrupt            = errors.New("container payload corrupt")
)

// IsContainer reports whether data starts with the container magic.
func IsContainer(data []byte) bool {
	return bytes.HasPrefix(data, containerMagic)
}

// Encode packs p into a compressed container.
func Encode(p *Program) ([]byte, error) {
	compressed, err := compress(p.Code)
	if err != nil {
		return nil, fmt.Errorf("zstd compression failed: %w", err)
	}

	sum := sha3.Sum256(p.Code)

	out := make([]byte, headerSize, headerSize+len(compressed))
	copy(out[0:4], containerMagic)
	out[4] = ContainerVersion
	binary.BigEndian.PutUint32(out[5:9], uint32(len(p.Code)))
	copy(out[9:41], sum[:])
	return append(out, compressed...), nil
}

// Decode unpacks a container and verifies its checksum.
func Decode(data []byte) (*Program, error) {
	if !IsContainer(data) {
		return nil, ErrBadMagic
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
	}
	if v := data[4]; v != ContainerVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	size := binary.BigEndian.Uint32(data[5:9])
	if size > MaxCodeSize {
		return nil, fmt.Errorf("%w: header declares %d bytes", ErrTooLarge, size)
	}

	code, err := decompress(data[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint32(len(code)) != size {
		return nil, fmt.Errorf("%w: header declares %d bytes, payload has %d", ErrTruncated, size, len(code))
	}

	var want [32]byte
	copy(want[:], data[9:41])
	if sha3.Sum256(code) != want {
		return nil, ErrChecksumMismatch
	}

	return New(code)
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithZeroFrames(true))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompress accepts only a payload that opens with a zstd frame. The
// decoder returns no error for input without one.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return nil, errors.New("missing zstd frame header")
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxCodeSize*4))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// Compress returns the bare zstd frame of data, as used by the
// base64+zstd wire encoding.
func Compress(data []byte) ([]byte, error) {
	return compress(data)
}

// Decompress reverses Compress. Output is bounded by MaxCodeSize.
func Decompress(data []byte) ([]byte, error) {
	out, err := decompress(data)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxCodeSize {
		return nil, ErrTooLarge
	}
	return out, nil
}
