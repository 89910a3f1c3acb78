package program

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortiblox/bytevm/pkg/asm"
)

// Format is an on-disk program representation.
type Format int

// Program file formats.
const (
	FormatRaw Format = iota
	FormatContainer
	FormatSource
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatContainer:
		return "bvmz"
	case FormatSource:
		return "asm"
	default:
		return "raw"
	}
}

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown program format")

// ParseFormat parses a format name as accepted by the CLI.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "raw", "bin":
		return FormatRaw, nil
	case "bvmz":
		return FormatContainer, nil
	case "asm", "bvs":
		return FormatSource, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatForPath picks a format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bvmz":
		return FormatContainer
	case ".asm", ".bvs":
		return FormatSource
	default:
		return FormatRaw
	}
}

// Parse interprets data in the given format. Raw data that carries the
// container magic is decoded as a container.
func Parse(data []byte, format Format) (*Program, error) {
	switch format {
	case FormatContainer:
		return Decode(data)
	case FormatSource:
		code, err := asm.AssembleCode(string(data))
		if err != nil {
			return nil, err
		}
		return New(code)
	default:
		if IsContainer(data) {
			return Decode(data)
		}
		return New(data)
	}
}

// Load reads a program file, choosing the format by extension.
func Load(path string) (*Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	// Source text is larger than the code it produces.
	limit := int64(MaxCodeSize)
	if FormatForPath(path) == FormatSource {
		limit *= 16
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s: %w: %d bytes", path, ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Marshal renders p in the given format.
func Marshal(p *Program, format Format) ([]byte, error) {
	switch format {
	case FormatContainer:
		return Encode(p)
	case FormatSource:
		return []byte(asm.Source(p.Code)), nil
	default:
		out := make([]byte, len(p.Code))
		copy(out, p.Code)
		return out, nil
	}
}

// Save writes p to path, choosing the format by extension.
func Save(path string, p *Program) error {
	data, err := Marshal(p, FormatForPath(path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
