package program

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var countdown = []byte{1, 3, 3, 14, 1, 1, 6, 3, 1, 2, 12, 2, 16}

func TestNew(t *testing.T) {
	code := []byte{1, 7, 14, 16}
	p, err := New(code)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	// Program owns its copy.
	code[0] = 0xFF
	if p.Code[0] != 1 {
		t.Error("New() did not copy code")
	}

	q, _ := New([]byte{1, 7, 14, 16})
	if p.ID() != q.ID() {
		t.Error("identical code produced different IDs")
	}
	r, _ := New([]byte{1, 8, 14, 16})
	if p.ID() == r.ID() {
		t.Error("different code produced the same ID")
	}

	if _, err := New(make([]byte, MaxCodeSize+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("New(oversized) = %v, want ErrTooLarge", err)
	}

	empty, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) failed: %v", err)
	}
	if !errors.Is(empty.RequireNonEmpty(), ErrEmpty) {
		t.Error("RequireNonEmpty() accepted an empty program")
	}
}

func TestContainerRoundTrip(t *testing.T) {
	for _, code := range [][]byte{countdown, {}, bytes.Repeat([]byte{13}, 4096)} {
		p, _ := New(code)
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode() failed: %v", err)
		}
		if !IsContainer(data) {
			t.Fatal("encoded data lacks magic")
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode() failed: %v", err)
		}
		if !bytes.Equal(got.Code, code) {
			t.Errorf("Decode() = %v, want %v", got.Code, code)
		}
		if got.ID() != p.ID() {
			t.Error("ID changed across container round trip")
		}
	}
}

func TestContainerErrors(t *testing.T) {
	p, _ := New(countdown)
	good, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	empty, _ := New(nil)
	emptyContainer, err := Encode(empty)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	emptyHeader := append([]byte(nil), emptyContainer[:headerSize]...)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"not a container", countdown, ErrBadMagic},
		{"short header", good[:20], ErrTruncated},
		{"bad version", mutate(func(b []byte) []byte { b[4] = 9; return b }), ErrUnsupportedVersion},
		{"oversized length", mutate(func(b []byte) []byte { b[5] = 0xFF; return b }), ErrTooLarge},
		{"wrong length", mutate(func(b []byte) []byte { b[8]++; return b }), ErrTruncated},
		{"bad checksum", mutate(func(b []byte) []byte { b[9] ^= 0xFF; return b }), ErrChecksumMismatch},
		{"garbage payload", mutate(func(b []byte) []byte { return append(b[:headerSize], 1, 2, 3) }), ErrCorrupt},
		{"empty code with garbage payload", append(emptyHeader, 1, 2, 3), ErrCorrupt},
		{"empty code without payload", emptyHeader, ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.err) {
				t.Errorf("Decode() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestCompress(t *testing.T) {
	z, err := Compress(countdown)
	if err != nil {
		t.Fatalf("Compress() failed: %v", err)
	}
	got, err := Decompress(z)
	if err != nil {
		t.Fatalf("Decompress() failed: %v", err)
	}
	if !bytes.Equal(got, countdown) {
		t.Errorf("Decompress() = %v, want %v", got, countdown)
	}

	for _, bad := range [][]byte{nil, {1, 2, 3}, {0x28, 0xB5}} {
		if _, err := Decompress(bad); err == nil {
			t.Errorf("Decompress(%x) succeeded, want error", bad)
		}
	}
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	p, _ := New(countdown)

	for _, name := range []string{"prog.bin", "prog.bvmz", "prog.asm", "nested/dir/prog.bvs"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(path, p); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if got.ID() != p.ID() {
				t.Errorf("Load() = %v, want %v", got.Code, p.Code)
			}
		})
	}
}

func TestLoadSniffsContainer(t *testing.T) {
	dir := t.TempDir()
	p, _ := New(countdown)
	data, _ := Encode(p)

	path := filepath.Join(dir, "prog.dat")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !bytes.Equal(got.Code, countdown) {
		t.Errorf("Load() = %v, want %v", got.Code, countdown)
	}
}

func TestLoadSourceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.asm")
	if err := os.WriteFile(path, []byte("PUSH 1\nBOGUS\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted invalid source")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"raw", FormatRaw},
		{"BVMZ", FormatContainer},
		{"asm", FormatSource},
		{"bvs", FormatSource},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseFormat("elf"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(elf) = %v, want ErrUnknownFormat", err)
	}
}
