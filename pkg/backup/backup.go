// Package backup writes a storage medium to a portable image and restores it.
//
// # Image Format
//
//	| magic "MBLKIMG1" | format u8 | erased u8 | eraseSize u64 | size u64 | crc32 u32 | body |
//
// Integers are little-endian. The CRC covers the raw medium contents. The
// body is the medium contents, stored raw or compressed as named by format.
package backup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/i5heu/moonblokz-storage/internal/checksum"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format selects the body encoding of an image.
type Format uint8

const (
	FormatRaw Format = iota
	FormatZstd
	FormatXZ
)

const (
	magic      = "MBLKIMG1"
	headerSize = len(magic) + 1 + 1 + 8 + 8 + 4

	// programChunk bounds a single Program call on byte-erasable media.
	programChunk = 64 * 1024
)

var (
	ErrBadMagic      = errors.New("backup: not a medium image")
	ErrUnknownFormat = errors.New("backup: unknown image format")
	ErrMismatch      = errors.New("backup: image does not fit medium")
	ErrChecksum      = errors.New("backup: image checksum mismatch")
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatZstd:
		return "zstd"
	case FormatXZ:
		return "xz"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat accepts the names printed by Format.String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "raw", "":
		return FormatRaw, nil
	case "zstd", "zst":
		return FormatZstd, nil
	case "xz":
		return FormatXZ, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Header describes an image.
type Header struct {
	Format    Format
	Erased    byte
	EraseSize uint64
	Size      uint64
	CRC       uint32
}

func (h Header) marshal() []byte {
	out := make([]byte, headerSize)
	copy(out, magic)
	p := out[len(magic):]
	p[0] = byte(h.Format)
	p[1] = h.Erased
	binary.LittleEndian.PutUint64(p[2:], h.EraseSize)
	binary.LittleEndian.PutUint64(p[10:], h.Size)
	binary.LittleEndian.PutUint32(p[18:], h.CRC)
	return out
}

// ReadHeader reads and validates the image header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("read image header: %w", err)
	}
	if string(buf[:len(magic)]) != magic {
		return Header{}, ErrBadMagic
	}
	p := buf[len(magic):]
	h := Header{
		Format:    Format(p[0]),
		Erased:    p[1],
		EraseSize: binary.LittleEndian.Uint64(p[2:]),
		Size:      binary.LittleEndian.Uint64(p[10:]),
		CRC:       binary.LittleEndian.Uint32(p[18:]),
	}
	if h.Format > FormatXZ {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownFormat, p[0])
	}
	return h, nil
}

// Dump writes the full contents of m to w as an image.
func Dump(m medium.Medium, w io.Writer, format Format) error {
	if format > FormatXZ {
		return fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
	contents := make([]byte, m.Size())
	if err := m.Read(0, contents); err != nil {
		return fmt.Errorf("read medium: %w", err)
	}

	h := Header{
		Format:    format,
		Erased:    m.ErasedValue(),
		EraseSize: m.EraseSize(),
		Size:      m.Size(),
		CRC:       checksum.CRC32(contents),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return fmt.Errorf("write image header: %w", err)
	}

	body, err := compressor(w, format)
	if err != nil {
		return err
	}
	if _, err := body.Write(contents); err != nil {
		return fmt.Errorf("write image body: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("finish image body: %w", err)
	}
	return nil
}

// Restore replaces the contents of m with the image read from r. Header
// geometry and checksum are verified before m is touched.
func Restore(r io.Reader, m medium.Medium) (Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, err
	}
	if h.Size != m.Size() || h.EraseSize != m.EraseSize() || h.Erased != m.ErasedValue() {
		return h, fmt.Errorf("%w: image %d bytes (erase %d, erased %#x), medium %d bytes (erase %d, erased %#x)",
			ErrMismatch, h.Size, h.EraseSize, h.Erased, m.Size(), m.EraseSize(), m.ErasedValue())
	}

	body, done, err := decompressor(r, h.Format)
	if err != nil {
		return h, err
	}
	defer done()
	contents := make([]byte, h.Size)
	if _, err := io.ReadFull(body, contents); err != nil {
		return h, fmt.Errorf("read image body: %w", err)
	}
	if crc := checksum.CRC32(contents); crc != h.CRC {
		return h, fmt.Errorf("%w: %08x, header says %08x", ErrChecksum, crc, h.CRC)
	}

	if err := m.Erase(0, m.Size()); err != nil {
		return h, fmt.Errorf("erase medium: %w", err)
	}
	return h, program(m, contents)
}

// program writes contents chunk by chunk and skips chunks that are still
// erased.
func program(m medium.Medium, contents []byte) error {
	chunk := m.EraseSize()
	if chunk < programChunk {
		chunk = programChunk - programChunk%chunk
	}
	for addr := uint64(0); addr < uint64(len(contents)); addr += chunk {
		end := min(addr+chunk, uint64(len(contents)))
		part := contents[addr:end]
		if medium.IsErased(part, m.ErasedValue()) {
			continue
		}
		if err := m.Program(addr, part); err != nil {
			return fmt.Errorf("program medium at %d: %w", addr, err)
		}
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		return enc, nil
	case FormatXZ:
		enc, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create xz encoder: %w", err)
		}
		return enc, nil
	default:
		return nopWriteCloser{w}, nil
	}
}

// decompressor returns the body reader and a func releasing it.
func decompressor(r io.Reader, format Format) (io.Reader, func(), error) {
	switch format {
	case FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		return dec, dec.Close, nil
	case FormatXZ:
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("create xz decoder: %w", err)
		}
		return dec, func() {}, nil
	default:
		return r, func() {}, nil
	}
}
