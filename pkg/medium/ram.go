package medium

import (
	"fmt"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// RAM is a zero-initialized byte array medium. It erases to zero with byte
// granularity and programs by plain overwrite.
type RAM struct {
	mem []byte
}

// NewRAM returns a RAM medium of size bytes.
func NewRAM(size uint64) *RAM {
	return &RAM{mem: make([]byte, size)}
}

func (r *RAM) Size() uint64 {
	return uint64(len(r.mem))
}

func (r *RAM) EraseSize() uint64 {
	return 1
}

func (r *RAM) ErasedValue() byte {
	return 0
}

func (r *RAM) Read(addr uint64, buf []byte) error {
	if !inBounds(r.Size(), addr, uint64(len(buf))) {
		return storage.IOError(storage.CodeMemoryOutOfBounds,
			fmt.Errorf("read %d bytes at %d", len(buf), addr))
	}
	copy(buf, r.mem[addr:])
	return nil
}

func (r *RAM) Erase(from, to uint64) error {
	if from > to || !inBounds(r.Size(), from, to-from) {
		return storage.IOError(storage.CodeMemoryOutOfBounds,
			fmt.Errorf("erase [%d, %d)", from, to))
	}
	clear(r.mem[from:to])
	return nil
}

func (r *RAM) Program(addr uint64, data []byte) error {
	if !inBounds(r.Size(), addr, uint64(len(data))) {
		return storage.IOError(storage.CodeMemoryOutOfBounds,
			fmt.Errorf("program %d bytes at %d", len(data), addr))
	}
	copy(r.mem[addr:], data)
	return nil
}

// Bytes exposes the backing array. Tests use it to inspect or damage the
// raw layout.
func (r *RAM) Bytes() []byte {
	return r.mem
}

// Ensure RAM implements the Medium interface.
var _ Medium = (*RAM)(nil)
