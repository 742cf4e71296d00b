package medium

import (
	"bytes"
	"fmt"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// FlashStats counts the operations a MockFlash served.
type FlashStats struct {
	Reads    int
	Erases   int
	Programs int
}

// MockFlash simulates NOR flash in memory: erase works on whole pages and
// sets bytes to 0xFF, program can only clear bits.
//
// It backs the flash backend on the host and in tests, and can simulate a
// power loss in the middle of a program cycle.
type MockFlash struct {
	mem      []byte
	pageSize uint64

	// interruptAfter is the number of bytes the next Program writes before
	// failing; negative disables the fault.
	interruptAfter int
	stats          FlashStats
}

// NewMockFlash returns an erased flash of size bytes with pageSize erase
// pages. size must be a non-zero multiple of pageSize.
func NewMockFlash(size, pageSize uint64) (*MockFlash, error) {
	if pageSize == 0 || size == 0 || size%pageSize != 0 {
		return nil, fmt.Errorf("%w: flash size %d is not a multiple of page size %d",
			storage.ErrInvalidConfiguration, size, pageSize)
	}
	return &MockFlash{
		mem:            bytes.Repeat([]byte{0xFF}, int(size)),
		pageSize:       pageSize,
		interruptAfter: -1,
	}, nil
}

func (f *MockFlash) Size() uint64 {
	return uint64(len(f.mem))
}

func (f *MockFlash) EraseSize() uint64 {
	return f.pageSize
}

func (f *MockFlash) ErasedValue() byte {
	return 0xFF
}

func (f *MockFlash) Read(addr uint64, buf []byte) error {
	f.stats.Reads++
	if !inBounds(f.Size(), addr, uint64(len(buf))) {
		return storage.IOError(storage.CodeMockReadOutOfBounds,
			fmt.Errorf("read %d bytes at %d", len(buf), addr))
	}
	copy(buf, f.mem[addr:])
	return nil
}

func (f *MockFlash) Erase(from, to uint64) error {
	f.stats.Erases++
	if from > to || from%f.pageSize != 0 || to%f.pageSize != 0 || !inBounds(f.Size(), from, to-from) {
		return storage.IOError(storage.CodeMockEraseInvalid,
			fmt.Errorf("erase [%d, %d) with page size %d", from, to, f.pageSize))
	}
	for i := from; i < to; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

func (f *MockFlash) Program(addr uint64, data []byte) error {
	f.stats.Programs++
	if !inBounds(f.Size(), addr, uint64(len(data))) {
		return storage.IOError(storage.CodeMockWriteOutOfBounds,
			fmt.Errorf("program %d bytes at %d", len(data), addr))
	}

	n := len(data)
	interrupted := f.interruptAfter >= 0 && f.interruptAfter < n
	if interrupted {
		n = f.interruptAfter
	}
	f.interruptAfter = -1

	for i := 0; i < n; i++ {
		f.mem[addr+uint64(i)] &= data[i]
	}
	if interrupted {
		return fmt.Errorf("program at %d after %d of %d bytes: %w", addr, n, len(data), ErrInterrupted)
	}
	return nil
}

// InterruptProgramAfter makes the next Program call write only its first n
// bytes and then fail with ErrInterrupted.
func (f *MockFlash) InterruptProgramAfter(n int) {
	f.interruptAfter = n
}

// Poke overwrites raw bytes, bypassing flash semantics. It simulates bit rot
// and other damage.
func (f *MockFlash) Poke(addr uint64, data []byte) {
	copy(f.mem[addr:], data)
}

// Bytes exposes the backing array for inspection.
func (f *MockFlash) Bytes() []byte {
	return f.mem
}

// Stats returns the operation counters.
func (f *MockFlash) Stats() FlashStats {
	return f.stats
}

// Ensure MockFlash implements the Medium interface.
var _ Medium = (*MockFlash)(nil)
