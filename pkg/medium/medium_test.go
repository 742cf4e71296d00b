package medium

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCode(t *testing.T, err error, want uint16) {
	t.Helper()
	code, ok := storage.IOCode(err)
	require.True(t, ok, "expected BackendIOError, got %v", err)
	assert.Equal(t, want, code)
}

func TestRAM_ReadProgramErase(t *testing.T) {
	r := NewRAM(16)
	require.NoError(t, r.Program(4, []byte{1, 2, 3}))

	buf := make([]byte, 5)
	require.NoError(t, r.Read(3, buf))
	assert.Equal(t, []byte{0, 1, 2, 3, 0}, buf)

	// plain overwrite, no bit semantics
	require.NoError(t, r.Program(4, []byte{0xF0}))
	assert.Equal(t, byte(0xF0), r.Bytes()[4])

	require.NoError(t, r.Erase(0, 16))
	assert.Equal(t, make([]byte, 16), r.Bytes())
}

func TestRAM_OutOfBounds(t *testing.T) {
	r := NewRAM(8)
	requireCode(t, r.Read(6, make([]byte, 3)), storage.CodeMemoryOutOfBounds)
	requireCode(t, r.Program(math.MaxUint64, []byte{1}), storage.CodeMemoryOutOfBounds)
	requireCode(t, r.Erase(4, 2), storage.CodeMemoryOutOfBounds)
	requireCode(t, r.Erase(0, 9), storage.CodeMemoryOutOfBounds)
}

func TestNewMockFlash_RejectsBadGeometry(t *testing.T) {
	_, err := NewMockFlash(100, 64)
	assert.ErrorIs(t, err, storage.ErrInvalidConfiguration)

	_, err = NewMockFlash(128, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidConfiguration)
}

func TestMockFlash_StartsErased(t *testing.T) {
	f, err := NewMockFlash(256, 64)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 256), f.Bytes())
	assert.Equal(t, byte(0xFF), f.ErasedValue())
	assert.Equal(t, uint64(64), f.EraseSize())
}

func TestMockFlash_ProgramClearsBitsOnly(t *testing.T) {
	f, err := NewMockFlash(128, 64)
	require.NoError(t, err)

	require.NoError(t, f.Program(0, []byte{0x0F}))
	require.NoError(t, f.Program(0, []byte{0xF3}))
	assert.Equal(t, byte(0x03), f.Bytes()[0])

	require.NoError(t, f.Erase(0, 64))
	assert.Equal(t, byte(0xFF), f.Bytes()[0])
}

func TestMockFlash_EraseRequiresPageAlignment(t *testing.T) {
	f, err := NewMockFlash(128, 64)
	require.NoError(t, err)

	requireCode(t, f.Erase(1, 64), storage.CodeMockEraseInvalid)
	requireCode(t, f.Erase(0, 65), storage.CodeMockEraseInvalid)
	requireCode(t, f.Erase(64, 0), storage.CodeMockEraseInvalid)
	requireCode(t, f.Erase(0, 192), storage.CodeMockEraseInvalid)
}

func TestMockFlash_OutOfBounds(t *testing.T) {
	f, err := NewMockFlash(128, 64)
	require.NoError(t, err)

	requireCode(t, f.Read(120, make([]byte, 9)), storage.CodeMockReadOutOfBounds)
	requireCode(t, f.Program(128, []byte{0}), storage.CodeMockWriteOutOfBounds)
}

func TestMockFlash_InterruptProgram(t *testing.T) {
	f, err := NewMockFlash(64, 64)
	require.NoError(t, err)

	f.InterruptProgramAfter(2)
	err = f.Program(0, []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, ErrInterrupted))
	assert.Equal(t, []byte{1, 2, 0xFF, 0xFF}, f.Bytes()[:4])

	// the fault fires once
	require.NoError(t, f.Erase(0, 64))
	require.NoError(t, f.Program(0, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Bytes()[:4])
}

func TestMockFlash_Stats(t *testing.T) {
	f, err := NewMockFlash(64, 64)
	require.NoError(t, err)

	_ = f.Read(0, make([]byte, 1))
	_ = f.Erase(0, 64)
	_ = f.Program(0, []byte{0})
	_ = f.Program(1, []byte{0})
	assert.Equal(t, FlashStats{Reads: 1, Erases: 1, Programs: 2}, f.Stats())
}

func TestIsErased(t *testing.T) {
	assert.True(t, IsErased(nil, 0xFF))
	assert.True(t, IsErased([]byte{0xFF, 0xFF}, 0xFF))
	assert.False(t, IsErased([]byte{0xFF, 0xFE}, 0xFF))
	assert.True(t, IsErased(make([]byte, 8), 0))

	f, err := NewMockFlash(2*DefaultPageSize, DefaultPageSize)
	require.NoError(t, err)
	page := make([]byte, DefaultPageSize)
	require.NoError(t, f.Read(0, page))
	assert.True(t, IsErased(page, f.ErasedValue()))
}
