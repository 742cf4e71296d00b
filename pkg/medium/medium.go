// Package medium defines the byte-addressed storage medium that backends are
// built on, together with an in-process RAM array and a page-erase flash
// simulation.
package medium

import "errors"

// DefaultPageSize is the erase page of the RP2040 QSPI flash.
const DefaultPageSize = 4096

// ErrInterrupted is returned by a program operation that was cut short by a
// simulated power loss.
var ErrInterrupted = errors.New("medium: program interrupted")

// Medium is the capability a backend needs from its storage device. All
// operations block until they complete.
type Medium interface {
	// Size returns the fixed size of the medium in bytes.
	Size() uint64

	// EraseSize returns the erase granularity in bytes. Erase bounds must be
	// multiples of it. A byte array reports 1.
	EraseSize() uint64

	// ErasedValue returns the value every byte has after an erase.
	ErasedValue() byte

	// Read fills buf with the bytes starting at addr.
	Read(addr uint64, buf []byte) error

	// Erase resets [from, to) to ErasedValue.
	Erase(from, to uint64) error

	// Program writes data starting at addr. On flash, programming can only
	// move bits away from the erased state, so the target range has to be
	// erased first.
	Program(addr uint64, data []byte) error
}

// IsErased reports whether every byte of p equals erased.
func IsErased(p []byte, erased byte) bool {
	for _, b := range p {
		if b != erased {
			return false
		}
	}
	return true
}

// inBounds reports whether [addr, addr+n) lies inside a medium of size bytes
// without overflowing.
func inBounds(size, addr, n uint64) bool {
	return addr <= size && n <= size-addr
}
