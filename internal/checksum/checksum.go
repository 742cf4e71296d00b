// Package checksum provides the two independent checksums of the storage
// engine: CRC32 over control-plane entries and a pluggable integrity hash
// over flash block slots.
package checksum

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// CRC32 returns the IEEE CRC32 of p (reflected polynomial 0xEDB88320,
// initial value 0xFFFFFFFF, final complement).
func CRC32(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// Integrity hashes the block region of a flash slot. Size is part of the
// slot geometry, so changing the implementation changes the layout.
type Integrity interface {
	// Size returns the length of the digest in bytes.
	Size() int
	// Sum appends the digest of p to dst and returns the result.
	Sum(dst, p []byte) []byte
}

// XXHash64 is the default slot integrity hash: xxHash64 stored little-endian.
type XXHash64 struct{}

func (XXHash64) Size() int {
	return 8
}

func (XXHash64) Sum(dst, p []byte) []byte {
	return binary.LittleEndian.AppendUint64(dst, xxhash.Sum64(p))
}

// Default returns the integrity hash used when none is configured.
func Default() Integrity {
	return XXHash64{}
}
