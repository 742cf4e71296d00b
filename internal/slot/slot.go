// Package slot reads and writes one block into one fixed-size slot buffer
// and tells empty, valid and damaged slots apart.
package slot

import (
	"bytes"
	"fmt"

	"github.com/i5heu/moonblokz-storage/internal/checksum"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// WritePlain stores an encoded block in an array slot: the slot is zeroed
// and the block copied to its start. Blocks longer than the slot fail with
// CodeOversizedBlock and leave the slot untouched.
func WritePlain(slot, encoded []byte) error {
	if len(encoded) > len(slot) {
		return storage.IOError(storage.CodeOversizedBlock,
			fmt.Errorf("block of %d bytes exceeds slot of %d bytes", len(encoded), len(slot)))
	}
	clear(slot)
	copy(slot, encoded)
	return nil
}

// ReadPlain decodes an array slot. A slot whose first byte is the erased
// value is absent; anything else must decode as a block.
func ReadPlain(slot []byte, erased byte) (model.Block, error) {
	if len(slot) == 0 || slot[0] == erased {
		return model.Block{}, storage.ErrBlockAbsent
	}
	b, err := model.FromBytes(slot)
	if err != nil {
		return model.Block{}, storage.IOError(storage.CodeSlotDecode, err)
	}
	return b, nil
}

// Hashed is the flash slot codec: the block region is followed by an
// integrity hash over it.
//
//	| block bytes (BlockSize) | hash (Hash.Size()) |
type Hashed struct {
	BlockSize int
	Hash      checksum.Integrity
}

// NewHashed returns the codec for MaxBlockSize blocks protected by h.
func NewHashed(h checksum.Integrity) Hashed {
	if h == nil {
		h = checksum.Default()
	}
	return Hashed{BlockSize: model.MaxBlockSize, Hash: h}
}

// Size returns the slot size in bytes.
func (c Hashed) Size() int {
	return c.BlockSize + c.Hash.Size()
}

// Write fills slot, which must be Size bytes, with the zero-padded block and
// its hash.
func (c Hashed) Write(slot, encoded []byte) error {
	if len(slot) != c.Size() {
		return fmt.Errorf("slot: buffer of %d bytes, want %d", len(slot), c.Size())
	}
	if err := WritePlain(slot[:c.BlockSize], encoded); err != nil {
		return err
	}
	sum := c.Hash.Sum(nil, slot[:c.BlockSize])
	copy(slot[c.BlockSize:], sum)
	return nil
}

// Read verifies and decodes slot.
//
// A fully erased slot is absent. Otherwise the stored hash has to match and
// the block has to decode; both failures are integrity failures. A slot left
// half programmed by an interrupted write therefore never reads as absent
// or as a block.
func (c Hashed) Read(slot []byte, erased byte) (model.Block, error) {
	if len(slot) != c.Size() {
		return model.Block{}, fmt.Errorf("slot: buffer of %d bytes, want %d", len(slot), c.Size())
	}
	if medium.IsErased(slot, erased) {
		return model.Block{}, storage.ErrBlockAbsent
	}

	body := slot[:c.BlockSize]
	want := c.Hash.Sum(nil, body)
	if !bytes.Equal(want, slot[c.BlockSize:]) {
		return model.Block{}, fmt.Errorf("%w: slot hash mismatch", storage.ErrIntegrityFailure)
	}

	b, err := model.FromBytes(body)
	if err != nil {
		return model.Block{}, fmt.Errorf("%w: %v", storage.ErrIntegrityFailure, err)
	}
	return b, nil
}
