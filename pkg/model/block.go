package model

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxBlockSize is the largest encoded block in bytes. Storage slots are
	// sized to hold exactly one block of this size.
	MaxBlockSize = 2016

	// HeaderSize is the fixed size of the encoded BlockHeader.
	HeaderSize = 124

	// MaxPayloadSize is the largest payload that fits next to the header.
	MaxPayloadSize = MaxBlockSize - HeaderSize

	// HashSize is the size of the previous-block hash.
	HashSize = 32

	// SignatureSize is the size of the creator signature.
	SignatureSize = 64
)

const (
	offVersion                 = 0
	offSequence                = 1
	offCreator                 = 5
	offMinedAmount             = 9
	offPayloadType             = 13
	offConsumedVotes           = 14
	offFirstVotedNode          = 18
	offConsumedVotesFirstVoted = 22
	offPreviousHash            = 26
	offSignature               = offPreviousHash + HashSize
	offPayloadLength           = offSignature + SignatureSize
)

var (
	ErrBlockTooShort   = errors.New("model: block shorter than header")
	ErrZeroVersion     = errors.New("model: block version must be non-zero")
	ErrPayloadTooLarge = errors.New("model: payload exceeds maximum block size")
	ErrTruncated       = errors.New("model: block payload truncated")
)

// BlockHeader contains the chain metadata of a block.
//
// The header is encoded at fixed offsets with little-endian integers. The
// Version byte doubles as the occupancy sentinel of a storage slot: a valid
// block never has a zero version, so a slot starting with zero is empty.
type BlockHeader struct {
	// Version is the block format version. Must be non-zero.
	Version uint8

	// Sequence is the height of the block in the chain.
	Sequence uint32

	// Creator is the node id of the block creator.
	Creator uint32

	MinedAmount uint32

	// PayloadType tells the chain logic how to interpret the payload.
	PayloadType uint8

	ConsumedVotes                   uint32
	FirstVotedNode                  uint32
	ConsumedVotesFromFirstVotedNode uint32

	// PreviousHash links the block to its predecessor.
	PreviousHash [HashSize]byte

	// Signature is the creator signature over the block.
	Signature [SignatureSize]byte
}

// Block is the fixed-format binary record persisted in one storage slot.
//
// # Encoding
//
//	| header (HeaderSize bytes) | payload_len u16 inside the header | payload |
//
// The encoded length is HeaderSize plus the payload length and never exceeds
// MaxBlockSize. Bytes following the payload are not part of the block, which
// lets a block be decoded from a zero-padded storage slot.
//
// Block values are immutable; Bytes returns the internal slice and callers
// must not modify it.
type Block struct {
	data []byte
}

// FromBytes decodes a block from data. Trailing bytes after the payload are
// ignored. The returned block owns a copy of the encoded bytes.
func FromBytes(data []byte) (Block, error) {
	if len(data) < HeaderSize {
		return Block{}, ErrBlockTooShort
	}
	if data[offVersion] == 0 {
		return Block{}, ErrZeroVersion
	}

	payloadLen := int(binary.LittleEndian.Uint16(data[offPayloadLength:]))
	if payloadLen > MaxPayloadSize {
		return Block{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}
	if HeaderSize+payloadLen > len(data) {
		return Block{}, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, HeaderSize+payloadLen, len(data))
	}

	out := make([]byte, HeaderSize+payloadLen)
	copy(out, data)
	return Block{data: out}, nil
}

// Bytes returns the encoded block.
func (b Block) Bytes() []byte {
	return b.data
}

// Len returns the encoded length of the block.
func (b Block) Len() int {
	return len(b.data)
}

// IsZero reports whether b is the zero Block (never decoded or built).
func (b Block) IsZero() bool {
	return len(b.data) == 0
}

// Header decodes the block header.
func (b Block) Header() BlockHeader {
	if len(b.data) < HeaderSize {
		return BlockHeader{}
	}
	d := b.data
	h := BlockHeader{
		Version:                         d[offVersion],
		Sequence:                        binary.LittleEndian.Uint32(d[offSequence:]),
		Creator:                         binary.LittleEndian.Uint32(d[offCreator:]),
		MinedAmount:                     binary.LittleEndian.Uint32(d[offMinedAmount:]),
		PayloadType:                     d[offPayloadType],
		ConsumedVotes:                   binary.LittleEndian.Uint32(d[offConsumedVotes:]),
		FirstVotedNode:                  binary.LittleEndian.Uint32(d[offFirstVotedNode:]),
		ConsumedVotesFromFirstVotedNode: binary.LittleEndian.Uint32(d[offConsumedVotesFirstVoted:]),
	}
	copy(h.PreviousHash[:], d[offPreviousHash:offPreviousHash+HashSize])
	copy(h.Signature[:], d[offSignature:offSignature+SignatureSize])
	return h
}

// Payload returns the payload following the header.
func (b Block) Payload() []byte {
	if len(b.data) < HeaderSize {
		return nil
	}
	return b.data[HeaderSize:]
}

// Equal reports whether both blocks have identical encodings.
func (b Block) Equal(other Block) bool {
	if len(b.data) != len(other.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

func encodeHeader(dst []byte, h BlockHeader, payloadLen int) {
	dst[offVersion] = h.Version
	binary.LittleEndian.PutUint32(dst[offSequence:], h.Sequence)
	binary.LittleEndian.PutUint32(dst[offCreator:], h.Creator)
	binary.LittleEndian.PutUint32(dst[offMinedAmount:], h.MinedAmount)
	dst[offPayloadType] = h.PayloadType
	binary.LittleEndian.PutUint32(dst[offConsumedVotes:], h.ConsumedVotes)
	binary.LittleEndian.PutUint32(dst[offFirstVotedNode:], h.FirstVotedNode)
	binary.LittleEndian.PutUint32(dst[offConsumedVotesFirstVoted:], h.ConsumedVotesFromFirstVotedNode)
	copy(dst[offPreviousHash:], h.PreviousHash[:])
	copy(dst[offSignature:], h.Signature[:])
	binary.LittleEndian.PutUint16(dst[offPayloadLength:], uint16(payloadLen))
}
