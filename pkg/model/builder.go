package model

import "fmt"

// Builder assembles a Block from a header and a payload.
//
//	b, err := model.NewBuilder().
//		Header(model.BlockHeader{Version: 1, Sequence: 7}).
//		Payload([]byte{1, 2, 3}).
//		Build()
type Builder struct {
	header  BlockHeader
	payload []byte
	err     error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Header sets the block header.
func (b *Builder) Header(h BlockHeader) *Builder {
	b.header = h
	return b
}

// Payload sets the block payload. Payloads larger than MaxPayloadSize make
// Build fail.
func (b *Builder) Payload(p []byte) *Builder {
	if len(p) > MaxPayloadSize {
		b.err = fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p))
		return b
	}
	b.payload = append(b.payload[:0], p...)
	return b
}

// Build encodes the block.
func (b *Builder) Build() (Block, error) {
	if b.err != nil {
		return Block{}, b.err
	}
	if b.header.Version == 0 {
		return Block{}, ErrZeroVersion
	}

	data := make([]byte, HeaderSize+len(b.payload))
	encodeHeader(data, b.header, len(b.payload))
	copy(data[HeaderSize:], b.payload)
	return Block{data: data}, nil
}
