// Package controlplane encodes the replicated node identity record and
// recovers one authoritative copy from a set of replicas.
package controlplane

import (
	"encoding/binary"
	"fmt"

	"github.com/i5heu/moonblokz-storage/internal/checksum"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// Entry layout. Every field sits at a fixed offset; the CRC covers all bytes
// in front of it.
const (
	offVersion        = 0
	offKeySize        = offVersion + 1
	offKey            = offKeySize + 1
	offOwnNodeID      = offKey + storage.PrivateKeySize
	offInitParamsSize = offOwnNodeID + 4
	offInitParams     = offInitParamsSize + 1
	offMaxBlockSize   = offInitParams + storage.InitParamsSize
	offChainConfig    = offMaxBlockSize + 2
	offCRC            = offChainConfig + model.MaxBlockSize

	// EntrySize is the encoded size of one replica.
	EntrySize = offCRC + 4
)

// Record is the decoded control-plane state.
type Record struct {
	PrivateKey [storage.PrivateKeySize]byte
	OwnNodeID  uint32
	InitParams [storage.InitParamsSize]byte

	// ChainConfiguration is nil while unset.
	ChainConfiguration *model.Block
}

// Data converts the record into the value handed to callers.
func (r Record) Data() storage.ControlPlaneData {
	d := storage.ControlPlaneData{
		Version:    storage.ControlPlaneVersion,
		PrivateKey: r.PrivateKey,
		OwnNodeID:  r.OwnNodeID,
		InitParams: r.InitParams,
	}
	if r.ChainConfiguration != nil {
		cfg := *r.ChainConfiguration
		d.ChainConfiguration = &cfg
	}
	return d
}

// Encode serializes r into an EntrySize byte entry.
func Encode(r Record) ([]byte, error) {
	out := make([]byte, EntrySize)
	out[offVersion] = storage.ControlPlaneVersion
	out[offKeySize] = storage.PrivateKeySize
	copy(out[offKey:], r.PrivateKey[:])
	binary.LittleEndian.PutUint32(out[offOwnNodeID:], r.OwnNodeID)
	out[offInitParamsSize] = storage.InitParamsSize
	copy(out[offInitParams:], r.InitParams[:])
	binary.LittleEndian.PutUint16(out[offMaxBlockSize:], model.MaxBlockSize)

	if r.ChainConfiguration != nil {
		cfg := r.ChainConfiguration.Bytes()
		if len(cfg) > model.MaxBlockSize {
			return nil, storage.IOError(storage.CodeOversizedBlock,
				fmt.Errorf("chain configuration of %d bytes", len(cfg)))
		}
		copy(out[offChainConfig:], cfg)
	}

	binary.LittleEndian.PutUint32(out[offCRC:], checksum.CRC32(out[:offCRC]))
	return out, nil
}

// Decode parses an entry read from a medium whose erased bytes equal erased.
//
// The checks run in order: an all-erased entry is uninitialized, a CRC
// mismatch is corruption, a foreign version or size field is
// incompatibility, and a chain configuration that is not a valid block is
// corruption again.
func Decode(entry []byte, erased byte) (Record, error) {
	if len(entry) != EntrySize {
		return Record{}, fmt.Errorf("%w: entry is %d bytes, want %d",
			storage.ErrControlPlaneCorrupted, len(entry), EntrySize)
	}
	if medium.IsErased(entry, erased) {
		return Record{}, storage.ErrControlPlaneUninitialized
	}

	stored := binary.LittleEndian.Uint32(entry[offCRC:])
	if computed := checksum.CRC32(entry[:offCRC]); stored != computed {
		return Record{}, fmt.Errorf("%w: crc %08x, computed %08x",
			storage.ErrControlPlaneCorrupted, stored, computed)
	}

	if v := entry[offVersion]; v != storage.ControlPlaneVersion {
		return Record{}, fmt.Errorf("%w: version %d", storage.ErrControlPlaneIncompatible, v)
	}
	if n := entry[offKeySize]; int(n) != storage.PrivateKeySize {
		return Record{}, fmt.Errorf("%w: key size %d", storage.ErrControlPlaneIncompatible, n)
	}
	if n := entry[offInitParamsSize]; int(n) != storage.InitParamsSize {
		return Record{}, fmt.Errorf("%w: init params size %d", storage.ErrControlPlaneIncompatible, n)
	}
	if n := binary.LittleEndian.Uint16(entry[offMaxBlockSize:]); int(n) != model.MaxBlockSize {
		return Record{}, fmt.Errorf("%w: max block size %d", storage.ErrControlPlaneIncompatible, n)
	}

	var r Record
	copy(r.PrivateKey[:], entry[offKey:offOwnNodeID])
	r.OwnNodeID = binary.LittleEndian.Uint32(entry[offOwnNodeID:])
	copy(r.InitParams[:], entry[offInitParams:offMaxBlockSize])

	if entry[offChainConfig] != 0 {
		cfg, err := model.FromBytes(entry[offChainConfig:offCRC])
		if err != nil {
			return Record{}, fmt.Errorf("%w: chain configuration: %v", storage.ErrControlPlaneCorrupted, err)
		}
		r.ChainConfiguration = &cfg
	}
	return r, nil
}
