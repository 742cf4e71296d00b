// Package storage defines the storage contract that chain logic programs
// against, independent of the backend and the medium underneath it.
package storage

import (
	"github.com/i5heu/moonblokz-storage/pkg/model"
)

const (
	// PrivateKeySize is the size of the node private key kept in the control plane.
	PrivateKeySize = 32

	// InitParamsSize is the size of the opaque initialization parameter blob.
	InitParamsSize = 16

	// ControlPlaneVersion is the on-medium schema version of a control-plane entry.
	ControlPlaneVersion uint8 = 1

	// ControlPlaneCount is the number of control-plane replicas on a medium.
	ControlPlaneCount = 3
)

// StorageIndex identifies one block slot. Indices are dense and zero based.
type StorageIndex = uint32

// ControlPlaneData is the decoded node identity returned by LoadControlData.
// It is a copy; changing it does not affect the stored record.
type ControlPlaneData struct {
	// Version is the control-plane schema version the record was decoded with.
	Version uint8

	PrivateKey [PrivateKeySize]byte
	OwnNodeID  uint32
	InitParams [InitParamsSize]byte

	// ChainConfiguration is nil until SetChainConfiguration succeeded once.
	ChainConfiguration *model.Block
}

// BlockStorage persists fixed-size blocks in numbered slots.
//
// # Slot Lifecycle
//
// A slot is Absent until SaveBlock writes it and stays Occupied afterwards.
// Saving again overwrites the slot completely. There is no per-slot delete;
// only Storage.Init returns every slot to Absent.
//
// # Error Handling
//
// Methods return:
//   - ErrInvalidIndex when index is outside the slot range
//   - ErrBlockAbsent when the slot was never written
//   - ErrIntegrityFailure when stored bytes fail verification
//   - *BackendIOError for medium failures and oversized input
type BlockStorage interface {
	// SaveBlock persists block in the slot at index.
	//
	// Parameters:
	//   - index: destination slot
	//   - block: block to persist; its encoding must fit into one slot
	//
	// Returns:
	//   - Error if index is out of range or the medium write fails
	SaveBlock(index StorageIndex, block model.Block) error

	// ReadBlock returns the block stored in the slot at index.
	//
	// The returned block is byte-identical to the one passed to the last
	// successful SaveBlock for that index.
	ReadBlock(index StorageIndex) (model.Block, error)
}

// ControlPlane manages the replicated node identity record.
//
// # Replication
//
// The record is stored ControlPlaneCount times. Reads pick the first replica
// that decodes cleanly and rewrite every other replica to match it
// (read-repair). This is not a majority vote.
//
// # Error Handling
//
// When no replica decodes, the error reports the worst finding in this order:
// ErrControlPlaneIncompatible, ErrControlPlaneCorrupted,
// ErrControlPlaneUninitialized.
type ControlPlane interface {
	// SetChainConfiguration stores block as the chain configuration. It can
	// succeed only once per Init; later calls fail with
	// ErrChainConfigurationAlreadySet and write nothing.
	SetChainConfiguration(block model.Block) error

	// LoadControlData returns the authoritative control-plane record. Damaged
	// replicas are repaired as a side effect.
	LoadControlData() (ControlPlaneData, error)
}

// Storage is the full capability set of a backend.
//
// # Thread Safety
//
// Implementations are single-owner and not safe for concurrent use. Wrap
// them with Synchronized when several goroutines share one backend.
type Storage interface {
	// Init erases the whole medium, leaving every slot Absent, and writes a
	// fresh control-plane record without chain configuration to all
	// replicas. Init is idempotent.
	Init(privateKey [PrivateKeySize]byte, ownNodeID uint32, initParams [InitParamsSize]byte) error

	BlockStorage
	ControlPlane
}

// Sized is implemented by backends that can report their slot capacity.
type Sized interface {
	// SlotCount returns the number of addressable slots.
	SlotCount() uint64
}
