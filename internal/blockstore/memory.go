package blockstore

import (
	"fmt"
	"log/slog"

	"github.com/i5heu/moonblokz-storage/internal/controlplane"
	"github.com/i5heu/moonblokz-storage/internal/geometry"
	"github.com/i5heu/moonblokz-storage/internal/slot"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// ControlPlaneReservedBytes is the space the replicas occupy at the start
// of a memory backend.
const ControlPlaneReservedBytes = storage.ControlPlaneCount * controlplane.EntrySize

// MemoryBackend stores blocks in a byte-addressable medium.
//
// Layout:
//
//	| replica 0 | replica 1 | replica 2 | slot 0 | slot 1 | ... |
//
// Replicas are EntrySize bytes each and slots MaxBlockSize bytes. A slot
// whose first byte is the erased value is empty. Space after the last whole
// slot is unused.
type MemoryBackend struct {
	m      medium.Medium
	layout geometry.Linear
	cp     controlPlaneStore
	log    *slog.Logger
}

// NewMemory creates a memory backend with a replicated control plane on m.
// m must be erasable byte by byte and hold the replicas. A medium too small
// for a single slot is valid and has no addressable slots.
func NewMemory(m medium.Medium, logger *slog.Logger) (*MemoryBackend, error) {
	b, err := newMemory(m, ControlPlaneReservedBytes, logger)
	if err != nil {
		return nil, err
	}
	if m.Size() < ControlPlaneReservedBytes {
		return nil, fmt.Errorf("%w: medium of %d bytes cannot hold %d control plane bytes",
			storage.ErrInvalidConfiguration, m.Size(), ControlPlaneReservedBytes)
	}
	b.cp = &replicatedControlPlane{replicas: memoryReplicas{m: m}, log: b.log}
	return b, nil
}

// NewBlockArray creates a memory backend without a control plane. Every byte
// of m belongs to block slots. Init only clears the slots and ignores the
// identity it is given; the control-plane methods fail with
// CodeControlPlaneUnsupported.
func NewBlockArray(m medium.Medium, logger *slog.Logger) (*MemoryBackend, error) {
	b, err := newMemory(m, 0, logger)
	if err != nil {
		return nil, err
	}
	b.cp = absentControlPlane{}
	return b, nil
}

func newMemory(m medium.Medium, reserved uint64, logger *slog.Logger) (*MemoryBackend, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil medium", storage.ErrInvalidConfiguration)
	}
	if m.EraseSize() != 1 {
		return nil, fmt.Errorf("%w: memory backend needs byte-erasable medium, erase size is %d",
			storage.ErrInvalidConfiguration, m.EraseSize())
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &MemoryBackend{
		m:      m,
		layout: geometry.NewLinear(m.Size(), reserved, model.MaxBlockSize),
		log:    logger.With(logKeyBackend, "memory"),
	}, nil
}

// SlotCount returns the number of addressable slots.
func (b *MemoryBackend) SlotCount() uint64 {
	return b.layout.Slots
}

// Init clears the whole medium and writes a fresh control-plane record.
func (b *MemoryBackend) Init(
	privateKey [storage.PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [storage.InitParamsSize]byte,
) error {
	if err := b.m.Erase(0, b.m.Size()); err != nil {
		return mediumError(storage.CodeMemoryOutOfBounds, "erase medium", err)
	}
	if err := b.cp.format(newRecord(privateKey, ownNodeID, initParams)); err != nil {
		return fmt.Errorf("format control plane: %w", err)
	}
	b.log.Info("storage initialized", logKeySlots, b.layout.Slots)
	return nil
}

func (b *MemoryBackend) SaveBlock(index storage.StorageIndex, block model.Block) error {
	r, err := b.layout.Locate(index)
	if err != nil {
		return err
	}
	if err := checkBlock(block); err != nil {
		return err
	}

	buf := make([]byte, r.Len())
	if err := slot.WritePlain(buf, block.Bytes()); err != nil {
		return err
	}
	if err := b.m.Program(r.Start, buf); err != nil {
		return mediumError(storage.CodeMemoryOutOfBounds, "program slot", err)
	}
	b.log.Debug("block saved", logKeyIndex, index, logKeyBlockBytes, block.Len())
	return nil
}

func (b *MemoryBackend) ReadBlock(index storage.StorageIndex) (model.Block, error) {
	r, err := b.layout.Locate(index)
	if err != nil {
		return model.Block{}, err
	}

	buf := make([]byte, r.Len())
	if err := b.m.Read(r.Start, buf); err != nil {
		return model.Block{}, mediumError(storage.CodeMemoryOutOfBounds, "read slot", err)
	}
	return slot.ReadPlain(buf, b.m.ErasedValue())
}

func (b *MemoryBackend) SetChainConfiguration(block model.Block) error {
	return b.cp.setChainConfiguration(block)
}

func (b *MemoryBackend) LoadControlData() (storage.ControlPlaneData, error) {
	return b.cp.loadControlData()
}

// memoryReplicas places the replicas back to back from address 0.
type memoryReplicas struct {
	m medium.Medium
}

func (r memoryReplicas) addr(i int) uint64 {
	return uint64(i) * controlplane.EntrySize
}

func (r memoryReplicas) ReadReplica(i int) ([]byte, error) {
	entry := make([]byte, controlplane.EntrySize)
	if err := r.m.Read(r.addr(i), entry); err != nil {
		return nil, mediumError(storage.CodeMemoryOutOfBounds, "read replica", err)
	}
	return entry, nil
}

func (r memoryReplicas) WriteReplica(i int, entry []byte) error {
	start := r.addr(i)
	if err := r.m.Erase(start, start+controlplane.EntrySize); err != nil {
		return mediumError(storage.CodeMemoryOutOfBounds, "erase replica", err)
	}
	if err := r.m.Program(start, entry); err != nil {
		return mediumError(storage.CodeMemoryOutOfBounds, "program replica", err)
	}
	return nil
}

func (r memoryReplicas) ErasedValue() byte {
	return r.m.ErasedValue()
}

// Ensure MemoryBackend implements the Storage interface.
var (
	_ storage.Storage = (*MemoryBackend)(nil)
	_ storage.Sized   = (*MemoryBackend)(nil)
)
