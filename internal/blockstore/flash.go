package blockstore

import (
	"fmt"
	"log/slog"

	"github.com/i5heu/moonblokz-storage/internal/checksum"
	"github.com/i5heu/moonblokz-storage/internal/controlplane"
	"github.com/i5heu/moonblokz-storage/internal/geometry"
	"github.com/i5heu/moonblokz-storage/internal/slot"
	"github.com/i5heu/moonblokz-storage/pkg/medium"
	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// FlashConfig configures a FlashBackend.
type FlashConfig struct {
	// StartOffset is the address of the first slot page. It must be a
	// multiple of the erase size and leave room for one replica page per
	// control-plane copy in front of it. DefaultStartOffset returns the
	// smallest valid value.
	StartOffset uint64

	// Hash protects every slot. Nil selects checksum.Default.
	Hash checksum.Integrity

	// NoControlPlane turns the backend into a plain block array: the replica
	// pages are not used, Init ignores the identity and control-plane calls
	// fail with CodeControlPlaneUnsupported.
	NoControlPlane bool

	Logger *slog.Logger
}

// DefaultStartOffset returns the first page after the replica pages.
func DefaultStartOffset(pageSize uint64) uint64 {
	return storage.ControlPlaneCount * pageSize
}

// FlashBackend stores blocks on a page-erase medium.
//
// Layout:
//
//	page 0..2          control-plane replica i, zero padded to the page
//	StartOffset ...    slot pages, each holding pageSize/slotSize slots
//
// A slot is the zero-padded block followed by its integrity hash. Because
// the medium erases whole pages, SaveBlock reads the page, patches one
// slot, erases the page and programs it back.
type FlashBackend struct {
	m      medium.Medium
	layout geometry.Paged
	codec  slot.Hashed
	cp     controlPlaneStore
	log    *slog.Logger

	// page is the scratch buffer of SaveBlock.
	page []byte
}

// NewFlash validates cfg against m and creates the backend. Configuration
// errors are reported before m is accessed.
func NewFlash(m medium.Medium, cfg FlashConfig) (*FlashBackend, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil medium", storage.ErrInvalidConfiguration)
	}
	pageSize := m.EraseSize()
	if pageSize == 0 || m.Size()%pageSize != 0 {
		return nil, fmt.Errorf("%w: medium of %d bytes with erase size %d",
			storage.ErrInvalidConfiguration, m.Size(), pageSize)
	}

	codec := slot.NewHashed(cfg.Hash)
	layout, err := geometry.NewPaged(m.Size(), cfg.StartOffset, pageSize, uint64(codec.Size()))
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	b := &FlashBackend{
		m:      m,
		layout: layout,
		codec:  codec,
		log:    logger.With(logKeyBackend, "flash"),
		page:   make([]byte, pageSize),
	}

	if cfg.NoControlPlane {
		b.cp = absentControlPlane{}
		return b, nil
	}
	if pageSize < controlplane.EntrySize {
		return nil, fmt.Errorf("%w: erase page of %d bytes cannot hold a %d byte replica",
			storage.ErrInvalidConfiguration, pageSize, controlplane.EntrySize)
	}
	if cfg.StartOffset < DefaultStartOffset(pageSize) {
		return nil, fmt.Errorf("%w: start offset %d overlaps the replica pages",
			storage.ErrInvalidConfiguration, cfg.StartOffset)
	}
	b.cp = &replicatedControlPlane{replicas: flashReplicas{m: m}, log: b.log}
	return b, nil
}

// SlotCount returns the number of addressable slots.
func (b *FlashBackend) SlotCount() uint64 {
	return b.layout.Slots()
}

// Init erases the whole medium and writes a fresh control-plane record.
func (b *FlashBackend) Init(
	privateKey [storage.PrivateKeySize]byte,
	ownNodeID uint32,
	initParams [storage.InitParamsSize]byte,
) error {
	if err := b.m.Erase(0, b.m.Size()); err != nil {
		return mediumError(storage.CodeFlashErase, "erase medium", err)
	}
	if err := b.cp.format(newRecord(privateKey, ownNodeID, initParams)); err != nil {
		return fmt.Errorf("format control plane: %w", err)
	}
	b.log.Info("storage initialized", logKeySlots, b.layout.Slots())
	return nil
}

func (b *FlashBackend) SaveBlock(index storage.StorageIndex, block model.Block) error {
	ps, err := b.layout.Locate(index)
	if err != nil {
		return err
	}
	if err := checkBlock(block); err != nil {
		return err
	}
	if block.Len() > b.codec.BlockSize {
		return storage.IOError(storage.CodeOversizedBlock,
			fmt.Errorf("block of %d bytes exceeds slot of %d bytes", block.Len(), b.codec.BlockSize))
	}

	addr := b.layout.PageAddress(ps.PageIndex)
	if err := b.m.Read(addr, b.page); err != nil {
		return mediumError(storage.CodeFlashRead, "read page", err)
	}
	target := b.page[ps.ByteOffset : ps.ByteOffset+b.layout.SlotSize]
	if err := b.codec.Write(target, block.Bytes()); err != nil {
		return err
	}
	if err := b.m.Erase(addr, addr+b.layout.PageSize); err != nil {
		return mediumError(storage.CodeFlashErase, "erase page", err)
	}
	if err := b.m.Program(addr, b.page); err != nil {
		return mediumError(storage.CodeFlashWrite, "program page", err)
	}
	b.log.Debug("block saved", logKeyIndex, index, logKeyBlockBytes, block.Len(),
		logKeyPage, ps.PageIndex, logKeySlot, ps.SlotIndex)
	return nil
}

// ReadBlock reads only the slot, into a fresh buffer, and leaves the page
// scratch buffer alone.
func (b *FlashBackend) ReadBlock(index storage.StorageIndex) (model.Block, error) {
	ps, err := b.layout.Locate(index)
	if err != nil {
		return model.Block{}, err
	}

	buf := make([]byte, b.layout.SlotSize)
	if err := b.m.Read(b.layout.SlotAddress(ps), buf); err != nil {
		return model.Block{}, mediumError(storage.CodeFlashReadOnRetrieve, "read slot", err)
	}
	return b.codec.Read(buf, b.m.ErasedValue())
}

func (b *FlashBackend) SetChainConfiguration(block model.Block) error {
	return b.cp.setChainConfiguration(block)
}

func (b *FlashBackend) LoadControlData() (storage.ControlPlaneData, error) {
	return b.cp.loadControlData()
}

// flashReplicas keeps replica i at the start of erase page i.
type flashReplicas struct {
	m medium.Medium
}

func (r flashReplicas) addr(i int) uint64 {
	return uint64(i) * r.m.EraseSize()
}

func (r flashReplicas) ReadReplica(i int) ([]byte, error) {
	entry := make([]byte, controlplane.EntrySize)
	if err := r.m.Read(r.addr(i), entry); err != nil {
		return nil, mediumError(storage.CodeFlashRead, "read replica", err)
	}
	return entry, nil
}

func (r flashReplicas) WriteReplica(i int, entry []byte) error {
	start := r.addr(i)
	page := make([]byte, r.m.EraseSize())
	copy(page, entry)

	if err := r.m.Erase(start, start+r.m.EraseSize()); err != nil {
		return mediumError(storage.CodeFlashErase, "erase replica", err)
	}
	if err := r.m.Program(start, page); err != nil {
		return mediumError(storage.CodeFlashWrite, "program replica", err)
	}
	return nil
}

func (r flashReplicas) ErasedValue() byte {
	return r.m.ErasedValue()
}

// Ensure FlashBackend implements the Storage interface.
var (
	_ storage.Storage = (*FlashBackend)(nil)
	_ storage.Sized   = (*FlashBackend)(nil)
)
