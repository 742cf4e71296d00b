// Package geometry maps storage indices to byte regions of a medium. All
// arithmetic is done in uint64 so every uint32 index maps without overflow.
package geometry

import (
	"fmt"

	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

// SlotCount returns how many whole slots of slotSize fit into a medium of
// mediumSize bytes after startOffset and reservedBytes. It is zero when the
// reserved area does not leave room for a slot.
func SlotCount(mediumSize, startOffset, reservedBytes, slotSize uint64) uint64 {
	if slotSize == 0 || startOffset >= mediumSize {
		return 0
	}
	available := mediumSize - startOffset
	if reservedBytes >= available {
		return 0
	}
	return (available - reservedBytes) / slotSize
}

// Range is the half-open byte range [Start, End) of one slot.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the size of the range in bytes.
func (r Range) Len() uint64 {
	return r.End - r.Start
}

// Linear lays slots out back to back after a base offset, as on a byte array.
type Linear struct {
	Base     uint64
	SlotSize uint64
	Slots    uint64
}

// NewLinear places slots of slotSize after reservedBytes.
func NewLinear(mediumSize, reservedBytes, slotSize uint64) Linear {
	return Linear{
		Base:     reservedBytes,
		SlotSize: slotSize,
		Slots:    SlotCount(mediumSize, 0, reservedBytes, slotSize),
	}
}

// Locate returns the byte range of the slot at index.
func (l Linear) Locate(index storage.StorageIndex) (Range, error) {
	if uint64(index) >= l.Slots {
		return Range{}, storage.ErrInvalidIndex
	}
	start := l.Base + uint64(index)*l.SlotSize
	return Range{Start: start, End: start + l.SlotSize}, nil
}

// PageSlot is the flash coordinate of a storage index.
type PageSlot struct {
	// PageIndex counts erase pages from the start of the slot region.
	PageIndex storage.StorageIndex
	// SlotIndex is the position of the slot inside its page.
	SlotIndex storage.StorageIndex
	// ByteOffset is where the slot starts inside its page.
	ByteOffset uint64
}

// Paged lays slots out page by page after a page-aligned start offset, as
// on flash where a page is the erase unit. Slots never straddle pages.
type Paged struct {
	Start        uint64
	PageSize     uint64
	SlotSize     uint64
	SlotsPerPage uint64
	Pages        uint64
}

// NewPaged builds the flash geometry. A page that cannot hold a single
// slot, or a start offset off a page boundary, is a configuration error.
func NewPaged(mediumSize, start, pageSize, slotSize uint64) (Paged, error) {
	if pageSize == 0 || slotSize == 0 {
		return Paged{}, fmt.Errorf("%w: page size %d, slot size %d",
			storage.ErrInvalidConfiguration, pageSize, slotSize)
	}
	if start%pageSize != 0 {
		return Paged{}, fmt.Errorf("%w: start offset %d is not a multiple of page size %d",
			storage.ErrInvalidConfiguration, start, pageSize)
	}
	slotsPerPage := pageSize / slotSize
	if slotsPerPage < 1 {
		return Paged{}, fmt.Errorf("%w: slot of %d bytes does not fit a %d byte page",
			storage.ErrInvalidConfiguration, slotSize, pageSize)
	}
	return Paged{
		Start:        start,
		PageSize:     pageSize,
		SlotSize:     slotSize,
		SlotsPerPage: slotsPerPage,
		Pages:        SlotCount(mediumSize, start, 0, pageSize),
	}, nil
}

// Slots returns the number of addressable slots.
func (p Paged) Slots() uint64 {
	return p.Pages * p.SlotsPerPage
}

// Map converts index to page coordinates without a range check.
func (p Paged) Map(index storage.StorageIndex) PageSlot {
	i := uint64(index)
	slot := i % p.SlotsPerPage
	return PageSlot{
		PageIndex:  storage.StorageIndex(i / p.SlotsPerPage),
		SlotIndex:  storage.StorageIndex(slot),
		ByteOffset: slot * p.SlotSize,
	}
}

// Locate converts index to page coordinates.
func (p Paged) Locate(index storage.StorageIndex) (PageSlot, error) {
	if uint64(index) >= p.Slots() {
		return PageSlot{}, storage.ErrInvalidIndex
	}
	return p.Map(index), nil
}

// PageAddress returns the medium address of the page at pageIndex.
func (p Paged) PageAddress(pageIndex storage.StorageIndex) uint64 {
	return p.Start + uint64(pageIndex)*p.PageSize
}

// SlotAddress returns the medium address of a located slot.
func (p Paged) SlotAddress(ps PageSlot) uint64 {
	return p.PageAddress(ps.PageIndex) + ps.ByteOffset
}
