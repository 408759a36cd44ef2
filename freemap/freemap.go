// Package freemap implements the persistent free-sector bitmap
// described in spec.md §4.1: one bit per sector, least-significant-bit
// first within each byte, persisted as a regular file whose header
// lives at the well-known FreeMapSector.
//
// FreeMap is a plain in-memory snapshot, the same shape as the
// directory package's snapshot: fetched with FetchFrom, mutated
// in-process by Find/Mark/Clear, and persisted with WriteBack. It is
// not internally synchronized — per spec.md §4.1 ("accessed only
// while holding the file-system metadata invariant") and §9's
// resolution of the reference implementation's read/mutate/persist
// race, callers serialize access to a FreeMap behind a single
// file-system-wide ksync.Lock (see fsys.FileSystem), the way
// jnwhiteh-minixfs's alloctbl.server_AllocTbl serializes bit
// allocation behind one owning goroutine — the effect is identical
// (one mutator at a time) but the mechanism here is an externally
// held lock rather than an internal actor, since a FreeMap snapshot
// only exists for the lifetime of a single façade operation.
package freemap

import "github.com/caoyingkang/nachos/device"

// FreeMap is a bitmap over all sectors of a device, one bit per
// sector, bit set means "in use".
type FreeMap struct {
	numSectors int
	bits       []byte
}

// New creates a FreeMap sized for numSectors sectors, all free.
func New(numSectors int) *FreeMap {
	return &FreeMap{
		numSectors: numSectors,
		bits:       make([]byte, byteLen(numSectors)),
	}
}

func byteLen(numSectors int) int {
	return (numSectors + 7) / 8
}

// ByteLen returns the persisted length, in bytes, of a bitmap over
// numSectors sectors: ceil(numSectors/8).
func ByteLen(numSectors int) int { return byteLen(numSectors) }

// Find marks (allocates) the lowest-numbered free sector and returns
// its index, or -1 if the device is full.
func (fm *FreeMap) Find() int {
	for i := 0; i < fm.numSectors; i++ {
		if !fm.Test(i) {
			fm.Mark(i)
			return i
		}
	}
	return -1
}

// Mark marks sector i as used.
func (fm *FreeMap) Mark(i int) { fm.bits[i/8] |= 1 << uint(i%8) }

// Clear marks sector i as free.
func (fm *FreeMap) Clear(i int) { fm.bits[i/8] &^= 1 << uint(i%8) }

// Test reports whether sector i is currently marked used.
func (fm *FreeMap) Test(i int) bool { return fm.bits[i/8]&(1<<uint(i%8)) != 0 }

// NumClear returns the number of free sectors.
func (fm *FreeMap) NumClear() int {
	n := 0
	for i := 0; i < fm.numSectors; i++ {
		if !fm.Test(i) {
			n++
		}
	}
	return n
}

// NumSectors returns the size of the device this map describes.
func (fm *FreeMap) NumSectors() int { return fm.numSectors }

// Encode packs the bitmap into a byte buffer sized for numSectors,
// for persistence through the open-file layer when the bitmap spans
// more than one sector.
func (fm *FreeMap) Encode() []byte {
	buf := make([]byte, len(fm.bits))
	copy(buf, fm.bits)
	return buf
}

// Decode overwrites the bitmap's contents from buf, which must be at
// least byteLen(fm.numSectors) bytes.
func (fm *FreeMap) Decode(buf []byte) {
	copy(fm.bits, buf)
}

// FetchFrom loads the bitmap from the given sector of dev, overwriting
// the current in-memory contents. The persisted length is
// ceil(numSectors/8) bytes, padded to one sector on disk.
func (fm *FreeMap) FetchFrom(dev device.BlockDevice, sector int) error {
	buf := make([]byte, device.SectorSize)
	if err := dev.ReadSector(sector, buf); err != nil {
		return err
	}
	copy(fm.bits, buf[:byteLen(fm.numSectors)])
	return nil
}

// WriteBack persists the bitmap to the given sector of dev.
func (fm *FreeMap) WriteBack(dev device.BlockDevice, sector int) error {
	buf := make([]byte, device.SectorSize)
	copy(buf, fm.bits)
	return dev.WriteSector(sector, buf)
}

// Clone returns an independent copy of the map, used by callers that
// want to try a mutation and discard it on failure without touching
// the caller's own snapshot.
func (fm *FreeMap) Clone() *FreeMap {
	c := &FreeMap{numSectors: fm.numSectors, bits: make([]byte, len(fm.bits))}
	copy(c.bits, fm.bits)
	return c
}
