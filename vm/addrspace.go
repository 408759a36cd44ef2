// Package vm implements the virtual-memory subsystem: per-thread
// address spaces (this file), the inverted global page table and
// resident sets (pagetable.go), the software TLB (tlb.go), and the
// page-fault handler (fault.go). None of it is grounded on the
// teacher, jnwhiteh-minixfs, which has no VM code at all; see
// DESIGN.md for the other_examples/ files each piece is grounded on
// instead.
package vm

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/caoyingkang/nachos/config"
	"github.com/caoyingkang/nachos/device"
)

// PageSize is the unit of virtual and physical memory management. It
// is deliberately the same as device.SectorSize: a swap file page and
// a block-device sector are both "S bytes", the unit spec.md's
// formulas (`vpn·S`) use throughout.
const PageSize = device.SectorSize

func ceilDivVM(a, b int) int { return (a + b - 1) / b }

// AddressSpace is a thread's virtual address space under inverted
// paging: no local page table, just a page count, a per-thread
// read-only bitmap, and a swap file holding every page's initial
// contents, per spec.md §4.6's inverted-mode construction.
type AddressSpace struct {
	ThreadID      int
	NumPages      int
	SwapFile      *device.FileDevice
	ReadOnlyBitmap []bool

	swapPath string
	resident []int
}

// NewAddressSpace parses exeData as a NOFF executable, computes the
// number of pages needed for code + initData + uninitData + the user
// stack, reserves a resident set of physical frames, and copies every
// initialized segment into a freshly created per-thread swap file.
// Grounded on iansmith-mazarin's mmu.go for the general "reserve
// physical resources, then populate backing storage before any fault
// can occur" shape of address-space setup, adapted away from that
// file's real ARM64 page tables since this simulator has no linear
// per-space table to populate.
func NewAddressSpace(cfg config.Config, pt *InvertedPageTable, threadID int, exeData []byte, log logrus.FieldLogger) (*AddressSpace, error) {
	return newAddressSpace(cfg, pt, threadID, exeData, log, pt.AllocateResidentSet)
}

// NewAddressSpaceWait behaves like NewAddressSpace, except that if the
// resident set cannot be reserved immediately it blocks until another
// thread's Destroy frees enough frames, via
// InvertedPageTable.AllocateResidentSetWait, instead of failing with
// kernerr.NoSpace. Used by callers with no supervisor able to retry a
// failed construction, such as cmd/nachos's -x.
func NewAddressSpaceWait(cfg config.Config, pt *InvertedPageTable, threadID int, exeData []byte, log logrus.FieldLogger) (*AddressSpace, error) {
	return newAddressSpace(cfg, pt, threadID, exeData, log, func(threadID, resSize int) ([]int, error) {
		return pt.AllocateResidentSetWait(threadID, resSize), nil
	})
}

func newAddressSpace(cfg config.Config, pt *InvertedPageTable, threadID int, exeData []byte, log logrus.FieldLogger, allocateResidentSet func(threadID, resSize int) ([]int, error)) (*AddressSpace, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	noff, err := parseNoffHeader(exeData)
	if err != nil {
		return nil, errors.Wrap(err, "newAddressSpace: parse executable")
	}

	dataEnd := maxInt32(noff.Code.VirtualAddr+noff.Code.Size, noff.InitData.VirtualAddr+noff.InitData.Size)
	dataEnd = maxInt32(dataEnd, noff.UninitData.VirtualAddr+noff.UninitData.Size)
	totalBytes := int(dataEnd) + cfg.UserStackSize
	numPages := ceilDivVM(totalBytes, PageSize)

	resident, err := allocateResidentSet(threadID, cfg.ResSize)
	if err != nil {
		return nil, errors.Wrap(err, "newAddressSpace: reserve resident set")
	}

	swapPath := filepath.Join(cfg.SwapDir, "swap-"+uuid.NewString()+".img")
	swapDev, err := device.OpenFileDevice(swapPath, numPages, true)
	if err != nil {
		pt.ReleaseResidentSet(threadID)
		return nil, errors.Wrap(err, "newAddressSpace: create swap file")
	}

	image := make([]byte, numPages*PageSize)
	copySegment(image, exeData, noff.Code)
	copySegment(image, exeData, noff.InitData)
	// uninitData is left zero: its bytes are never present in exeData.

	readOnly := make([]bool, numPages)
	markReadOnly(readOnly, noff.Code)

	for p := 0; p < numPages; p++ {
		if err := swapDev.WriteSector(p, image[p*PageSize:(p+1)*PageSize]); err != nil {
			swapDev.Close()
			os.Remove(swapPath)
			pt.ReleaseResidentSet(threadID)
			return nil, errors.Wrap(err, "newAddressSpace: write swap file")
		}
	}

	log.WithFields(logrus.Fields{"thread": threadID, "numPages": numPages}).
		Info("address space constructed")

	return &AddressSpace{
		ThreadID:       threadID,
		NumPages:       numPages,
		SwapFile:       swapDev,
		ReadOnlyBitmap: readOnly,
		swapPath:       swapPath,
		resident:       resident,
	}, nil
}

func copySegment(image, exeData []byte, seg segment) {
	if seg.Size == 0 {
		return
	}
	src := exeData[seg.InFileAddr : seg.InFileAddr+seg.Size]
	copy(image[seg.VirtualAddr:], src)
}

func markReadOnly(bitmap []bool, code segment) {
	if code.Size == 0 {
		return
	}
	first := int(code.VirtualAddr) / PageSize
	last := int(code.VirtualAddr+code.Size-1) / PageSize
	for p := first; p <= last && p < len(bitmap); p++ {
		bitmap[p] = true
	}
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// InitialRegisters returns the PC, nextPC, and stack pointer a thread
// entering this address space starts with, per spec.md §4.6:
// "PC=0, nextPC=4, stack pointer = numPages·S − 16".
func (as *AddressSpace) InitialRegisters() (pc, nextPC, sp int) {
	return 0, 4, as.NumPages*PageSize - 16
}

// Destroy reverses NewAddressSpace: releases the resident set back to
// the inverted table, closes the swap file, and removes it from disk,
// per spec.md §4.6's destruction algorithm.
func (as *AddressSpace) Destroy(pt *InvertedPageTable) error {
	pt.ReleaseResidentSet(as.ThreadID)
	if err := as.SwapFile.Close(); err != nil {
		return errors.Wrap(err, "destroy address space: close swap file")
	}
	if err := os.Remove(as.swapPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "destroy address space: remove swap file")
	}
	return nil
}
