package vm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/caoyingkang/nachos/kernerr"
)

// HandlePageFault runs the algorithm of spec.md §4.7 for a fault
// raised while translating badAddr on behalf of as: locate or
// demand-page the target frame, then fill the TLB. Grounded on
// iansmith-mazarin's mmu.go HandlePageFault for the overall shape
// ("resolve or allocate a frame, then install the translation"),
// generalized away from that file's direct hardware register access
// since this simulator's TLB and page table are plain Go structures.
func (m *Machine) HandlePageFault(as *AddressSpace, badAddr int) error {
	vpn := badAddr / PageSize
	if vpn < 0 || vpn >= as.NumPages {
		return kernerr.FaultUnrecoverable
	}

	frameIdx, resident := m.PageTable.Lookup(as.ThreadID, vpn)
	if !resident {
		var err error
		frameIdx, err = m.demandPage(as, vpn)
		if err != nil {
			return errors.Wrap(err, "handlePageFault: demand page")
		}
	}

	slot, evicted, hadEviction := m.TLB.ChooseSlot()
	if hadEviction && evicted.Valid {
		// The TLB is the only place a dirty bit can be set (by user
		// writes through a mapped page); flush it back to the
		// authoritative frame before the slot is reused, per §8's
		// TLB-coherence property.
		m.PageTable.MarkDirty(evicted.PhysicalPage, evicted.Dirty)
	}
	m.TLB.Install(slot, Entry{
		VirtualPage:  vpn,
		PhysicalPage: frameIdx,
		Valid:        true,
		ReadOnly:     as.ReadOnlyBitmap[vpn],
	})

	m.log.WithFields(logrus.Fields{
		"thread": as.ThreadID, "vpn": vpn, "frame": frameIdx, "evicted": hadEviction,
	}).Debug("page fault resolved")
	return nil
}

// demandPage implements §4.7 step 4: choose a frame in the thread's
// resident set (preferring an invalid one), write back its previous
// occupant if dirty, then read the requested page from the thread's
// swap file into it.
func (m *Machine) demandPage(as *AddressSpace, vpn int) (int, error) {
	frameIdx, evicted, hadEviction, err := m.PageTable.ChooseFrame(as.ThreadID, vpn)
	if err != nil {
		return 0, err
	}

	if hadEviction {
		dirty := evicted.Dirty || m.TLB.TakeDirty(evicted.VirtualPage)
		if dirty {
			if err := as.SwapFile.WriteSector(evicted.VirtualPage, m.frameBytes(frameIdx)); err != nil {
				return 0, errors.Wrap(err, "write back dirty page")
			}
		}
	}

	buf := make([]byte, PageSize)
	if err := as.SwapFile.ReadSector(vpn, buf); err != nil {
		return 0, errors.Wrap(err, "read page from swap file")
	}
	copy(m.frameBytes(frameIdx), buf)

	m.PageTable.Install(frameIdx, vpn, as.ThreadID, as.ReadOnlyBitmap[vpn])
	return frameIdx, nil
}

// RecordWrite marks vpn dirty in the TLB, called by the (external)
// instruction interpreter whenever a user-mode store completes
// through a valid translation.
func (m *Machine) RecordWrite(vpn int) {
	m.TLB.SetDirty(vpn)
}
