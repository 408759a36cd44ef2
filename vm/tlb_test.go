package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTLBFillsInvalidSlotsFirst(t *testing.T) {
	tlb := NewTLB(2, NewFIFOPolicy(2))

	slot, _, hadEviction := tlb.ChooseSlot()
	assert.Equal(t, 0, slot)
	assert.False(t, hadEviction)
	tlb.Install(slot, Entry{VirtualPage: 1, PhysicalPage: 10, Valid: true})

	slot, _, hadEviction = tlb.ChooseSlot()
	assert.Equal(t, 1, slot)
	assert.False(t, hadEviction)
	tlb.Install(slot, Entry{VirtualPage: 2, PhysicalPage: 20, Valid: true})

	_, evicted, hadEviction := tlb.ChooseSlot()
	assert.True(t, hadEviction)
	assert.Equal(t, 1, evicted.VirtualPage)
}

func TestTLBLookupHit(t *testing.T) {
	tlb := NewTLB(2, NewFIFOPolicy(2))
	slot, _, _ := tlb.ChooseSlot()
	tlb.Install(slot, Entry{VirtualPage: 5, PhysicalPage: 7, Valid: true})

	ppn, ok := tlb.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, 7, ppn)

	_, ok = tlb.Lookup(6)
	assert.False(t, ok)
}

func TestTLBFlushInvalidatesEverything(t *testing.T) {
	tlb := NewTLB(2, NewFIFOPolicy(2))
	slot, _, _ := tlb.ChooseSlot()
	tlb.Install(slot, Entry{VirtualPage: 5, PhysicalPage: 7, Valid: true})

	tlb.Flush()
	_, ok := tlb.Lookup(5)
	assert.False(t, ok)
	for _, e := range tlb.Entries() {
		assert.False(t, e.Valid)
	}
}

func TestTLBSetDirtyMarksMatchingEntry(t *testing.T) {
	tlb := NewTLB(1, NewFIFOPolicy(1))
	slot, _, _ := tlb.ChooseSlot()
	tlb.Install(slot, Entry{VirtualPage: 3, PhysicalPage: 9, Valid: true})

	tlb.SetDirty(3)
	assert.True(t, tlb.Entries()[0].Dirty)
}
