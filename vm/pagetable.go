package vm

import (
	"github.com/pkg/errors"

	"github.com/caoyingkang/nachos/freemap"
	"github.com/caoyingkang/nachos/kernerr"
	"github.com/caoyingkang/nachos/ksync"
)

// Frame is one entry of the inverted page table: spec.md §3's
// "{virtualPage, valid, readOnly, use, dirty, threadId}", one entry
// per physical frame rather than per virtual page. Storing only a
// threadId handle (never a pointer back to the owning AddressSpace)
// is spec.md §9's break of the address-space/frame/thread cyclic
// ownership: destruction scans this array once instead of following
// back-pointers.
type Frame struct {
	VirtualPage int
	Valid       bool
	ReadOnly    bool
	Use         bool
	Dirty       bool
	ThreadID    int
}

// InvertedPageTable is the global array of physical frames plus the
// memory bitmap tracking which frames are currently assigned to a
// thread's resident set. It is grounded on the same "bit-per-resource,
// find lowest clear bit" shape as freemap.FreeMap, which is reused
// directly here as the physical memory bitmap: both problems are
// "allocate the lowest free slot from a fixed pool", so the frame
// table gets its own bitmap type only for whatever inverted-table
// bookkeeping (frame contents, ownership) a sector bitmap doesn't
// carry.
type InvertedPageTable struct {
	lock     ksync.Lock
	cond     *ksync.Condition
	frames   []Frame
	memory   *freemap.FreeMap
	resident map[int][]int // threadID -> global frame indices in its resident set
	policies map[int]ReplacementPolicy
	newPolicy func(capacity int) ReplacementPolicy
}

// NewInvertedPageTable creates a table over numFrames physical frames,
// all initially free. newPolicy constructs the page-replacement policy
// used for each thread's resident set (FIFO or LRU, per config).
func NewInvertedPageTable(numFrames int, newPolicy func(capacity int) ReplacementPolicy) *InvertedPageTable {
	pt := &InvertedPageTable{
		frames:    make([]Frame, numFrames),
		memory:    freemap.New(numFrames),
		resident:  make(map[int][]int),
		policies:  make(map[int]ReplacementPolicy),
		newPolicy: newPolicy,
	}
	pt.cond = ksync.NewCondition(&pt.lock)
	return pt
}

// NumFrames reports the total number of physical frames tracked.
func (pt *InvertedPageTable) NumFrames() int { return len(pt.frames) }

// AllocateResidentSet reserves resSize global frames for threadID,
// per spec.md §4.6's inverted-mode construction. Every reserved frame
// starts invalid: no page is copied into memory yet, so the first
// touch of any virtual page demand-pages it in.
func (pt *InvertedPageTable) AllocateResidentSet(threadID, resSize int) ([]int, error) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	if pt.memory.NumClear() < resSize {
		return nil, kernerr.NoSpace
	}
	frames := make([]int, resSize)
	for i := range frames {
		idx := pt.memory.Find()
		pt.frames[idx] = Frame{ThreadID: threadID, Valid: false}
		frames[i] = idx
	}
	pt.resident[threadID] = frames
	pt.policies[threadID] = pt.newPolicy(resSize)
	return frames, nil
}

// AllocateResidentSetWait behaves like AllocateResidentSet, except
// that instead of failing with kernerr.NoSpace when there are not yet
// resSize free frames, it blocks on pt.cond until some other thread's
// ReleaseResidentSet frees enough. This is spec.md §9's Condition
// primitive's one genuine wait/signal path in this design: a thread
// constructing an address space with nowhere else to retry from waits
// for memory instead of being handed an error it cannot recover from.
func (pt *InvertedPageTable) AllocateResidentSetWait(threadID, resSize int) []int {
	pt.lock.Acquire()
	defer pt.lock.Release()

	for pt.memory.NumClear() < resSize {
		pt.cond.Wait()
	}
	frames := make([]int, resSize)
	for i := range frames {
		idx := pt.memory.Find()
		pt.frames[idx] = Frame{ThreadID: threadID, Valid: false}
		frames[i] = idx
	}
	pt.resident[threadID] = frames
	pt.policies[threadID] = pt.newPolicy(resSize)
	return frames
}

// ReleaseResidentSet frees every frame owned by threadID and forgets
// its replacement-policy state, per spec.md §4.6's destruction: "release
// owned frames ... clear ownership in the inverted table." Broadcasts
// on pt.cond so any thread blocked in AllocateResidentSetWait can
// recheck whether enough frames are now free.
func (pt *InvertedPageTable) ReleaseResidentSet(threadID int) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	for _, idx := range pt.resident[threadID] {
		pt.memory.Clear(idx)
		pt.frames[idx] = Frame{}
	}
	delete(pt.resident, threadID)
	delete(pt.policies, threadID)
	pt.cond.Broadcast()
}

// Lookup returns the physical frame holding vpn for threadID, if any
// of its resident frames currently hold it validly.
func (pt *InvertedPageTable) Lookup(threadID, vpn int) (int, bool) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	for _, idx := range pt.resident[threadID] {
		f := pt.frames[idx]
		if f.Valid && f.VirtualPage == vpn {
			return idx, true
		}
	}
	return -1, false
}

// ChooseFrame selects a frame from threadID's resident set to hold
// vpn, per spec.md §4.7 step 4: prefer any invalid frame in the
// resident set; otherwise evict per the configured policy. It reports
// the chosen frame's global index and, if an occupied frame was
// evicted, a copy of its prior contents (so the caller can write back
// a dirty page before the frame is reused).
func (pt *InvertedPageTable) ChooseFrame(threadID, vpn int) (frameIdx int, evicted Frame, hadEviction bool, err error) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	set := pt.resident[threadID]
	if len(set) == 0 {
		return 0, Frame{}, false, errors.Errorf("chooseFrame: thread %d has no resident set", threadID)
	}

	for i, idx := range set {
		if !pt.frames[idx].Valid {
			pt.policies[threadID].Touch(i)
			return idx, Frame{}, false, nil
		}
	}

	slot := pt.policies[threadID].Evict()
	idx := set[slot]
	evicted = pt.frames[idx]
	pt.policies[threadID].Touch(slot)
	return idx, evicted, true, nil
}

// Install records that frameIdx now validly holds vpn for threadID,
// resetting use/dirty per spec.md §4.7 step 4's "Reset the frame's
// metadata".
func (pt *InvertedPageTable) Install(frameIdx, vpn, threadID int, readOnly bool) {
	pt.lock.Acquire()
	defer pt.lock.Release()
	pt.frames[frameIdx] = Frame{
		VirtualPage: vpn,
		Valid:       true,
		ReadOnly:    readOnly,
		Use:         false,
		Dirty:       false,
		ThreadID:    threadID,
	}
}

// MarkDirty applies a dirty bit evicted from the TLB back onto the
// authoritative frame entry, keeping TLB coherence (§8's testable
// property) intact across TLB refills that don't also fault.
func (pt *InvertedPageTable) MarkDirty(frameIdx int, dirty bool) {
	pt.lock.Acquire()
	defer pt.lock.Release()
	if dirty {
		pt.frames[frameIdx].Dirty = true
	}
}

// Frame returns a copy of the current contents of frame idx.
func (pt *InvertedPageTable) Frame(idx int) Frame {
	pt.lock.Acquire()
	defer pt.lock.Release()
	return pt.frames[idx]
}
