// Package directory implements the fixed-entry directory table
// described in spec.md §3/§4.3/§6: a tagged union of "head" and
// "continuation" directory entries sharing a byte layout, chained via
// a `next` link to carry names longer than the short-name limit.
//
// The reference file system resolves a directory entry by walking a
// directory block's fixed-size records and comparing names
// (jnwhiteh-minixfs/fs/dirops.go's search_dir, dispatched by a LOOKUP/
// ENTER/DELETE/IS_EMPTY opcode). This package keeps that "load a
// snapshot, scan its fixed records, mutate, persist" shape but
// replaces the fixed 30-byte Minix name with the spec's head/
// continuation chaining scheme, since directory entries here must
// carry names of unbounded length within one fixed-size table.
package directory

import (
	"github.com/caoyingkang/nachos/kernerr"
)

const (
	// SlotSize is the fixed on-disk size of one directory entry.
	SlotSize = 40
	// ShortNameLen is the number of name bytes a head entry carries
	// directly.
	ShortNameLen = 11
	// ContinuationChunk is the number of name bytes a continuation
	// entry carries (12 + 2*sizeof(int32)).
	ContinuationChunk = 12 + 2*4

	noNext = -1
)

// Entry is the tagged union of a head entry and a continuation entry,
// unified into one Go struct because both variants share the leading
// Normal/InUse/Next fields and differ only in how the remaining bytes
// are interpreted — Normal selects which interpretation applies.
type Entry struct {
	Normal bool // true: head entry, false: continuation entry
	InUse  bool
	Next   int16 // chain to next slot, or -1

	// Valid only when Normal && InUse: the full name length and the
	// header sector this entry names.
	NameLen int32
	Sector  int32

	// NameChunk holds the first ShortNameLen bytes of the name for a
	// head entry, or up to ContinuationChunk bytes of a name fragment
	// for a continuation entry.
	NameChunk [ContinuationChunk]byte
}

// Directory is an in-memory snapshot of a directory file: a fixed
// number of slots, loaded by Decode and packed for persistence by Encode.
// The slot count is fixed at construction; growth is not supported.
type Directory struct {
	Entries []Entry
}

// New creates an empty directory with the given fixed slot count.
func New(numEntries int) *Directory {
	return &Directory{Entries: make([]Entry, numEntries)}
}

// Decode decodes a directory snapshot from a raw byte buffer of
// exactly len(d.Entries)*SlotSize bytes (the directory file's full
// contents, as read through the open-file layer).
func (d *Directory) Decode(buf []byte) {
	for i := range d.Entries {
		off := i * SlotSize
		e := &d.Entries[i]
		e.Normal = buf[off] != 0
		e.InUse = buf[off+1] != 0
		e.Next = int16(buf[off+2]) | int16(buf[off+3])<<8
		e.NameLen = int32(buf[off+4]) | int32(buf[off+5])<<8 | int32(buf[off+6])<<16 | int32(buf[off+7])<<24
		e.Sector = int32(buf[off+8]) | int32(buf[off+9])<<8 | int32(buf[off+10])<<16 | int32(buf[off+11])<<24
		copy(e.NameChunk[:], buf[off+12:off+12+ContinuationChunk])
	}
}

// Encode packs the directory snapshot back into its on-disk byte
// layout.
func (d *Directory) Encode() []byte {
	buf := make([]byte, len(d.Entries)*SlotSize)
	for i, e := range d.Entries {
		off := i * SlotSize
		if e.Normal {
			buf[off] = 1
		}
		if e.InUse {
			buf[off+1] = 1
		}
		buf[off+2] = byte(e.Next)
		buf[off+3] = byte(e.Next >> 8)
		buf[off+4] = byte(e.NameLen)
		buf[off+5] = byte(e.NameLen >> 8)
		buf[off+6] = byte(e.NameLen >> 16)
		buf[off+7] = byte(e.NameLen >> 24)
		buf[off+8] = byte(e.Sector)
		buf[off+9] = byte(e.Sector >> 8)
		buf[off+10] = byte(e.Sector >> 16)
		buf[off+11] = byte(e.Sector >> 24)
		copy(buf[off+12:off+12+ContinuationChunk], e.NameChunk[:])
	}
	return buf
}

// slotsNeeded returns how many slots a name of length L requires.
func slotsNeeded(nameLen int) int {
	if nameLen <= ShortNameLen {
		return 1
	}
	return 1 + ceilDiv(nameLen-ShortNameLen, ContinuationChunk)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// reconstructName walks the head-then-continuation chain starting at
// index i and rebuilds the full name.
func (d *Directory) reconstructName(i int) string {
	head := d.Entries[i]
	name := make([]byte, 0, head.NameLen)

	n := int(head.NameLen)
	take := n
	if take > ShortNameLen {
		take = ShortNameLen
	}
	name = append(name, head.NameChunk[:take]...)

	next := head.Next
	for next != noNext && len(name) < n {
		e := d.Entries[next]
		remaining := n - len(name)
		take := remaining
		if take > ContinuationChunk {
			take = ContinuationChunk
		}
		name = append(name, e.NameChunk[:take]...)
		next = e.Next
	}
	return string(name)
}

// FindIndex returns the slot index of name's head entry, or -1 if not
// present. Names are compared bytewise, case-sensitive.
func (d *Directory) FindIndex(name string) int {
	for i := 0; i < len(d.Entries); i++ {
		e := d.Entries[i]
		if !e.Normal || !e.InUse {
			continue
		}
		if int(e.NameLen) != len(name) {
			continue
		}
		if d.reconstructName(i) == name {
			return i
		}
	}
	return -1
}

// freeSlots returns the indexes of slots not currently in use, in
// index order.
func (d *Directory) freeSlots() []int {
	var free []int
	for i := range d.Entries {
		if !d.Entries[i].InUse {
			free = append(free, i)
		}
	}
	return free
}

// Add inserts name -> sector into the directory. It fails without
// modifying the directory if name already exists or if there are
// fewer free slots than the name requires.
func (d *Directory) Add(name string, sector int) error {
	if d.FindIndex(name) >= 0 {
		return kernerr.NameTaken
	}

	need := slotsNeeded(len(name))
	free := d.freeSlots()
	if len(free) < need {
		return kernerr.DirectoryFull
	}
	slots := free[:need]

	headIdx := slots[0]
	head := &d.Entries[headIdx]
	*head = Entry{Normal: true, InUse: true, NameLen: int32(len(name)), Sector: int32(sector)}
	firstChunk := len(name)
	if firstChunk > ShortNameLen {
		firstChunk = ShortNameLen
	}
	copy(head.NameChunk[:], name[:firstChunk])

	pos := firstChunk
	prev := headIdx
	for _, idx := range slots[1:] {
		chunk := len(name) - pos
		if chunk > ContinuationChunk {
			chunk = ContinuationChunk
		}
		cont := &d.Entries[idx]
		*cont = Entry{Normal: false, InUse: true, Next: noNext}
		copy(cont.NameChunk[:], name[pos:pos+chunk])
		pos += chunk

		d.Entries[prev].Next = int16(idx)
		prev = idx
	}
	d.Entries[prev].Next = noNext

	return nil
}

// Remove deletes name from the directory, clearing InUse on its head
// entry and every continuation entry reachable via Next.
func (d *Directory) Remove(name string) error {
	i := d.FindIndex(name)
	if i < 0 {
		return kernerr.NotFound
	}

	idx := int16(i)
	for idx != noNext {
		next := d.Entries[idx].Next
		d.Entries[idx] = Entry{}
		idx = next
	}
	return nil
}

// List returns the names of every live entry, in slot order of their
// head entries.
func (d *Directory) List() []string {
	var names []string
	for i := range d.Entries {
		e := d.Entries[i]
		if e.Normal && e.InUse {
			names = append(names, d.reconstructName(i))
		}
	}
	return names
}

// Sector returns the header sector a name resolves to, or -1.
func (d *Directory) Sector(name string) int {
	i := d.FindIndex(name)
	if i < 0 {
		return -1
	}
	return int(d.Entries[i].Sector)
}

// IsEmpty reports whether the directory has no live entries.
func (d *Directory) IsEmpty() bool {
	for _, e := range d.Entries {
		if e.Normal && e.InUse {
			return false
		}
	}
	return true
}
