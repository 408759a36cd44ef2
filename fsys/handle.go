package fsys

import (
	"github.com/caoyingkang/nachos/openfile"
)

// OpenFileHandle is the user-facing open-file handle of spec.md §3:
// {seekPosition, hdrSector}. SeekPosition is exposed for callers
// (syscall dispatch) that track a per-handle cursor; ReadAt/WriteAt
// themselves are position-explicit, matching the reference readAt/
// writeAt signatures.
type OpenFileHandle struct {
	fs           *FileSystem
	rec          *openfile.Record
	SeekPosition int
}

// HdrSector returns the header sector this handle refers to.
func (h *OpenFileHandle) HdrSector() int { return h.rec.Sector }

// Length returns the file's current length in bytes.
func (h *OpenFileHandle) Length() int { return h.rec.Header.NumBytes }

// ReadAt reads n bytes at pos, per spec.md §4.4's readAt.
func (h *OpenFileHandle) ReadAt(buf []byte, n, pos int) (int, error) {
	return h.rec.ReadAt(h.fs.dev, buf, n, pos)
}

// WriteAt writes n bytes at pos, per spec.md §4.4's writeAt. Since a
// write past the current length mutates the free map (§5's "Free-
// sector map: mutated only inside create/remove/file extension"), the
// whole call runs under the façade's metadata lock.
func (h *OpenFileHandle) WriteAt(buf []byte, n, pos int) (int, error) {
	h.fs.lock.Acquire()
	defer h.fs.lock.Release()

	fm, err := h.fs.loadFreeMap()
	if err != nil {
		return 0, err
	}

	before := h.rec.Header.NumBytes
	written, err := h.rec.WriteAt(h.fs.dev, fm, buf, n, pos)
	if err != nil {
		return written, err
	}
	if h.rec.Header.NumBytes != before {
		if err := h.fs.persistFreeMap(fm); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases this handle's reference on the underlying
// open-file record.
func (h *OpenFileHandle) Close() {
	h.fs.openFiles.Close(h.rec.Sector)
}
