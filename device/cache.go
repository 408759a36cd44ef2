package device

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
)

// CachedDevice wraps a BlockDevice with a fixed-size LRU sector cache,
// write-back with a Flush point rather than write-through. Adapted
// from jnwhiteh-minixfs/bcache/bcache.go's LRUCache: that type keeps a
// hand-rolled doubly linked list plus a hash table of *lru_buf behind
// a request/response channel so every cache lookup, even a hit, goes
// through the owning goroutine. This version keeps the same policy —
// fixed slot count, least-recently-used eviction, dirty blocks
// written back before their slot is reused — but expresses it with
// container/list and a map under an ordinary sync.Mutex, since a
// single BlockDevice already serializes its own I/O and does not need
// a second actor in front of it.
type CachedDevice struct {
	dev      BlockDevice
	capacity int

	mu    sync.Mutex
	order *list.List
	slots map[int]*list.Element
}

type cacheSlot struct {
	sector int
	buf    [SectorSize]byte
	dirty  bool
}

// NewCachedDevice wraps dev with an LRU cache of capacity sectors.
func NewCachedDevice(dev BlockDevice, capacity int) *CachedDevice {
	return &CachedDevice{
		dev:      dev,
		capacity: capacity,
		order:    list.New(),
		slots:    make(map[int]*list.Element, capacity),
	}
}

func (c *CachedDevice) NumSectors() int { return c.dev.NumSectors() }

// ReadSector returns the cached copy of sector if present, else loads
// it from the underlying device and caches it.
func (c *CachedDevice) ReadSector(sector int, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.slots[sector]; ok {
		c.order.MoveToFront(elem)
		copy(buf, elem.Value.(*cacheSlot).buf[:])
		return nil
	}

	slot := &cacheSlot{sector: sector}
	if err := c.dev.ReadSector(sector, slot.buf[:]); err != nil {
		return err
	}
	if err := c.insert(slot); err != nil {
		return err
	}
	copy(buf, slot.buf[:])
	return nil
}

// WriteSector updates the cached copy of sector, marking it dirty. It
// is not written to the underlying device until evicted or Flush is
// called.
func (c *CachedDevice) WriteSector(sector int, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.slots[sector]; ok {
		c.order.MoveToFront(elem)
		slot := elem.Value.(*cacheSlot)
		copy(slot.buf[:], buf)
		slot.dirty = true
		return nil
	}

	slot := &cacheSlot{sector: sector, dirty: true}
	copy(slot.buf[:], buf)
	return c.insert(slot)
}

// insert adds slot to the front of the LRU list, evicting the least
// recently used entry first if the cache is at capacity. If the
// evicted entry is dirty, its write-back to the underlying device is
// synchronous: insert fails (leaving the evicted slot's ownership of
// its sector intact) rather than silently dropping the write, matching
// Flush's error handling. Caller must hold c.mu.
func (c *CachedDevice) insert(slot *cacheSlot) error {
	if c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back != nil {
			evicted := back.Value.(*cacheSlot)
			if evicted.dirty {
				if err := c.dev.WriteSector(evicted.sector, evicted.buf[:]); err != nil {
					return errors.Wrapf(err, "evict sector %d", evicted.sector)
				}
			}
			c.order.Remove(back)
			delete(c.slots, evicted.sector)
		}
	}
	c.slots[slot.sector] = c.order.PushFront(slot)
	return nil
}

// Flush writes every dirty cached sector back to the underlying
// device without evicting it.
func (c *CachedDevice) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.order.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*cacheSlot)
		if slot.dirty {
			if err := c.dev.WriteSector(slot.sector, slot.buf[:]); err != nil {
				return errors.Wrapf(err, "flush sector %d", slot.sector)
			}
			slot.dirty = false
		}
	}
	return nil
}

// Close flushes outstanding writes and closes the underlying device.
func (c *CachedDevice) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.dev.Close()
}

var _ BlockDevice = (*CachedDevice)(nil)
