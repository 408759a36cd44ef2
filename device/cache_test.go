package device

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingWriteDevice wraps a BlockDevice and fails every WriteSector,
// to exercise CachedDevice's eviction-error propagation path.
type failingWriteDevice struct {
	BlockDevice
}

func (d failingWriteDevice) WriteSector(sector int, buf []byte) error {
	return errors.New("simulated write failure")
}

func fill(b byte) []byte {
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCachedDeviceReadThroughOnMiss(t *testing.T) {
	mem := NewMemDevice(4)
	require.NoError(t, mem.WriteSector(0, fill(7)))

	cache := NewCachedDevice(mem, 2)
	buf := make([]byte, SectorSize)
	require.NoError(t, cache.ReadSector(0, buf))
	assert.Equal(t, fill(7), buf)
}

func TestCachedDeviceWriteIsDeferredUntilFlush(t *testing.T) {
	mem := NewMemDevice(4)
	cache := NewCachedDevice(mem, 2)

	require.NoError(t, cache.WriteSector(1, fill(9)))

	raw := make([]byte, SectorSize)
	require.NoError(t, mem.ReadSector(1, raw))
	assert.Equal(t, fill(0), raw, "underlying device must not see the write before eviction or flush")

	require.NoError(t, cache.Flush())
	require.NoError(t, mem.ReadSector(1, raw))
	assert.Equal(t, fill(9), raw)
}

func TestCachedDeviceEvictsLeastRecentlyUsed(t *testing.T) {
	mem := NewMemDevice(4)
	cache := NewCachedDevice(mem, 2)

	require.NoError(t, cache.WriteSector(0, fill(1)))
	require.NoError(t, cache.WriteSector(1, fill(2)))
	// touch 0 so 1 becomes the least recently used slot
	buf := make([]byte, SectorSize)
	require.NoError(t, cache.ReadSector(0, buf))
	require.NoError(t, cache.WriteSector(2, fill(3)))

	raw := make([]byte, SectorSize)
	require.NoError(t, mem.ReadSector(1, raw))
	assert.Equal(t, fill(2), raw, "evicting a dirty slot must write it back first")
}

func TestCachedDeviceWriteSectorPropagatesEvictionFailure(t *testing.T) {
	mem := NewMemDevice(4)
	cache := NewCachedDevice(failingWriteDevice{mem}, 2)

	require.NoError(t, cache.WriteSector(0, fill(1)))
	require.NoError(t, cache.WriteSector(1, fill(2)))

	err := cache.WriteSector(2, fill(3))
	assert.Error(t, err, "eviction write-back failure must surface to the caller, not be discarded")
}

func TestCachedDeviceCloseFlushesBeforeClosingUnderlying(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	file, err := OpenFileDevice(path, 2, true)
	require.NoError(t, err)

	cache := NewCachedDevice(file, 2)
	require.NoError(t, cache.WriteSector(0, fill(5)))
	require.NoError(t, cache.Close())

	reopened, err := OpenFileDevice(path, 2, false)
	require.NoError(t, err)
	defer reopened.Close()

	buf := make([]byte, SectorSize)
	require.NoError(t, reopened.ReadSector(0, buf))
	assert.Equal(t, fill(5), buf)
}
