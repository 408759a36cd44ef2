package fsys

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingkang/nachos/device"
	"github.com/caoyingkang/nachos/header"
	"github.com/caoyingkang/nachos/kernerr"
)

const testNumSectors = 512

func newFormatted(t *testing.T) *FileSystem {
	t.Helper()
	dev := device.NewMemDevice(testNumSectors)
	fs, err := Format(dev, testNumSectors, nil)
	require.NoError(t, err)
	return fs
}

func TestScenario1_CreateWriteReadRoundTrip(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/a.txt", header.TXT))

	h, err := fs.Open("/a.txt")
	require.NoError(t, err)
	defer h.Close()

	n, err := h.WriteAt([]byte("hello"), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = h.ReadAt(out, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
}

func TestScenario2_WriteGrowsFileAndFreeMap(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/a.txt", header.TXT))

	fmBefore, err := fs.loadFreeMap()
	require.NoError(t, err)
	usedBefore := fmBefore.NumSectors() - fmBefore.NumClear()

	h, err := fs.Open("/a.txt")
	require.NoError(t, err)

	payload := strings.Repeat("x", 400)
	n, err := h.WriteAt([]byte(payload), len(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, 400, n)
	assert.Equal(t, 400, h.Length())
	h.Close()

	fmAfter, err := fs.loadFreeMap()
	require.NoError(t, err)
	usedAfter := fmAfter.NumSectors() - fmAfter.NumClear()
	assert.Equal(t, 5, usedAfter-usedBefore) // ceil(400/128) data + 1 indirect
}

func TestScenario3_RemoveNonEmptyDirectoryFails(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Mkdir("/d"))
	require.NoError(t, fs.Create("/d/f.cc", header.CC))

	err := fs.Remove("/d")
	assert.ErrorIs(t, err, kernerr.NotEmpty)

	require.NoError(t, fs.Remove("/d/f.cc"))
	assert.NoError(t, fs.Remove("/d"))
}

func TestScenario4_LongNameSurvivesRoundTrip(t *testing.T) {
	fs := newFormatted(t)
	name := "/abcdefghijklmno.txt" // 19-char leaf, exceeds the 11-byte short-name slot
	require.NoError(t, fs.Create(name, header.TXT))

	h, err := fs.Open(name)
	require.NoError(t, err)
	h.Close()

	names, err := fs.List("/")
	require.NoError(t, err)
	assert.Contains(t, names, "abcdefghijklmno.txt")
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/x", header.TXT))
	err := fs.Create("/x", header.TXT)
	assert.ErrorIs(t, err, kernerr.NameTaken)
}

func TestOpenMissingFails(t *testing.T) {
	fs := newFormatted(t)
	_, err := fs.Open("/missing")
	assert.ErrorIs(t, err, kernerr.NotFound)
}

func TestCreateThroughNonDirectoryFails(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/f", header.TXT))
	err := fs.Create("/f/g", header.TXT)
	assert.ErrorIs(t, err, kernerr.NotADirectory)
}

func TestRemoveFreesExpectedSectors(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/a.txt", header.TXT))
	h, err := fs.Open("/a.txt")
	require.NoError(t, err)
	payload := strings.Repeat("y", 400)
	_, err = h.WriteAt([]byte(payload), len(payload), 0)
	require.NoError(t, err)
	h.Close()

	before, err := fs.loadFreeMap()
	require.NoError(t, err)
	clearBefore := before.NumClear()

	require.NoError(t, fs.Remove("/a.txt"))

	after, err := fs.loadFreeMap()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.NumClear()-clearBefore, 6) // numSectors + numIndirect + header
}

func TestMountSameDeviceTwiceFailsWithEBUSY(t *testing.T) {
	dev := device.NewMemDevice(testNumSectors)
	fs, err := Format(dev, testNumSectors, nil)
	require.NoError(t, err)
	defer fs.Unmount()

	_, err = Mount(dev, testNumSectors, nil)
	assert.ErrorIs(t, err, kernerr.EBUSY)
}

func TestUnmountAllowsRemount(t *testing.T) {
	dev := device.NewMemDevice(testNumSectors)
	fs, err := Format(dev, testNumSectors, nil)
	require.NoError(t, err)

	fs.Unmount()

	fs2, err := Mount(dev, testNumSectors, nil)
	require.NoError(t, err)
	defer fs2.Unmount()
}

// TestScenario5_ConcurrentReadersNeverObserveATornWrite drives a
// writer alternating between two whole-buffer contents against
// several concurrent readers of the same open file, per spec.md §8
// scenario 5: "readers may both complete before the writer starts or
// both after it finishes, never interleaved with it." Each reader
// asserts every byte it observes is uniform (all 'A' or all 'B'); a
// mix of the two would mean a reader raced the writer's read-modify-
// write of a data sector, or raced its own concurrent siblings
// mutating the shared Header value.
func TestScenario5_ConcurrentReadersNeverObserveATornWrite(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/a.txt", header.TXT))

	const size = 128 * 3
	allA := bytes.Repeat([]byte{'A'}, size)
	allB := bytes.Repeat([]byte{'B'}, size)

	wh, err := fs.Open("/a.txt")
	require.NoError(t, err)
	defer wh.Close()
	_, err = wh.WriteAt(allA, size, 0)
	require.NoError(t, err)

	const iterations = 50
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		payload := allA
		for i := 0; i < iterations; i++ {
			_, err := wh.WriteAt(payload, size, 0)
			assert.NoError(t, err)
			if bytes.Equal(payload, allA) {
				payload = allB
			} else {
				payload = allA
			}
		}
	}()

	for r := 0; r < 4; r++ {
		rh, err := fs.Open("/a.txt")
		require.NoError(t, err)
		defer rh.Close()

		wg.Add(1)
		go func(rh *OpenFileHandle) {
			defer wg.Done()
			buf := make([]byte, size)
			for i := 0; i < iterations; i++ {
				n, err := rh.ReadAt(buf, size, 0)
				assert.NoError(t, err)
				assert.Equal(t, size, n)
				assert.True(t, bytes.Equal(buf, allA) || bytes.Equal(buf, allB),
					"read observed a torn mix of old and new bytes: %q", buf)
			}
		}(rh)
	}

	wg.Wait()
}

func TestListRootAfterMultipleCreates(t *testing.T) {
	fs := newFormatted(t)
	require.NoError(t, fs.Create("/one", header.TXT))
	require.NoError(t, fs.Create("/two", header.TXT))
	names, err := fs.List("/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, names)
}
