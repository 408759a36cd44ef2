package vm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingkang/nachos/config"
)

// buildNoffExe assembles a minimal little-endian NOFF executable image
// with a code segment, an initData segment, and uninitSize bytes of
// (never-materialized) uninitialized data, for use as test fixtures.
func buildNoffExe(code, initData []byte, uninitSize int32) []byte {
	buf := make([]byte, noffHeaderSize+len(code)+len(initData))
	le := binary.LittleEndian
	le.PutUint32(buf[0:], noffMagic)

	codeVA := int32(0)
	le.PutUint32(buf[4:], uint32(codeVA))
	le.PutUint32(buf[8:], uint32(noffHeaderSize))
	le.PutUint32(buf[12:], uint32(len(code)))

	initVA := codeVA + int32(len(code))
	le.PutUint32(buf[16:], uint32(initVA))
	le.PutUint32(buf[20:], uint32(noffHeaderSize+len(code)))
	le.PutUint32(buf[24:], uint32(len(initData)))

	uninitVA := initVA + int32(len(initData))
	le.PutUint32(buf[28:], uint32(uninitVA))
	le.PutUint32(buf[32:], 0)
	le.PutUint32(buf[36:], uint32(uninitSize))

	copy(buf[noffHeaderSize:], code)
	copy(buf[noffHeaderSize+len(code):], initData)
	return buf
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.SwapDir = t.TempDir()
	cfg.ResSize = 4
	cfg.NumFrames = 8
	return cfg
}

func TestNewAddressSpaceLoadsSegmentsIntoSwapFile(t *testing.T) {
	cfg := testConfig(t)
	code := []byte("codebytes")
	initData := []byte("initdata")
	exe := buildNoffExe(code, initData, 16)

	pt := newTestPageTable(cfg.NumFrames)
	as, err := NewAddressSpace(cfg, pt, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(pt)

	assert.Greater(t, as.NumPages, 0)

	buf := make([]byte, PageSize)
	require.NoError(t, as.SwapFile.ReadSector(0, buf))
	assert.Equal(t, append(code, initData...), buf[:len(code)+len(initData)])
}

func TestNewAddressSpaceMarksCodeReadOnly(t *testing.T) {
	cfg := testConfig(t)
	code := make([]byte, PageSize) // exactly one page
	exe := buildNoffExe(code, nil, 0)

	pt := newTestPageTable(cfg.NumFrames)
	as, err := NewAddressSpace(cfg, pt, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(pt)

	assert.True(t, as.ReadOnlyBitmap[0])
}

func TestAddressSpaceInitialRegisters(t *testing.T) {
	cfg := testConfig(t)
	exe := buildNoffExe([]byte("x"), nil, 0)

	pt := newTestPageTable(cfg.NumFrames)
	as, err := NewAddressSpace(cfg, pt, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(pt)

	pc, nextPC, sp := as.InitialRegisters()
	assert.Equal(t, 0, pc)
	assert.Equal(t, 4, nextPC)
	assert.Equal(t, as.NumPages*PageSize-16, sp)
}

func TestNewAddressSpaceWaitSucceedsImmediatelyWhenFramesAreFree(t *testing.T) {
	cfg := testConfig(t)
	exe := buildNoffExe([]byte("x"), nil, 0)

	pt := newTestPageTable(cfg.NumFrames)
	as, err := NewAddressSpaceWait(cfg, pt, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(pt)

	assert.Greater(t, as.NumPages, 0)
}

func TestDestroyReleasesResidentSetAndSwapFile(t *testing.T) {
	cfg := testConfig(t)
	exe := buildNoffExe([]byte("x"), nil, 0)

	pt := newTestPageTable(cfg.NumFrames)
	as, err := NewAddressSpace(cfg, pt, 1, exe, nil)
	require.NoError(t, err)

	require.NoError(t, as.Destroy(pt))

	// The frames should be reusable by a new resident set of full size.
	_, err = pt.AllocateResidentSet(2, cfg.ResSize)
	assert.NoError(t, err)
}
