package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingkang/nachos/config"
	"github.com/caoyingkang/nachos/kernerr"
)

func newTestMachine(t *testing.T, cfg config.Config) *Machine {
	t.Helper()
	m, err := NewMachine(cfg, nil)
	require.NoError(t, err)
	return m
}

func TestHandlePageFaultLoadsPageFromSwapFile(t *testing.T) {
	cfg := testConfig(t)
	m := newTestMachine(t, cfg)

	code := make([]byte, PageSize*2)
	copy(code, "hello from page one")
	copy(code[PageSize:], "hello from page two")
	exe := buildNoffExe(code, nil, 0)

	as, err := NewAddressSpace(cfg, m.PageTable, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(m.PageTable)

	require.NoError(t, m.HandlePageFault(as, PageSize)) // touch vpn=1

	ppn, ok := m.TLB.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "hello from page two", string(m.frameBytes(ppn)[:19]))

	frame := m.PageTable.Frame(ppn)
	assert.True(t, frame.Valid)
	assert.False(t, frame.Dirty)
	assert.Equal(t, 1, frame.VirtualPage)
}

func TestHandlePageFaultOutOfRangeIsUnrecoverable(t *testing.T) {
	cfg := testConfig(t)
	m := newTestMachine(t, cfg)
	exe := buildNoffExe([]byte("x"), nil, 0)

	as, err := NewAddressSpace(cfg, m.PageTable, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(m.PageTable)

	err = m.HandlePageFault(as, as.NumPages*PageSize+1000)
	assert.ErrorIs(t, err, kernerr.FaultUnrecoverable)
}

func TestHandlePageFaultEvictsDirtyPageBeforeReuse(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResSize = 1
	m := newTestMachine(t, cfg)

	code := make([]byte, PageSize*2)
	copy(code, "page zero contents")
	copy(code[PageSize:], "page one contents!!")
	exe := buildNoffExe(code, nil, 0)

	as, err := NewAddressSpace(cfg, m.PageTable, 1, exe, nil)
	require.NoError(t, err)
	defer as.Destroy(m.PageTable)

	require.NoError(t, m.HandlePageFault(as, 0))
	ppn0, ok := m.TLB.Lookup(0)
	require.True(t, ok)

	// Simulate a user write to page 0, then force it out via a fault
	// on page 1 (resident set size 1, so this must evict page 0).
	copy(m.frameBytes(ppn0), []byte("modified page zero!!"))
	m.RecordWrite(0)

	require.NoError(t, m.HandlePageFault(as, PageSize))

	buf := make([]byte, PageSize)
	require.NoError(t, as.SwapFile.ReadSector(0, buf))
	assert.Equal(t, "modified page zero!!", string(buf[:20]))
}
