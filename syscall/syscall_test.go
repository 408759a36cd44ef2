package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingkang/nachos/config"
	"github.com/caoyingkang/nachos/device"
	"github.com/caoyingkang/nachos/fsys"
	"github.com/caoyingkang/nachos/vm"
)

type fakeConsole struct {
	in  []byte
	out []byte
}

func (c *fakeConsole) GetChar() (byte, error) {
	if len(c.in) == 0 {
		return 0, assert.AnError
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, nil
}

func (c *fakeConsole) PutChar(b byte) error {
	c.out = append(c.out, b)
	return nil
}

func newTestProcess(t *testing.T) (*Process, *vm.Machine) {
	t.Helper()
	cfg := config.Default()
	cfg.SwapDir = t.TempDir()
	cfg.NumFrames = 8
	cfg.ResSize = 4

	dev := device.NewMemDevice(512)
	fs, err := fsys.Format(dev, 512, nil)
	require.NoError(t, err)

	m, err := vm.NewMachine(cfg, nil)
	require.NoError(t, err)

	code := make([]byte, vm.PageSize*2)
	exe := buildTestExe(code)
	as, err := vm.NewAddressSpace(cfg, m.PageTable, 1, exe, nil)
	require.NoError(t, err)

	return &Process{
		ThreadID: 1,
		AS:       as,
		WorkDir:  "/",
		FS:       fs,
		Machine:  m,
		Console:  &fakeConsole{},
	}, m
}

// buildTestExe builds a minimal NOFF-format executable image with the
// given code segment and no data segments, matching vm's own test
// fixture layout.
func buildTestExe(code []byte) []byte {
	const noffHeaderSize = 40
	buf := make([]byte, noffHeaderSize+len(code))
	putLE := func(off int, v uint32) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
	putLE(0, 0xbadfad)
	putLE(4, 0)
	putLE(8, noffHeaderSize)
	putLE(12, uint32(len(code)))
	copy(buf[noffHeaderSize:], code)
	return buf
}

func TestResolvePathHandlesAbsoluteAndRelative(t *testing.T) {
	p := &Process{WorkDir: "/"}
	assert.Equal(t, "/etc/x", p.resolvePath("/etc/x"))
	assert.Equal(t, "/a", p.resolvePath("a"))

	p.WorkDir = "/home"
	assert.Equal(t, "/home/a", p.resolvePath("a"))
}

func TestDispatchCreateOpenWriteReadClose(t *testing.T) {
	proc, m := newTestProcess(t)

	writeCString(t, m, proc.AS, 0, "/a.txt")
	res := proc.Dispatch(Create, [4]int{0, 0, 0, 0})
	assert.Equal(t, 0, res.Value)

	writeCString(t, m, proc.AS, 0, "/a.txt")
	res = proc.Dispatch(Open, [4]int{0, 0, 0, 0})
	require.NotEqualValues(t, -1, res.Value)
	fd := res.Value

	payload := "hello"
	CopyToUser(m, proc.AS, 64, []byte(payload))
	res = proc.Dispatch(Write, [4]int{64, len(payload), fd, 0})
	assert.Equal(t, len(payload), res.Value)

	proc.Files[fd].SeekPosition = 0
	res = proc.Dispatch(Read, [4]int{128, len(payload), fd, 0})
	assert.Equal(t, len(payload), res.Value)

	out := make([]byte, len(payload))
	require.NoError(t, CopyFromUser(m, proc.AS, 128, out))
	assert.Equal(t, payload, string(out))

	res = proc.Dispatch(Close, [4]int{fd, 0, 0, 0})
	assert.Equal(t, 0, res.Value)
}

func TestDispatchOpenMissingFileFails(t *testing.T) {
	proc, m := newTestProcess(t)
	writeCString(t, m, proc.AS, 0, "/missing")
	res := proc.Dispatch(Open, [4]int{0, 0, 0, 0})
	assert.Equal(t, -1, res.Value)
}

func TestDispatchExitReportsExitCode(t *testing.T) {
	proc, _ := newTestProcess(t)
	res := proc.Dispatch(Exit, [4]int{42, 0, 0, 0})
	assert.True(t, res.Exit)
	assert.Equal(t, 42, res.ExitCode)
}

func TestDispatchConsoleReadWrite(t *testing.T) {
	proc, m := newTestProcess(t)
	console := proc.Console.(*fakeConsole)
	console.in = []byte("hi")

	res := proc.Dispatch(Read, [4]int{200, 2, ConsoleInput, 0})
	assert.Equal(t, 2, res.Value)

	out := make([]byte, 2)
	require.NoError(t, CopyFromUser(m, proc.AS, 200, out))
	assert.Equal(t, "hi", string(out))

	CopyToUser(m, proc.AS, 210, []byte("yo"))
	res = proc.Dispatch(Write, [4]int{210, 2, ConsoleOutput, 0})
	assert.Equal(t, 2, res.Value)
	assert.Equal(t, "yo", string(console.out))
}

func writeCString(t *testing.T, m *vm.Machine, as *vm.AddressSpace, addr int, s string) {
	t.Helper()
	buf := append([]byte(s), 0)
	require.NoError(t, CopyToUser(m, as, addr, buf))
}
