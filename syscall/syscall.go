// Package syscall implements the system-call dispatch table of
// spec.md §4.8: demultiplexing by syscall number, page-fault-tolerant
// argument reading, per-address-space working directories, and the
// two reserved console file ids.
//
// Grounded on jnwhiteh-minixfs/fs/process.go's Process type (per-
// process file-descriptor table, working directory, dispatch through
// the owning file system) and fs/syscalls.go's do_open/do_close shape,
// adapted from that Minix-style Unix syscall surface to the Nachos-
// style surface spec.md §4.8 actually names (Halt, Exit, Exec, Join,
// Fork, Yield, Create, Open, Read, Write, Close); Exec/Fork/Join/Yield
// delegate to a caller-supplied Scheduler, since thread/scheduler
// internals are an external collaborator per spec.md §1.
package syscall

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/caoyingkang/nachos/fsys"
	"github.com/caoyingkang/nachos/header"
	"github.com/caoyingkang/nachos/vm"
)

// Number identifies a recognized system call, per spec.md §4.8.
type Number int

const (
	Halt Number = iota
	Exit
	Exec
	Join
	Create
	Open
	Read
	Write
	Close
	Fork
	Yield
)

// Reserved console file ids, per spec.md §4.8.
const (
	ConsoleInput  = 0
	ConsoleOutput = 1
)

// MaxOpenFiles bounds a process's file-descriptor table, the same
// fixed-size-array shape as jnwhiteh-minixfs's Process.files.
const MaxOpenFiles = 16

// Console is the external raw console device: getChar/putChar,
// per spec.md §1's list of external collaborators.
type Console interface {
	GetChar() (byte, error)
	PutChar(b byte) error
}

// Scheduler is the external collaborator that owns thread creation,
// join, and voluntary yield, per spec.md §1. Exec/Fork/Join/Yield
// dispatch here rather than being implemented by this package.
type Scheduler interface {
	Exec(path string, args []string) (threadID int, err error)
	Fork(parent int) (threadID int, err error)
	Join(threadID int) (exitCode int, err error)
	Yield()
}

// Process is a thread's kernel-visible process state: its address
// space, its open-file table, its working directory, and the console
// and scheduler it dispatches Read/Write/Exec/Fork/Join/Yield through.
type Process struct {
	ThreadID int
	AS       *vm.AddressSpace
	WorkDir  string
	Files    [MaxOpenFiles]*fsys.OpenFileHandle

	FS        *fsys.FileSystem
	Machine   *vm.Machine
	Console   Console
	Scheduler Scheduler
	Log       logrus.FieldLogger
}

// resolvePath resolves a syscall path argument relative to the
// process's working directory, per spec.md §4.8: "paths passed to
// file syscalls are resolved relative to a per-address-space working
// directory prefix." An already-absolute path is used verbatim.
func (p *Process) resolvePath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	if p.WorkDir == "/" {
		return "/" + path
	}
	return p.WorkDir + "/" + path
}

func (p *Process) allocFD(h *fsys.OpenFileHandle) (int, error) {
	// Slots ConsoleInput and ConsoleOutput are reserved for the console
	// and never handed out to an opened file.
	for i := ConsoleOutput + 1; i < MaxOpenFiles; i++ {
		if p.Files[i] == nil {
			p.Files[i] = h
			return i, nil
		}
	}
	return -1, errors.New("allocFD: process file table full")
}

// Result is the outcome of dispatching one system call: the value to
// place in r2, whether the calling thread should terminate, and (if
// so) its exit code, per spec.md §4.8.
type Result struct {
	Value    int
	Exit     bool
	ExitCode int
}

// Dispatch demultiplexes one system call by number, reading its
// arguments (r4..r7 in the caller's convention, passed here as args)
// through the page-fault-tolerant primitives in strings.go. The
// caller (the external exception handler) is responsible for
// advancing PC/nextPC after Dispatch returns, per spec.md §4.8.
func (p *Process) Dispatch(num Number, args [4]int) Result {
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	switch num {
	case Halt:
		return Result{Exit: true, ExitCode: 0}

	case Exit:
		return Result{Exit: true, ExitCode: args[0]}

	case Exec:
		path, err := ReadCString(p.Machine, p.AS, args[0])
		if err != nil || p.Scheduler == nil {
			return Result{Value: -1}
		}
		tid, err := p.Scheduler.Exec(path, nil)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("exec failed")
			return Result{Value: -1}
		}
		return Result{Value: tid}

	case Fork:
		if p.Scheduler == nil {
			return Result{Value: -1}
		}
		tid, err := p.Scheduler.Fork(p.ThreadID)
		if err != nil {
			return Result{Value: -1}
		}
		return Result{Value: tid}

	case Join:
		if p.Scheduler == nil {
			return Result{Value: -1}
		}
		code, err := p.Scheduler.Join(args[0])
		if err != nil {
			return Result{Value: -1}
		}
		return Result{Value: code}

	case Yield:
		if p.Scheduler != nil {
			p.Scheduler.Yield()
		}
		return Result{}

	case Create:
		path, err := ReadCString(p.Machine, p.AS, args[0])
		if err != nil {
			return Result{Value: -1}
		}
		resolved := p.resolvePath(path)
		if err := p.FS.Create(resolved, header.TypeForName(resolved)); err != nil {
			log.WithError(err).WithField("path", resolved).Debug("create failed")
			return Result{Value: -1}
		}
		return Result{Value: 0}

	case Open:
		path, err := ReadCString(p.Machine, p.AS, args[0])
		if err != nil {
			return Result{Value: -1}
		}
		h, err := p.FS.Open(p.resolvePath(path))
		if err != nil {
			return Result{Value: -1}
		}
		fd, err := p.allocFD(h)
		if err != nil {
			h.Close()
			return Result{Value: -1}
		}
		return Result{Value: fd}

	case Read:
		return Result{Value: p.doRead(args[0], args[1], args[2])}

	case Write:
		return Result{Value: p.doWrite(args[0], args[1], args[2])}

	case Close:
		fd := args[0]
		if fd < 0 || fd >= MaxOpenFiles || p.Files[fd] == nil {
			return Result{Value: -1}
		}
		p.Files[fd].Close()
		p.Files[fd] = nil
		return Result{Value: 0}

	default:
		return Result{Value: -1}
	}
}

func (p *Process) doRead(bufAddr, size, fd int) int {
	if size <= 0 {
		return 0
	}
	if fd == ConsoleInput {
		if p.Console == nil {
			return -1
		}
		buf := make([]byte, 0, size)
		for len(buf) < size {
			b, err := p.Console.GetChar()
			if err != nil {
				break
			}
			buf = append(buf, b)
		}
		if err := CopyToUser(p.Machine, p.AS, bufAddr, buf); err != nil {
			return -1
		}
		return len(buf)
	}

	if fd < 0 || fd >= MaxOpenFiles || p.Files[fd] == nil {
		return -1
	}
	h := p.Files[fd]
	buf := make([]byte, size)
	n, err := h.ReadAt(buf, size, h.SeekPosition)
	if err != nil {
		return -1
	}
	h.SeekPosition += n
	if err := CopyToUser(p.Machine, p.AS, bufAddr, buf[:n]); err != nil {
		return -1
	}
	return n
}

func (p *Process) doWrite(bufAddr, size, fd int) int {
	if size <= 0 {
		return 0
	}
	buf := make([]byte, size)
	if err := CopyFromUser(p.Machine, p.AS, bufAddr, buf); err != nil {
		return -1
	}

	if fd == ConsoleOutput {
		if p.Console == nil {
			return -1
		}
		for _, b := range buf {
			if err := p.Console.PutChar(b); err != nil {
				return -1
			}
		}
		return size
	}

	if fd < 0 || fd >= MaxOpenFiles || p.Files[fd] == nil {
		return -1
	}
	h := p.Files[fd]
	n, err := h.WriteAt(buf, size, h.SeekPosition)
	if err != nil {
		return -1
	}
	h.SeekPosition += n
	return n
}
