// Command nachos is the disk-image CLI of spec.md §6: format a disk,
// copy host files into it, list and print its contents, and
// (best-effort, since the MIPS interpreter is an external
// collaborator per spec.md §1) construct and page in a user
// executable's address space.
//
// Grounded on the flag-driven main() shape of jnwhiteh-minixfs's
// cmd/mkfs and cmd/fsck (parse flags, open or create the disk image,
// dispatch to one operation, report errors to stderr and a nonzero
// exit code), rewritten onto github.com/spf13/cobra/pflag per
// SPEC_FULL.md §6.2 in place of that pair's stdlib flag package.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caoyingkang/nachos/config"
	"github.com/caoyingkang/nachos/device"
	"github.com/caoyingkang/nachos/fsys"
	"github.com/caoyingkang/nachos/header"
	nachossyscall "github.com/caoyingkang/nachos/syscall"
	"github.com/caoyingkang/nachos/vm"
)

var (
	diskPath   string
	numSectors int

	doFormat bool
	cpSrc    string
	cpDst    string
	printPath string
	removePath string
	doList   bool
	doDump   bool
	execPath string
	mkdirPath string
	cacheSectors int
)

// exitCode is set by run before it returns and read by main after
// root.Execute returns, so that main is the only place that calls
// os.Exit: run itself must return normally so its deferred cleanup
// (closing dev, which flushes a --cache-sectors CachedDevice) always
// runs before the process exits.
var exitCode int

func main() {
	root := &cobra.Command{
		Use:           "nachos",
		Short:         "operate on a simulated on-disk file system image",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := root.Flags()
	flags.StringVar(&diskPath, "disk", "nachos.disk", "host file backing the simulated disk")
	flags.IntVar(&numSectors, "sectors", config.Default().NumSectors, "sector count for a freshly formatted disk")
	flags.BoolVarP(&doFormat, "format", "f", false, "format disk: create fresh free map and root directory")
	flags.StringVar(&cpSrc, "cp-src", "", "host source file for --cp-dst")
	flags.StringVar(&cpDst, "cp-dst", "", "simulated destination path for --cp-src")
	flags.StringVarP(&printPath, "print", "p", "", "print a file's contents")
	flags.StringVarP(&removePath, "remove", "r", "", "remove a file")
	flags.BoolVarP(&doList, "list", "l", false, "list root directory recursively")
	flags.BoolVarP(&doDump, "dump", "D", false, "print full file-system state")
	flags.StringVarP(&execPath, "exec", "x", "", "load a user executable's address space")
	flags.StringVar(&mkdirPath, "mkdir", "", "create a directory")
	flags.IntVar(&cacheSectors, "cache-sectors", 0, "wrap the disk image in an LRU sector cache of this size (0 disables caching)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()

	dev, fs, err := openOrFormat(log)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer fs.Unmount()

	if mkdirPath != "" {
		if err := fs.Mkdir(mkdirPath); err != nil {
			return fmt.Errorf("mkdir %s: %w", mkdirPath, err)
		}
	}
	if cpSrc != "" || cpDst != "" {
		if cpSrc == "" || cpDst == "" {
			return fmt.Errorf("--cp-src and --cp-dst must be given together")
		}
		if err := copyIn(fs, cpSrc, cpDst); err != nil {
			return fmt.Errorf("cp %s %s: %w", cpSrc, cpDst, err)
		}
	}
	if removePath != "" {
		if err := fs.Remove(removePath); err != nil {
			return fmt.Errorf("remove %s: %w", removePath, err)
		}
	}
	if printPath != "" {
		content, err := fs.Print(printPath)
		if err != nil {
			return fmt.Errorf("print %s: %w", printPath, err)
		}
		fmt.Print(content)
	}
	if doList {
		if err := list(fs); err != nil {
			return fmt.Errorf("list: %w", err)
		}
	}
	if doDump {
		if err := dump(fs); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	if execPath != "" {
		code, err := runExecutable(fs, execPath, log)
		if err != nil {
			return fmt.Errorf("exec %s: %w", execPath, err)
		}
		exitCode = code
	}

	return nil
}

func openOrFormat(log logrus.FieldLogger) (device.BlockDevice, *fsys.FileSystem, error) {
	_, statErr := os.Stat(diskPath)
	needFormat := doFormat || os.IsNotExist(statErr)

	file, err := device.OpenFileDevice(diskPath, numSectors, true)
	if err != nil {
		return nil, nil, fmt.Errorf("open disk image %s: %w", diskPath, err)
	}

	var dev device.BlockDevice = file
	if cacheSectors > 0 {
		dev = device.NewCachedDevice(file, cacheSectors)
	}

	var fs *fsys.FileSystem
	if needFormat {
		fs, err = fsys.Format(dev, numSectors, log)
	} else {
		fs, err = fsys.Mount(dev, numSectors, log)
	}
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return dev, fs, nil
}

func copyIn(fs *fsys.FileSystem, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := fs.Create(dst, header.TypeForName(dst)); err != nil {
		return err
	}
	h, err := fs.Open(dst)
	if err != nil {
		return err
	}
	defer h.Close()
	if len(data) == 0 {
		return nil
	}
	_, err = h.WriteAt(data, len(data), 0)
	return err
}

func list(fs *fsys.FileSystem) error {
	return fs.Walk("/", func(e fsys.Entry) error {
		if e.Type == header.DIR {
			fmt.Printf("%s/\n", e.Path)
		} else {
			fmt.Printf("%s\t%d bytes\n", e.Path, e.Size)
		}
		return nil
	})
}

func dump(fs *fsys.FileSystem) error {
	stats, err := fs.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("sectors: %d total, %d used, %d free\n", stats.NumSectors, stats.UsedSectors, stats.FreeSectors)
	return list(fs)
}

// runExecutable constructs a machine and an address space for the
// program at path within the simulated file system and demand-pages
// in its entry page. It does not run any instructions: the MIPS
// interpreter is an external collaborator per spec.md §1, so this
// exercises exactly the pieces this repo owns (NOFF loading, resident
// set reservation, swap-file population, and the page-fault path)
// without a fetch/execute loop.
func runExecutable(fs *fsys.FileSystem, path string, log logrus.FieldLogger) (int, error) {
	h, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer h.Close()

	n := h.Length()
	data := make([]byte, n)
	if n > 0 {
		if _, err := h.ReadAt(data, n, 0); err != nil {
			return 0, err
		}
	}

	cfg := config.Default()
	machine, err := vm.NewMachine(cfg, log)
	if err != nil {
		return 0, err
	}

	as, err := vm.NewAddressSpaceWait(cfg, machine.PageTable, 1, data, log)
	if err != nil {
		return 0, err
	}
	defer as.Destroy(machine.PageTable)

	pc, nextPC, sp := as.InitialRegisters()
	if err := machine.HandlePageFault(as, pc); err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{"pc": pc, "nextPC": nextPC, "sp": sp}).
		Info("address space ready; instruction execution is out of scope")

	proc := &nachossyscall.Process{
		ThreadID: as.ThreadID,
		AS:       as,
		WorkDir:  "/",
		FS:       fs,
		Machine:  machine,
		Console:  stdioConsole{},
		Log:      log,
	}
	res := proc.Dispatch(nachossyscall.Halt, [4]int{})
	return res.ExitCode, nil
}
