// Package config centralizes kernel construction parameters (disk
// geometry, TLB size, resident-set size, replacement policy, user
// stack size) into one struct, per SPEC_FULL.md §4.9, the way
// ha1tch-plus3's cmd package centralizes disk parameters before
// constructing a diskimg.DiskImage rather than scattering them as
// package-level constants.
package config

import "github.com/pkg/errors"

// Policy names a page/TLB replacement policy.
type Policy string

const (
	FIFO Policy = "fifo"
	LRU  Policy = "lru"
)

// Config holds every tunable the CLI assembles before constructing the
// file-system façade and the VM subsystem.
type Config struct {
	// NumSectors is the size of the simulated disk, in sectors.
	NumSectors int
	// TLBSize is the number of fully-associative TLB slots.
	TLBSize int
	// ResSize is the number of physical frames reserved as a thread's
	// resident set under inverted paging.
	ResSize int
	// NumFrames is the total number of physical frames tracked by the
	// inverted page table.
	NumFrames int
	// Policy selects the TLB and page replacement discipline.
	Policy Policy
	// UserStackSize is the number of bytes reserved for a thread's
	// user stack above its data segments, per spec.md §4.6.
	UserStackSize int
	// SwapDir is the host directory scratch per-thread swap files are
	// created in.
	SwapDir string
}

// Default returns the parameter set the reference simulator ships
// with: enough frames and TLB slots to run the small user test
// binaries the CLI is meant to exercise.
func Default() Config {
	return Config{
		NumSectors:    512,
		TLBSize:       4,
		ResSize:       8,
		NumFrames:     32,
		Policy:        FIFO,
		UserStackSize: 1024,
		SwapDir:       ".",
	}
}

// Validate reports whether the configuration is internally consistent
// enough to construct a kernel from.
func (c Config) Validate() error {
	if c.NumSectors <= 0 {
		return errors.New("config: NumSectors must be positive")
	}
	if c.TLBSize <= 0 {
		return errors.New("config: TLBSize must be positive")
	}
	if c.ResSize <= 0 || c.NumFrames <= 0 || c.ResSize > c.NumFrames {
		return errors.New("config: ResSize must be positive and no larger than NumFrames")
	}
	if c.Policy != FIFO && c.Policy != LRU {
		return errors.Errorf("config: unknown replacement policy %q", c.Policy)
	}
	if c.UserStackSize <= 0 {
		return errors.New("config: UserStackSize must be positive")
	}
	return nil
}
