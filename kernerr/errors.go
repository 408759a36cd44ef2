// Package kernerr defines the sentinel error kinds shared by the file
// system and virtual memory subsystems.
//
// Call sites wrap these with github.com/pkg/errors to attach context
// (path, sector, thread id) while preserving errors.Is against the
// kind, mirroring how the Minix reference errors are declared once
// and reused across every layer.
package kernerr

import "errors"

var (
	NoSpace            = errors.New("no space left on device")
	NameTaken          = errors.New("name already exists in directory")
	DirectoryFull      = errors.New("directory has no free slots")
	NotFound           = errors.New("no such file or directory")
	NotADirectory      = errors.New("not a directory")
	NotEmpty           = errors.New("directory not empty")
	BadPath            = errors.New("malformed path")
	FaultUnrecoverable = errors.New("page fault outside any valid mapping")

	// EBUSY mirrors the Minix busy code, returned when Mount is asked to
	// mount a device that already has a live FileSystem over it.
	EBUSY = errors.New("resource busy")
)
