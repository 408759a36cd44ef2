package fsys

import (
	"path"

	"github.com/caoyingkang/nachos/header"
)

// Stats summarizes the free-sector map, for the CLI's -D flag.
type Stats struct {
	NumSectors int
	UsedSectors int
	FreeSectors int
}

// Stats reports the current free-map occupancy.
func (fs *FileSystem) Stats() (Stats, error) {
	fs.lock.Acquire()
	defer fs.lock.Release()

	fm, err := fs.loadFreeMap()
	if err != nil {
		return Stats{}, err
	}
	free := fm.NumClear()
	return Stats{
		NumSectors:  fs.numSectors,
		UsedSectors: fs.numSectors - free,
		FreeSectors: free,
	}, nil
}

// Entry is one file discovered by Walk.
type Entry struct {
	Path string
	Type header.FileType
	Size int
}

// Walk visits every live entry reachable from root, descending into
// subdirectories depth-first, per the CLI's -l and -D flags' need to
// enumerate the whole tree rather than a single directory's contents.
func (fs *FileSystem) Walk(root string, visit func(Entry) error) error {
	return fs.walk(root, visit)
}

func (fs *FileSystem) walk(dirPath string, visit func(Entry) error) error {
	names, err := fs.List(dirPath)
	if err != nil {
		return err
	}
	for _, name := range names {
		childPath := path.Join(dirPath, name)
		ftype, err := fs.Type(childPath)
		if err != nil {
			return err
		}
		size := 0
		if ftype != header.DIR {
			handle, err := fs.Open(childPath)
			if err != nil {
				return err
			}
			size = handle.Length()
			handle.Close()
		}
		if err := visit(Entry{Path: childPath, Type: ftype, Size: size}); err != nil {
			return err
		}
		if ftype == header.DIR {
			if err := fs.walk(childPath, visit); err != nil {
				return err
			}
		}
	}
	return nil
}
