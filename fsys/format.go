package fsys

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/caoyingkang/nachos/device"
	"github.com/caoyingkang/nachos/directory"
	"github.com/caoyingkang/nachos/freemap"
	"github.com/caoyingkang/nachos/header"
	"github.com/caoyingkang/nachos/openfile"
)

// Format lays down a fresh free-sector map and an empty root
// directory on dev, per spec.md §6's "-f: format disk" and §4.5's
// fixed sector assignment. It is the one place that allocates the two
// bootstrap headers directly rather than through Create, since Create
// needs a free map to already exist.
func Format(dev device.BlockDevice, numSectors int, log logrus.FieldLogger) (*FileSystem, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if numSectors < 4 {
		return nil, errors.New("format: device too small for bootstrap headers")
	}

	fm := freemap.New(numSectors)
	fm.Mark(FreeMapSector)
	fm.Mark(DirectorySector)

	var freeMapHdr header.Header
	freeMapFileSize := freemap.ByteLen(numSectors)
	if err := freeMapHdr.Allocate(fm, dev, freeMapFileSize, header.BIT); err != nil {
		return nil, errors.Wrap(err, "format: allocate free-map file")
	}

	var rootHdr header.Header
	if err := rootHdr.Allocate(fm, dev, DirectoryFileSize, header.DIR); err != nil {
		return nil, errors.Wrap(err, "format: allocate root directory")
	}

	emptyRoot := directory.New(NumDirEntries)
	if err := openfile.WriteRange(dev, &rootHdr, emptyRoot.Encode(), DirectoryFileSize, 0); err != nil {
		return nil, errors.Wrap(err, "format: write empty root directory")
	}

	// The free map's own persisted bitmap must reflect every sector
	// consumed by its own header/data and the root's header/data, so
	// write it out last, after both allocations above have mutated fm.
	if err := openfile.WriteRange(dev, &freeMapHdr, fm.Encode(), freeMapFileSize, 0); err != nil {
		return nil, errors.Wrap(err, "format: write free-map contents")
	}

	if err := freeMapHdr.WriteBack(dev, FreeMapSector); err != nil {
		return nil, errors.Wrap(err, "format: persist free-map header")
	}
	if err := rootHdr.WriteBack(dev, DirectorySector); err != nil {
		return nil, errors.Wrap(err, "format: persist root directory header")
	}

	log.WithFields(logrus.Fields{"numSectors": numSectors}).Info("formatted device")
	return Mount(dev, numSectors, log)
}
