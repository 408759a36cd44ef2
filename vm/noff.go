package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// noffMagic identifies a NOFF ("Nachos Object File Format") executable
// header, the same magic the reference loader checks for before
// falling back to a byte-swapped reinterpretation.
const noffMagic = 0xbadfad

// segment describes one contiguous region of an executable: its
// virtual address, its offset within the executable file, and its
// size in bytes.
type segment struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// noffHeader is the fixed 40-byte header at the start of every
// executable file: a magic number followed by the code, initialized
// data, and uninitialized data segment descriptors.
type noffHeader struct {
	Magic      int32
	Code       segment
	InitData   segment
	UninitData segment
}

const noffHeaderSize = 4 * 10 // magic + 3 segments * 3 int32 fields

// parseNoffHeader reads the fixed-format header from the start of an
// executable image, transparently handling the byte-swapped form a
// cross-compiled executable produces (§4.6: "parses a NOFF header
// (possibly endian-swapped)").
func parseNoffHeader(data []byte) (*noffHeader, error) {
	if len(data) < noffHeaderSize {
		return nil, errors.New("parseNoffHeader: executable too short for a NOFF header")
	}

	h := decodeNoffHeader(data, binary.LittleEndian)
	if h.Magic != noffMagic {
		h = decodeNoffHeader(data, binary.BigEndian)
	}
	if h.Magic != noffMagic {
		return nil, errors.New("parseNoffHeader: bad magic in either byte order")
	}
	return h, nil
}

func decodeNoffHeader(data []byte, order binary.ByteOrder) *noffHeader {
	readInt32 := func(off int) int32 { return int32(order.Uint32(data[off:])) }
	readSegment := func(off int) segment {
		return segment{
			VirtualAddr: readInt32(off),
			InFileAddr:  readInt32(off + 4),
			Size:        readInt32(off + 8),
		}
	}
	return &noffHeader{
		Magic:      readInt32(0),
		Code:       readSegment(4),
		InitData:   readSegment(16),
		UninitData: readSegment(28),
	}
}
