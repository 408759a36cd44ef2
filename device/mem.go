package device

// MemDevice is a RAM-backed BlockDevice, used by tests and by the
// simulator when no on-disk image is requested. Access is serialized
// through a request/response goroutine the way the reference file
// device serializes access to the underlying os.File: from the
// caller's side ReadSector/WriteSector block until the answer is
// ready, even though the "hardware" (a plain slice here) never
// actually blocks — this keeps the same call shape a real
// interrupt-driven device would need.
type MemDevice struct {
	numSectors int
	in         chan memReq
	out        chan memRes
}

type memOp int

const (
	memRead memOp = iota
	memWrite
	memClose
)

type memReq struct {
	op     memOp
	sector int
	buf    []byte
}

type memRes struct {
	err error
}

// NewMemDevice creates a MemDevice with the given number of sectors,
// all zero-initialized.
func NewMemDevice(numSectors int) *MemDevice {
	d := &MemDevice{
		numSectors: numSectors,
		in:         make(chan memReq),
		out:        make(chan memRes),
	}
	go d.loop()
	return d
}

func (d *MemDevice) loop() {
	sectors := make([][]byte, d.numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, SectorSize)
	}

	for req := range d.in {
		switch req.op {
		case memRead:
			if err := checkRange(req.sector, d.numSectors); err != nil {
				d.out <- memRes{err}
				continue
			}
			copy(req.buf, sectors[req.sector])
			d.out <- memRes{nil}
		case memWrite:
			if err := checkRange(req.sector, d.numSectors); err != nil {
				d.out <- memRes{err}
				continue
			}
			copy(sectors[req.sector], req.buf)
			d.out <- memRes{nil}
		case memClose:
			d.out <- memRes{nil}
			return
		}
	}
}

func (d *MemDevice) NumSectors() int { return d.numSectors }

func (d *MemDevice) ReadSector(sector int, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.in <- memReq{op: memRead, sector: sector, buf: buf}
	return (<-d.out).err
}

func (d *MemDevice) WriteSector(sector int, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.in <- memReq{op: memWrite, sector: sector, buf: buf}
	return (<-d.out).err
}

func (d *MemDevice) Close() error {
	d.in <- memReq{op: memClose}
	return (<-d.out).err
}

var _ BlockDevice = (*MemDevice)(nil)
