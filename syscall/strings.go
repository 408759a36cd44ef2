package syscall

import (
	"github.com/pkg/errors"

	"github.com/caoyingkang/nachos/vm"
)

// translate resolves a user virtual address to the byte it names,
// consulting the TLB first and falling back to the page-fault handler
// on a miss, per spec.md §4.8: "the handler reads bytes one at a time
// through the page-fault-tolerant read primitive." This is the single
// primitive every syscall argument reader in this package is built on.
func translate(m *vm.Machine, as *vm.AddressSpace, vaddr int) (byte, error) {
	vpn := vaddr / vm.PageSize
	off := vaddr % vm.PageSize

	ppn, ok := m.TLB.Lookup(vpn)
	if !ok {
		if err := m.HandlePageFault(as, vaddr); err != nil {
			return 0, errors.Wrapf(err, "translate: fault at vaddr %d", vaddr)
		}
		ppn, ok = m.TLB.Lookup(vpn)
		if !ok {
			return 0, errors.Errorf("translate: no translation for vaddr %d after fault handling", vaddr)
		}
	}
	return m.Memory[ppn*vm.PageSize+off], nil
}

// ReadCString reads a NUL-terminated string starting at addr, one
// byte at a time through translate, per spec.md §4.8's "reads bytes
// one at a time ... until NUL."
func ReadCString(m *vm.Machine, as *vm.AddressSpace, addr int) (string, error) {
	var out []byte
	for i := 0; ; i++ {
		b, err := translate(m, as, addr+i)
		if err != nil {
			return "", errors.Wrap(err, "readCString")
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}

// CopyFromUser reads len(buf) bytes starting at addr into buf.
func CopyFromUser(m *vm.Machine, as *vm.AddressSpace, addr int, buf []byte) error {
	for i := range buf {
		b, err := translate(m, as, addr+i)
		if err != nil {
			return errors.Wrap(err, "copyFromUser")
		}
		buf[i] = b
	}
	return nil
}

// CopyToUser writes buf into the address space starting at addr, using
// the same fault-tolerant per-byte translation as reads: a write to an
// address not yet mapped still needs the frame resolved (and its dirty
// bit set) before the byte can be stored.
func CopyToUser(m *vm.Machine, as *vm.AddressSpace, addr int, buf []byte) error {
	for i, b := range buf {
		vaddr := addr + i
		vpn := vaddr / vm.PageSize
		off := vaddr % vm.PageSize

		ppn, ok := m.TLB.Lookup(vpn)
		if !ok {
			if err := m.HandlePageFault(as, vaddr); err != nil {
				return errors.Wrapf(err, "copyToUser: fault at vaddr %d", vaddr)
			}
			ppn, ok = m.TLB.Lookup(vpn)
			if !ok {
				return errors.Errorf("copyToUser: no translation for vaddr %d after fault handling", vaddr)
			}
		}
		m.Memory[ppn*vm.PageSize+off] = b
		m.RecordWrite(vpn)
	}
	return nil
}
