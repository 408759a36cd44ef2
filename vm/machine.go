package vm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/caoyingkang/nachos/config"
)

// Machine ties together the pieces spec.md §4.7 assumes a single
// physical machine owns: the byte-addressable frame store the
// (external, out of scope) instruction interpreter reads and writes,
// the inverted page table, and the TLB.
type Machine struct {
	Memory     []byte
	PageTable  *InvertedPageTable
	TLB        *TLB
	cfg        config.Config
	log        logrus.FieldLogger
}

// NewMachine constructs a machine sized per cfg: cfg.NumFrames
// physical frames of PageSize bytes each, a TLB of cfg.TLBSize slots,
// both replaced according to cfg.Policy.
func NewMachine(cfg config.Config, log logrus.FieldLogger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "newMachine")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	newPolicy := policyFactory(cfg.Policy)
	return &Machine{
		Memory:    make([]byte, cfg.NumFrames*PageSize),
		PageTable: NewInvertedPageTable(cfg.NumFrames, newPolicy),
		TLB:       NewTLB(cfg.TLBSize, newPolicy(cfg.TLBSize)),
		cfg:       cfg,
		log:       log,
	}, nil
}

func policyFactory(kind config.Policy) func(capacity int) ReplacementPolicy {
	switch kind {
	case config.LRU:
		return func(capacity int) ReplacementPolicy { return NewLRUPolicy(capacity) }
	default:
		return func(capacity int) ReplacementPolicy { return NewFIFOPolicy(capacity) }
	}
}

// frameBytes returns the byte range of physical memory backing frame
// idx.
func (m *Machine) frameBytes(idx int) []byte {
	return m.Memory[idx*PageSize : (idx+1)*PageSize]
}
