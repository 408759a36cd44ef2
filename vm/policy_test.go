package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFOEvictsInInsertionOrder(t *testing.T) {
	p := NewFIFOPolicy(3)
	assert.Equal(t, 0, p.Evict())
	assert.Equal(t, 1, p.Evict())
	assert.Equal(t, 2, p.Evict())
	assert.Equal(t, 0, p.Evict()) // wraps around
}

func TestFIFOIgnoresTouch(t *testing.T) {
	p := NewFIFOPolicy(2)
	p.Touch(1)
	p.Touch(1)
	assert.Equal(t, 0, p.Evict())
}

func TestLRUEvictsOldestUntouched(t *testing.T) {
	p := NewLRUPolicy(3) // order: 0,1,2
	p.Touch(0)           // order: 1,2,0
	assert.Equal(t, 1, p.Evict())
	assert.Equal(t, 2, p.Evict())
	assert.Equal(t, 0, p.Evict())
}

func TestLRUTouchReordersExistingSlot(t *testing.T) {
	p := NewLRUPolicy(2) // order: 0,1
	p.Touch(0)           // order: 1,0
	p.Touch(0)           // still: 1,0 (moves to back again, no duplicate)
	assert.Equal(t, 1, p.Evict())
	assert.Equal(t, 0, p.Evict())
}
