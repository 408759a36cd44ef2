// Package ksync provides the cooperative-scheduler concurrency
// primitives the kernel exposes to its own code: Lock, Semaphore and
// Condition. The file-system and VM packages go through these types
// for mutual exclusion and blocking handoff instead of touching
// sync.Mutex/sync.Cond directly (device.CachedDevice, a host-side
// sector cache, is the exception and uses a sync.Mutex), so that the synchronization
// discipline described by the file system and VM components (many
// readers/one writer, resident-set eviction, TLB refill) reads the
// same way the reference kernel's Lock/Semaphore/Condition trio does.
//
// The host scheduler here is the Go runtime's goroutine scheduler
// rather than the simulated cooperative one; these types are the
// seam a simulated scheduler would plug into.
package ksync

import "sync"

// Lock is a simple mutual-exclusion lock.
type Lock struct {
	mu sync.Mutex
}

func (l *Lock) Acquire() { l.mu.Lock() }
func (l *Lock) Release() { l.mu.Unlock() }

// Semaphore is a counting semaphore, used by the open-file layer to
// implement the exclusive-writer / shared-reader discipline (§4.4):
// a semaphore initialized to 1 behaves as a mutex acquired by the
// first reader and released by the last.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(value int) *Semaphore {
	s := &Semaphore{ch: make(chan struct{}, value)}
	for i := 0; i < value; i++ {
		s.ch <- struct{}{}
	}
	return s
}

// P acquires the semaphore, blocking the calling goroutine while it
// is exhausted. There is no timeout: a caller blocked here remains
// blocked until a matching V, per the no-cancellation resource model.
func (s *Semaphore) P() { <-s.ch }

// V releases the semaphore.
func (s *Semaphore) V() { s.ch <- struct{}{} }

// Condition is a condition variable bound to an external Lock, used
// the way the reference kernel pairs a Lock with a Condition: callers
// must hold lock.Acquire() before calling Wait, and Wait releases and
// reacquires it around the block.
type Condition struct {
	lock *Lock
	cond *sync.Cond
}

// NewCondition creates a condition variable guarded by lock.
func NewCondition(lock *Lock) *Condition {
	return &Condition{lock: lock, cond: sync.NewCond(&lock.mu)}
}

func (c *Condition) Wait()   { c.cond.Wait() }
func (c *Condition) Signal() { c.cond.Signal() }
func (c *Condition) Broadcast() { c.cond.Broadcast() }
