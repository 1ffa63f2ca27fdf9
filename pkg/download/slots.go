package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MaxSlots bounds the configurable concurrency.
const MaxSlots = 64

// DefaultSlots is the initial concurrency when none is configured.
const DefaultSlots = 3

// ErrInvalidSlotCount is returned by SetSlots for counts outside [1, MaxSlots].
var ErrInvalidSlotCount = errors.New("slot count must be between 1 and 64")

// SlotManager gates how many acquisitions run concurrently. The slot
// count can be changed at runtime; shrinking never interrupts running
// jobs, it only delays new starts until enough slots free up.
type SlotManager struct {
	mu     sync.Mutex
	slots  int
	active int
	wake   chan struct{}
}

// NewSlotManager creates a manager with n slots, or DefaultSlots when
// n is out of range.
func NewSlotManager(n int) *SlotManager {
	if n <= 0 || n > MaxSlots {
		n = DefaultSlots
	}
	return &SlotManager{
		slots: n,
		wake:  make(chan struct{}),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (m *SlotManager) Acquire(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.active < m.slots {
			m.active++
			m.mu.Unlock()
			return nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release frees a slot.
func (m *SlotManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == 0 {
		panic("download: Release without Acquire")
	}
	m.active--
	m.broadcast()
}

// SetSlots changes the slot count. Counts outside [1, MaxSlots] are
// rejected. Growing wakes blocked acquirers; shrinking below the
// current active count just stops new jobs until enough finish.
func (m *SlotManager) SetSlots(n int) error {
	if n <= 0 || n > MaxSlots {
		return fmt.Errorf("%w: got %d", ErrInvalidSlotCount, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = n
	m.broadcast()
	return nil
}

// Slots returns the configured slot count.
func (m *SlotManager) Slots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots
}

// Active returns how many slots are held.
func (m *SlotManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// broadcast wakes every waiter. Callers hold m.mu.
func (m *SlotManager) broadcast() {
	close(m.wake)
	m.wake = make(chan struct{})
}
