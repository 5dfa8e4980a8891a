package retry

import (
	"fmt"
	"sync"
)

// CallBudget enforces the maximum number of proposer calls for one step.
type CallBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallBudget creates a budget allowing max calls.
// If max == 0, unlimited calls are allowed.
func NewCallBudget(max int) *CallBudget {
	return &CallBudget{max: max}
}

// Take consumes one call and returns an error if the budget is exceeded.
func (b *CallBudget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("exceeded max proposer calls: %d", b.max)
	}

	return nil
}

// Used returns the number of calls consumed.
func (b *CallBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1
	}

	return b.max - b.count
}
