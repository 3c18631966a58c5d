package object

import "sync"

// Monitor is the reentrant intrinsic lock of an object. Owners are compared
// by identity; the interpreter uses its thread as the owner.
type Monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner any
	count int
}

func newMonitor() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// TryEnter acquires the monitor if it is free or already held by owner.
func (m *Monitor) TryEnter(owner any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		m.owner = owner
		m.count = 1
		return true
	}
	if m.owner == owner {
		m.count++
		return true
	}
	return false
}

// Enter acquires the monitor, blocking while another owner holds it.
func (m *Monitor) Enter(owner any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.count > 0 && m.owner != owner {
		m.cond.Wait()
	}
	m.owner = owner
	m.count++
}

// Exit releases one level of ownership. It returns false, changing nothing,
// if owner does not hold the monitor.
func (m *Monitor) Exit(owner any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 || m.owner != owner {
		return false
	}
	m.count--
	if m.count == 0 {
		m.owner = nil
		m.cond.Signal()
	}
	return true
}

// Owner returns the current owner and its recursion count.
func (m *Monitor) Owner() (any, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, m.count
}
