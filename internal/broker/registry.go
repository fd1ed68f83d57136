package broker

import (
	"fmt"
	"sync"
	"time"
)

type slot struct {
	port          int
	busy          bool
	reservedUntil time.Time
}

// Registry is the slot table shared by a Broker and the Dispatcher that
// serves its ports. Membership is fixed at construction; only the per-slot
// state changes.
//
// A slot is free, reserved or busy. Claim moves the first free slot to
// reserved so that two inquiries never receive the same port. The
// reservation turns into busy when the client arrives (Acquire), or lapses
// after the lease if it never does.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	index map[int]int
	lease time.Duration
}

type SlotStatus struct {
	Port     int
	Busy     bool
	Reserved bool
}

func NewRegistry(ports []int, lease time.Duration) (*Registry, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serve ports")
	}

	r := &Registry{
		slots: make([]slot, 0, len(ports)),
		index: make(map[int]int, len(ports)),
		lease: lease,
	}
	for _, port := range ports {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("serve port %d out of range", port)
		}
		if _, dup := r.index[port]; dup {
			return nil, fmt.Errorf("duplicate serve port %d", port)
		}
		r.index[port] = len(r.slots)
		r.slots = append(r.slots, slot{port: port})
	}
	return r, nil
}

func (r *Registry) Ports() []int {
	ports := make([]int, len(r.slots))
	for i, s := range r.slots {
		ports[i] = s.port
	}
	return ports
}

func (r *Registry) Len() int {
	return len(r.slots)
}

// Claim reserves the first free slot in port order and returns its port.
func (r *Registry) Claim(now time.Time) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		s := &r.slots[i]
		if s.busy || now.Before(s.reservedUntil) {
			continue
		}
		s.reservedUntil = now.Add(r.lease)
		return s.port, true
	}
	return 0, false
}

// Acquire marks port busy and drops any reservation on it.
func (r *Registry) Acquire(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[port]
	if !ok {
		return false
	}
	r.slots[i].busy = true
	r.slots[i].reservedUntil = time.Time{}
	return true
}

func (r *Registry) Release(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[port]
	if !ok {
		return false
	}
	r.slots[i].busy = false
	r.slots[i].reservedUntil = time.Time{}
	return true
}

// Unreserve drops a pending reservation on port. A busy slot is left alone.
func (r *Registry) Unreserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[port]
	if !ok || r.slots[i].busy {
		return false
	}
	r.slots[i].reservedUntil = time.Time{}
	return true
}

func (r *Registry) Busy(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[port]
	return ok && r.slots[i].busy
}

func (r *Registry) Snapshot(now time.Time) []SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SlotStatus, len(r.slots))
	for i, s := range r.slots {
		out[i] = SlotStatus{
			Port:     s.port,
			Busy:     s.busy,
			Reserved: !s.busy && now.Before(s.reservedUntil),
		}
	}
	return out
}
