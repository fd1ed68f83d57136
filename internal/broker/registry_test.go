package broker

import (
	"sync"
	"testing"
	"time"
)

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name  string
		ports []int
	}{
		{"empty", nil},
		{"zero port", []int{0}},
		{"too large", []int{70000}},
		{"duplicate", []int{5001, 5002, 5001}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.ports, time.Second); err == nil {
				t.Errorf("expected error for %v", tt.ports)
			}
		})
	}
}

func TestRegistryClaimsInPortOrder(t *testing.T) {
	r, err := NewRegistry([]int{5003, 5001, 5002}, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	now := time.Now()
	want := []int{5003, 5001, 5002}
	for _, w := range want {
		port, ok := r.Claim(now)
		if !ok || port != w {
			t.Fatalf("expected %d, got %d (ok=%v)", w, port, ok)
		}
	}

	if port, ok := r.Claim(now); ok {
		t.Errorf("expected no free slot, got %d", port)
	}
}

func TestRegistryReservationLapses(t *testing.T) {
	r, err := NewRegistry([]int{5001}, time.Second)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	now := time.Now()
	if _, ok := r.Claim(now); !ok {
		t.Fatal("first claim should succeed")
	}
	if _, ok := r.Claim(now.Add(500 * time.Millisecond)); ok {
		t.Fatal("slot should still be reserved")
	}

	snap := r.Snapshot(now)
	if !snap[0].Reserved || snap[0].Busy {
		t.Errorf("expected reserved, not busy: %+v", snap[0])
	}

	if port, ok := r.Claim(now.Add(time.Second)); !ok || port != 5001 {
		t.Errorf("reservation should have lapsed, got %d (ok=%v)", port, ok)
	}
}

func TestRegistryAcquireRelease(t *testing.T) {
	r, err := NewRegistry([]int{5001, 5002}, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if !r.Acquire(5001) {
		t.Fatal("Acquire(5001) failed")
	}
	if !r.Busy(5001) {
		t.Error("5001 should be busy")
	}

	now := time.Now()
	if port, _ := r.Claim(now); port != 5002 {
		t.Errorf("expected 5002 while 5001 is busy, got %d", port)
	}

	if !r.Release(5001) {
		t.Fatal("Release(5001) failed")
	}
	if r.Busy(5001) {
		t.Error("5001 should be free")
	}
	if port, _ := r.Claim(now); port != 5001 {
		t.Errorf("expected 5001 after release, got %d", port)
	}

	if r.Acquire(9999) || r.Release(9999) || r.Busy(9999) {
		t.Error("unknown port should be rejected")
	}
}

func TestRegistryAcquireClearsReservation(t *testing.T) {
	r, err := NewRegistry([]int{5001}, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	now := time.Now()
	r.Claim(now)
	r.Acquire(5001)
	r.Release(5001)

	if _, ok := r.Claim(now); !ok {
		t.Error("released slot should be claimable without waiting out the lease")
	}
}

func TestRegistryConcurrentClaims(t *testing.T) {
	ports := []int{5001, 5002, 5003, 5004, 5005}
	r, err := NewRegistry(ports, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		won   = make(map[int]int)
		empty int
	)
	now := time.Now()
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, ok := r.Claim(now)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				won[port]++
			} else {
				empty++
			}
		}()
	}
	wg.Wait()

	if len(won) != len(ports) {
		t.Errorf("expected %d distinct ports, got %v", len(ports), won)
	}
	for port, n := range won {
		if n != 1 {
			t.Errorf("port %d handed out %d times", port, n)
		}
	}
	if empty != 45 {
		t.Errorf("expected 45 empty claims, got %d", empty)
	}
}

func TestRegistryUnreserve(t *testing.T) {
	r, err := NewRegistry([]int{5001, 5002}, time.Minute)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	now := time.Now()
	if port, ok := r.Claim(now); !ok || port != 5001 {
		t.Fatalf("expected 5001, got %d (ok=%v)", port, ok)
	}
	if !r.Unreserve(5001) {
		t.Fatal("Unreserve(5001) failed")
	}
	if port, ok := r.Claim(now); !ok || port != 5001 {
		t.Errorf("expected 5001 to be free again, got %d (ok=%v)", port, ok)
	}

	r.Acquire(5002)
	if r.Unreserve(5002) {
		t.Error("Unreserve should not touch a busy slot")
	}
	if !r.Busy(5002) {
		t.Error("5002 should still be busy")
	}

	if r.Unreserve(9999) {
		t.Error("Unreserve of unknown port should fail")
	}
}
