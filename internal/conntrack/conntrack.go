// Package conntrack implements the per-IP connection tracker (spec.md §4.2,
// C2): two counters per peer IP — one for main-channel sessions, one for
// transfer connections — each bounded by a configured per-IP limit, with
// RAII-style guards that decrement on release.
//
// Grounded on rustyguts-bken's room.go CanConnect/TrackIPConnect/
// TrackIPDisconnect (a single ipConnections map[string]int guarded by the
// room's lock), generalized into two independent counters and converted
// from direct map mutation into a guard object the caller holds for the
// connection's lifetime, mirroring the acquire-then-guaranteed-release shape
// of internal/blob.Store.Put's temp-file-then-rename pattern.
package conntrack

import "sync"

// Tracker holds the two per-IP counter maps described by C2.
type Tracker struct {
	mu sync.Mutex

	mainLimit     int
	transferLimit int

	main      map[string]int
	transfers map[string]int
}

// New returns a tracker with the given per-IP limits. A limit of 0 means unbounded.
func New(mainLimit, transferLimit int) *Tracker {
	return &Tracker{
		mainLimit:     mainLimit,
		transferLimit: transferLimit,
		main:          make(map[string]int),
		transfers:     make(map[string]int),
	}
}

// Guard decrements its counter exactly once, on Release. The zero value is
// not valid; only guards returned by TryAcquireMain/TryAcquireTransfer exist.
type Guard struct {
	release func()
	done    bool
}

// Release drops the held slot. Safe to call multiple times; only the first
// call has effect, matching an RAII guard's single decrement on drop.
func (g *Guard) Release() {
	if g == nil || g.done {
		return
	}
	g.done = true
	g.release()
}

// TryAcquireMain acquires a main-channel connection slot for ip, or returns
// (nil, false) if the per-IP limit is already reached.
func (t *Tracker) TryAcquireMain(ip string) (*Guard, bool) {
	return t.tryAcquire(t.main, t.mainLimit, ip)
}

// TryAcquireTransfer acquires a transfer-connection slot for ip.
func (t *Tracker) TryAcquireTransfer(ip string) (*Guard, bool) {
	return t.tryAcquire(t.transfers, t.transferLimit, ip)
}

func (t *Tracker) tryAcquire(counters map[string]int, limit int, ip string) (*Guard, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit > 0 && counters[ip] >= limit {
		return nil, false
	}
	counters[ip]++
	released := false
	return &Guard{release: func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if released {
			return
		}
		released = true
		counters[ip]--
		if counters[ip] <= 0 {
			delete(counters, ip)
		}
	}}, true
}

// MainCount returns the current main-channel connection count for ip (test/monitor use).
func (t *Tracker) MainCount(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.main[ip]
}

// TransferCount returns the current transfer connection count for ip.
func (t *Tracker) TransferCount(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfers[ip]
}
