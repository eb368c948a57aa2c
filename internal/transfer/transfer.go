// Package transfer implements the transfer registry (spec.md §4.6, C6):
// per-transfer state with a ban-driven one-shot cancellation channel.
//
// Grounded on rustyguts-bken/server/api.go's handleUpload/handleGetFile
// (size limits, uuid-opaque naming) for transfer identity, and
// internal/blob/store.go's temp-file-write-then-atomic-rename plus
// context-based cancellation for the one-shot abort signal idiom.
package transfer

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction is upload or download.
type Direction int

const (
	Download Direction = iota
	Upload
)

// ActiveTransfer is one in-flight file transfer (spec.md §3.1).
type ActiveTransfer struct {
	ID        uint64
	Token     string
	PeerAddr  string
	PeerIP    netip.Addr
	Nickname  string
	Username  string
	Admin     bool
	Shared    bool
	Direction Direction
	Path      string
	StartTime time.Time

	totalSize        atomic.Int64
	bytesTransferred atomic.Int64

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// SetTotalSize records the total size once the path is resolved (0 if unknown).
func (t *ActiveTransfer) SetTotalSize(n int64) { t.totalSize.Store(n) }

// TotalSize returns the recorded total size.
func (t *ActiveTransfer) TotalSize() int64 { return t.totalSize.Load() }

// AddBytesTransferred atomically accumulates progress.
func (t *ActiveTransfer) AddBytesTransferred(n int64) { t.bytesTransferred.Add(n) }

// BytesTransferred returns the current progress counter.
func (t *ActiveTransfer) BytesTransferred() int64 { return t.bytesTransferred.Load() }

// cancel closes the one-shot cancel channel exactly once.
func (t *ActiveTransfer) cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Registry is the in-flight transfer index (C6).
type Registry struct {
	mu        sync.RWMutex
	transfers map[uint64]*ActiveTransfer
	byToken   map[string]*ActiveTransfer
	nextID    atomic.Uint64
}

// New returns an empty transfer registry.
func New() *Registry {
	return &Registry{
		transfers: make(map[uint64]*ActiveTransfer),
		byToken:   make(map[string]*ActiveTransfer),
	}
}

// RegisterParams describes a transfer being opened.
type RegisterParams struct {
	PeerAddr  string
	PeerIP    netip.Addr
	Nickname  string
	Username  string
	Admin     bool
	Shared    bool
	Direction Direction
	Path      string
}

// Register installs a new transfer and returns it along with the cancel
// receiver the transfer task must select on concurrently with its I/O loop
// (spec.md §4.6, §5).
func (r *Registry) Register(p RegisterParams) (*ActiveTransfer, <-chan struct{}) {
	t := &ActiveTransfer{
		ID:        r.nextID.Add(1),
		Token:     uuid.NewString(),
		PeerAddr:  p.PeerAddr,
		PeerIP:    p.PeerIP,
		Nickname:  p.Nickname,
		Username:  p.Username,
		Admin:     p.Admin,
		Shared:    p.Shared,
		Direction: p.Direction,
		Path:      p.Path,
		StartTime: time.Now(),
		cancelCh:  make(chan struct{}),
	}
	r.mu.Lock()
	r.transfers[t.ID] = t
	r.byToken[t.Token] = t
	r.mu.Unlock()
	return t, t.cancelCh
}

// Unregister removes a transfer, invoked by the RAII guard in the transfer
// task so early returns, panics, and error paths all clean up.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transfers[id]; ok {
		delete(r.byToken, t.Token)
	}
	delete(r.transfers, id)
}

// GetByToken looks up a registered-but-not-yet-streaming transfer by the
// token its opener received, for the transfer-port listener to claim once
// the client's data connection presents it (spec.md §6: open happens on the
// main connection, the data itself transits a dedicated port).
func (r *Registry) GetByToken(token string) (*ActiveTransfer, <-chan struct{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byToken[token]
	if !ok {
		return nil, nil, false
	}
	return t, t.cancelCh, true
}

// DisconnectMatching signals cancellation on every transfer whose peer IP
// satisfies predicate, returning the count of signals actually delivered —
// a transfer whose cancel channel an earlier call already closed is not
// counted again, and a count does not mean the transfer task has observed
// the signal yet (spec.md §9: "returns the number of signals delivered, not
// cancellations observed").
func (r *Registry) DisconnectMatching(predicate func(ip netip.Addr) bool) int {
	r.mu.RLock()
	matched := make([]*ActiveTransfer, 0)
	for _, t := range r.transfers {
		if predicate(t.PeerIP) {
			matched = append(matched, t)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range matched {
		select {
		case <-t.cancelCh:
			// Already cancelled/closed; no signal delivered by this call.
		default:
			t.cancel()
			delivered++
		}
	}
	return delivered
}

// Snapshot returns every active transfer, for admin monitor responses.
func (r *Registry) Snapshot() []*ActiveTransfer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ActiveTransfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out
}

// ActiveCount returns the number of in-flight transfers.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transfers)
}
