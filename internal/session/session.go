// Package session implements the user session registry (spec.md §4.3, C3):
// the authoritative, in-memory index of live sessions, keyed by session id,
// username, and nickname, with per-session FIFO outbound delivery.
//
// Grounded on rustyguts-bken's internal/core/channel_state.go, whose
// ChannelState.Add/Remove/User/Users/SendTo/Broadcast and userState struct
// already have this exact shape (id-keyed map, per-session outbound
// channel, a toProtocolUser-style projector) — extended here with the
// secondary username/nickname indices the teacher does not need (its rooms
// have one membership dimension, not Nexus's username/nickname duality),
// using the same single sync.RWMutex discipline (§5: "no two registries are
// locked in a nested manner").
package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// AddParams are the caller-supplied attributes for a newly authenticated session.
type AddParams struct {
	AccountID   int64
	Username    string
	Nickname    string
	Admin       bool
	Shared      bool
	Permissions map[string]bool
	PeerAddr    string
	Locale      string
	Avatar      string
	Features    []string
}

// Session is a single authenticated connection (spec.md §3.1).
type Session struct {
	ID          uint32
	AccountID   int64
	Username    string
	Nickname    string
	Admin       bool
	Shared      bool
	Permissions map[string]bool
	PeerAddr    string
	LoginAt     time.Time
	Locale      string
	Avatar      string
	Features    []string

	mu   sync.Mutex
	away bool

	queue *outboundQueue
}

// Away reports the session's away state.
func (s *Session) Away() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.away
}

// SetAway updates the away state.
func (s *Session) SetAway(away bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.away = away
}

// HasPermission reports whether the session holds perm; admins implicitly
// hold every permission (spec.md §4.8 step 4).
func (s *Session) HasPermission(perm string) bool {
	if s.Admin {
		return true
	}
	return s.Permissions[perm]
}

// Enqueue appends msg to the session's outbound queue; no-op if closed.
func (s *Session) Enqueue(msg any) {
	s.queue.enqueue(msg)
}

// WaitForOutbound blocks the writer task until new outbound messages exist,
// the queue closes, or ctx is cancelled.
func (s *Session) WaitForOutbound(ctx context.Context) {
	select {
	case <-s.queue.wait():
	case <-ctx.Done():
	}
}

// DrainOutbound returns everything currently queued and whether the session
// is still live (false once closed and drained, signalling the writer to exit).
func (s *Session) DrainOutbound() ([]any, bool) {
	return s.queue.dequeueAll()
}

// Registry is the authoritative live-session index (C3).
type Registry struct {
	mu sync.RWMutex

	byID       map[uint32]*Session
	byUsername map[string]map[uint32]*Session
	byNickname map[string]map[uint32]*Session

	nextID uint32
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[uint32]*Session),
		byUsername: make(map[string]map[uint32]*Session),
		byNickname: make(map[string]map[uint32]*Session),
	}
}

// AddSession installs a new live session and returns it. The session id
// namespace has no reuse over the registry's lifetime (spec.md §3.1).
func (r *Registry) AddSession(p AddParams) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := &Session{
		ID:          r.nextID,
		AccountID:   p.AccountID,
		Username:    p.Username,
		Nickname:    p.Nickname,
		Admin:       p.Admin,
		Shared:      p.Shared,
		Permissions: p.Permissions,
		PeerAddr:    p.PeerAddr,
		LoginAt:     time.Now(),
		Locale:      p.Locale,
		Avatar:      p.Avatar,
		Features:    p.Features,
		queue:       newOutboundQueue(),
	}
	r.byID[s.ID] = s
	indexAdd(r.byUsername, p.Username, s)
	indexAdd(r.byNickname, p.Nickname, s)
	return s
}

// RemoveSession drops the outbound channel and removes id from every index
// (spec.md §3.2 invariant 2, §3.3).
func (r *Registry) RemoveSession(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	indexRemove(r.byUsername, s.Username, id)
	indexRemove(r.byNickname, s.Nickname, id)
	s.queue.close()
}

// GetByID looks up a live session by id.
func (r *Registry) GetByID(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// SessionsByUsername returns every live session for an account's username.
func (r *Registry) SessionsByUsername(username string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byUsername[username])
}

// SessionsByNickname returns every live session currently using nickname
// (one-to-one for shared accounts, one-to-many for regular accounts).
func (r *Registry) SessionsByNickname(nickname string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byNickname[nickname])
}

// SendToSession enqueues msg on the session's outbound channel; silently a
// no-op if the session is gone or its channel is closed (spec.md §4.3).
func (r *Registry) SendToSession(id uint32, msg any) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.Enqueue(msg)
}

// UniqueNicknamesForSessions returns the deduplicated nicknames carried by
// the given sessions, used to present channel member counts (spec.md §3.1,
// §4.3) — member count counts unique nicknames, not raw sessions.
func (r *Registry) UniqueNicknamesForSessions(ids []uint32) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		s, ok := r.byID[id]
		if !ok {
			continue
		}
		key := strings.ToLower(s.Nickname)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s.Nickname)
	}
	return out
}

// SessionsContainNickname reports whether any session among ids (other than
// excludeID) currently carries nickname — the predicate join/leave logic
// uses to decide whether to broadcast a nickname-level transition (§4.4).
func (r *Registry) SessionsContainNickname(ids []uint32, nickname string, excludeID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(nickname)
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		s, ok := r.byID[id]
		if !ok {
			continue
		}
		if strings.ToLower(s.Nickname) == lower {
			return true
		}
	}
	return false
}

// RenameSessionUsername updates the username index for id's live sessions
// and, when the session's nickname equalled the old username (a regular
// account), also updates the nickname to match (spec.md §4.8 UserUpdate).
func (r *Registry) RenameSessionUsername(id uint32, newUsername string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return
	}
	oldUsername := s.Username
	indexRemove(r.byUsername, oldUsername, id)
	if !s.Shared && strings.EqualFold(s.Nickname, oldUsername) {
		indexRemove(r.byNickname, s.Nickname, id)
		s.Nickname = newUsername
		indexAdd(r.byNickname, s.Nickname, s)
	}
	s.Username = newUsername
	indexAdd(r.byUsername, newUsername, s)
}

func indexAdd(idx map[string]map[uint32]*Session, key string, s *Session) {
	bucket, ok := idx[key]
	if !ok {
		bucket = make(map[uint32]*Session)
		idx[key] = bucket
	}
	bucket[s.ID] = s
}

func indexRemove(idx map[string]map[uint32]*Session, key string, id uint32) {
	bucket, ok := idx[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx, key)
	}
}

func snapshot(bucket map[uint32]*Session) []*Session {
	out := make([]*Session, 0, len(bucket))
	for _, s := range bucket {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions, for admin monitor responses.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every live session, for handlers needing a full scan
// (e.g. the ban-add path's should_allow re-check over C3, spec.md §4.8).
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byID)
}
