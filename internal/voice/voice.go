// Package voice implements the voice registry (spec.md §4.5, C5): active
// voice sessions keyed by opaque token, nickname-aware join/leave
// notification decisions, and an O(1) IP-level allow-set for the DTLS/UDP
// listener.
//
// Grounded on rustyguts-bken/internal/core/channel_state.go's JoinVoice/
// DisconnectVoice/SetVoiceFlags (the single-voice-session-per-user
// invariant, a VoiceState struct) for the session-to-voice relationship,
// and client.go's sendHealth circuit breaker plus Room.Broadcast's
// snapshot-targets-then-release-lock pattern for safe fan-out under load
// (consulted by internal/pipeline's UDP relay, not duplicated here).
package voice

import (
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one active voice session (spec.md §3.1).
type Session struct {
	Token     string
	SessionID uint32
	Nickname  string
	Target    []string // either ["#channel"] or two canonically-sorted nicknames
	TargetKey string
	PeerIP    netip.Addr
	UDPAddr   string // remote UDP address, empty until first packet
	JoinedAt  time.Time
}

// TargetKey canonicalizes a voice target: the channel name for channel
// voice, or two nicknames joined by ":" in a stable sort order for
// user-to-user voice, so both sides resolve to the same session (spec.md §4.5).
func TargetKey(target []string) string {
	if len(target) == 1 {
		return target[0]
	}
	pair := append([]string(nil), target...)
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// LeaveInfo is derived once by Remove* so callers never re-derive the
// three-way duplicated decision across explicit leave, disconnect, and
// channel-leave paths (spec.md §4.5).
type LeaveInfo struct {
	SelfTarget         string   // the leaver's own view of the target they left
	TargetKey          string   // the broadcast-target string (channel name, or nickname pair)
	ShouldBroadcast    bool     // true iff no other session still carries the leaver's nickname in this target
	RemainingNicknames []string // remaining participants' nicknames
}

// Registry is the active-voice-session index (C5).
type Registry struct {
	mu sync.RWMutex

	byToken   map[string]*Session
	bysession map[uint32]string // sessionID -> token
	ipRefs    map[netip.Addr]int
}

// New returns an empty voice registry.
func New() *Registry {
	return &Registry{
		byToken:   make(map[string]*Session),
		bysession: make(map[uint32]string),
		ipRefs:    make(map[netip.Addr]int),
	}
}

// Add installs a new voice session for a session id and target, returning
// the opaque token. A session id may hold at most one voice session at a
// time (spec.md §3.2 invariant 4); Add replaces any existing session.
func (r *Registry) Add(sessionID uint32, nickname string, target []string, peerIP netip.Addr) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byToken[r.bysession[sessionID]]; ok {
		r.removeLocked(old.Token)
	}

	s := &Session{
		Token:     uuid.NewString(),
		SessionID: sessionID,
		Nickname:  nickname,
		Target:    target,
		TargetKey: TargetKey(target),
		PeerIP:    peerIP,
		JoinedAt:  time.Now(),
	}
	r.byToken[s.Token] = s
	r.bysession[sessionID] = s.Token
	r.ipRefs[peerIP]++
	return s
}

// RemoveByToken removes a voice session by token.
func (r *Registry) RemoveByToken(token string) (LeaveInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(token)
}

// RemoveBySessionID removes a session's voice session, if any.
func (r *Registry) RemoveBySessionID(sessionID uint32) (LeaveInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.bysession[sessionID]
	if !ok {
		return LeaveInfo{}, false
	}
	return r.removeLocked(token)
}

func (r *Registry) removeLocked(token string) (LeaveInfo, bool) {
	s, ok := r.byToken[token]
	if !ok {
		return LeaveInfo{}, false
	}
	delete(r.byToken, token)
	delete(r.bysession, s.SessionID)
	r.ipRefs[s.PeerIP]--
	if r.ipRefs[s.PeerIP] <= 0 {
		delete(r.ipRefs, s.PeerIP)
	}

	remaining := r.participantsLocked(s.TargetKey)
	should := !containsFold(remaining, s.Nickname)
	return LeaveInfo{
		SelfTarget:         s.TargetKey,
		TargetKey:          s.TargetKey,
		ShouldBroadcast:    should,
		RemainingNicknames: remaining,
	}, true
}

func containsFold(list []string, nick string) bool {
	for _, n := range list {
		if strings.EqualFold(n, nick) {
			return true
		}
	}
	return false
}

// IsNicknameInTarget is the predicate should_broadcast derives from: true
// iff some session other than exclude still carries nickname under targetKey.
func (r *Registry) IsNicknameInTarget(targetKey, nickname string, exclude uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byToken {
		if s.TargetKey != targetKey || s.SessionID == exclude {
			continue
		}
		if strings.EqualFold(s.Nickname, nickname) {
			return true
		}
	}
	return false
}

// GetParticipants returns the nicknames present under targetKey.
func (r *Registry) GetParticipants(targetKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participantsLocked(targetKey)
}

func (r *Registry) participantsLocked(targetKey string) []string {
	var out []string
	for _, s := range r.byToken {
		if s.TargetKey == targetKey {
			out = append(out, s.Nickname)
		}
	}
	return out
}

// GetSessionsForTarget returns the session ids present under targetKey.
func (r *Registry) GetSessionsForTarget(targetKey string) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []uint32
	for _, s := range r.byToken {
		if s.TargetKey == targetKey {
			out = append(out, s.SessionID)
		}
	}
	return out
}

// SetUDPAddr records the remote UDP address on the first authenticated
// packet for a token.
func (r *Registry) SetUDPAddr(token, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return false
	}
	s.UDPAddr = addr
	return true
}

// UpdateNickname keeps a session's voice nickname in sync with C3 (spec.md §4.5).
func (r *Registry) UpdateNickname(sessionID uint32, newNickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.bysession[sessionID]
	if !ok {
		return
	}
	r.byToken[token].Nickname = newNickname
}

// FindStaleSessions returns tokens whose UDP address is still unset and
// whose join time is older than timeout, for the periodic reaper (spec.md §4.5, §5).
func (r *Registry) FindStaleSessions(timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-timeout)
	var stale []string
	for token, s := range r.byToken {
		if s.UDPAddr == "" && s.JoinedAt.Before(cutoff) {
			stale = append(stale, token)
		}
	}
	return stale
}

// IsIPActive reports whether ip currently owns any voice session — the
// allow-set the DTLS/UDP listener consults (spec.md §3.2 invariant 6, §4.5).
func (r *Registry) IsIPActive(ip netip.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ipRefs[ip] > 0
}

// SessionByID returns the voice session for a session id, if any.
func (r *Registry) SessionByID(sessionID uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.bysession[sessionID]
	if !ok {
		return nil, false
	}
	s := r.byToken[token]
	return s, s != nil
}

// Count returns the number of active voice sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// SessionByToken returns the voice session for an opaque token, if any —
// the lookup the datagram relay uses to claim a WebTransport session's
// target once it presents the token minted by Add (internal/pipeline's
// voice relay).
func (r *Registry) SessionByToken(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	return s, ok
}
