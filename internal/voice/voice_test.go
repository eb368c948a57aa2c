package voice

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTargetKeyChannel(t *testing.T) {
	require.Equal(t, "#general", TargetKey([]string{"#general"}))
}

func TestTargetKeyUserToUserIsOrderIndependent(t *testing.T) {
	require.Equal(t, TargetKey([]string{"alice", "bob"}), TargetKey([]string{"bob", "alice"}))
}

func TestAddAndActiveIPs(t *testing.T) {
	r := New()
	ip := netip.MustParseAddr("203.0.113.7")
	s := r.Add(1, "alice", []string{"#general"}, ip)
	require.NotEmpty(t, s.Token)
	require.True(t, r.IsIPActive(ip))
}

func TestRemoveBySessionIDClearsActiveIP(t *testing.T) {
	r := New()
	ip := netip.MustParseAddr("203.0.113.7")
	r.Add(1, "alice", []string{"#general"}, ip)

	info, ok := r.RemoveBySessionID(1)
	require.True(t, ok)
	require.True(t, info.ShouldBroadcast)
	require.False(t, r.IsIPActive(ip), "active-IP set must equal voice sessions' peer IPs (invariant 6)")
}

func TestShouldBroadcastFalseWhenNicknameStillPresent(t *testing.T) {
	r := New()
	ip := netip.MustParseAddr("203.0.113.7")
	r.Add(1, "alice", []string{"#general"}, ip)
	r.Add(2, "alice", []string{"#general"}, ip) // second session, same nickname

	info, ok := r.RemoveBySessionID(1)
	require.True(t, ok)
	require.False(t, info.ShouldBroadcast, "another session still carries the leaving nickname")
}

func TestOneVoiceSessionPerSessionID(t *testing.T) {
	r := New()
	ip := netip.MustParseAddr("203.0.113.7")
	first := r.Add(1, "alice", []string{"#one"}, ip)
	second := r.Add(1, "alice", []string{"#two"}, ip)

	_, stillThere := r.SessionByID(1)
	require.True(t, stillThere)
	require.NotEqual(t, first.Token, second.Token)

	require.Equal(t, []string{"#two"}, []string{second.Target[0]})
}

func TestFindStaleSessions(t *testing.T) {
	r := New()
	ip := netip.MustParseAddr("203.0.113.7")
	s := r.Add(1, "alice", []string{"#general"}, ip)
	s.JoinedAt = time.Now().Add(-time.Minute)

	stale := r.FindStaleSessions(30 * time.Second)
	require.Contains(t, stale, s.Token)

	require.True(t, r.SetUDPAddr(s.Token, "203.0.113.7:5000"))
	stale = r.FindStaleSessions(30 * time.Second)
	require.NotContains(t, stale, s.Token, "a session with a UDP address set is not stale")
}
