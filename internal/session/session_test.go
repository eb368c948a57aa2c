package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddGetRemoveSession(t *testing.T) {
	r := New()
	s := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})
	require.Equal(t, uint32(1), s.ID)

	got, ok := r.GetByID(s.ID)
	require.True(t, ok)
	require.Same(t, s, got)

	r.RemoveSession(s.ID)
	_, ok = r.GetByID(s.ID)
	require.False(t, ok)
}

func TestSessionIDsNeverReuse(t *testing.T) {
	r := New()
	s1 := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})
	r.RemoveSession(s1.ID)
	s2 := r.AddSession(AddParams{Username: "bob", Nickname: "bob"})
	require.NotEqual(t, s1.ID, s2.ID)
}

func TestSharedAccountMultipleNicknames(t *testing.T) {
	r := New()
	s1 := r.AddSession(AddParams{Username: "shared", Nickname: "Nick1", Shared: true})
	s2 := r.AddSession(AddParams{Username: "shared", Nickname: "Nick2", Shared: true})

	byUser := r.SessionsByUsername("shared")
	require.Len(t, byUser, 2)

	byNick1 := r.SessionsByNickname("Nick1")
	require.Len(t, byNick1, 1)
	require.Equal(t, s1.ID, byNick1[0].ID)

	byNick2 := r.SessionsByNickname("Nick2")
	require.Len(t, byNick2, 1)
	require.Equal(t, s2.ID, byNick2[0].ID)
}

func TestUniqueNicknamesForSessionsDeduplicates(t *testing.T) {
	r := New()
	s1 := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})
	s2 := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})

	names := r.UniqueNicknamesForSessions([]uint32{s1.ID, s2.ID})
	require.Equal(t, []string{"alice"}, names)
}

func TestSessionsContainNicknameExcludesGivenID(t *testing.T) {
	r := New()
	s1 := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})

	require.False(t, r.SessionsContainNickname([]uint32{s1.ID}, "alice", s1.ID))
	require.True(t, r.SessionsContainNickname([]uint32{s1.ID}, "alice", 0))
}

func TestRenameSessionUsernameUpdatesNicknameForRegularAccount(t *testing.T) {
	r := New()
	s := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})

	r.RenameSessionUsername(s.ID, "alicia")
	require.Equal(t, "alicia", s.Username)
	require.Equal(t, "alicia", s.Nickname)

	require.Empty(t, r.SessionsByUsername("alice"))
	require.Len(t, r.SessionsByUsername("alicia"), 1)
	require.Len(t, r.SessionsByNickname("alicia"), 1)
}

func TestRenameSessionUsernameLeavesSharedNicknameAlone(t *testing.T) {
	r := New()
	s := r.AddSession(AddParams{Username: "shared", Nickname: "Nick1", Shared: true})

	r.RenameSessionUsername(s.ID, "shared2")
	require.Equal(t, "shared2", s.Username)
	require.Equal(t, "Nick1", s.Nickname, "shared account nickname is independent of username")
}

func TestSendToSessionIsNoOpAfterRemoval(t *testing.T) {
	r := New()
	s := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})
	r.RemoveSession(s.ID)
	require.NotPanics(t, func() { r.SendToSession(s.ID, "hello") })
}

func TestEnqueueAndDrainPreservesOrder(t *testing.T) {
	r := New()
	s := r.AddSession(AddParams{Username: "alice", Nickname: "alice"})
	s.Enqueue("one")
	s.Enqueue("two")
	s.Enqueue("three")

	drained, ok := s.DrainOutbound()
	require.True(t, ok)
	require.Equal(t, []any{"one", "two", "three"}, drained)
}
