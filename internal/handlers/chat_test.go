package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/stretchr/testify/require"
)

func TestChatJoinBroadcastsOnlyForNewNickname(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: map[string]bool{PermChatJoin: true}})
	bob := addSession(d, session.AddParams{Username: "bob", Nickname: "bob", Permissions: map[string]bool{PermChatJoin: true}})

	_, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)

	_, err = d.HandleChatJoin(bob.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)

	drained, _ := alice.DrainOutbound()
	require.Len(t, drained, 1)
	joined, ok := drained[0].(protocol.ChatUserJoined)
	require.True(t, ok)
	require.Equal(t, "bob", joined.Nickname)
}

func TestChatJoinIsIdempotentForSameSession(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: map[string]bool{PermChatJoin: true}})

	resp1, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)
	require.False(t, resp1.AlreadyMember)

	resp2, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)
	require.True(t, resp2.AlreadyMember)
}

func TestChatJoinRequiresPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.Error(t, err)
}

func TestChatLeaveSkipsBroadcastWhenNicknameStillPresent(t *testing.T) {
	d := newTestDeps(t)
	perms := map[string]bool{PermChatJoin: true}
	alice1 := addSession(d, session.AddParams{Username: "shared", Nickname: "alice", Shared: true, Permissions: perms})
	alice2 := addSession(d, session.AddParams{Username: "shared", Nickname: "alice", Shared: true, Permissions: perms})

	_, err := d.HandleChatJoin(alice1.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)
	_, err = d.HandleChatJoin(alice2.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)
	alice1.DrainOutbound()

	require.NoError(t, d.HandleChatLeave(alice1.ID, protocol.ChatLeaveRequest{Channel: "#lobby"}))

	drained, _ := alice2.DrainOutbound()
	require.Empty(t, drained, "nickname still live via alice2, no leave broadcast expected")
}

func TestChatSendRequiresMembership(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	err := d.HandleChatSend(alice.ID, protocol.ChatSendRequest{Channel: "#lobby", Body: "hi"})
	require.Error(t, err)
}

func TestChatSendDeduplicatesWithinWindow(t *testing.T) {
	d := newTestDeps(t)
	d.Config.DedupWindow = 1_000_000_000 // 1s, as time.Duration int64
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: map[string]bool{PermChatJoin: true}})
	_, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)
	alice.DrainOutbound()

	require.NoError(t, d.HandleChatSend(alice.ID, protocol.ChatSendRequest{Channel: "#lobby", Body: "hi"}))
	require.NoError(t, d.HandleChatSend(alice.ID, protocol.ChatSendRequest{Channel: "#lobby", Body: "hi"}))

	drained, _ := alice.DrainOutbound()
	require.Len(t, drained, 1, "second identical send within the window should be dropped")
}

func TestChatTopicUpdateRequiresPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: map[string]bool{PermChatJoin: true}})
	_, err := d.HandleChatJoin(alice.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)

	err = d.HandleChatTopicUpdate(alice.ID, protocol.ChatTopicUpdateRequest{Channel: "#lobby", Topic: "hi"})
	require.Error(t, err)

	alice.Permissions[PermChatTopicUpdate] = true
	require.NoError(t, d.HandleChatTopicUpdate(alice.ID, protocol.ChatTopicUpdateRequest{Channel: "#lobby", Topic: "hi"}))
}
