package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/stretchr/testify/require"
)

func voicePerms() map[string]bool { return map[string]bool{PermVoiceJoin: true} }

func TestVoiceJoinRequiresPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleVoiceJoin(alice.ID, protocol.VoiceJoinRequest{Target: []string{"bob"}}, "127.0.0.1")
	require.Error(t, err)
}

func TestVoiceJoinRejectsOversizedTarget(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: voicePerms()})
	_, err := d.HandleVoiceJoin(alice.ID, protocol.VoiceJoinRequest{Target: []string{"a", "b", "c"}}, "127.0.0.1")
	require.Error(t, err)
}

func TestVoiceJoinBroadcastsOnlyForNewNickname(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: voicePerms()})
	bob := addSession(d, session.AddParams{Username: "bob", Nickname: "bob", Permissions: voicePerms()})

	_, err := d.HandleVoiceJoin(alice.ID, protocol.VoiceJoinRequest{Target: []string{"alice", "bob"}}, "127.0.0.1")
	require.NoError(t, err)
	alice.DrainOutbound()

	_, err = d.HandleVoiceJoin(bob.ID, protocol.VoiceJoinRequest{Target: []string{"alice", "bob"}}, "127.0.0.2")
	require.NoError(t, err)

	drained, _ := alice.DrainOutbound()
	require.Len(t, drained, 1)
	joined, ok := drained[0].(protocol.VoiceUserJoined)
	require.True(t, ok)
	require.Equal(t, "bob", joined.Nickname)
}

func TestVoiceLeaveBroadcastsWhenLastOfNickname(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", Permissions: voicePerms()})
	bob := addSession(d, session.AddParams{Username: "bob", Nickname: "bob", Permissions: voicePerms()})
	_, err := d.HandleVoiceJoin(alice.ID, protocol.VoiceJoinRequest{Target: []string{"alice", "bob"}}, "127.0.0.1")
	require.NoError(t, err)
	_, err = d.HandleVoiceJoin(bob.ID, protocol.VoiceJoinRequest{Target: []string{"alice", "bob"}}, "127.0.0.2")
	require.NoError(t, err)
	bob.DrainOutbound()

	require.NoError(t, d.HandleVoiceLeave(alice.ID))

	drained, _ := bob.DrainOutbound()
	require.Len(t, drained, 1)
	_, ok := drained[0].(protocol.VoiceUserLeft)
	require.True(t, ok)
}

func TestVoiceLeaveWithoutSessionFails(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	require.Error(t, d.HandleVoiceLeave(alice.ID))
}
