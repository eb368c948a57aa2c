package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/stretchr/testify/require"
)

func TestBanAddDisconnectsMatchingLiveSessions(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermBanAdd: true}})
	victim := addSession(d, session.AddParams{Username: "victim", Nickname: "victim", PeerAddr: "203.0.113.5:1234"})

	require.NoError(t, d.HandleBanAdd(admin.ID, protocol.BanAddRequest{CIDR: "203.0.113.0/24"}))

	_, ok := d.Sessions.GetByID(victim.ID)
	require.False(t, ok, "session within the banned range must be disconnected")
}

func TestBanAddLeavesUnmatchedSessionsConnected(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermBanAdd: true}})
	bystander := addSession(d, session.AddParams{Username: "bystander", Nickname: "bystander", PeerAddr: "198.51.100.9:1234"})

	require.NoError(t, d.HandleBanAdd(admin.ID, protocol.BanAddRequest{CIDR: "203.0.113.0/24"}))

	_, ok := d.Sessions.GetByID(bystander.ID)
	require.True(t, ok, "session outside the banned range stays connected")
}

func TestBanListAndTrustListRequirePermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleBanList(alice.ID)
	require.Error(t, err)
	_, err = d.HandleTrustList(alice.ID)
	require.Error(t, err)
}

func TestBanAddThenListRoundTrips(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermBanAdd: true}})

	require.NoError(t, d.HandleBanAdd(admin.ID, protocol.BanAddRequest{CIDR: "192.0.2.1", Reason: "spam"}))

	resp, err := d.HandleBanList(admin.ID)
	require.NoError(t, err)
	require.Len(t, resp.Rules, 1)
	require.Equal(t, "spam", resp.Rules[0].Reason)
}

func TestConnectionMonitorRequiresPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleConnectionMonitor(alice.ID)
	require.Error(t, err)
}

func TestBanAddRecordsAuditEntry(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermBanAdd: true}})

	require.NoError(t, d.HandleBanAdd(admin.ID, protocol.BanAddRequest{CIDR: "192.0.2.1", Reason: "spam"}))

	entries, err := d.Store.GetAuditLog(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "root", entries[0].Actor)
	require.Equal(t, "ban_add", entries[0].Action)
}

func TestConnectionMonitorReportsLiveSessions(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermConnMonitor: true}})
	addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})

	resp, err := d.HandleConnectionMonitor(admin.ID)
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 2)
}
