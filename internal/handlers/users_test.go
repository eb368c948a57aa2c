package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/store"
	"github.com/stretchr/testify/require"
)

func TestUserCreateRejectsDelegationBeyondGranterPermissions(t *testing.T) {
	d := newTestDeps(t)
	granter := addSession(d, session.AddParams{Username: "granter", Nickname: "granter",
		Permissions: map[string]bool{PermUserCreate: true, PermChatJoin: true}})

	err := d.HandleUserCreate(granter.ID, protocol.UserCreateRequest{
		Username: "newbie", Password: "pw", Permissions: []string{PermChatJoin, PermUserDelete},
	})
	require.Error(t, err)

	err = d.HandleUserCreate(granter.ID, protocol.UserCreateRequest{
		Username: "newbie", Password: "pw", Permissions: []string{PermChatJoin},
	})
	require.NoError(t, err)

	acc, err := d.Store.GetAccountByUsername("newbie")
	require.NoError(t, err)
	require.NotNil(t, acc)
}

func TestUserCreateRejectsReservedGuestUsername(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root", Admin: true})
	err := d.HandleUserCreate(admin.ID, protocol.UserCreateRequest{Username: store.GuestUsername, Password: "pw"})
	require.Error(t, err)
}

func TestUserDeleteRejectsSelfAndGuest(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.CreateAccount(store.Account{Username: "root", PasswordVerifier: "x", Admin: true, Enabled: true})
	require.NoError(t, err)

	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root", Admin: true})

	require.Error(t, d.HandleUserDelete(admin.ID, protocol.UserDeleteRequest{Username: "root"}), "self-deletion rejected")
	require.Error(t, d.HandleUserDelete(admin.ID, protocol.UserDeleteRequest{Username: store.GuestUsername}), "guest undeletable")
}

func TestUserDeleteRejectsRemovingLastAdmin(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.CreateAccount(store.Account{Username: "solo-admin", PasswordVerifier: "x", Admin: true, Enabled: true})
	require.NoError(t, err)
	deleter := addSession(d, session.AddParams{Username: "deleter", Nickname: "deleter", Admin: true})

	require.Error(t, d.HandleUserDelete(deleter.ID, protocol.UserDeleteRequest{Username: "solo-admin"}),
		"the only remaining admin account cannot be deleted")
}

func TestUserDeleteTearsDownLiveSessions(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.CreateAccount(store.Account{Username: "victim", PasswordVerifier: "x", Enabled: true})
	require.NoError(t, err)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root", Admin: true})
	victim := addSession(d, session.AddParams{Username: "victim", Nickname: "victim",
		Permissions: map[string]bool{PermChatJoin: true}})
	_, err = d.HandleChatJoin(victim.ID, protocol.ChatJoinRequest{Channel: "#lobby"})
	require.NoError(t, err)

	require.NoError(t, d.HandleUserDelete(admin.ID, protocol.UserDeleteRequest{Username: "victim"}))

	_, ok := d.Sessions.GetByID(victim.ID)
	require.False(t, ok, "deleted account's live session removed from C3")
}

func TestUserUpdateRenamePropagatesToLiveSession(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.CreateAccount(store.Account{Username: "alice", PasswordVerifier: "x", Enabled: true})
	require.NoError(t, err)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root", Admin: true})
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})

	require.NoError(t, d.HandleUserUpdate(admin.ID, protocol.UserUpdateRequest{Username: "alice", NewUsername: "alicia"}))

	require.Equal(t, "alicia", alice.Username)
	require.Equal(t, "alicia", alice.Nickname)
	require.Len(t, d.Sessions.SessionsByUsername("alicia"), 1)
}

func TestUserAwayTogglesFlag(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	require.NoError(t, d.HandleUserAway(alice.ID, protocol.UserAwayRequest{Away: true}))
	require.True(t, alice.Away())
}

func TestUserListDefaultOnlyReturnsLiveSessions(t *testing.T) {
	d := newTestDeps(t)
	addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.Store.CreateAccount(store.Account{Username: "offline", PasswordVerifier: "x", Enabled: true})
	require.NoError(t, err)

	resp, err := d.HandleUserList(1, protocol.UserListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Users, 1)
	require.Equal(t, "alice", resp.Users[0].Username)
	require.True(t, resp.Users[0].Online)
}

func TestUserListAllRequiresCompoundPermission(t *testing.T) {
	d := newTestDeps(t)
	plain := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleUserList(plain.ID, protocol.UserListRequest{All: true})
	require.Error(t, err)

	listOnly := addSession(d, session.AddParams{Username: "bob", Nickname: "bob",
		Permissions: map[string]bool{PermUserList: true}})
	_, err = d.HandleUserList(listOnly.ID, protocol.UserListRequest{All: true})
	require.Error(t, err, "UserList alone is not enough without UserEdit or UserDelete")

	listAndEdit := addSession(d, session.AddParams{Username: "carol", Nickname: "carol",
		Permissions: map[string]bool{PermUserList: true, PermUserEdit: true}})
	_, err = d.HandleUserList(listAndEdit.ID, protocol.UserListRequest{All: true})
	require.NoError(t, err)
}

func TestUserListAllIncludesOfflineAccounts(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root", Admin: true})
	_, err := d.Store.CreateAccount(store.Account{Username: "root", PasswordVerifier: "x", Admin: true, Enabled: true})
	require.NoError(t, err)
	_, err = d.Store.CreateAccount(store.Account{Username: "offline", PasswordVerifier: "x", Enabled: true})
	require.NoError(t, err)

	resp, err := d.HandleUserList(admin.ID, protocol.UserListRequest{All: true})
	require.NoError(t, err)

	var foundOnline, foundOffline bool
	for _, u := range resp.Users {
		switch u.Username {
		case "root":
			foundOnline = u.Online
		case "offline":
			foundOffline = !u.Online
		}
	}
	require.True(t, foundOnline)
	require.True(t, foundOffline)
}
