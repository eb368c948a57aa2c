package handlers

import (
	"strconv"
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/store"
	"github.com/stretchr/testify/require"
)

func TestDispatchRejectsUnauthenticatedFrameExceptLoginAndHandshake(t *testing.T) {
	d := newTestDeps(t)
	result := d.Dispatch(0, false, "127.0.0.1", []byte(`{"type":"chat_send","channel":"#lobby","body":"hi"}`))
	frame, ok := result.Response.(protocol.ErrorFrame)
	require.True(t, ok)
	require.Equal(t, "authentication_required", frame.Kind)
	require.True(t, result.Disconnect)
}

func TestDispatchAllowsHandshakeUnauthenticated(t *testing.T) {
	d := newTestDeps(t)
	result := d.Dispatch(0, false, "127.0.0.1", []byte(`{"type":"handshake","client_version":"1.0"}`))
	_, ok := result.Response.(protocol.HandshakeResponse)
	require.True(t, ok)
	require.False(t, result.Disconnect)
}

func TestDispatchLoginReturnsNewSession(t *testing.T) {
	d := newTestDeps(t)
	verifier, err := hashPassword("hunter2")
	require.NoError(t, err)
	_, err = d.Store.CreateAccount(store.Account{Username: "alice", PasswordVerifier: verifier, Enabled: true})
	require.NoError(t, err)

	result := d.Dispatch(0, false, "127.0.0.1", []byte(`{"type":"login","username":"alice","password":"hunter2"}`))
	require.NotNil(t, result.NewSession)
	_, ok := result.Response.(*protocol.LoginResponse)
	require.True(t, ok)
}

func TestDispatchUnknownTypeReturnsValidationError(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	result := d.Dispatch(alice.ID, true, "127.0.0.1", []byte(`{"type":"not_a_real_type"}`))
	frame, ok := result.Response.(protocol.ErrorFrame)
	require.True(t, ok)
	require.Equal(t, "validation", frame.Kind)
}

func TestDispatchNewsUpdateIsAliasForNewsEdit(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermNewsCreate: true, PermNewsEdit: true}})
	require.NoError(t, d.HandleNewsCreate(admin.ID, protocol.NewsCreateRequest{Body: "original"}))
	list, err := d.HandleNewsList(admin.ID)
	require.NoError(t, err)
	id := list.Items[0].ID

	raw := []byte(`{"type":"news_update","id":` + strconv.FormatInt(id, 10) + `,"body":"via alias"}`)
	result := d.Dispatch(admin.ID, true, "127.0.0.1", raw)
	_, isErr := result.Response.(protocol.ErrorFrame)
	require.False(t, isErr)

	show, err := d.HandleNewsShow(admin.ID, protocol.NewsShowRequest{ID: id})
	require.NoError(t, err)
	require.Equal(t, "via alias", show.Item.Body)
}
