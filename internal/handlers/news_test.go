package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/stretchr/testify/require"
)

func TestNewsCreateRejectsEmptyItem(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermNewsCreate: true}})
	require.Error(t, d.HandleNewsCreate(admin.ID, protocol.NewsCreateRequest{}))
}

func TestNewsCreateListShowRoundTrip(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermNewsCreate: true}})

	require.NoError(t, d.HandleNewsCreate(admin.ID, protocol.NewsCreateRequest{Body: "server upgrade tonight"}))

	list, err := d.HandleNewsList(admin.ID)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	show, err := d.HandleNewsShow(admin.ID, protocol.NewsShowRequest{ID: list.Items[0].ID})
	require.NoError(t, err)
	require.Equal(t, "server upgrade tonight", show.Item.Body)
	require.Equal(t, "root", show.Item.Author)
}

func TestNewsShowReturnsNotFoundForMissingID(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root"})
	_, err := d.HandleNewsShow(admin.ID, protocol.NewsShowRequest{ID: 9999})
	require.Error(t, err)
}

func TestNewsEditMergesUnsetFieldsFromExisting(t *testing.T) {
	d := newTestDeps(t)
	admin := addSession(d, session.AddParams{Username: "root", Nickname: "root",
		Permissions: map[string]bool{PermNewsCreate: true, PermNewsEdit: true}})
	require.NoError(t, d.HandleNewsCreate(admin.ID, protocol.NewsCreateRequest{Body: "original", Image: "pic.png"}))

	list, err := d.HandleNewsList(admin.ID)
	require.NoError(t, err)
	id := list.Items[0].ID

	require.NoError(t, d.HandleNewsEdit(admin.ID, protocol.NewsEditRequest{ID: id, Body: "updated"}))

	show, err := d.HandleNewsShow(admin.ID, protocol.NewsShowRequest{ID: id})
	require.NoError(t, err)
	require.Equal(t, "updated", show.Item.Body)
	require.Equal(t, "pic.png", show.Item.Image, "image untouched by the edit should be preserved")
}

func TestNewsDeleteRequiresPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	require.Error(t, d.HandleNewsDelete(alice.ID, protocol.NewsDeleteRequest{ID: 1}))
}
