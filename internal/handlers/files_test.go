package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/stretchr/testify/require"
)

func TestFileListRequiresRootPermission(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	_, err := d.HandleFileList(alice.ID, protocol.FileListRequest{Root: true})
	require.Error(t, err)
}

func TestFileListReturnsEntries(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	areaRoot := filepath.Join(d.PathResolver.Root, "users", "alice")
	require.NoError(t, os.MkdirAll(areaRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(areaRoot, "readme.txt"), []byte("hi"), 0o644))

	resp, err := d.HandleFileList(alice.ID, protocol.FileListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	require.Equal(t, "readme.txt", resp.Entries[0].Name)
}

func TestFileCreateDirDeleteRename(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice",
		Permissions: map[string]bool{PermFileCreateDir: true, PermFileRename: true, PermFileDelete: true}})
	areaRoot := filepath.Join(d.PathResolver.Root, "users", "alice")
	require.NoError(t, os.MkdirAll(areaRoot, 0o755))

	require.NoError(t, d.HandleFileCreateDir(alice.ID, protocol.FileCreateDirRequest{Path: "/notes"}))
	require.DirExists(t, filepath.Join(areaRoot, "notes"))

	require.NoError(t, d.HandleFileRename(alice.ID, protocol.FileRenameRequest{Path: "/notes", NewName: "renamed"}))
	require.DirExists(t, filepath.Join(areaRoot, "renamed"))

	require.NoError(t, d.HandleFileDelete(alice.ID, protocol.FileDeleteRequest{Path: "/renamed"}))
	require.NoDirExists(t, filepath.Join(areaRoot, "renamed"))
}

func TestFileRenameRejectsPathSeparatorInNewName(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice",
		Permissions: map[string]bool{PermFileRename: true}})
	err := d.HandleFileRename(alice.ID, protocol.FileRenameRequest{Path: "/notes", NewName: "../escape"})
	require.Error(t, err)
}

func TestFileTransferOpenDownloadRequiresExistingFile(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", PeerAddr: "198.51.100.2:5000"})
	_, err := d.HandleFileTransferOpen(alice.ID, protocol.FileTransferOpenRequest{Path: "/missing.txt", Direction: "download"}, alice.PeerAddr)
	require.Error(t, err)
}

func TestFileTransferOpenDownloadThenCloseRoundTrips(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice", PeerAddr: "198.51.100.2:5000"})
	areaRoot := filepath.Join(d.PathResolver.Root, "users", "alice")
	require.NoError(t, os.MkdirAll(areaRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(areaRoot, "file.bin"), []byte("payload"), 0o644))

	resp, err := d.HandleFileTransferOpen(alice.ID, protocol.FileTransferOpenRequest{Path: "/file.bin", Direction: "download"}, alice.PeerAddr)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.EqualValues(t, 7, resp.TotalSize)
	require.Equal(t, 1, d.Transfers.ActiveCount())

	require.NoError(t, d.HandleFileTransferClose(alice.ID, protocol.FileTransferCloseRequest{Token: resp.Token}))
	require.Equal(t, 0, d.Transfers.ActiveCount())
}

func TestFileSearchScopesToCallerAreaWithoutFileRoot(t *testing.T) {
	d := newTestDeps(t)
	alice := addSession(d, session.AddParams{Username: "alice", Nickname: "alice"})
	resp, err := d.HandleFileSearch(alice.ID, protocol.FileSearchRequest{Query: "report"})
	require.NoError(t, err)
	require.Empty(t, resp.Entries, "no index built yet, but the scoped search must not error")
}
