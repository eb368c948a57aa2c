package handlers

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/transfer"
)

func toFileEntry(name string, info os.FileInfo) protocol.FileEntry {
	return protocol.FileEntry{
		Name: name, Size: info.Size(), ModifiedAt: info.ModTime().Unix(), IsDir: info.IsDir(),
	}
}

// HandleFileList resolves a directory and lists its entries, applying
// drop-box visibility rules (spec.md §4.7).
func (d *Deps) HandleFileList(callerID uint32, req protocol.FileListRequest) (*protocol.FileListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if req.Root && !hasPermission(caller.Admin, caller.Permissions, PermFileRoot) {
		return nil, nexuserr.PermissionDenied("missing FileRoot permission")
	}

	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, req.Root, hasPermission(caller.Admin, caller.Permissions, PermFileRoot))
	if err != nil {
		return nil, err
	}

	ft, owner := pathresolve.ParseFolderType(filepath.Base(resolved))
	if !pathresolve.CanList(ft, owner, caller.Username, caller.Admin) {
		return &protocol.FileListResponse{Response: protocol.Response{Type: protocol.TypeFileList, Success: true}}, nil
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, nexuserr.NotFound("path not found")
	}
	entries := make([]protocol.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, toFileEntry(de.Name(), info))
	}
	return &protocol.FileListResponse{
		Response: protocol.Response{Type: protocol.TypeFileList, Success: true}, Entries: entries,
	}, nil
}

// HandleFileCreateDir requires FileCreateDir.
func (d *Deps) HandleFileCreateDir(callerID uint32, req protocol.FileCreateDirRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermFileCreateDir) {
		return nexuserr.PermissionDenied("missing FileCreateDir permission")
	}
	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, false, caller.Admin)
	if err != nil {
		return err
	}
	if err := os.Mkdir(resolved, 0o755); err != nil {
		if os.IsExist(err) {
			return nexuserr.AlreadyExists("path already exists")
		}
		return nexuserr.Internal(err)
	}
	d.FileIndex.MarkDirty()
	return nil
}

// HandleFileDelete requires FileDelete.
func (d *Deps) HandleFileDelete(callerID uint32, req protocol.FileDeleteRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermFileDelete) {
		return nexuserr.PermissionDenied("missing FileDelete permission")
	}
	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, false, caller.Admin)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(resolved); err != nil {
		return nexuserr.Internal(err)
	}
	d.FileIndex.MarkDirty()
	return nil
}

// HandleFileRename requires FileRename.
func (d *Deps) HandleFileRename(callerID uint32, req protocol.FileRenameRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermFileRename) {
		return nexuserr.PermissionDenied("missing FileRename permission")
	}
	if strings.ContainsAny(req.NewName, "/\\") {
		return nexuserr.Validation("invalid_name", "new name must not contain a path separator")
	}
	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, false, caller.Admin)
	if err != nil {
		return err
	}
	target := filepath.Join(filepath.Dir(resolved), req.NewName)
	if !strings.HasPrefix(target, filepath.Dir(resolved)+string(filepath.Separator)) && target != resolved {
		return nexuserr.Validation("invalid_path", "resulting path escapes the area root")
	}
	if err := os.Rename(resolved, target); err != nil {
		return nexuserr.Internal(err)
	}
	d.FileIndex.MarkDirty()
	return nil
}

// HandleFileInfo stats a resolved path.
func (d *Deps) HandleFileInfo(callerID uint32, req protocol.FileInfoRequest) (*protocol.FileInfoResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, false, caller.Admin)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, nexuserr.NotFound("path not found")
	}
	return &protocol.FileInfoResponse{
		Response: protocol.Response{Type: protocol.TypeFileInfo, Success: true},
		Entry:    toFileEntry(info.Name(), info),
	}, nil
}

// HandleFileSearch consults the file index, scoping results to the caller's
// personal area unless they hold FileRoot (spec.md §4.7).
func (d *Deps) HandleFileSearch(callerID uint32, req protocol.FileSearchRequest) (*protocol.FileSearchResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	areaPrefix := ""
	if !hasPermission(caller.Admin, caller.Permissions, PermFileRoot) {
		areaPrefix = filepath.Join("users", caller.Username)
	}
	records := d.FileIndex.Search(req.Query, areaPrefix)
	entries := make([]protocol.FileEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, protocol.FileEntry{
			Name: rec.Name, Size: rec.Size, ModifiedAt: rec.ModifiedEpoch, IsDir: rec.IsDir,
		})
	}
	return &protocol.FileSearchResponse{
		Response: protocol.Response{Type: protocol.TypeFileSearch, Success: true}, Entries: entries,
	}, nil
}

// HandleFileTransferOpen resolves and validates the requested path on the
// main control connection, then registers it in C6 and hands back an opaque
// token the client presents on the transfer port (spec.md §6, §4.6).
// Upload targets must not already exist unless the caller holds FileCreateDir
// (admins hold it implicitly), in which case an existing file is accepted and
// the upload overwrites it; download targets must exist.
func (d *Deps) HandleFileTransferOpen(callerID uint32, req protocol.FileTransferOpenRequest, peerAddr string) (*protocol.FileTransferOpenResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	var direction transfer.Direction
	switch req.Direction {
	case "upload":
		direction = transfer.Upload
	case "download":
		direction = transfer.Download
	default:
		return nil, nexuserr.Validation("invalid_direction", "direction must be upload or download")
	}

	resolved, err := d.PathResolver.Resolve(req.Path, caller.Username, false, caller.Admin)
	if err != nil {
		return nil, err
	}

	var totalSize int64
	info, statErr := os.Stat(resolved)
	switch direction {
	case transfer.Upload:
		if !hasPermission(caller.Admin, caller.Permissions, PermFileCreateDir) && statErr == nil {
			return nil, nexuserr.AlreadyExists("path already exists")
		}
	case transfer.Download:
		if statErr != nil {
			return nil, nexuserr.NotFound("path not found")
		}
		if info.IsDir() {
			return nil, nexuserr.Validation("not_a_file", "cannot transfer a directory")
		}
		totalSize = info.Size()
	}

	peerIP, err := parseIP(peerAddr)
	if err != nil {
		peerIP = netip.Addr{}
	}
	t, _ := d.Transfers.Register(transfer.RegisterParams{
		PeerAddr: peerAddr, PeerIP: peerIP, Nickname: caller.Nickname, Username: caller.Username,
		Admin: caller.Admin, Shared: caller.Shared, Direction: direction, Path: resolved,
	})
	t.SetTotalSize(totalSize)

	return &protocol.FileTransferOpenResponse{
		Response:   protocol.Response{Type: protocol.TypeFileTransferOpen, Success: true},
		Token:      t.Token,
		TransferID: t.ID,
		TotalSize:  totalSize,
	}, nil
}

// HandleFileTransferClose unregisters a transfer early, e.g. a client
// cancelling before the data connection opens.
func (d *Deps) HandleFileTransferClose(callerID uint32, req protocol.FileTransferCloseRequest) error {
	if _, err := d.requireSession(callerID); err != nil {
		return err
	}
	t, _, ok := d.Transfers.GetByToken(req.Token)
	if !ok {
		return nexuserr.NotFound("unknown transfer token")
	}
	d.Transfers.Unregister(t.ID)
	return nil
}
