// Package pathresolve implements the path resolver (spec.md §4.7, C8): path
// canonicalization, symlink handling, sandbox enforcement, and folder-type
// suffix parsing for the file area.
//
// Grounded on rustyguts-bken/server/api.go's handleDownloadRecording, whose
// filepath.Base guard against path traversal is generalized here into full
// canonicalization-plus-prefix-check sandboxing, since the file area
// sandbox (unlike a flat recordings directory) has nested user/shared
// subtrees and drop-box semantics.
package pathresolve

import (
	"path/filepath"
	"strings"

	"github.com/nexusbbs/nexus/internal/nexuserr"
)

// FolderType classifies a directory by its name suffix (spec.md GLOSSARY, §4.7).
type FolderType int

const (
	FolderNormal FolderType = iota
	FolderUserUpload
	FolderDropBox
	FolderDropBoxOwner
)

const (
	suffixUserUpload   = "[NEXUS-UL]"
	suffixDropBox      = "[NEXUS-DB]"
	suffixDropBoxOwner = "[NEXUS-DB-" // followed by "<user>]"
)

// ParseFolderType inspects a directory's base name suffix and returns its
// folder type and, for an owner-scoped drop-box, the owning username.
func ParseFolderType(dirName string) (FolderType, string) {
	switch {
	case strings.HasSuffix(dirName, suffixUserUpload):
		return FolderUserUpload, ""
	case strings.HasSuffix(dirName, suffixDropBox):
		return FolderDropBox, ""
	case strings.HasSuffix(dirName, "]") && strings.Contains(dirName, suffixDropBoxOwner):
		i := strings.Index(dirName, suffixDropBoxOwner)
		owner := dirName[i+len(suffixDropBoxOwner) : len(dirName)-1]
		return FolderDropBoxOwner, owner
	default:
		return FolderNormal, ""
	}
}

// CanList reports whether a caller may see the contents of a directory with
// the given folder type, given the caller's username, admin flag, and the
// directory's own owner (only meaningful for owner-scoped drop-boxes).
// Drop-box directories hide content from non-admin, non-owner callers; the
// directory entry itself remains visible to the parent listing regardless
// (spec.md §4.7, GLOSSARY).
func CanList(ft FolderType, dirOwner, callerUsername string, isAdmin bool) bool {
	switch ft {
	case FolderDropBox:
		return isAdmin
	case FolderDropBoxOwner:
		return isAdmin || strings.EqualFold(dirOwner, callerUsername)
	default:
		return true
	}
}

// CanWrite reports whether unprivileged users may write into a directory of
// the given folder type (drop-boxes are write-only for non-owners).
func CanWrite(ft FolderType) bool {
	return ft == FolderUserUpload || ft == FolderDropBox || ft == FolderDropBoxOwner
}

// Resolver canonicalizes client-supplied paths against the file area sandbox.
type Resolver struct {
	// Root is the canonicalized file area root.
	Root string
	// EvalSymlinks resolves symlinks in a path the way filepath.EvalSymlinks
	// does; overridable in tests to avoid touching the real filesystem.
	EvalSymlinks func(string) (string, error)
}

// New returns a resolver rooted at root (already canonicalized by the caller
// at startup; spec.md §6 "file-area canonicalization" is a startup-failure class).
func New(root string, evalSymlinks func(string) (string, error)) *Resolver {
	return &Resolver{Root: root, EvalSymlinks: evalSymlinks}
}

// Resolve maps a client-supplied path into an absolute, sandbox-verified
// path under the appropriate area root (spec.md §4.7).
//
// areaRoot is either the caller's personal area (<root>/users/<username>) or
// the shared root (<root>/shared), unless rootRequested is true and the
// caller holds the FileRoot permission, in which case the file area root
// itself is used.
func (r *Resolver) Resolve(clientPath, username string, rootRequested, hasFileRootPerm bool) (string, error) {
	normalized, err := normalizeClientPath(clientPath)
	if err != nil {
		return "", err
	}

	var areaRoot string
	switch {
	case rootRequested && hasFileRootPerm:
		areaRoot = r.Root
	case username == "":
		areaRoot = filepath.Join(r.Root, "shared")
	default:
		areaRoot = filepath.Join(r.Root, "users", username)
	}

	candidate := filepath.Join(areaRoot, normalized)
	resolved, err := r.canonicalize(candidate)
	if err != nil {
		return "", invalidPath()
	}
	resolvedRoot, err := r.canonicalize(areaRoot)
	if err != nil {
		return "", invalidPath()
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		// Fails with "invalid path", not "not found", to avoid disclosing
		// existence by error discrimination (spec.md §4.7).
		return "", invalidPath()
	}
	return resolved, nil
}

func invalidPath() error {
	return nexuserr.Validation("invalid_path", "path escapes the area root")
}

func (r *Resolver) canonicalize(path string) (string, error) {
	clean := filepath.Clean(path)
	if r.EvalSymlinks == nil {
		return clean, nil
	}
	resolved, err := r.EvalSymlinks(clean)
	if err != nil {
		// Path may not exist yet (e.g. FileCreateDir target); fall back to
		// the cleaned, unresolved form — it still must pass the prefix check.
		return clean, nil
	}
	return resolved, nil
}

// normalizeClientPath converts backslashes to forward slashes, collapses
// "." and duplicate separators, and rejects null bytes, control characters,
// any ".." segment, and a Windows drive-letter prefix (spec.md §4.7).
func normalizeClientPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", invalidPath()
	}
	for _, r := range p {
		if r < 0x20 {
			return "", invalidPath()
		}
	}
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		return "", invalidPath()
	}
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", invalidPath()
		}
	}
	return filepath.Clean("/" + p), nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
